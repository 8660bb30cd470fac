package main

import (
	"fmt"

	"github.com/gorilla/sessions"
	"github.com/labstack/echo-contrib/session"
	"github.com/labstack/echo/v4"
)

func (s *TestServer) handleLoginSubmit(e echo.Context) error {
	handle := e.FormValue("handle")
	if handle == "" {
		return e.Redirect(302, "/login?e=handle-empty")
	}

	authURL, err := s.oauthClient.Authorize(e.Request().Context(), handle, nil)
	if err != nil {
		return fmt.Errorf("authorize: %w", err)
	}

	return e.Redirect(302, authURL)
}

func (s *TestServer) handleCallback(e echo.Context) error {
	result, err := s.oauthClient.Callback(e.Request().Context(), e.Request().URL.Query())
	if err != nil {
		return fmt.Errorf("callback: %w", err)
	}

	sess, err := session.Get("session", e)
	if err != nil {
		return err
	}

	sess.Options = &sessions.Options{Path: "/", MaxAge: 86400 * 7, HttpOnly: true}
	sess.Values = map[interface{}]interface{}{"did": result.Session.DID}

	if err := sess.Save(e.Request(), e.Response()); err != nil {
		return err
	}

	return e.Redirect(302, "/profile")
}

func (s *TestServer) handleLogout(e echo.Context) error {
	sess, err := session.Get("session", e)
	if err != nil {
		return err
	}

	if did, ok := sess.Values["did"].(string); ok && did != "" {
		restored, err := s.oauthClient.Restore(e.Request().Context(), did)
		if err == nil {
			_ = s.oauthClient.SignOut(e.Request().Context(), did, restored)
		}
	}

	sess.Options = &sessions.Options{Path: "/", MaxAge: -1, HttpOnly: true}
	if err := sess.Save(e.Request(), e.Response()); err != nil {
		return err
	}

	return e.Redirect(302, "/")
}
