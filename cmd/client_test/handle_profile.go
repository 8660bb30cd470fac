package main

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
)

func (s *TestServer) handleProfile(e echo.Context) error {
	ctx := e.Request().Context()
	sess, authed, err := s.currentSession(ctx, e)
	if err != nil {
		return err
	}
	if !authed {
		return e.Redirect(302, "/login")
	}

	url := fmt.Sprintf("%s/xrpc/app.bsky.actor.getProfile?actor=%s", sess.PDSURL, sess.DID)
	resp, body, err := sess.MakeRequest(ctx, http.MethodGet, url, nil, nil)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("getProfile returned status %d: %s", resp.StatusCode, string(body))
	}

	var profile struct {
		Handle      string `json:"handle"`
		DisplayName string `json:"displayName"`
		Description string `json:"description"`
	}
	if err := json.Unmarshal(body, &profile); err != nil {
		return err
	}

	return e.JSON(200, profile)
}
