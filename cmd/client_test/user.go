package main

import (
	"context"

	"github.com/labstack/echo-contrib/session"
	"github.com/labstack/echo/v4"

	atpsession "github.com/atproto-go/oauth-client/session"
)

// currentSession restores the oauth session for the browser's cookie, if
// any, refreshing it first when it's within five minutes of expiry.
func (s *TestServer) currentSession(ctx context.Context, e echo.Context) (*atpsession.Session, bool, error) {
	sess, err := session.Get("session", e)
	if err != nil {
		return nil, false, err
	}

	did, ok := sess.Values["did"].(string)
	if !ok || did == "" {
		return nil, false, nil
	}

	restored, err := s.oauthClient.Restore(ctx, did)
	if err != nil {
		return nil, false, nil
	}

	return restored, true, nil
}
