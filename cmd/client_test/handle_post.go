package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

func (s *TestServer) handleMakePost(e echo.Context) error {
	ctx := e.Request().Context()
	sess, authed, err := s.currentSession(ctx, e)
	if err != nil {
		return err
	}
	if !authed {
		return e.Redirect(302, "/login")
	}

	body, err := json.Marshal(map[string]any{
		"collection": "app.bsky.feed.post",
		"repo":       sess.DID,
		"record": map[string]any{
			"$type":     "app.bsky.feed.post",
			"text":      "hello from the atproto oauth client tester",
			"createdAt": time.Now().UTC().Format(time.RFC3339),
		},
	})
	if err != nil {
		return err
	}

	url := sess.PDSURL + "/xrpc/com.atproto.repo.createRecord"
	resp, respBody, err := sess.MakeRequest(ctx, http.MethodPost, url, body, http.Header{"Content-Type": []string{"application/json"}})
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("createRecord returned status %d: %s", resp.StatusCode, string(respBody))
	}

	return e.JSONBlob(200, bytes.TrimSpace(respBody))
}
