package oauth

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"

	"github.com/atproto-go/oauth-client/crypto"
	"github.com/atproto-go/oauth-client/dpop"
	"github.com/atproto-go/oauth-client/errs"
	"github.com/atproto-go/oauth-client/resolve"
	"github.com/atproto-go/oauth-client/session"
	"github.com/atproto-go/oauth-client/store"
)

// replayRetryDelay is how long restore/refresh waits before re-reading
// storage after a token-exchange failure that might be a concurrent
// refresh racing this one, per §4.6/§4.8's replay-recovery path.
const replayRetryDelay = 200 * time.Millisecond

// Store implements §4.8's store(sessionId, session): persist sess under
// sessionID, overwriting whatever was there before. Callers that build or
// mutate a session outside of Callback (e.g. restoring one issued by
// another process) use this directly.
func (c *Client) Store(ctx context.Context, sessionID string, sess *session.Session) error {
	b, err := sess.ToJSON()
	if err != nil {
		return errs.Wrap(errs.KindSession, "encoding session", err)
	}
	if err := c.storage.Set(ctx, store.SessionKey(sessionID), string(b), 0); err != nil {
		return errs.Wrap(errs.KindSession, "persisting session", err)
	}
	return nil
}

func (c *Client) loadSession(ctx context.Context, sessionID string) (*session.Session, error) {
	raw, ok, err := c.storage.Get(ctx, store.SessionKey(sessionID))
	if err != nil {
		return nil, errs.Wrap(errs.KindSession, "loading session", err)
	}
	if !ok {
		return nil, errs.New(errs.KindSessionNotFound, "no session found for id "+sessionID)
	}
	sess, err := session.FromJSON([]byte(raw))
	if err != nil {
		return nil, err
	}
	c.attachRuntime(sessionID, sess)
	return sess, nil
}

// Restore implements §4.8's restore(): load a persisted session and, if it
// is within five minutes of expiry, refresh it before returning. Concurrent
// restores of the same session id share one in-flight load via
// restoreGroup.
func (c *Client) Restore(ctx context.Context, sessionID string) (*session.Session, error) {
	v, err, _ := c.restoreGroup.Do(sessionID, func() (interface{}, error) {
		sess, err := c.loadSession(ctx, sessionID)
		if err != nil {
			return nil, err
		}

		if !sess.IsExpired() {
			return sess, nil
		}

		refreshed, err := c.Refresh(ctx, sess)
		if err != nil {
			return nil, err
		}
		if err := c.Store(ctx, sessionID, refreshed); err != nil {
			c.logger.Warn("failed to persist refreshed session during restore", "err", err, "sessionId", sessionID)
		}
		return refreshed, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*session.Session), nil
}

// Refresh implements §4.8's refresh(session): perform the §4.6
// refresh-token grant for sess, deduplicating concurrent refreshes of the
// same DID either through the caller-supplied RequestLockFunc or, by
// default, an in-memory singleflight.Group keyed by DID, per the
// "one token endpoint hit per DID" invariant in §8. On success it emits
// onSessionUpdated, same as Callback.
func (c *Client) Refresh(ctx context.Context, sess *session.Session) (*session.Session, error) {
	if c.requestLock != nil {
		return c.requestLock(ctx, sess.DID, func(ctx context.Context) (*session.Session, error) {
			return c.doRefresh(ctx, sess)
		})
	}

	v, err, _ := c.refreshGroup.Do(sess.DID, func() (interface{}, error) {
		return c.doRefresh(ctx, sess)
	})
	if err != nil {
		return nil, err
	}
	return v.(*session.Session), nil
}

func (c *Client) doRefresh(ctx context.Context, sess *session.Session) (*session.Session, error) {
	ctx, cancel := context.WithTimeout(ctx, c.refreshTimeout)
	defer cancel()

	meta, err := resolve.DiscoverAuthServer(ctx, c.hc, sess.PDSURL)
	if err != nil {
		return nil, errs.Wrap(errs.KindAuthServerDiscovery, "discovering token endpoint for refresh", err)
	}

	dpopKey, err := crypto.ParsePrivateKey([]byte(sess.DPoPPrivateKeyJWK))
	if err != nil {
		return nil, errs.Wrap(errs.KindDPoP, "importing session dpop key", err)
	}

	tok, err := c.tx.RefreshToken(ctx, meta.TokenEndpoint, sess.RefreshToken, dpopKey, c.refreshTimeout)
	if err != nil {
		return c.recoverFromReplay(ctx, sess, meta.RevocationEndpoint, dpopKey, err)
	}

	refreshed := *sess
	refreshToken := tok.RefreshToken
	var refreshTokenPtr *string
	if refreshToken != "" {
		refreshTokenPtr = &refreshToken
	}
	refreshed.UpdateTokens(tok.AccessToken, refreshTokenPtr, time.Duration(tok.ExpiresIn)*time.Second)
	c.emitSessionUpdated(refreshed.DID, &refreshed)
	return &refreshed, nil
}

// recoverFromReplay handles a failed refresh grant. Authorization servers
// that rotate refresh tokens on every use will reject a refresh token a
// concurrent refresh already consumed; since that concurrent refresh may
// have since persisted a newer, still-valid session, we give storage a
// moment to catch up and check again before giving up and treating the
// token as genuinely expired/revoked.
func (c *Client) recoverFromReplay(ctx context.Context, sess *session.Session, revocationEndpoint string, dpopKey jwk.Key, refreshErr error) (*session.Session, error) {
	if errs.IsNetwork(refreshErr) {
		return nil, refreshErr
	}

	if errs.IsReplay(refreshErr) || errs.IsKind(refreshErr, errs.KindRefreshTokenExpired) {
		time.Sleep(replayRetryDelay)

		raw, ok, err := c.storage.Get(ctx, store.SessionKey(sess.DID))
		if err == nil && ok {
			if stored, err := session.FromJSON([]byte(raw)); err == nil && !stored.IsExpired() {
				c.attachRuntime(sess.DID, stored)
				return stored, nil
			}
		}
	}

	if errs.IsKind(refreshErr, errs.KindRefreshTokenExpired) || errs.IsKind(refreshErr, errs.KindRefreshTokenRevoked) {
		// Best-effort: tell the auth server this refresh token is dead so
		// it can clean up server-side state. Failure here is not the
		// caller's problem.
		go c.revoke(revocationEndpoint, sess.RefreshToken, dpopKey)
	}

	return nil, refreshErr
}

func (c *Client) revoke(revocationEndpoint, refreshToken string, dpopKey jwk.Key) {
	if revocationEndpoint == "" || refreshToken == "" {
		return
	}

	params := url.Values{"token": {refreshToken}, "client_id": {c.clientID}}
	build := func(ctx context.Context, proof string) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, revocationEndpoint, strings.NewReader(params.Encode()))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return req, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, _, _ = dpop.DoTokenEndpoint(ctx, c.hc, c.nonceCache, http.MethodPost, revocationEndpoint, dpopKey, build)
}

// SignOut implements §4.8's signOut(): best-effort revoke the refresh
// token, then unconditionally delete the persisted session.
func (c *Client) SignOut(ctx context.Context, sessionID string, sess *session.Session) error {
	if sess != nil {
		if meta, err := resolve.DiscoverAuthServer(ctx, c.hc, sess.PDSURL); err == nil && meta.RevocationEndpoint != "" {
			if dpopKey, err := crypto.ParsePrivateKey([]byte(sess.DPoPPrivateKeyJWK)); err == nil {
				c.revoke(meta.RevocationEndpoint, sess.RefreshToken, dpopKey)
			}
		}
	}

	if err := c.storage.Delete(ctx, store.SessionKey(sessionID)); err != nil {
		return errs.Wrap(errs.KindSession, "deleting session", err)
	}
	c.emitSessionDeleted(sessionID)
	return nil
}
