// Package oauth is the orchestrating root package: authorize -> callback
// -> store/restore -> refresh -> sign-out, per spec.md §4.8. It owns
// per-identity locking and the post-exchange issuer verification that
// stops a hostile authorization server from vouching for another user's
// identity.
package oauth

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/atproto-go/oauth-client/dpop"
	"github.com/atproto-go/oauth-client/resolve"
	"github.com/atproto-go/oauth-client/session"
	"github.com/atproto-go/oauth-client/store"
	"github.com/atproto-go/oauth-client/tokenexchange"
)

// defaultScope is used whenever the caller doesn't supply one, per §4.8.
const defaultScope = "atproto transition:generic"

// Client is the OAuth client described in spec.md §4.8.
type Client struct {
	clientID    string
	redirectURI string
	storage     store.Storage

	tx *tokenexchange.Client

	resolver resolve.HandleResolver

	logger *slog.Logger
	hc     *http.Client

	refreshTimeout time.Duration
	nonceCache     *dpop.NonceCache

	onSessionUpdated OnSessionUpdated
	onSessionDeleted OnSessionDeleted

	requestLock RequestLockFunc

	restoreGroup singleflight.Group
	refreshGroup singleflight.Group
}

// NewClient constructs an OAuth client. ClientID and RedirectURI are
// required and fail fast if missing, per §4.8.
func NewClient(args ClientArgs) (*Client, error) {
	if args.ClientID == "" {
		return nil, fmt.Errorf("no client id provided")
	}
	if args.RedirectURI == "" {
		return nil, fmt.Errorf("no redirect uri provided")
	}
	if args.Storage == nil {
		return nil, fmt.Errorf("no storage provided")
	}

	hc := args.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 15 * time.Second}
	}

	logger := args.Logger
	if logger == nil {
		// Silent by default, per §6's documented default for Logger.
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	resolver := args.HandleResolver
	if resolver == nil {
		resolver = resolve.NewDefaultResolver(args.SlingshotURL)
	}

	refreshTimeout := args.RefreshTimeout
	if refreshTimeout <= 0 {
		refreshTimeout = tokenexchange.DefaultTimeout
	}

	nonceCache := dpop.DefaultNonceCache()

	return &Client{
		clientID:    args.ClientID,
		redirectURI: args.RedirectURI,
		storage:     args.Storage,
		tx: &tokenexchange.Client{
			HTTP:       hc,
			NonceCache: nonceCache,
			ClientID:   args.ClientID,
			ClientJWK:  args.ClientJWK,
		},
		resolver:         resolver,
		logger:           logger,
		hc:               hc,
		refreshTimeout:   refreshTimeout,
		nonceCache:       nonceCache,
		onSessionUpdated: args.OnSessionUpdated,
		onSessionDeleted: args.OnSessionDeleted,
		requestLock:      args.RequestLock,
	}, nil
}

func (c *Client) emitSessionUpdated(sessionID string, sess *session.Session) {
	if c.onSessionUpdated != nil {
		c.onSessionUpdated(sessionID, sess)
	}
}

func (c *Client) emitSessionDeleted(sessionID string) {
	if c.onSessionDeleted != nil {
		c.onSessionDeleted(sessionID)
	}
}

// attachRuntime wires the HTTP client, shared nonce cache, and a refresh
// callback into a session so its MakeRequest can auto-refresh on 401,
// without the session holding a back-reference to the client (design
// note §9).
func (c *Client) attachRuntime(sessionID string, sess *session.Session) {
	sess.SetRuntime(session.Options{
		HTTPClient: c.hc,
		NonceCache: c.nonceCache,
		OnRefresh: func(ctx context.Context) (string, error) {
			refreshed, err := c.Refresh(ctx, sess)
			if err != nil {
				return "", err
			}
			if err := c.Store(ctx, sessionID, refreshed); err != nil {
				c.logger.Warn("failed to persist refreshed session", "err", err, "sessionId", sessionID)
			}
			*sess = *refreshed
			return sess.AccessToken, nil
		},
	})
}
