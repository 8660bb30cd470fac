package oauth

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"

	"github.com/atproto-go/oauth-client/resolve"
	"github.com/atproto-go/oauth-client/session"
	"github.com/atproto-go/oauth-client/store"
)

// RequestLockFunc is the §6 distributed-lock capability: lock(key, fn) ->
// fn()'s result, with guaranteed mutual exclusion while fn runs. Passing
// one promotes refresh() from the in-memory per-DID lock to e.g. a
// Redis-backed primitive.
type RequestLockFunc func(ctx context.Context, key string, fn func(ctx context.Context) (*session.Session, error)) (*session.Session, error)

// OnSessionUpdated is called after a successful callback or refresh.
type OnSessionUpdated func(sessionID string, sess *session.Session)

// OnSessionDeleted is called after sign-out.
type OnSessionDeleted func(sessionID string)

// ClientArgs configures NewClient. ClientID, RedirectURI and Storage are
// required; everything else has a documented default.
type ClientArgs struct {
	ClientID    string
	RedirectURI string
	Storage     store.Storage

	// ClientJWK, if set, switches the client into the private_key_jwt
	// confidential-client mode described in SPEC_FULL §6. Nil runs the
	// public-client mode that is spec.md's primary flow.
	ClientJWK jwk.Key

	HandleResolver resolve.HandleResolver
	SlingshotURL   string

	Logger *slog.Logger

	HTTPClient     *http.Client
	RefreshTimeout time.Duration

	OnSessionUpdated OnSessionUpdated
	OnSessionDeleted OnSessionDeleted

	RequestLock RequestLockFunc
}

// AuthorizeOptions carries the optional authorize() inputs from spec.md §6.
type AuthorizeOptions struct {
	State     string
	Scope     string
	LoginHint string
	Prompt    string
}

// CallbackResult is what callback() returns on success.
type CallbackResult struct {
	Session *session.Session
	State   string
}
