package oauth

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/atproto-go/oauth-client/crypto"
	"github.com/atproto-go/oauth-client/errs"
	"github.com/atproto-go/oauth-client/resolve"
	"github.com/atproto-go/oauth-client/session"
	"github.com/atproto-go/oauth-client/store"
)

// Callback implements spec.md §4.8's callback(): validates the redirect
// params against the pending PKCE record, exchanges the code for tokens,
// and re-verifies the issuer against the identity's own PDS before the
// session is trusted, per §4.1's IssuerMismatch.
func (c *Client) Callback(ctx context.Context, params url.Values) (*CallbackResult, error) {
	if params.Get("response") != "" {
		return nil, errs.New(errs.KindAuthorization, "JARM (response parameter) callbacks are not supported")
	}
	if errParam := params.Get("error"); errParam != "" {
		return nil, errs.New(errs.KindAuthorization, fmt.Sprintf("authorization server returned error %q: %s", errParam, params.Get("error_description")))
	}

	code := params.Get("code")
	if code == "" {
		return nil, errs.New(errs.KindAuthorization, "callback is missing the code parameter")
	}
	state := params.Get("state")
	if state == "" {
		return nil, errs.New(errs.KindInvalidState, "callback is missing the state parameter")
	}

	raw, ok, err := c.storage.Get(ctx, store.PKCEKey(state))
	if err != nil {
		return nil, errs.Wrap(errs.KindSession, "loading pkce record", err)
	}
	if !ok {
		return nil, errs.New(errs.KindInvalidState, "no pending authorization matches this state (expired or already used)")
	}
	// The record is single-use regardless of what happens below.
	defer c.storage.Delete(ctx, store.PKCEKey(state))

	pkce, err := unmarshalPKCE([]byte(raw))
	if err != nil {
		return nil, errs.Wrap(errs.KindSession, "decoding pkce record", err)
	}

	// RFC 9207: when the authorization server includes iss, it must match
	// the issuer discovered at authorize() time.
	if iss := params.Get("iss"); iss != "" && iss != pkce.Issuer {
		return nil, errs.IssuerMismatch(pkce.Issuer, iss)
	}

	meta, err := resolve.FetchAuthServerMetadata(ctx, c.hc, pkce.AuthServer)
	if err != nil {
		return nil, err
	}

	dpopKey, err := crypto.GenerateES256Key(nil)
	if err != nil {
		return nil, errs.Wrap(errs.KindDPoP, "generating session dpop key", err)
	}

	tok, err := c.tx.ExchangeCode(ctx, meta.TokenEndpoint, code, c.redirectURI, pkce.CodeVerifier, dpopKey)
	if err != nil {
		return nil, err
	}

	did := tok.Sub
	if pkce.DID != nil && *pkce.DID != "" && *pkce.DID != did {
		return nil, errs.SubjectMismatch(*pkce.DID, did).WithIdentity(valueOr(pkce.Handle, ""), did)
	}

	handle := valueOr(pkce.Handle, "")
	pdsURL := valueOr(pkce.PDSURL, "")
	if pdsURL == "" || handle == "" {
		identity, err := resolve.LookupDIDDocument(ctx, c.hc, did)
		if err != nil {
			return nil, errs.Wrap(errs.KindHandleResolution, "resolving pds for authenticated identity", err)
		}
		pdsURL = identity.PDSURL
		if handle == "" {
			handle = identity.Handle
		}
	}

	// Security-critical: re-derive the auth server starting from the
	// identity's own PDS, independently of what authorize() discovered,
	// and make sure it's the same issuer that just vouched for these
	// tokens. This is what stops a rogue or compromised auth server from
	// successfully authenticating as a DID it doesn't actually serve.
	if verifyMeta, vErr := resolve.DiscoverAuthServer(ctx, c.hc, pdsURL); vErr != nil {
		c.logger.Warn("post-exchange auth server re-discovery failed; trusting authorize-time issuer", "err", vErr, "did", did)
	} else if verifyMeta.Issuer != pkce.Issuer {
		return nil, errs.IssuerMismatch(pkce.Issuer, verifyMeta.Issuer).WithIdentity(handle, did)
	}

	privJWK, pubJWK, err := serializeKeyPair(dpopKey)
	if err != nil {
		return nil, errs.Wrap(errs.KindDPoP, "serializing session dpop key", err)
	}

	sess := &session.Session{
		DID:               did,
		Handle:            handle,
		PDSURL:            pdsURL,
		AccessToken:       tok.AccessToken,
		RefreshToken:      tok.RefreshToken,
		DPoPPrivateKeyJWK: privJWK,
		DPoPPublicKeyJWK:  pubJWK,
		TokenExpiresAt:    time.Now().Add(time.Duration(tok.ExpiresIn) * time.Second),
	}

	sessionID := did
	c.attachRuntime(sessionID, sess)

	if err := c.Store(ctx, sessionID, sess); err != nil {
		return nil, err
	}
	c.emitSessionUpdated(sessionID, sess)

	return &CallbackResult{Session: sess, State: state}, nil
}

func valueOr(s *string, fallback string) string {
	if s == nil {
		return fallback
	}
	return *s
}
