package oauth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/bluesky-social/indigo/atproto/syntax"

	"github.com/atproto-go/oauth-client/crypto"
	"github.com/atproto-go/oauth-client/dpop"
	"github.com/atproto-go/oauth-client/errs"
	"github.com/atproto-go/oauth-client/resolve"
	"github.com/atproto-go/oauth-client/store"
)

// Authorize implements spec.md §4.8's authorize(). input is either a
// handle or an https:// auth-server URL, distinguished by the prefix.
func (c *Client) Authorize(ctx context.Context, input string, opts *AuthorizeOptions) (string, error) {
	if opts == nil {
		opts = &AuthorizeOptions{}
	}

	var (
		authServerURL string
		handle        *string
		did           *string
		pdsURL        *string
		loginHint     string
	)

	if strings.HasPrefix(input, "https://") {
		authServerURL = strings.TrimSuffix(input, "/")
	} else {
		if err := c.validateHandleSyntax(input); err != nil {
			return "", err
		}

		identity, err := c.resolver.Resolve(ctx, input)
		if err != nil {
			return "", err
		}

		authServer, err := resolve.DiscoverAuthServerURL(ctx, c.hc, identity.PDSURL)
		if err != nil {
			return "", err
		}

		authServerURL = authServer
		handle = &identity.Handle
		did = &identity.DID
		pdsURL = &identity.PDSURL
		loginHint = opts.LoginHint
		if loginHint == "" {
			loginHint = identity.Handle
		}
	}

	meta, err := resolve.FetchAuthServerMetadata(ctx, c.hc, authServerURL)
	if err != nil {
		return "", err
	}

	verifier, challenge, err := c.newPKCE()
	if err != nil {
		return "", err
	}

	state := opts.State
	if state == "" {
		state, err = generateState()
		if err != nil {
			return "", err
		}
	}

	record := store.PKCERecord{
		CodeVerifier: verifier,
		AuthServer:   authServerURL,
		Issuer:       meta.Issuer,
		Handle:       handle,
		DID:          did,
		PDSURL:       pdsURL,
	}
	if err := c.savePKCE(ctx, state, record); err != nil {
		return "", err
	}

	scope := opts.Scope
	if scope == "" {
		scope = defaultScope
	}

	requestURI, err := c.sendPAR(ctx, meta.PushedAuthorizationRequestEndpoint, authServerURL, challenge, scope, state, loginHint, opts.Prompt)
	if err != nil {
		_ = c.storage.Delete(ctx, store.PKCEKey(state))
		return "", err
	}

	u, err := url.Parse(meta.AuthorizationEndpoint)
	if err != nil {
		return "", errs.Wrap(errs.KindMetadataValidation, "parsing authorization_endpoint", err)
	}
	q := url.Values{
		"client_id":    {c.clientID},
		"request_uri":  {requestURI},
	}
	u.RawQuery = q.Encode()

	return u.String(), nil
}

func (c *Client) validateHandleSyntax(handle string) error {
	if _, err := syntax.ParseHandle(handle); err != nil {
		return errs.Wrap(errs.KindInvalidHandle, fmt.Sprintf("handle %q is not syntactically valid", handle), err)
	}
	return nil
}

func (c *Client) newPKCE() (verifier, challenge string, err error) {
	v, err := crypto.GenerateCodeVerifier()
	if err != nil {
		return "", "", errs.Wrap(errs.KindDPoP, "generating pkce verifier", err)
	}
	return v, crypto.CodeChallenge(v), nil
}

func generateState() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func (c *Client) savePKCE(ctx context.Context, state string, record store.PKCERecord) error {
	b, err := marshalPKCE(record)
	if err != nil {
		return errs.Wrap(errs.KindSession, "encoding pkce record", err)
	}
	return c.storage.Set(ctx, store.PKCEKey(state), string(b), store.PKCETTL)
}

func (c *Client) sendPAR(ctx context.Context, parURL, authServerURL, codeChallenge, scope, state, loginHint, prompt string) (string, error) {
	if parURL == "" {
		return "", errs.New(errs.KindMetadataValidation, "auth server did not advertise a pushed_authorization_request_endpoint")
	}

	key, err := ephemeralDPoPKey()
	if err != nil {
		return "", err
	}

	params := url.Values{
		"response_type":         {"code"},
		"client_id":             {c.clientID},
		"redirect_uri":          {c.redirectURI},
		"scope":                 {scope},
		"code_challenge":        {codeChallenge},
		"code_challenge_method": {"S256"},
		"state":                 {state},
	}
	if loginHint != "" {
		params.Set("login_hint", loginHint)
	}
	if prompt != "" {
		params.Set("prompt", prompt)
	}

	build := func(ctx context.Context, proof string) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, parURL, strings.NewReader(params.Encode()))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return req, nil
	}

	resp, body, err := dpop.DoTokenEndpoint(ctx, c.hc, c.nonceCache, http.MethodPost, parURL, key, build)
	if err != nil {
		return "", errs.Wrap(errs.KindNetwork, "sending pushed authorization request", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", errs.New(errs.KindMetadataValidation, fmt.Sprintf("par endpoint returned status %d: %s", resp.StatusCode, string(body)))
	}

	requestURI, err := extractRequestURI(body)
	if err != nil {
		return "", err
	}
	return requestURI, nil
}
