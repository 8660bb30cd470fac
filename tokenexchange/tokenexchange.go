// Package tokenexchange implements the §4.6 authorization-code and
// refresh-token grants: DPoP-protected POSTs to the token endpoint with
// nonce-retry and structured OAuth error parsing.
package tokenexchange

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v2/jwk"

	"github.com/atproto-go/oauth-client/dpop"
	"github.com/atproto-go/oauth-client/errs"
	"github.com/atproto-go/oauth-client/validate"
)

// DefaultTimeout is the refresh grant's default timeout, per spec.md §4.6.
const DefaultTimeout = 30 * time.Second

// Client performs token-endpoint grants. ClientJWK is optional: when set,
// requests carry a private_key_jwt client assertion (the teacher's
// confidential-client mode, §6 of SPEC_FULL); when nil, the client runs as
// a public client with no client authentication, which is the AT Protocol
// OAuth profile's primary mode.
type Client struct {
	HTTP       *http.Client
	NonceCache *dpop.NonceCache
	ClientID   string
	ClientJWK  jwk.Key
}

// clientAssertionJWT signs a short-lived JWT asserting the client's
// identity, with aud set to authServerURL, per the teacher's
// ClientAssertionJwt. doGrant passes the token endpoint URL as that
// audience, not the issuer.
func (c *Client) clientAssertionJWT(authServerURL string) (string, error) {
	claims := jwt.MapClaims{
		"iss": c.ClientID,
		"sub": c.ClientID,
		"aud": authServerURL,
		"jti": uuid.NewString(),
		"iat": time.Now().Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	token.Header["kid"] = c.ClientJWK.KeyID()

	var raw interface{}
	if err := c.ClientJWK.Raw(&raw); err != nil {
		return "", err
	}
	return token.SignedString(raw)
}

// ExchangeCode performs the authorization-code grant.
func (c *Client) ExchangeCode(ctx context.Context, tokenEndpoint, code, redirectURI, codeVerifier string, dpopKey jwk.Key) (*validate.TokenResponse, error) {
	params := url.Values{
		"grant_type":    {"authorization_code"},
		"client_id":     {c.ClientID},
		"redirect_uri":  {redirectURI},
		"code":          {code},
		"code_verifier": {codeVerifier},
	}
	return c.doGrant(ctx, tokenEndpoint, params, dpopKey)
}

// RefreshToken performs the refresh-token grant with a timeout default of
// DefaultTimeout, per §4.6.
func (c *Client) RefreshToken(ctx context.Context, tokenEndpoint, refreshToken string, dpopKey jwk.Key, timeout time.Duration) (*validate.TokenResponse, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	params := url.Values{
		"grant_type":    {"refresh_token"},
		"client_id":     {c.ClientID},
		"refresh_token": {refreshToken},
	}
	return c.doGrant(ctx, tokenEndpoint, params, dpopKey)
}

func (c *Client) doGrant(ctx context.Context, tokenEndpoint string, params url.Values, dpopKey jwk.Key) (*validate.TokenResponse, error) {
	if c.ClientJWK != nil {
		assertion, err := c.clientAssertionJWT(tokenEndpoint)
		if err != nil {
			return nil, errs.Wrap(errs.KindTokenExchange, "signing client assertion", err)
		}
		params.Set("client_assertion_type", "urn:ietf:params:oauth:client-assertion-type:jwt-bearer")
		params.Set("client_assertion", assertion)
	}

	build := func(ctx context.Context, proof string) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenEndpoint, strings.NewReader(params.Encode()))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return req, nil
	}

	resp, body, err := dpop.DoTokenEndpoint(ctx, c.HTTP, c.NonceCache, http.MethodPost, tokenEndpoint, dpopKey, build)
	if err != nil {
		return nil, errs.Wrap(errs.KindNetwork, "token endpoint request failed", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, parseTokenError(body)
	}

	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, errs.Wrap(errs.KindTokenValidation, "decoding token response", err)
	}

	return validate.ValidateTokenResponse(raw)
}

func parseTokenError(body []byte) error {
	var structured struct {
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
	}
	if err := json.Unmarshal(body, &structured); err == nil && structured.Error != "" {
		return errs.TokenExchange(structured.Error, structured.ErrorDescription)
	}
	return errs.New(errs.KindTokenExchange, strings.TrimSpace(string(body)))
}
