package validate

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequireHTTPSURLRejectsHTTP(t *testing.T) {
	_, err := RequireHTTPSURL("http://example.com", "test")
	assert.Error(t, err)
}

func TestRequireHTTPSURLRejectsEmpty(t *testing.T) {
	_, err := RequireHTTPSURL("", "test")
	assert.Error(t, err)
}

func TestRequireHTTPSURLAccepts(t *testing.T) {
	u, err := RequireHTTPSURL("https://example.com/foo", "test")
	require.NoError(t, err)
	assert.Equal(t, "example.com", u.Hostname())
}

func validMetadata() map[string]any {
	return map[string]any{
		"issuer":                                 "https://auth.example.com",
		"authorization_endpoint":                 "https://auth.example.com/authorize",
		"token_endpoint":                         "https://auth.example.com/token",
		"pushed_authorization_request_endpoint":  "https://auth.example.com/par",
		"dpop_signing_alg_values_supported":      []any{"ES256"},
	}
}

func TestValidateAuthServerMetadataAccepts(t *testing.T) {
	fetchedFrom, _ := url.Parse("https://auth.example.com/.well-known/oauth-authorization-server")
	meta, err := ValidateAuthServerMetadata(validMetadata(), fetchedFrom)
	require.NoError(t, err)
	assert.Equal(t, "https://auth.example.com", meta.Issuer)
	assert.Equal(t, "https://auth.example.com/par", meta.PushedAuthorizationRequestEndpoint)
}

func TestValidateAuthServerMetadataRejectsIssuerOriginMismatch(t *testing.T) {
	raw := validMetadata()
	raw["issuer"] = "https://attacker.example.com"
	fetchedFrom, _ := url.Parse("https://auth.example.com/.well-known/oauth-authorization-server")

	_, err := ValidateAuthServerMetadata(raw, fetchedFrom)
	assert.Error(t, err)
}

func TestValidateAuthServerMetadataRejectsMissingEndpoints(t *testing.T) {
	raw := validMetadata()
	delete(raw, "token_endpoint")
	fetchedFrom, _ := url.Parse("https://auth.example.com/.well-known/oauth-authorization-server")

	_, err := ValidateAuthServerMetadata(raw, fetchedFrom)
	assert.Error(t, err)
}

func TestValidateAuthServerMetadataRejectsNonES256DPoP(t *testing.T) {
	raw := validMetadata()
	raw["dpop_signing_alg_values_supported"] = []any{"RS256"}
	fetchedFrom, _ := url.Parse("https://auth.example.com/.well-known/oauth-authorization-server")

	_, err := ValidateAuthServerMetadata(raw, fetchedFrom)
	assert.Error(t, err)
}

func validToken() map[string]any {
	return map[string]any{
		"access_token": "tok",
		"token_type":   "DPoP",
		"scope":        "atproto transition:generic",
		"sub":          "did:plc:abc123",
		"expires_in":   float64(3600),
	}
}

func TestValidateTokenResponseAccepts(t *testing.T) {
	resp, err := ValidateTokenResponse(validToken())
	require.NoError(t, err)
	assert.Equal(t, "tok", resp.AccessToken)
	assert.Equal(t, int64(3600), resp.ExpiresIn)
}

func TestValidateTokenResponseRejectsNonDPoPTokenType(t *testing.T) {
	raw := validToken()
	raw["token_type"] = "Bearer"
	_, err := ValidateTokenResponse(raw)
	assert.Error(t, err)
}

func TestValidateTokenResponseRejectsMissingAtprotoScope(t *testing.T) {
	raw := validToken()
	raw["scope"] = "something-else"
	_, err := ValidateTokenResponse(raw)
	assert.Error(t, err)
}

func TestValidateTokenResponseRejectsNonDIDSub(t *testing.T) {
	raw := validToken()
	raw["sub"] = "not-a-did"
	_, err := ValidateTokenResponse(raw)
	assert.Error(t, err)
}

func TestValidateTokenResponseRejectsZeroExpiresIn(t *testing.T) {
	raw := validToken()
	raw["expires_in"] = float64(0)
	_, err := ValidateTokenResponse(raw)
	assert.Error(t, err)
}
