package tokenexchange

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atproto-go/oauth-client/crypto"
	"github.com/atproto-go/oauth-client/dpop"
	"github.com/atproto-go/oauth-client/errs"
)

func TestExchangeCodeSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "tok",
			"token_type":   "DPoP",
			"scope":        "atproto transition:generic",
			"sub":          "did:plc:abc",
			"expires_in":   3600,
			"refresh_token": "refresh1",
		})
	}))
	defer server.Close()

	key, err := crypto.GenerateES256Key(nil)
	require.NoError(t, err)

	c := &Client{HTTP: server.Client(), NonceCache: dpop.NewNonceCache(), ClientID: "https://client.example.com/metadata.json"}
	resp, err := c.ExchangeCode(context.Background(), server.URL, "code123", "https://client.example.com/callback", "verifier", key)
	require.NoError(t, err)
	assert.Equal(t, "tok", resp.AccessToken)
	assert.Equal(t, "did:plc:abc", resp.Sub)
}

func TestExchangeCodeStructuredError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]any{
			"error":             "invalid_grant",
			"error_description": "authorization code is expired",
		})
	}))
	defer server.Close()

	key, err := crypto.GenerateES256Key(nil)
	require.NoError(t, err)

	c := &Client{HTTP: server.Client(), NonceCache: dpop.NewNonceCache(), ClientID: "https://client.example.com/metadata.json"}
	_, err = c.ExchangeCode(context.Background(), server.URL, "code123", "https://client.example.com/callback", "verifier", key)
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindRefreshTokenExpired))
}
