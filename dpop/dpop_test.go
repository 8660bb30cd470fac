package dpop

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atproto-go/oauth-client/crypto"
)

func TestNormalizeHTUStripsQueryAndFragment(t *testing.T) {
	htu, err := NormalizeHTU("https://example.com/token?foo=bar#frag")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/token", htu)
}

func TestBuildProducesExpectedClaims(t *testing.T) {
	key, err := crypto.GenerateES256Key(nil)
	require.NoError(t, err)

	proof, err := Build(key, Proof{Method: "post", URL: "https://pds.example.com/xrpc/foo?x=1", AccessToken: "tok123", Nonce: "n1"})
	require.NoError(t, err)

	claims, err := DecodePayload(proof)
	require.NoError(t, err)

	assert.Equal(t, "POST", claims["htm"])
	assert.Equal(t, "https://pds.example.com/xrpc/foo", claims["htu"])
	assert.Equal(t, "n1", claims["nonce"])
	assert.Equal(t, crypto.AccessTokenHash("tok123"), claims["ath"])
	assert.NotEmpty(t, claims["jti"])
}

func TestBuildOmitsAthAndNonceWhenUnset(t *testing.T) {
	key, err := crypto.GenerateES256Key(nil)
	require.NoError(t, err)

	proof, err := Build(key, Proof{Method: "GET", URL: "https://pds.example.com/xrpc/foo"})
	require.NoError(t, err)

	claims, err := DecodePayload(proof)
	require.NoError(t, err)

	_, hasAth := claims["ath"]
	_, hasNonce := claims["nonce"]
	assert.False(t, hasAth)
	assert.False(t, hasNonce)
}

func TestNonceCacheGetUpdate(t *testing.T) {
	c := NewNonceCache()
	assert.Empty(t, c.Get("https://a.example.com/x"))

	c.Update("https://a.example.com/x", "nonce-1")
	assert.Equal(t, "nonce-1", c.Get("https://a.example.com/y"))
	assert.Empty(t, c.Get("https://b.example.com/x"))
}

func TestNonceCacheUpdateIgnoresBlank(t *testing.T) {
	c := NewNonceCache()
	c.Update("https://a.example.com/x", "nonce-1")
	c.Update("https://a.example.com/x", "")
	assert.Equal(t, "nonce-1", c.Get("https://a.example.com/x"))
}

func buildFor(method, url string) RequestFunc {
	return func(ctx context.Context, proof string) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, method, url, strings.NewReader(""))
	}
}

func TestDoTokenEndpointRetriesOnceWithFreshNonce(t *testing.T) {
	var calls int32
	var sawNonce atomic.Value
	sawNonce.Store("")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			w.Header().Set("DPoP-Nonce", "server-nonce-1")
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		claims, err := DecodePayload(r.Header.Get("DPoP"))
		require.NoError(t, err)
		sawNonce.Store(claims["nonce"])
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	key, err := crypto.GenerateES256Key(nil)
	require.NoError(t, err)

	cache := NewNonceCache()
	resp, _, err := DoTokenEndpoint(context.Background(), server.Client(), cache, http.MethodPost, server.URL, key, buildFor(http.MethodPost, server.URL))
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 2, calls)
	assert.Equal(t, "server-nonce-1", sawNonce.Load())
	assert.Equal(t, "server-nonce-1", cache.Get(server.URL))
}

func TestDoTokenEndpointDoesNotRetryWithoutNonceHeader(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	key, err := crypto.GenerateES256Key(nil)
	require.NoError(t, err)

	resp, _, err := DoTokenEndpoint(context.Background(), server.Client(), NewNonceCache(), http.MethodPost, server.URL, key, buildFor(http.MethodPost, server.URL))
	require.NoError(t, err)

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.EqualValues(t, 1, calls)
}

func TestDoResourceRequestRetriesOnceOn401(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			w.Header().Set("DPoP-Nonce", "resource-nonce-1")
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	key, err := crypto.GenerateES256Key(nil)
	require.NoError(t, err)

	resp, _, err := DoResourceRequest(context.Background(), server.Client(), NewNonceCache(), http.MethodGet, server.URL, "access-token", key, buildFor(http.MethodGet, server.URL))
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 2, calls)
}
