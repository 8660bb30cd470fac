package dpop

import (
	"bytes"
	"context"
	"io"
	"net/http"

	"github.com/lestrrat-go/jwx/v2/jwk"
)

// RequestFunc builds the *http.Request to send, given the DPoP proof that
// should be attached. It is called once, and again on the single allowed
// nonce retry, so callers must build a fresh body reader each time.
type RequestFunc func(ctx context.Context, dpopProof string) (*http.Request, error)

// DoTokenEndpoint sends a DPoP-protected request to a token/PAR endpoint
// and retries exactly once if the server challenges with a fresh nonce:
// status 400 plus a DPoP-Nonce response header, per §4.3/§4.6.
func DoTokenEndpoint(ctx context.Context, hc *http.Client, cache *NonceCache, method, url string, key jwk.Key, build RequestFunc) (*http.Response, []byte, error) {
	return doWithNonceRetry(ctx, hc, cache, method, url, key, "", build, http.StatusBadRequest)
}

// DoResourceRequest sends a DPoP-protected request to a resource server
// (PDS/XRPC) and retries exactly once on a 401 + DPoP-Nonce challenge,
// per §4.3's per-resource request helper.
func DoResourceRequest(ctx context.Context, hc *http.Client, cache *NonceCache, method, url string, accessToken string, key jwk.Key, build RequestFunc) (*http.Response, []byte, error) {
	return doWithNonceRetry(ctx, hc, cache, method, url, key, accessToken, build, http.StatusUnauthorized)
}

func doWithNonceRetry(ctx context.Context, hc *http.Client, cache *NonceCache, method, url string, key jwk.Key, accessToken string, build RequestFunc, retryStatus int) (*http.Response, []byte, error) {
	if cache == nil {
		cache = defaultNonceCache
	}

	proof, err := Build(key, Proof{Method: method, URL: url, AccessToken: accessToken, Nonce: cache.Get(url)})
	if err != nil {
		return nil, nil, err
	}

	resp, body, err := send(ctx, hc, cache, url, build, proof)
	if err != nil {
		return nil, nil, err
	}

	if resp.StatusCode != retryStatus {
		return resp, body, nil
	}

	nonce := resp.Header.Get("DPoP-Nonce")
	if nonce == "" {
		return resp, body, nil
	}

	proof, err = Build(key, Proof{Method: method, URL: url, AccessToken: accessToken, Nonce: nonce})
	if err != nil {
		return nil, nil, err
	}

	return send(ctx, hc, cache, url, build, proof)
}

func send(ctx context.Context, hc *http.Client, cache *NonceCache, url string, build RequestFunc, proof string) (*http.Response, []byte, error) {
	req, err := build(ctx, proof)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("DPoP", proof)

	resp, err := hc.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, err
	}

	cache.Update(url, resp.Header.Get("DPoP-Nonce"))

	// Re-wrap so callers that want to inspect resp.Body still can, even
	// though we've already drained it above.
	resp.Body = io.NopCloser(bytes.NewReader(body))
	return resp, body, nil
}
