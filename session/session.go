// Package session implements the §4.7 session record: token state,
// expiry arithmetic, and the DPoP-authenticated request helper with its
// nonce-retry and auto-refresh-on-401 behavior.
package session

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"

	"github.com/atproto-go/oauth-client/crypto"
	"github.com/atproto-go/oauth-client/dpop"
	"github.com/atproto-go/oauth-client/errs"
)

// refreshBuffer is the five-minute window before real expiry at which a
// session is already considered expired, per spec.md §3.
const refreshBuffer = 5 * time.Minute

// RefreshFunc is attached by the owning client at session creation or
// restore time; it performs an out-of-band refresh-and-persist and
// returns the new access token to retry with. Implemented as an injected
// callback rather than a back-reference to the client, per design note §9.
type RefreshFunc func(ctx context.Context) (accessToken string, err error)

// Session is the §3/§4.7 session record.
type Session struct {
	DID               string
	Handle            string
	PDSURL            string
	AccessToken       string
	RefreshToken      string
	DPoPPrivateKeyJWK string
	DPoPPublicKeyJWK  string
	TokenExpiresAt    time.Time

	hc          *http.Client
	nonceCache  *dpop.NonceCache
	onRefresh   RefreshFunc
}

// Options configures a Session's runtime collaborators. These fields are
// not persisted; SetRuntime must be called again after FromJSON.
type Options struct {
	HTTPClient *http.Client
	NonceCache *dpop.NonceCache
	OnRefresh  RefreshFunc
}

// SetRuntime attaches the HTTP client, nonce cache, and refresh callback a
// restored session needs to make authenticated requests. The owning
// client calls this on the sessions it builds in Callback and after
// FromJSON.
func (s *Session) SetRuntime(opts Options) {
	s.hc = opts.HTTPClient
	if s.hc == nil {
		s.hc = &http.Client{Timeout: 30 * time.Second}
	}
	s.nonceCache = opts.NonceCache
	if s.nonceCache == nil {
		s.nonceCache = dpop.DefaultNonceCache()
	}
	s.onRefresh = opts.OnRefresh
}

// IsExpired reports whether the session needs a refresh: now + 5m >=
// tokenExpiresAt.
func (s *Session) IsExpired() bool {
	return !time.Now().Add(refreshBuffer).Before(s.TokenExpiresAt)
}

// TimeUntilExpiry returns max(0, tokenExpiresAt - now).
func (s *Session) TimeUntilExpiry() time.Duration {
	d := time.Until(s.TokenExpiresAt)
	if d < 0 {
		return 0
	}
	return d
}

// UpdateTokens overwrites the access token (and refresh token, if
// present), recomputing tokenExpiresAt = now + expiresIn.
func (s *Session) UpdateTokens(accessToken string, refreshToken *string, expiresIn time.Duration) {
	s.AccessToken = accessToken
	if refreshToken != nil {
		s.RefreshToken = *refreshToken
	}
	s.TokenExpiresAt = time.Now().Add(expiresIn)
}

// jsonSession is the wire shape for ToJSON/FromJSON: only the persisted
// fields, none of the runtime collaborators.
type jsonSession struct {
	DID               string    `json:"did"`
	Handle            string    `json:"handle"`
	PDSURL            string    `json:"pdsUrl"`
	AccessToken       string    `json:"accessToken"`
	RefreshToken      string    `json:"refreshToken"`
	DPoPPrivateKeyJWK string    `json:"dpopPrivateKeyJwk"`
	DPoPPublicKeyJWK  string    `json:"dpopPublicKeyJwk"`
	TokenExpiresAt    time.Time `json:"tokenExpiresAt"`
}

// ToJSON serializes every persisted field exactly.
func (s *Session) ToJSON() ([]byte, error) {
	return json.Marshal(jsonSession{
		DID:               s.DID,
		Handle:            s.Handle,
		PDSURL:            s.PDSURL,
		AccessToken:       s.AccessToken,
		RefreshToken:      s.RefreshToken,
		DPoPPrivateKeyJWK: s.DPoPPrivateKeyJWK,
		DPoPPublicKeyJWK:  s.DPoPPublicKeyJWK,
		TokenExpiresAt:    s.TokenExpiresAt,
	})
}

// FromJSON is the inverse of ToJSON; round-trips every persisted field.
func FromJSON(b []byte) (*Session, error) {
	var j jsonSession
	if err := json.Unmarshal(b, &j); err != nil {
		return nil, errs.Wrap(errs.KindSession, "decoding session", err)
	}
	return &Session{
		DID:               j.DID,
		Handle:            j.Handle,
		PDSURL:            j.PDSURL,
		AccessToken:       j.AccessToken,
		RefreshToken:      j.RefreshToken,
		DPoPPrivateKeyJWK: j.DPoPPrivateKeyJWK,
		DPoPPublicKeyJWK:  j.DPoPPublicKeyJWK,
		TokenExpiresAt:    j.TokenExpiresAt,
	}, nil
}

// MakeRequest issues a DPoP-authenticated request to the session's PDS:
// Authorization: DPoP <access_token> plus a DPoP proof carrying ath. On a
// 401 with a DPoP-Nonce header it retries once with the nonce. If still
// 401 and a refresh callback is attached, it invokes the callback and
// retries a final time. Non-401 errors are never retried.
func (s *Session) MakeRequest(ctx context.Context, method, url string, body []byte, headers http.Header) (*http.Response, []byte, error) {
	key, err := crypto.ParsePrivateKey([]byte(s.DPoPPrivateKeyJWK))
	if err != nil {
		return nil, nil, errs.Wrap(errs.KindDPoP, "importing dpop private key", err)
	}

	resp, respBody, err := s.doOnce(ctx, method, url, body, headers, key, s.AccessToken, s.nonceCache.Get(url))
	if err != nil {
		return nil, nil, err
	}

	if resp.StatusCode != http.StatusUnauthorized {
		return resp, respBody, nil
	}

	nonce := resp.Header.Get("DPoP-Nonce")
	if nonce != "" {
		resp, respBody, err = s.doOnce(ctx, method, url, body, headers, key, s.AccessToken, nonce)
		if err != nil {
			return nil, nil, err
		}
		if resp.StatusCode != http.StatusUnauthorized {
			return resp, respBody, nil
		}
	}

	if s.onRefresh == nil {
		return resp, respBody, nil
	}

	newAccessToken, err := s.onRefresh(ctx)
	if err != nil {
		return nil, nil, err
	}
	s.AccessToken = newAccessToken

	return s.doOnce(ctx, method, url, body, headers, key, newAccessToken, s.nonceCache.Get(url))
}

func (s *Session) doOnce(ctx context.Context, method, url string, body []byte, headers http.Header, key jwk.Key, accessToken, nonce string) (*http.Response, []byte, error) {
	proof, err := dpop.Build(key, dpop.Proof{Method: method, URL: url, AccessToken: accessToken, Nonce: nonce})
	if err != nil {
		return nil, nil, errs.Wrap(errs.KindDPoP, "building dpop proof", err)
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, nil, err
	}
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Authorization", "DPoP "+accessToken)
	req.Header.Set("DPoP", proof)

	resp, err := s.hc_().Do(req)
	if err != nil {
		return nil, nil, errs.Wrap(errs.KindNetwork, "performing authenticated request", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, err
	}

	s.nonceCache.Update(url, resp.Header.Get("DPoP-Nonce"))
	resp.Body = io.NopCloser(bytes.NewReader(respBody))

	return resp, respBody, nil
}

func (s *Session) hc_() *http.Client {
	if s.hc == nil {
		return http.DefaultClient
	}
	return s.hc
}
