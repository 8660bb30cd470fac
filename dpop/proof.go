// Package dpop implements RFC 9449 Demonstrating Proof of Possession:
// building signed DPoP proof JWTs, normalizing the htu claim, and the
// per-origin nonce cache and retry-with-nonce helpers the AT Protocol OAuth
// profile requires.
package dpop

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v2/jwk"

	"github.com/atproto-go/oauth-client/crypto"
	"github.com/atproto-go/oauth-client/errs"
)

// proofLifetime bounds how long a single DPoP proof is valid for, per the
// AT Protocol OAuth profile's tight tolerance on proof freshness.
const proofLifetime = 300 * time.Second

// Proof holds the inputs to build a single DPoP proof JWT.
type Proof struct {
	Method      string
	URL         string
	AccessToken string // optional; when set, "ath" is included
	Nonce       string // optional
}

// Build produces a compact DPoP proof JWS for the given private key.
func Build(key jwk.Key, p Proof) (string, error) {
	pubJWK, err := crypto.PublicJWK(key)
	if err != nil {
		return "", errs.Wrap(errs.KindDPoP, "deriving public jwk", err)
	}

	htu, err := NormalizeHTU(p.URL)
	if err != nil {
		return "", errs.Wrap(errs.KindDPoP, "normalizing htu", err)
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"jti": uuid.NewString(),
		"htm": strings.ToUpper(p.Method),
		"htu": htu,
		"iat": now.Unix(),
		"exp": now.Add(proofLifetime).Unix(),
	}
	if p.AccessToken != "" {
		claims["ath"] = crypto.AccessTokenHash(p.AccessToken)
	}
	if p.Nonce != "" {
		claims["nonce"] = p.Nonce
	}

	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	token.Header["typ"] = "dpop+jwt"
	token.Header["alg"] = "ES256"
	token.Header["jwk"] = pubJWK

	raw, err := crypto.PrivateKeyRaw(key)
	if err != nil {
		return "", errs.Wrap(errs.KindDPoP, "extracting private key", err)
	}

	signed, err := token.SignedString(raw)
	if err != nil {
		return "", errs.Wrap(errs.KindDPoP, "signing proof", err)
	}
	return signed, nil
}

// NormalizeHTU strips the query string and fragment from a URL, keeping
// scheme, host, port, and path only, per RFC 9449 §4.2.
func NormalizeHTU(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parsing url: %w", err)
	}
	u.RawQuery = ""
	u.Fragment = ""
	u.RawFragment = ""
	return u.String(), nil
}

// DecodePayload extracts the unverified claim set from a compact DPoP
// proof. Used by tests asserting htu/htm shape without needing the public
// key on hand, and is not part of the verification path.
func DecodePayload(compact string) (map[string]any, error) {
	parts := strings.Split(compact, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("not a compact jws")
	}
	b, err := crypto.Base64URLDecode(parts[1])
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}
