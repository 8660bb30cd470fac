package crypto

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
)

// GenerateES256Key creates a fresh ECDSA P-256 private key, wraps it as a
// JWK, and assigns it a kid. Mirrors the teacher's GenerateKey, generalized
// to accept an optional prefix the same way.
func GenerateES256Key(kidPrefix *string) (jwk.Key, error) {
	privKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}

	key, err := jwk.FromRaw(privKey)
	if err != nil {
		return nil, err
	}

	var kid string
	if kidPrefix != nil {
		kid = fmt.Sprintf("%s-%d", *kidPrefix, time.Now().Unix())
	} else {
		kid = fmt.Sprintf("%d", time.Now().Unix())
	}

	if err := key.Set(jwk.KeyIDKey, kid); err != nil {
		return nil, err
	}
	if err := key.Set(jwk.AlgorithmKey, "ES256"); err != nil {
		return nil, err
	}

	return key, nil
}

// ParsePrivateKey imports a private ECDSA key from its JSON JWK encoding,
// clearing any key-operations list that would prevent sign-only use.
func ParsePrivateKey(raw []byte) (jwk.Key, error) {
	key, err := jwk.ParseKey(raw)
	if err != nil {
		return nil, fmt.Errorf("parsing jwk: %w", err)
	}
	// A strict importer rejects a sign-only key that also advertises
	// "verify" or other conflicting ops; clear key_ops so re-import never
	// trips on a flag set by whatever produced the stored JWK.
	if err := key.Remove(jwk.KeyOpsKey); err != nil {
		return nil, fmt.Errorf("clearing key_ops: %w", err)
	}
	return key, nil
}

// PublicJWK derives the public JWK for a private key, as a plain map ready
// to embed in a DPoP proof header.
func PublicJWK(priv jwk.Key) (map[string]any, error) {
	pub, err := priv.PublicKey()
	if err != nil {
		return nil, fmt.Errorf("deriving public key: %w", err)
	}
	if err := pub.Remove(jwk.KeyOpsKey); err != nil {
		return nil, fmt.Errorf("clearing key_ops: %w", err)
	}

	b, err := json.Marshal(pub)
	if err != nil {
		return nil, err
	}

	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// PrivateKeyRaw extracts the raw *ecdsa.PrivateKey from a JWK for signing.
func PrivateKeyRaw(key jwk.Key) (*ecdsa.PrivateKey, error) {
	var raw ecdsa.PrivateKey
	if err := key.Raw(&raw); err != nil {
		return nil, err
	}
	return &raw, nil
}

// AccessTokenHash computes the "ath" claim: base64url(SHA-256(access_token)).
func AccessTokenHash(accessToken string) string {
	sum := sha256.Sum256([]byte(accessToken))
	return Base64URLEncode(sum[:])
}
