// Package crypto holds the cryptographic primitives the oauth client
// builds on: PKCE verifier/challenge generation, URL-safe base64, and
// ES256 keypair management. Nothing here talks to the network.
package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
)

// pkceVerifierBytes is chosen so the base64url-without-padding encoding is
// exactly 43 characters, matching RFC 7636's recommended verifier length
// and the spec's literal test vector.
const pkceVerifierBytes = 32

// GenerateCodeVerifier returns a fresh RFC 7636 PKCE code verifier: 32
// cryptographically random bytes, URL-safe base64 without padding.
func GenerateCodeVerifier() (string, error) {
	b := make([]byte, pkceVerifierBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return Base64URLEncode(b), nil
}

// CodeChallenge computes the S256 PKCE challenge for a verifier:
// base64url(SHA-256(verifier)).
func CodeChallenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return Base64URLEncode(sum[:])
}

// Base64URLEncode encodes b as URL-safe base64 with padding stripped:
// '+' -> '-', '/' -> '_', and trailing '=' removed.
func Base64URLEncode(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

// Base64URLDecode is the inverse of Base64URLEncode.
func Base64URLDecode(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(s)
}
