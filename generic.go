package oauth

import (
	"encoding/json"
	"fmt"

	"github.com/lestrrat-go/jwx/v2/jwk"

	"github.com/atproto-go/oauth-client/crypto"
	"github.com/atproto-go/oauth-client/errs"
	"github.com/atproto-go/oauth-client/store"
)

// JWKSResponse is the shape a client-metadata JWKS endpoint serves, kept
// from the teacher's JwksResponseObject for the jwks.json file that
// cmd/helper generate-jwks writes (a front-end concern).
type JWKSResponse struct {
	Keys []jwk.Key `json:"keys"`
}

// NewJWKSResponse wraps a single public key the way a /jwks.json route
// would serve it.
func NewJWKSResponse(key jwk.Key) *JWKSResponse {
	return &JWKSResponse{Keys: []jwk.Key{key}}
}

// ephemeralDPoPKey is used for the single DPoP proof the PAR request
// needs before any session-bound key exists.
func ephemeralDPoPKey() (jwk.Key, error) {
	return crypto.GenerateES256Key(nil)
}

func marshalPKCE(r store.PKCERecord) ([]byte, error) {
	return json.Marshal(r)
}

func unmarshalPKCE(b []byte) (*store.PKCERecord, error) {
	var r store.PKCERecord
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// serializeKeyPair returns the JSON JWK encodings of a private key and its
// derived public key, the shape session.Session persists its DPoP key
// under.
func serializeKeyPair(key jwk.Key) (privJSON, pubJSON string, err error) {
	priv, err := json.Marshal(key)
	if err != nil {
		return "", "", err
	}

	pub, err := crypto.PublicJWK(key)
	if err != nil {
		return "", "", err
	}
	pubBytes, err := json.Marshal(pub)
	if err != nil {
		return "", "", err
	}

	return string(priv), string(pubBytes), nil
}

func extractRequestURI(body []byte) (string, error) {
	var resp struct {
		RequestURI string `json:"request_uri"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", errs.Wrap(errs.KindMetadataValidation, "decoding par response", err)
	}
	if resp.RequestURI == "" {
		return "", errs.New(errs.KindMetadataValidation, fmt.Sprintf("par response had no request_uri: %s", string(body)))
	}
	return resp.RequestURI, nil
}
