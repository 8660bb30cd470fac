// Package validate implements the HTTPS/metadata/token-response validators
// from spec.md §4.4. Each validator turns an untyped JSON document into a
// typed, checked record — no uninspected casts, per the design notes.
package validate

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/atproto-go/oauth-client/errs"
)

// RequireHTTPSURL parses url and rejects anything that isn't an absolute
// https:// URL, per §4.4 and the non-goal that every endpoint must be
// HTTPS.
func RequireHTTPSURL(raw, label string) (*url.URL, error) {
	if raw == "" {
		return nil, errs.New(errs.KindMetadataValidation, fmt.Sprintf("%s must be a non-empty URL", label))
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, errs.Wrap(errs.KindMetadataValidation, fmt.Sprintf("%s is not a valid URL", label), err)
	}
	if u.Scheme != "https" {
		return nil, errs.New(errs.KindMetadataValidation, fmt.Sprintf("%s must use HTTPS", label))
	}
	if u.Hostname() == "" {
		return nil, errs.New(errs.KindMetadataValidation, fmt.Sprintf("%s must have a host", label))
	}
	return u, nil
}

// AuthServerMetadata is the validated, immutable copy of an authorization
// server's metadata document.
type AuthServerMetadata struct {
	Issuer                              string
	AuthorizationEndpoint               string
	TokenEndpoint                       string
	PushedAuthorizationRequestEndpoint  string
	RevocationEndpoint                  string
	DpopSigningAlgValuesSupported       []string
}

// ValidateAuthServerMetadata checks raw against §4.4's rules and returns a
// typed copy. fetchedFrom is the URL the document was retrieved from; the
// issuer's origin must match it exactly (spec.md §3 invariant).
func ValidateAuthServerMetadata(raw map[string]any, fetchedFrom *url.URL) (*AuthServerMetadata, error) {
	if raw == nil {
		return nil, errs.New(errs.KindMetadataValidation, "metadata document must be a JSON object")
	}

	issuerStr, ok := stringField(raw, "issuer")
	if !ok || issuerStr == "" {
		return nil, errs.New(errs.KindMetadataValidation, "issuer must be a non-empty string")
	}
	issuerURL, err := RequireHTTPSURL(issuerStr, "issuer")
	if err != nil {
		return nil, err
	}
	if origin(issuerURL) != origin(fetchedFrom) {
		return nil, errs.New(errs.KindMetadataValidation, fmt.Sprintf("issuer origin %q does not match fetch origin %q", origin(issuerURL), origin(fetchedFrom)))
	}

	authEndpoint, ok := stringField(raw, "authorization_endpoint")
	if !ok {
		return nil, errs.New(errs.KindMetadataValidation, "authorization_endpoint is required")
	}
	if _, err := RequireHTTPSURL(authEndpoint, "authorization_endpoint"); err != nil {
		return nil, err
	}

	tokenEndpoint, ok := stringField(raw, "token_endpoint")
	if !ok {
		return nil, errs.New(errs.KindMetadataValidation, "token_endpoint is required")
	}
	if _, err := RequireHTTPSURL(tokenEndpoint, "token_endpoint"); err != nil {
		return nil, err
	}

	meta := &AuthServerMetadata{
		Issuer:                 issuerStr,
		AuthorizationEndpoint:  authEndpoint,
		TokenEndpoint:          tokenEndpoint,
	}

	if v, ok := raw["pushed_authorization_request_endpoint"]; ok {
		s, ok := v.(string)
		if !ok {
			return nil, errs.New(errs.KindMetadataValidation, "pushed_authorization_request_endpoint must be a string")
		}
		if _, err := RequireHTTPSURL(s, "pushed_authorization_request_endpoint"); err != nil {
			return nil, err
		}
		meta.PushedAuthorizationRequestEndpoint = s
	}

	if v, ok := raw["revocation_endpoint"]; ok {
		s, ok := v.(string)
		if !ok {
			return nil, errs.New(errs.KindMetadataValidation, "revocation_endpoint must be a string")
		}
		if _, err := RequireHTTPSURL(s, "revocation_endpoint"); err != nil {
			return nil, err
		}
		meta.RevocationEndpoint = s
	}

	if v, ok := raw["dpop_signing_alg_values_supported"]; ok {
		list, err := stringSlice(v, "dpop_signing_alg_values_supported")
		if err != nil {
			return nil, err
		}
		if !contains(list, "ES256") {
			return nil, errs.New(errs.KindMetadataValidation, "dpop_signing_alg_values_supported must include ES256")
		}
		meta.DpopSigningAlgValuesSupported = list
	}

	return meta, nil
}

// TokenResponse is the validated, typed copy of a token endpoint's success
// body.
type TokenResponse struct {
	AccessToken  string
	TokenType    string
	Scope        string
	Sub          string
	ExpiresIn    int64
	RefreshToken string
}

// ValidateTokenResponse checks raw against §4.4's rules.
func ValidateTokenResponse(raw map[string]any) (*TokenResponse, error) {
	accessToken, ok := stringField(raw, "access_token")
	if !ok || accessToken == "" {
		return nil, errs.New(errs.KindTokenValidation, "access_token must be a non-empty string")
	}

	tokenType, ok := stringField(raw, "token_type")
	if !ok || !strings.EqualFold(tokenType, "dpop") {
		return nil, errs.New(errs.KindTokenValidation, "token_type must be DPoP")
	}

	scope, ok := stringField(raw, "scope")
	if !ok || scope == "" || !strings.Contains(scope, "atproto") {
		return nil, errs.New(errs.KindTokenValidation, "scope must be non-empty and contain \"atproto\"")
	}

	sub, ok := stringField(raw, "sub")
	if !ok || sub == "" || !strings.HasPrefix(sub, "did:") {
		return nil, errs.New(errs.KindTokenValidation, "sub must be a non-empty string starting with \"did:\"")
	}

	expiresIn, err := numberField(raw, "expires_in")
	if err != nil || expiresIn <= 0 {
		return nil, errs.New(errs.KindTokenValidation, "expires_in must be a positive number")
	}

	resp := &TokenResponse{
		AccessToken: accessToken,
		TokenType:   tokenType,
		Scope:       scope,
		Sub:         sub,
		ExpiresIn:   int64(expiresIn),
	}

	if v, ok := raw["refresh_token"]; ok {
		s, ok := v.(string)
		if !ok {
			return nil, errs.New(errs.KindTokenValidation, "refresh_token must be a string")
		}
		resp.RefreshToken = s
	}

	return resp, nil
}

func origin(u *url.URL) string {
	if u == nil {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

func stringField(m map[string]any, key string) (string, bool) {
	v, ok := m[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func numberField(m map[string]any, key string) (float64, error) {
	v, ok := m[key]
	if !ok {
		return 0, fmt.Errorf("%s missing", key)
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case json.Number:
		return n.Float64()
	case string:
		return strconv.ParseFloat(n, 64)
	default:
		return 0, fmt.Errorf("%s is not a number", key)
	}
}

func stringSlice(v any, label string) ([]string, error) {
	list, ok := v.([]any)
	if !ok {
		return nil, errs.New(errs.KindMetadataValidation, fmt.Sprintf("%s must be a list", label))
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		s, ok := item.(string)
		if !ok {
			return nil, errs.New(errs.KindMetadataValidation, fmt.Sprintf("%s must be a list of strings", label))
		}
		out = append(out, s)
	}
	return out, nil
}

func contains(list []string, needle string) bool {
	for _, s := range list {
		if s == needle {
			return true
		}
	}
	return false
}
