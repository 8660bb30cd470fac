// Package errs defines the typed error taxonomy shared by every layer of
// the oauth client. Every error the client returns to a caller is either
// one of these kinds or wraps one, so that restore/refresh can make
// re-authenticate-or-retry decisions by inspecting Kind rather than
// string-matching.
package errs

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a failure for downstream retry/revoke decisions.
type Kind string

const (
	KindInvalidHandle        Kind = "invalid_handle"
	KindHandleResolution     Kind = "handle_resolution"
	KindPDSDiscovery         Kind = "pds_discovery"
	KindAuthServerDiscovery  Kind = "auth_server_discovery"
	KindMetadataValidation   Kind = "metadata_validation"
	KindTokenExchange        Kind = "token_exchange"
	KindRefreshTokenExpired  Kind = "refresh_token_expired"
	KindRefreshTokenRevoked  Kind = "refresh_token_revoked"
	KindTokenValidation      Kind = "token_validation"
	KindIssuerMismatch       Kind = "issuer_mismatch"
	KindSubjectMismatch      Kind = "subject_mismatch"
	KindInvalidState         Kind = "invalid_state"
	KindAuthorization        Kind = "authorization"
	KindDPoP                 Kind = "dpop"
	KindSession              Kind = "session"
	KindSessionNotFound      Kind = "session_not_found"
	KindNetwork              Kind = "network"
)

// Error is the single root error type. Every typed failure in this module
// is an *Error; callers switch on Kind rather than doing string matching.
type Error struct {
	Kind Kind
	Msg  string
	Err  error // wrapped cause, if any

	// TokenExchange-specific.
	ErrorCode        string
	ErrorDescription string

	// IssuerMismatch- and SubjectMismatch-specific.
	Expected string
	Actual   string
	Handle   string
	DID      string
}

func (e *Error) Error() string {
	if e.Msg == "" && e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Err.Error())
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Msg, e.Err.Error())
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// errors.Is(err, errs.KindX) is not supported since Kind isn't an error;
// use errs.AsError + .Kind instead, or the Is* helpers below.

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

func Wrap(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: cause}
}

// IsKind reports whether err is (or wraps) an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// AsError extracts the *Error from err, if any.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IssuerMismatch builds the §4.1 IssuerMismatch error, optionally carrying
// the handle/did resolved after callback so the caller can redirect to the
// correct authorization server.
func IssuerMismatch(expected, actual string) *Error {
	return &Error{
		Kind:     KindIssuerMismatch,
		Msg:      fmt.Sprintf("issuer %q does not match expected issuer %q", actual, expected),
		Expected: expected,
		Actual:   actual,
	}
}

// WithIdentity attaches handle/did to an existing error, used once the
// callback has resolved the token's subject.
func (e *Error) WithIdentity(handle, did string) *Error {
	e.Handle = handle
	e.DID = did
	return e
}

// SubjectMismatch builds the error for a token whose sub doesn't match the
// DID resolved at authorize() time — a different failure than
// IssuerMismatch (the auth server itself, not the token's subject), kept
// as its own Kind so callers branching on Kind+Expected/Actual don't
// conflate the two.
func SubjectMismatch(expected, actual string) *Error {
	return &Error{
		Kind:     KindSubjectMismatch,
		Msg:      fmt.Sprintf("token sub %q does not match identity resolved at authorize time %q", actual, expected),
		Expected: expected,
		Actual:   actual,
	}
}

// TokenExchange builds a §4.1 TokenExchange error carrying the server's
// structured OAuth error, classifying invalid_grant subtypes per §4.6.
func TokenExchange(errorCode, errorDescription string) *Error {
	kind := KindTokenExchange
	if errorCode == "invalid_grant" {
		if containsFold(errorDescription, "expired") {
			kind = KindRefreshTokenExpired
		} else if containsFold(errorDescription, "revoked") {
			kind = KindRefreshTokenRevoked
		} else {
			kind = KindRefreshTokenExpired
		}
	}
	return &Error{
		Kind:             kind,
		Msg:              "token endpoint returned an error",
		ErrorCode:        errorCode,
		ErrorDescription: errorDescription,
	}
}

// IsReplay reports whether a TokenExchange failure describes a refresh
// token replay, the recoverable-from-storage case in §4.6/§4.8.
func IsReplay(err error) bool {
	e, ok := AsError(err)
	if !ok {
		return false
	}
	return containsFold(e.ErrorDescription, "replayed") || containsFold(e.Msg, "replayed")
}

// IsNetwork classifies a plain error as a transient reachability failure
// per §4.1: message contains network|timeout|connection|fetch, or it
// already wraps one of our own Network errors.
func IsNetwork(err error) bool {
	if err == nil {
		return false
	}
	if IsKind(err, KindNetwork) {
		return true
	}
	msg := err.Error()
	for _, tok := range []string{"network", "timeout", "connection", "fetch"} {
		if containsFold(msg, tok) {
			return true
		}
	}
	return false
}

func containsFold(haystack, needle string) bool {
	if needle == "" {
		return false
	}
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}
