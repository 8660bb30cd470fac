// Package store defines the pluggable key->value+TTL storage capability
// spec.md treats as an external collaborator (§6 "storage"), plus the
// concrete record types persisted under its well-known key prefixes.
package store

import (
	"context"
	"time"
)

// Storage is any key->value store with TTL semantics. The engine never
// assumes a particular backend; store/gormstore ships a default.
type Storage interface {
	// Get returns the stored value for key, or ok=false if absent or
	// expired.
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	// Set stores value under key. A zero ttl means "no expiry."
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
}

// PKCERecord is the §3 PKCE state record, persisted under pkce:<state>
// with a fixed 600s TTL. Handle/DID/PDSURL are nil until they become
// known — the source's empty-string sentinel is resolved away per the
// open question in spec.md §9.
type PKCERecord struct {
	CodeVerifier string
	AuthServer   string
	Issuer       string
	Handle       *string
	DID          *string
	PDSURL       *string
}

// PKCETTL is the fixed lifetime of a PKCE record from authorize() until
// successful callback or expiry, per spec.md §3.
const PKCETTL = 600 * time.Second

// PKCEKey returns the storage key for a PKCE record.
func PKCEKey(state string) string { return "pkce:" + state }

// SessionKey returns the storage key for a persisted session.
func SessionKey(sessionID string) string { return "session:" + sessionID }
