package dpop

import (
	"net/url"
	"sync"
)

// NonceCache is a process-wide mapping from server origin to the
// most-recently-observed DPoP-Nonce value. Concurrent writers are
// acceptable: the value is idempotent per origin and a stale read only
// costs one extra retry, never correctness (§5).
type NonceCache struct {
	mu sync.RWMutex
	m  map[string]string
}

// NewNonceCache returns an empty cache.
func NewNonceCache() *NonceCache {
	return &NonceCache{m: make(map[string]string)}
}

// Get returns the cached nonce for the origin of rawURL, if any.
func (c *NonceCache) Get(rawURL string) string {
	origin, err := originOf(rawURL)
	if err != nil {
		return ""
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.m[origin]
}

// Update records a nonce observed for the origin of rawURL. A blank nonce
// is a no-op: callers pass whatever they read off a DPoP-Nonce header
// unconditionally, and that header may be absent.
func (c *NonceCache) Update(rawURL, nonce string) {
	if nonce == "" {
		return
	}
	origin, err := originOf(rawURL)
	if err != nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[origin] = nonce
}

func originOf(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	return u.Scheme + "://" + u.Host, nil
}

// defaultNonceCache is the package-level cache used by the retry helpers
// in http.go when the caller doesn't supply its own, mirroring the spec's
// "process-wide" nonce cache.
var defaultNonceCache = NewNonceCache()

// DefaultNonceCache returns the shared process-wide nonce cache.
func DefaultNonceCache() *NonceCache { return defaultNonceCache }
