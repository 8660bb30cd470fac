package oauth

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atproto-go/oauth-client/store"
)

// memStore is a trivial in-memory store.Storage for tests that don't need
// a real database.
type memStore struct {
	mu   sync.Mutex
	vals map[string]string
}

func newMemStore() *memStore { return &memStore{vals: map[string]string{}} }

func (m *memStore) Get(ctx context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vals[key]
	return v, ok, nil
}

func (m *memStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vals[key] = value
	return nil
}

func (m *memStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.vals, key)
	return nil
}

var _ store.Storage = (*memStore)(nil)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	c, err := NewClient(ClientArgs{
		ClientID:    "https://client.example.com/client-metadata.json",
		RedirectURI: "https://client.example.com/callback",
		Storage:     newMemStore(),
	})
	require.NoError(t, err)
	return c
}

func TestNewClientRequiresClientID(t *testing.T) {
	_, err := NewClient(ClientArgs{RedirectURI: "https://client.example.com/callback", Storage: newMemStore()})
	assert.Error(t, err)
}

func TestNewClientRequiresRedirectURI(t *testing.T) {
	_, err := NewClient(ClientArgs{ClientID: "https://client.example.com/client-metadata.json", Storage: newMemStore()})
	assert.Error(t, err)
}

func TestNewClientRequiresStorage(t *testing.T) {
	_, err := NewClient(ClientArgs{ClientID: "https://client.example.com/client-metadata.json", RedirectURI: "https://client.example.com/callback"})
	assert.Error(t, err)
}

func TestNewClientDefaultsScopeAndTimeout(t *testing.T) {
	c := newTestClient(t)
	assert.Equal(t, "atproto transition:generic", defaultScope)
	assert.NotZero(t, c.refreshTimeout)
	assert.NotNil(t, c.nonceCache)
}

func TestAuthorizeRejectsEmptyHandle(t *testing.T) {
	c := newTestClient(t)
	_, err := c.Authorize(context.Background(), "", nil)
	assert.Error(t, err)
}

func TestAuthorizeRejectsUndottedHandle(t *testing.T) {
	c := newTestClient(t)
	_, err := c.Authorize(context.Background(), "notahandle", nil)
	assert.Error(t, err)
}

func TestCallbackRejectsJARMResponse(t *testing.T) {
	c := newTestClient(t)
	params := map[string][]string{"response": {"some.jwt.value"}}
	_, err := c.Callback(context.Background(), params)
	assert.Error(t, err)
}

func TestCallbackRejectsAuthorizationError(t *testing.T) {
	c := newTestClient(t)
	params := map[string][]string{"error": {"access_denied"}, "error_description": {"user declined"}}
	_, err := c.Callback(context.Background(), params)
	assert.Error(t, err)
}

func TestCallbackRejectsMissingCode(t *testing.T) {
	c := newTestClient(t)
	params := map[string][]string{"state": {"abc"}}
	_, err := c.Callback(context.Background(), params)
	assert.Error(t, err)
}

func TestCallbackRejectsUnknownState(t *testing.T) {
	c := newTestClient(t)
	params := map[string][]string{"code": {"xyz"}, "state": {"unknown-state"}}
	_, err := c.Callback(context.Background(), params)
	assert.Error(t, err)
}

func TestRestoreRejectsUnknownSession(t *testing.T) {
	c := newTestClient(t)
	_, err := c.Restore(context.Background(), "did:plc:doesnotexist")
	assert.Error(t, err)
}
