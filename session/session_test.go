package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsExpiredWithinRefreshBuffer(t *testing.T) {
	s := &Session{TokenExpiresAt: time.Now().Add(2 * time.Minute)}
	assert.True(t, s.IsExpired())
}

func TestIsExpiredFalseWellBeforeExpiry(t *testing.T) {
	s := &Session{TokenExpiresAt: time.Now().Add(time.Hour)}
	assert.False(t, s.IsExpired())
}

func TestTimeUntilExpiryNeverNegative(t *testing.T) {
	s := &Session{TokenExpiresAt: time.Now().Add(-time.Hour)}
	assert.Equal(t, time.Duration(0), s.TimeUntilExpiry())
}

func TestUpdateTokensKeepsRefreshTokenWhenNil(t *testing.T) {
	s := &Session{RefreshToken: "old-refresh"}
	s.UpdateTokens("new-access", nil, time.Hour)
	assert.Equal(t, "new-access", s.AccessToken)
	assert.Equal(t, "old-refresh", s.RefreshToken)
}

func TestUpdateTokensRotatesRefreshTokenWhenSet(t *testing.T) {
	s := &Session{RefreshToken: "old-refresh"}
	next := "new-refresh"
	s.UpdateTokens("new-access", &next, time.Hour)
	assert.Equal(t, "new-refresh", s.RefreshToken)
}

func TestToJSONFromJSONRoundTrip(t *testing.T) {
	s := &Session{
		DID:               "did:plc:abc",
		Handle:            "alice.example.com",
		PDSURL:            "https://pds.example.com",
		AccessToken:       "access",
		RefreshToken:      "refresh",
		DPoPPrivateKeyJWK: `{"kty":"EC"}`,
		DPoPPublicKeyJWK:  `{"kty":"EC"}`,
		TokenExpiresAt:    time.Now().Add(time.Hour).Truncate(time.Second),
	}

	b, err := s.ToJSON()
	require.NoError(t, err)

	restored, err := FromJSON(b)
	require.NoError(t, err)

	assert.Equal(t, s.DID, restored.DID)
	assert.Equal(t, s.Handle, restored.Handle)
	assert.Equal(t, s.AccessToken, restored.AccessToken)
	assert.Equal(t, s.RefreshToken, restored.RefreshToken)
	assert.True(t, s.TokenExpiresAt.Equal(restored.TokenExpiresAt))
}

func TestSetRuntimeDefaultsHTTPClientAndNonceCache(t *testing.T) {
	s := &Session{}
	s.SetRuntime(Options{})
	assert.NotNil(t, s.hc)
	assert.NotNil(t, s.nonceCache)
}
