package resolve

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupDIDDocumentDidWeb(t *testing.T) {
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/.well-known/did.json" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"alsoKnownAs": []string{"at://alice.example.com"},
			"service": []map[string]string{
				{"id": "#atproto_pds", "type": "AtprotoPersonalDataServer", "serviceEndpoint": "https://pds.example.com"},
			},
		})
	}))
	defer server.Close()

	host := strings.TrimPrefix(server.URL, "https://")
	did := "did:web:" + host

	r := &DefaultResolver{HTTP: server.Client()}
	identity, err := r.lookupDIDDocument(context.Background(), did, "")
	require.NoError(t, err)
	assert.Equal(t, "https://pds.example.com", identity.PDSURL)
	assert.Equal(t, "alice.example.com", identity.Handle)
}

func TestLookupDIDDocumentUnsupportedMethod(t *testing.T) {
	r := &DefaultResolver{}
	_, err := r.lookupDIDDocument(context.Background(), "did:key:abc", "")
	assert.Error(t, err)
}

func TestLookupDIDDocumentNoAtprotoService(t *testing.T) {
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"service": []map[string]string{}})
	}))
	defer server.Close()

	host := strings.TrimPrefix(server.URL, "https://")
	r := &DefaultResolver{HTTP: server.Client()}
	_, err := r.lookupDIDDocument(context.Background(), "did:web:"+host, "")
	assert.Error(t, err)
}
