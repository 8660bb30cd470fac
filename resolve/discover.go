package resolve

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/atproto-go/oauth-client/errs"
	"github.com/atproto-go/oauth-client/validate"
)

// ProtectedResourceMetadata is the subset of
// /.well-known/oauth-protected-resource this client needs.
type ProtectedResourceMetadata struct {
	Resource             string   `json:"resource"`
	AuthorizationServers []string `json:"authorization_servers"`
}

// DiscoverAuthServer implements §4.5's "auth-server discovery from PDS":
// fetch <pds>/.well-known/oauth-protected-resource; if it lists
// authorization_servers, use the first; otherwise fall back to treating
// the PDS itself as the auth server. Then fetch and validate
// <auth>/.well-known/oauth-authorization-server.
func DiscoverAuthServer(ctx context.Context, hc *http.Client, pdsURL string) (*validate.AuthServerMetadata, error) {
	authServer, err := DiscoverAuthServerURL(ctx, hc, pdsURL)
	if err != nil {
		return nil, err
	}
	return FetchAuthServerMetadata(ctx, hc, authServer)
}

// DiscoverAuthServerURL resolves just the auth-server URL for a PDS,
// without fetching/validating its metadata (used by authorize() which
// needs the URL before it decides what metadata to fetch).
func DiscoverAuthServerURL(ctx context.Context, hc *http.Client, pdsURL string) (string, error) {
	u, err := validate.RequireHTTPSURL(pdsURL, "pds url")
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String()+"/.well-known/oauth-protected-resource", nil)
	if err != nil {
		return "", errs.Wrap(errs.KindPDSDiscovery, "building protected-resource request", err)
	}

	resp, err := hc.Do(req)
	if err != nil {
		// A missing well-known doc is common and not itself fatal: fall
		// back to treating the PDS as the auth server, per §4.5.
		return pdsURL, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return pdsURL, nil
	}

	var meta ProtectedResourceMetadata
	if err := json.NewDecoder(resp.Body).Decode(&meta); err != nil {
		return "", errs.Wrap(errs.KindPDSDiscovery, "decoding protected-resource metadata", err)
	}

	if len(meta.AuthorizationServers) == 0 {
		return pdsURL, nil
	}
	return meta.AuthorizationServers[0], nil
}

// FetchAuthServerMetadata fetches and validates
// <authServer>/.well-known/oauth-authorization-server.
func FetchAuthServerMetadata(ctx context.Context, hc *http.Client, authServer string) (*validate.AuthServerMetadata, error) {
	u, err := validate.RequireHTTPSURL(authServer, "auth server url")
	if err != nil {
		return nil, err
	}

	fetchURL := u.String() + "/.well-known/oauth-authorization-server"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fetchURL, nil)
	if err != nil {
		return nil, errs.Wrap(errs.KindAuthServerDiscovery, "building metadata request", err)
	}

	resp, err := hc.Do(req)
	if err != nil {
		return nil, errs.Wrap(errs.KindAuthServerDiscovery, "fetching auth server metadata", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, errs.New(errs.KindAuthServerDiscovery, fmt.Sprintf("auth server metadata fetch returned status %d", resp.StatusCode))
	}

	var raw map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, errs.Wrap(errs.KindAuthServerDiscovery, "decoding auth server metadata", err)
	}

	meta, err := validate.ValidateAuthServerMetadata(raw, u)
	if err != nil {
		return nil, err
	}
	return meta, nil
}
