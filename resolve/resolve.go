// Package resolve implements handle -> (DID, PDS URL) resolution and the
// auth-server discovery chain that sits on top of it (spec.md §4.5). The
// transport itself (HTTP probes to a resolver service, the PLC directory,
// and well-known endpoints) is a pluggable capability; this package ships
// a default chain grounded in the teacher's resolveHandle/resolveService.
package resolve

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/bluesky-social/indigo/atproto/syntax"

	"github.com/atproto-go/oauth-client/errs"
)

// Identity is the result of resolving a handle or DID to its PDS.
type Identity struct {
	DID    string
	PDSURL string
	Handle string
}

// HandleResolver is the external collaborator contract from spec.md §4.5:
// one method, resolve(handle) -> {did, pdsUrl}.
type HandleResolver interface {
	Resolve(ctx context.Context, handle string) (*Identity, error)
}

// DefaultResolver implements the four-link Slingshot-style fallback chain.
// Attempts stop at first success; HandleResolution is raised only if every
// link fails.
type DefaultResolver struct {
	HTTP        *http.Client
	SlingshotURL string // optional; base URL of a Slingshot-style resolver
}

// NewDefaultResolver builds a resolver with sane defaults.
func NewDefaultResolver(slingshotURL string) *DefaultResolver {
	return &DefaultResolver{
		HTTP:         &http.Client{Timeout: 10 * time.Second},
		SlingshotURL: slingshotURL,
	}
}

// Resolve attempts, in order: a combined Slingshot did+pds endpoint, a
// plain resolveHandle endpoint followed by a DID-document lookup, a DNS TXT
// lookup of _atproto.<handle> followed by a DID-document lookup, and
// finally a direct well-known probe against the handle's own domain
// followed by a DID-document lookup. No directory service is queried to
// resolve the handle itself; the directory is only used for the
// DID-document lookups.
func (r *DefaultResolver) Resolve(ctx context.Context, handle string) (*Identity, error) {
	if _, err := syntax.ParseHandle(handle); err != nil {
		return nil, errs.Wrap(errs.KindInvalidHandle, fmt.Sprintf("handle %q is not syntactically valid", handle), err)
	}

	type attempt func(context.Context, string) (*Identity, error)
	attempts := []attempt{
		r.resolveViaSlingshotCombined,
		r.resolveViaSlingshotHandle,
		r.resolveViaPLCDirectory,
		r.resolveViaWellKnown,
	}

	var lastErr error
	for _, a := range attempts {
		id, err := a(ctx, handle)
		if err == nil && id != nil {
			return id, nil
		}
		if err != nil {
			lastErr = err
		}
	}

	return nil, errs.Wrap(errs.KindHandleResolution, fmt.Sprintf("no resolver returned an identity for %q", handle), lastErr)
}

func (r *DefaultResolver) resolveViaSlingshotCombined(ctx context.Context, handle string) (*Identity, error) {
	if r.SlingshotURL == "" {
		return nil, fmt.Errorf("no slingshot url configured")
	}
	u := fmt.Sprintf("%s/xrpc/com.bad-example.identity.resolveMiniDoc?handle=%s", strings.TrimSuffix(r.SlingshotURL, "/"), handle)
	var out struct {
		DID string `json:"did"`
		PDS string `json:"pds"`
	}
	if err := r.getJSON(ctx, u, &out); err != nil {
		return nil, err
	}
	if out.DID == "" || out.PDS == "" {
		return nil, fmt.Errorf("slingshot combined resolver returned incomplete result")
	}
	return &Identity{DID: out.DID, PDSURL: strings.TrimSuffix(out.PDS, "/"), Handle: handle}, nil
}

func (r *DefaultResolver) resolveViaSlingshotHandle(ctx context.Context, handle string) (*Identity, error) {
	if r.SlingshotURL == "" {
		return nil, fmt.Errorf("no slingshot url configured")
	}
	u := fmt.Sprintf("%s/xrpc/com.atproto.identity.resolveHandle?handle=%s", strings.TrimSuffix(r.SlingshotURL, "/"), handle)
	var out struct {
		DID string `json:"did"`
	}
	if err := r.getJSON(ctx, u, &out); err != nil {
		return nil, err
	}
	if out.DID == "" {
		return nil, fmt.Errorf("slingshot resolveHandle returned no did")
	}
	return r.lookupDIDDocument(ctx, out.DID, handle)
}

func (r *DefaultResolver) resolveViaPLCDirectory(ctx context.Context, handle string) (*Identity, error) {
	// The PLC directory doesn't resolve handles directly; this link mirrors
	// the teacher's DNS-TXT probe, which is the reference directory's own
	// recommended handle-resolution mechanism ahead of the well-known file.
	recs, err := net.LookupTXT(fmt.Sprintf("_atproto.%s", handle))
	if err != nil {
		return nil, err
	}
	for _, rec := range recs {
		if did, ok := strings.CutPrefix(rec, "did="); ok {
			return r.lookupDIDDocument(ctx, did, handle)
		}
	}
	return nil, fmt.Errorf("no _atproto TXT record found")
}

func (r *DefaultResolver) resolveViaWellKnown(ctx context.Context, handle string) (*Identity, error) {
	if !strings.Contains(handle, ".") {
		return nil, fmt.Errorf("handle is not dotted, skipping well-known probe")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("https://%s/.well-known/atproto-did", handle), nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.client().Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("well-known probe returned status %d", resp.StatusCode)
	}

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	did := strings.TrimSpace(string(b))
	if _, err := syntax.ParseDID(did); err != nil {
		return nil, fmt.Errorf("well-known probe did not return a valid did")
	}

	return r.lookupDIDDocument(ctx, did, handle)
}

func (r *DefaultResolver) client() *http.Client {
	if r.HTTP != nil {
		return r.HTTP
	}
	return http.DefaultClient
}

func (r *DefaultResolver) getJSON(ctx context.Context, u string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	resp, err := r.client().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("non-200 response: %d", resp.StatusCode)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

// didDocument mirrors the subset of a DID document this client cares
// about: the AT Protocol PDS service entry and any at:// handles in
// alsoKnownAs.
type didDocument struct {
	AlsoKnownAs []string `json:"alsoKnownAs"`
	Service     []struct {
		ID              string `json:"id"`
		Type            string `json:"type"`
		ServiceEndpoint string `json:"serviceEndpoint"`
	} `json:"service"`
}

// LookupDIDDocument fetches a DID document from the canonical directory
// for did:plc or did:web identifiers and extracts the PDS endpoint and
// handle, per §4.5.
func LookupDIDDocument(ctx context.Context, hc *http.Client, did string) (*Identity, error) {
	return (&DefaultResolver{HTTP: hc}).lookupDIDDocument(ctx, did, "")
}

func (r *DefaultResolver) lookupDIDDocument(ctx context.Context, did, knownHandle string) (*Identity, error) {
	var u string
	switch {
	case strings.HasPrefix(did, "did:plc:"):
		u = fmt.Sprintf("https://plc.directory/%s", did)
	case strings.HasPrefix(did, "did:web:"):
		host := strings.TrimPrefix(did, "did:web:")
		u = fmt.Sprintf("https://%s/.well-known/did.json", host)
	default:
		return nil, fmt.Errorf("unsupported did method in %q", did)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.client().Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("did document fetch returned status %d", resp.StatusCode)
	}

	var doc didDocument
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, err
	}

	var pds string
	for _, svc := range doc.Service {
		if svc.Type == "AtprotoPersonalDataServer" || svc.ID == "#atproto_pds" {
			pds = strings.TrimSuffix(svc.ServiceEndpoint, "/")
			break
		}
	}
	if pds == "" {
		return nil, fmt.Errorf("did document for %q has no AtprotoPersonalDataServer service", did)
	}

	handle := knownHandle
	if handle == "" {
		for _, aka := range doc.AlsoKnownAs {
			if h, ok := strings.CutPrefix(aka, "at://"); ok {
				handle = h
				break
			}
		}
	}

	return &Identity{DID: did, PDSURL: pds, Handle: handle}, nil
}
