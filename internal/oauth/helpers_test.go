package oauth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"

	"harbor-bridge/internal/providers"
)

const testRedirectURI = "http://127.0.0.1:8765/oauth/callback"

// fakeProvider is a token and revocation endpoint backed by httptest.
type fakeProvider struct {
	server *httptest.Server

	mu       sync.Mutex
	requests []url.Values
	revoked  []string

	tokenCalls  atomic.Int32
	revokeCalls atomic.Int32

	// respond builds the token response. Defaults to a fresh token.
	respond func(form url.Values) (int, any)

	// block, when set, delays every token response until closed.
	block chan struct{}

	revokeStatus int
}

func newFakeProvider(t *testing.T) *fakeProvider {
	t.Helper()

	fp := &fakeProvider{revokeStatus: http.StatusOK}
	fp.respond = func(form url.Values) (int, any) {
		return http.StatusOK, map[string]any{
			"access_token":  "access-" + form.Get("grant_type"),
			"refresh_token": "refresh-new",
			"expires_in":    3600,
			"token_type":    "Bearer",
			"scope":         "repo",
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /token", func(w http.ResponseWriter, r *http.Request) {
		fp.tokenCalls.Add(1)
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		fp.mu.Lock()
		fp.requests = append(fp.requests, r.PostForm)
		respond := fp.respond
		fp.mu.Unlock()

		if fp.block != nil {
			<-fp.block
		}

		status, body := respond(r.PostForm)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	})
	mux.HandleFunc("POST /revoke", func(w http.ResponseWriter, r *http.Request) {
		fp.revokeCalls.Add(1)
		_ = r.ParseForm()
		fp.mu.Lock()
		fp.revoked = append(fp.revoked, r.PostForm.Get("token"))
		fp.mu.Unlock()
		w.WriteHeader(fp.revokeStatus)
	})

	fp.server = httptest.NewServer(mux)
	t.Cleanup(fp.server.Close)
	return fp
}

// lookup resolves "google" and "github" to the fake endpoints while keeping
// their PKCE and offline-access settings.
func (fp *fakeProvider) lookup(id string) (providers.Config, bool) {
	cfg, ok := providers.Get(id)
	if !ok {
		return providers.Config{}, false
	}
	cfg.AuthorizationURL = fp.server.URL + "/authorize"
	cfg.TokenURL = fp.server.URL + "/token"
	if cfg.RevocationURL != "" {
		cfg.RevocationURL = fp.server.URL + "/revoke"
	}
	return cfg, true
}

func (fp *fakeProvider) lastRequest() url.Values {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	if len(fp.requests) == 0 {
		return nil
	}
	return fp.requests[len(fp.requests)-1]
}

func (fp *fakeProvider) flowManager() *FlowManager {
	return NewFlowManager(FlowManagerConfig{
		RedirectURI: testRedirectURI,
		HTTPClient:  fp.server.Client(),
		Providers:   fp.lookup,
	})
}

// memCredentials is an in-memory CredentialStore.
type memCredentials struct {
	mu    sync.RWMutex
	creds map[string]ClientCredentials
}

func newMemCredentials(ids ...string) *memCredentials {
	m := &memCredentials{creds: make(map[string]ClientCredentials)}
	for _, id := range ids {
		m.creds[id] = ClientCredentials{ClientID: id + "-client-id-0123456789", ClientSecret: id + "-secret"}
	}
	return m
}

func (m *memCredentials) Get(id string) (ClientCredentials, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.creds[id]
	return c, ok
}

func (m *memCredentials) Set(id string, c ClientCredentials) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creds[id] = c
	return nil
}

func (m *memCredentials) Remove(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.creds, id)
	return nil
}

func int64Ptr(v int64) *int64 { return &v }
