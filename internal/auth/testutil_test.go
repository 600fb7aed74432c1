package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/quasar/mcauth/internal/account"
	"github.com/quasar/mcauth/internal/logging"
)

// fakeServices stands in for every remote endpoint of the chain and
// records the order of the hops it sees.
type fakeServices struct {
	t   *testing.T
	srv *httptest.Server

	mu    sync.Mutex
	calls []string

	// overridable handlers; nil means the happy-path default
	tokenHandler   http.HandlerFunc
	xstsHandler    http.HandlerFunc
	profileHandler http.HandlerFunc
}

func newFakeServices(t *testing.T) *fakeServices {
	t.Helper()
	f := &fakeServices{t: t}

	mux := http.NewServeMux()
	mux.HandleFunc("/devicecode", f.record("devicecode", f.handleDeviceCode))
	mux.HandleFunc("/token", f.record("token", f.handleToken))
	mux.HandleFunc("/xbox", f.record("xbox", f.handleXbox))
	mux.HandleFunc("/xsts", f.record("xsts", f.handleXSTS))
	mux.HandleFunc("/mclogin", f.record("mclogin", f.handleMCLogin))
	mux.HandleFunc("/profile", f.record("profile", f.handleProfile))
	f.srv = httptest.NewServer(mux)

	oldAuthorize, oldDevice, oldToken := msaAuthorizeURL, msaDeviceCodeURL, msaTokenURL
	oldXbox, oldXSTS, oldMC, oldProfile := xboxUserAuthURL, xstsAuthURL, mcAuthURL, mcProfileURL

	msaAuthorizeURL = f.srv.URL + "/authorize"
	msaDeviceCodeURL = f.srv.URL + "/devicecode"
	msaTokenURL = f.srv.URL + "/token"
	xboxUserAuthURL = f.srv.URL + "/xbox"
	xstsAuthURL = f.srv.URL + "/xsts"
	mcAuthURL = f.srv.URL + "/mclogin"
	mcProfileURL = f.srv.URL + "/profile"

	t.Cleanup(func() {
		f.srv.Close()
		msaAuthorizeURL, msaDeviceCodeURL, msaTokenURL = oldAuthorize, oldDevice, oldToken
		xboxUserAuthURL, xstsAuthURL, mcAuthURL, mcProfileURL = oldXbox, oldXSTS, oldMC, oldProfile
	})
	return f
}

func (f *fakeServices) record(name string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.calls = append(f.calls, name)
		f.mu.Unlock()
		next(w, r)
	}
}

func (f *fakeServices) callOrder() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

func (f *fakeServices) countCalls(name string) int {
	n := 0
	for _, c := range f.callOrder() {
		if c == name {
			n++
		}
	}
	return n
}

func (f *fakeServices) handleDeviceCode(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"device_code":      "DEV123",
		"user_code":        "ABCD-EFGH",
		"verification_uri": "https://microsoft.com/devicelogin",
		"expires_in":       900,
		"interval":         5,
	})
}

func (f *fakeServices) handleToken(w http.ResponseWriter, r *http.Request) {
	if f.tokenHandler != nil {
		f.tokenHandler(w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"access_token":  "ms-access-token",
		"refresh_token": "ms-refresh-token",
		"token_type":    "Bearer",
		"expires_in":    3600,
	})
}

func (f *fakeServices) handleXbox(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"Token": "xbl-token",
		"DisplayClaims": map[string]any{
			"xui": []map[string]string{{"uhs": "userhash1"}},
		},
	})
}

func (f *fakeServices) handleXSTS(w http.ResponseWriter, r *http.Request) {
	if f.xstsHandler != nil {
		f.xstsHandler(w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"Token": "xsts-token",
		"DisplayClaims": map[string]any{
			"xui": []map[string]string{{"uhs": "userhash1"}},
		},
	})
}

func (f *fakeServices) handleMCLogin(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"access_token": "mc-access-token",
		"expires_in":   86400,
	})
}

func (f *fakeServices) handleProfile(w http.ResponseWriter, r *http.Request) {
	if f.profileHandler != nil {
		f.profileHandler(w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":   "069a79f444e94726a5befca90e38aaf5",
		"name": "Steve",
		"skins": []map[string]string{
			{"state": "ACTIVE", "url": "http://textures.minecraft.net/texture/abc"},
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func testLogger() *logging.Logger {
	return logging.NewSilentLogger()
}

func newTestClient() *Client {
	c := NewClient("test-client", logging.NewSilentLogger())
	// Tests never wait on real time between poll attempts
	c.sleep = func(ctx context.Context, d time.Duration) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			return nil
		}
	}
	return c
}

func newTestStore(t *testing.T) *account.Store {
	t.Helper()
	return account.NewStore(t.TempDir())
}
