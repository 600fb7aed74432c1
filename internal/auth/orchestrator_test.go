package auth

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quasar/mcauth/internal/account"
)

func newTestOrchestrator(t *testing.T, store *account.Store) *Orchestrator {
	t.Helper()
	return NewOrchestrator(newTestClient(), store, Options{
		OAuthPort:     0, // ephemeral port in tests
		RedirectURI:   "http://localhost:5713/callback",
		RefreshMargin: 10 * time.Minute,
		CallbackWait:  5 * time.Second,
	}, testLogger())
}

// completeBrowserCallback simulates the system browser hitting the
// loopback redirect with the code and the state from the auth URL
func completeBrowserCallback(t *testing.T, p *Pending, code string) {
	t.Helper()
	u, err := url.Parse(p.AuthURL)
	require.NoError(t, err)
	state := u.Query().Get("state")
	require.NotEmpty(t, state)

	_, err = http.Get(fmt.Sprintf("http://127.0.0.1:%d/callback?code=%s&state=%s", p.CallbackPort, code, state))
	require.NoError(t, err)
}

func awaitResult(t *testing.T, p *Pending) Result {
	t.Helper()
	select {
	case res := <-p.Done:
		return res
	case <-time.After(10 * time.Second):
		t.Fatal("sign-in attempt did not finish")
		return Result{}
	}
}

func TestAuthorizationCodeFlow_ResolvesAccount(t *testing.T) {
	newFakeServices(t)
	store := newTestStore(t)
	o := newTestOrchestrator(t, store)

	p, err := o.BeginAuthorizationCodeFlow(true)
	require.NoError(t, err)
	assert.Equal(t, StateAwaitingUserAction, o.State())
	assert.Contains(t, p.AuthURL, "code_challenge=")

	completeBrowserCallback(t, p, "abc123")

	res := awaitResult(t, p)
	require.NoError(t, res.Err)
	assert.Equal(t, StateResolved, o.State())

	acc := res.Account
	assert.Equal(t, "Steve", acc.Username)
	require.NotNil(t, acc.Profile)
	assert.Equal(t, "069a79f444e94726a5befca90e38aaf5", acc.Profile.UUID)
	assert.NotEmpty(t, acc.MSARefreshToken)
	assert.NotEmpty(t, acc.LocalID)
	assert.NotEqual(t, acc.Profile.UUID, acc.LocalID)

	current := store.Current()
	require.NotNil(t, current)
	assert.Equal(t, acc.LocalID, current.LocalID)
}

func TestAuthorizationCodeFlow_StateMismatchProducesNoAccount(t *testing.T) {
	newFakeServices(t)
	store := newTestStore(t)
	o := newTestOrchestrator(t, store)

	p, err := o.BeginAuthorizationCodeFlow(true)
	require.NoError(t, err)

	_, err = http.Get(fmt.Sprintf("http://127.0.0.1:%d/callback?code=abc123&state=forged", p.CallbackPort))
	require.NoError(t, err)

	res := awaitResult(t, p)
	require.ErrorIs(t, res.Err, ErrStateMismatch)
	assert.Nil(t, res.Account)
	assert.Empty(t, store.List())
	assert.Equal(t, StateFailed, o.State())
}

func TestAuthorizationCodeFlow_FailedChainLeavesStoreByteIdentical(t *testing.T) {
	f := newFakeServices(t)
	f.xstsHandler = func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"XErr": 2148916233})
	}

	dir := t.TempDir()
	store := account.NewStore(dir)
	require.NoError(t, store.Upsert(&account.Account{
		LocalID:  "existing",
		Type:     account.TypeMSA,
		Username: "Alex",
	}))
	before, err := os.ReadFile(filepath.Join(dir, "accounts.json"))
	require.NoError(t, err)

	o := newTestOrchestrator(t, store)
	p, err := o.BeginAuthorizationCodeFlow(true)
	require.NoError(t, err)
	completeBrowserCallback(t, p, "abc123")

	res := awaitResult(t, p)
	require.ErrorIs(t, res.Err, ErrXboxProfile)

	after, err := os.ReadFile(filepath.Join(dir, "accounts.json"))
	require.NoError(t, err)
	assert.Equal(t, before, after, "a failed attempt must not touch stored state")
}

func TestDeviceCodeFlow_ResolvesAccount(t *testing.T) {
	newFakeServices(t)
	store := newTestStore(t)
	o := newTestOrchestrator(t, store)

	p, err := o.BeginDeviceCodeFlow(true)
	require.NoError(t, err)
	assert.Equal(t, "ABCD-EFGH", p.UserCode)
	assert.Equal(t, "https://microsoft.com/devicelogin", p.VerificationURI)

	res := awaitResult(t, p)
	require.NoError(t, res.Err)
	assert.Equal(t, "Steve", res.Account.Username)
}

func TestBegin_RejectsConcurrentAttempt(t *testing.T) {
	newFakeServices(t)
	o := newTestOrchestrator(t, newTestStore(t))

	p, err := o.BeginAuthorizationCodeFlow(true)
	require.NoError(t, err)
	defer p.Cancel()

	_, err = o.BeginDeviceCodeFlow(true)
	require.Error(t, err)
}

func TestCancelCurrentAttempt_StopsFlowAndFreesPort(t *testing.T) {
	newFakeServices(t)
	o := newTestOrchestrator(t, newTestStore(t))

	p, err := o.BeginAuthorizationCodeFlow(true)
	require.NoError(t, err)

	o.CancelCurrentAttempt()

	res := awaitResult(t, p)
	require.Error(t, res.Err)
	assert.Equal(t, StateIdle, o.State())

	// A new attempt can bind immediately after cancellation
	p2, err := o.BeginAuthorizationCodeFlow(true)
	require.NoError(t, err)
	p2.Cancel()
}

func TestReloginUpdatesExistingAccountInPlace(t *testing.T) {
	newFakeServices(t)
	store := newTestStore(t)
	o := newTestOrchestrator(t, store)

	p, err := o.BeginDeviceCodeFlow(true)
	require.NoError(t, err)
	first := awaitResult(t, p)
	require.NoError(t, first.Err)

	p2, err := o.BeginDeviceCodeFlow(false)
	require.NoError(t, err)
	second := awaitResult(t, p2)
	require.NoError(t, second.Err)

	assert.Equal(t, first.Account.LocalID, second.Account.LocalID)
	assert.Len(t, store.List(), 1)
}

func TestCredentials_TransparentRefresh(t *testing.T) {
	f := newFakeServices(t)
	store := newTestStore(t)
	require.NoError(t, store.Upsert(&account.Account{
		LocalID:         "acc1",
		Type:            account.TypeMSA,
		Username:        "Steve",
		Profile:         &account.Profile{UUID: "069a79f444e94726a5befca90e38aaf5", Username: "Steve"},
		MSARefreshToken: "ms-refresh-token",
		AccessToken:     "stale-token",
		ExpiresAt:       time.Now().Add(time.Minute), // inside the margin
	}))

	o := newTestOrchestrator(t, store)
	acc, err := o.Credentials(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "mc-access-token", acc.AccessToken)
	assert.Equal(t, "acc1", acc.LocalID)
	assert.Contains(t, f.callOrder(), "token")
}

func TestCredentials_ValidTokenSkipsNetwork(t *testing.T) {
	f := newFakeServices(t)
	store := newTestStore(t)
	require.NoError(t, store.Upsert(&account.Account{
		LocalID:     "acc1",
		Type:        account.TypeMSA,
		Username:    "Steve",
		AccessToken: "fresh-token",
		ExpiresAt:   time.Now().Add(24 * time.Hour),
	}))

	o := newTestOrchestrator(t, store)
	acc, err := o.Credentials(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "fresh-token", acc.AccessToken)
	assert.Empty(t, f.callOrder())
}

func TestCredentials_NeedsReloginIsSurfaced(t *testing.T) {
	newFakeServices(t)
	store := newTestStore(t)
	require.NoError(t, store.Upsert(&account.Account{
		LocalID:      "acc1",
		Type:         account.TypeMSA,
		Username:     "Steve",
		NeedsRelogin: true,
	}))

	o := newTestOrchestrator(t, store)
	_, err := o.Credentials(context.Background())
	require.ErrorIs(t, err, ErrRefreshTokenRevoked)
}

func TestCredentials_OfflineAccountPassesThrough(t *testing.T) {
	newFakeServices(t)
	o := newTestOrchestrator(t, newTestStore(t))

	_, err := o.AddOfflineAccount("LanPartySteve", true)
	require.NoError(t, err)

	acc, err := o.Credentials(context.Background())
	require.NoError(t, err)
	assert.Equal(t, account.TypeOffline, acc.Type)
	assert.Empty(t, acc.AccessToken)
}

func TestRefresh_RemovedAccountIsNotResurrected(t *testing.T) {
	f := newFakeServices(t)
	entered := make(chan struct{})
	release := make(chan struct{})
	f.tokenHandler = func(w http.ResponseWriter, r *http.Request) {
		close(entered)
		<-release
		writeJSON(w, http.StatusOK, map[string]any{
			"access_token":  "ms-access-token",
			"refresh_token": "ms-refresh-token",
			"token_type":    "Bearer",
			"expires_in":    3600,
		})
	}

	store := newTestStore(t)
	require.NoError(t, store.Upsert(&account.Account{
		LocalID:         "acc1",
		Type:            account.TypeMSA,
		Username:        "Steve",
		Profile:         &account.Profile{UUID: "069a79f444e94726a5befca90e38aaf5", Username: "Steve"},
		MSARefreshToken: "ms-refresh-token",
		AccessToken:     "stale-token",
		ExpiresAt:       time.Now().Add(time.Minute),
	}))
	o := newTestOrchestrator(t, store)

	errCh := make(chan error, 1)
	go func() {
		_, err := o.Refresh(context.Background(), "acc1")
		errCh <- err
	}()

	// Remove the account while its refresh is stalled at the token hop
	<-entered
	require.NoError(t, store.Remove("acc1"))
	close(release)

	require.Error(t, <-errCh)
	assert.Empty(t, store.List(), "removed account must stay removed")
}

func TestRefresh_ValidAccountKeepsIdentity(t *testing.T) {
	newFakeServices(t)
	store := newTestStore(t)
	require.NoError(t, store.Upsert(&account.Account{
		LocalID:         "acc1",
		Type:            account.TypeMSA,
		Username:        "Steve",
		Profile:         &account.Profile{UUID: "069a79f444e94726a5befca90e38aaf5", Username: "Steve"},
		MSARefreshToken: "ms-refresh-token",
		AccessToken:     "old-token",
		ExpiresAt:       time.Now().Add(48 * time.Hour),
	}))

	o := newTestOrchestrator(t, store)
	refreshed, err := o.Refresh(context.Background(), "acc1")
	require.NoError(t, err)

	// Identity and profile survive; only token material may change
	assert.Equal(t, "acc1", refreshed.LocalID)
	assert.Equal(t, "069a79f444e94726a5befca90e38aaf5", refreshed.Profile.UUID)
	assert.Equal(t, "Steve", refreshed.Username)
	assert.Equal(t, "mc-access-token", refreshed.AccessToken)
}
