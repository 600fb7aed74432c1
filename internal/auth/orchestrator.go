package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quasar/mcauth/internal/account"
	"github.com/quasar/mcauth/internal/logging"
)

// Flow identifies which interactive sign-in flow an attempt uses
type Flow string

const (
	FlowAuthorizationCode Flow = "authorization_code"
	FlowDeviceCode        Flow = "device_code"
)

// State is the lifecycle of the current sign-in attempt
type State int

const (
	StateIdle State = iota
	StateAwaitingUserAction
	StateExchangingTokens
	StateResolved
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingUserAction:
		return "awaiting-user-action"
	case StateExchangingTokens:
		return "exchanging-tokens"
	case StateResolved:
		return "resolved"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result is the terminal outcome of one sign-in attempt
type Result struct {
	Account *account.Account
	Err     error
}

// Pending is a sign-in attempt waiting on the user. Exactly one field
// set depends on the flow: AuthURL for the browser flow, UserCode and
// VerificationURI for the device flow. Done receives the single
// terminal Result.
type Pending struct {
	Flow            Flow
	AuthURL         string
	CallbackPort    int
	UserCode        string
	VerificationURI string
	Done            <-chan Result

	cancel context.CancelFunc
}

// Cancel aborts the attempt: it releases the callback listener or
// stops the device poll before its next iteration
func (p *Pending) Cancel() {
	p.cancel()
}

// Options configures the orchestrator
type Options struct {
	OAuthPort     int
	RedirectURI   string
	RefreshMargin time.Duration
	// CallbackWait bounds how long the loopback listener waits for
	// the browser redirect
	CallbackWait time.Duration
}

// Orchestrator drives both sign-in flows end to end, owns the account
// store, and is the public contract of the auth subsystem. At most one
// interactive attempt is in flight at a time; background refreshes run
// independently of it.
type Orchestrator struct {
	client *Client
	store  *account.Store
	log    *logging.Logger
	opts   Options

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc
}

// NewOrchestrator wires the token client and account store together
func NewOrchestrator(client *Client, store *account.Store, opts Options, log *logging.Logger) *Orchestrator {
	if opts.RefreshMargin <= 0 {
		opts.RefreshMargin = 10 * time.Minute
	}
	if opts.CallbackWait <= 0 {
		opts.CallbackWait = 5 * time.Minute
	}
	return &Orchestrator{
		client: client,
		store:  store,
		log:    log,
		opts:   opts,
		state:  StateIdle,
	}
}

// State reports the lifecycle state of the in-flight attempt, or
// StateIdle when there is none
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
}

// beginAttempt registers a new attempt, rejecting a second concurrent one
func (o *Orchestrator) beginAttempt() (context.Context, context.CancelFunc, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state == StateAwaitingUserAction || o.state == StateExchangingTokens {
		return nil, nil, fmt.Errorf("a sign-in attempt is already in progress")
	}
	ctx, cancel := context.WithCancel(context.Background())
	o.state = StateAwaitingUserAction
	o.cancel = cancel
	return ctx, cancel, nil
}

func (o *Orchestrator) finishAttempt(s State) {
	o.mu.Lock()
	o.state = s
	o.cancel = nil
	o.mu.Unlock()
}

// BeginAuthorizationCodeFlow starts the browser sign-in: it generates
// the PKCE pair and state nonce, opens the one-shot loopback listener,
// and returns the authorization URL for the caller to open. The
// returned Pending resolves once the redirect arrives and the exchange
// chain completes.
func (o *Orchestrator) BeginAuthorizationCodeFlow(makeCurrent bool) (*Pending, error) {
	ctx, cancel, err := o.beginAttempt()
	if err != nil {
		return nil, err
	}

	pkce := NewPKCE()
	state := uuid.NewString()

	srv, err := StartCallbackServer(o.opts.OAuthPort, state)
	if err != nil {
		o.finishAttempt(StateIdle)
		cancel()
		return nil, err
	}

	authURL := o.client.AuthCodeURL(o.opts.RedirectURI, state, pkce)
	done := make(chan Result, 1)

	o.log.Info().Int("port", srv.Port()).Msg("authorization code flow started")

	go func() {
		code, err := srv.Await(ctx, o.opts.CallbackWait)
		if err != nil {
			o.fail(done, err)
			return
		}
		o.setState(StateExchangingTokens)

		msTok, err := o.client.ExchangeCode(ctx, o.opts.RedirectURI, code, pkce.Verifier)
		if err != nil {
			o.fail(done, err)
			return
		}
		o.resolve(ctx, done, msTok, makeCurrent)
	}()

	return &Pending{
		Flow:         FlowAuthorizationCode,
		AuthURL:      authURL,
		CallbackPort: srv.Port(),
		Done:         done,
		cancel: func() {
			srv.Close()
			cancel()
		},
	}, nil
}

// BeginDeviceCodeFlow starts the device sign-in: it requests the
// device/user code pair and polls the token endpoint in the background
// until the user completes sign-in elsewhere.
func (o *Orchestrator) BeginDeviceCodeFlow(makeCurrent bool) (*Pending, error) {
	ctx, cancel, err := o.beginAttempt()
	if err != nil {
		return nil, err
	}

	reqCtx, reqCancel := context.WithTimeout(ctx, 30*time.Second)
	dc, err := o.client.RequestDeviceCode(reqCtx)
	reqCancel()
	if err != nil {
		o.finishAttempt(StateIdle)
		cancel()
		return nil, err
	}

	done := make(chan Result, 1)
	o.log.Info().Str("verification_uri", dc.VerificationURI).Msg("device code flow started")

	go func() {
		msTok, err := o.client.PollDeviceToken(ctx, dc)
		if err != nil {
			o.fail(done, err)
			return
		}
		o.setState(StateExchangingTokens)
		o.resolve(ctx, done, msTok, makeCurrent)
	}()

	return &Pending{
		Flow:            FlowDeviceCode,
		UserCode:        dc.UserCode,
		VerificationURI: dc.VerificationURI,
		Done:            done,
		cancel:          cancel,
	}, nil
}

// resolve walks the remaining chain and commits the account. The store
// is only touched after the whole chain has succeeded, so a failed
// attempt leaves stored state byte-identical.
func (o *Orchestrator) resolve(ctx context.Context, done chan Result, msTok *MicrosoftToken, makeCurrent bool) {
	session, err := o.client.ResolveMinecraft(ctx, msTok.AccessToken)
	if err != nil {
		o.fail(done, err)
		return
	}

	acc, err := o.commit(session, msTok, makeCurrent)
	if err != nil {
		o.fail(done, err)
		return
	}

	o.finishAttempt(StateResolved)
	o.log.Info().Str("username", acc.Username).Msg("sign-in resolved")
	done <- Result{Account: acc}
}

func (o *Orchestrator) fail(done chan Result, err error) {
	if errors.Is(err, context.Canceled) {
		o.finishAttempt(StateIdle)
		done <- Result{Err: err}
		return
	}
	o.finishAttempt(StateFailed)
	o.log.Warn().Err(err).Msg("sign-in attempt failed")
	done <- Result{Err: err}
}

// commit writes the resolved account. A re-login that resolves to a
// profile already in the store updates that account in place instead
// of duplicating it.
func (o *Orchestrator) commit(session *MinecraftSession, msTok *MicrosoftToken, makeCurrent bool) (*account.Account, error) {
	localID := uuid.NewString()
	if existing, ok := o.store.FindByProfileUUID(session.Profile.UUID); ok {
		localID = existing.LocalID
	}

	profile := session.Profile
	acc := &account.Account{
		LocalID:         localID,
		Type:            account.TypeMSA,
		Username:        profile.Username,
		Profile:         &profile,
		MSARefreshToken: msTok.RefreshToken,
		AccessToken:     session.AccessToken,
		ExpiresAt:       session.ExpiresAt,
	}
	if err := o.store.Upsert(acc); err != nil {
		return nil, err
	}
	if makeCurrent {
		if err := o.store.SetCurrent(localID); err != nil {
			return nil, err
		}
	}
	return acc, nil
}

// CancelCurrentAttempt aborts the in-flight sign-in, if any
func (o *Orchestrator) CancelCurrentAttempt() {
	o.mu.Lock()
	cancel := o.cancel
	o.cancel = nil
	if cancel != nil {
		o.state = StateIdle
	}
	o.mu.Unlock()

	if cancel != nil {
		cancel()
		o.log.Info().Msg("sign-in attempt cancelled")
	}
}

// Refresh silently renews one account's Minecraft token using its
// stored Microsoft refresh token and re-running the exchange chain.
// A rejected refresh token flags the account "needs re-login" and
// leaves it in the store.
func (o *Orchestrator) Refresh(ctx context.Context, localID string) (*account.Account, error) {
	acc, ok := o.store.Get(localID)
	if !ok {
		return nil, fmt.Errorf("account not found: %s", localID)
	}
	if acc.Type == account.TypeOffline {
		return acc, nil
	}
	if acc.MSARefreshToken == "" {
		_ = o.store.MarkNeedsRelogin(localID)
		return nil, refreshTokenRevoked(errors.New("no refresh token stored"))
	}

	msTok, err := o.client.RefreshMicrosoftToken(ctx, acc.MSARefreshToken)
	if err != nil {
		if errors.Is(err, ErrRefreshTokenRevoked) {
			if markErr := o.store.MarkNeedsRelogin(localID); markErr != nil {
				o.log.Error().Err(markErr).Str("account", localID).Msg("failed to flag account for re-login")
			}
		}
		return nil, err
	}

	session, err := o.client.ResolveMinecraft(ctx, msTok.AccessToken)
	if err != nil {
		return nil, err
	}

	// Profile is re-fetched on every refresh; local_id never changes.
	// The commit is conditional: it fails if the account was removed
	// while the chain was in flight.
	profile := session.Profile
	if err := o.store.UpdateTokens(localID, session.AccessToken, msTok.RefreshToken, session.ExpiresAt, &profile); err != nil {
		return nil, err
	}
	acc, ok = o.store.Get(localID)
	if !ok {
		return nil, fmt.Errorf("account not found: %s", localID)
	}

	o.log.Info().Str("username", acc.Username).Time("expires_at", acc.ExpiresAt).Msg("account refreshed")
	return acc, nil
}

// Credentials returns a currently valid Minecraft token and profile
// for the current account, refreshing transparently if the cached
// token is stale. This is the entry point for launching the game.
func (o *Orchestrator) Credentials(ctx context.Context) (*account.Account, error) {
	acc := o.store.Current()
	if acc == nil {
		return nil, fmt.Errorf("no account selected")
	}
	if acc.Type == account.TypeOffline {
		return acc, nil
	}
	if acc.NeedsRelogin {
		return nil, refreshTokenRevoked(errors.New("account needs re-login"))
	}
	if acc.IsExpired(o.opts.RefreshMargin) {
		return o.Refresh(ctx, acc.LocalID)
	}
	return acc, nil
}

// AddOfflineAccount stores a placeholder account that has no profile
// and never expires
func (o *Orchestrator) AddOfflineAccount(username string, makeCurrent bool) (*account.Account, error) {
	acc := &account.Account{
		LocalID:  uuid.NewString(),
		Type:     account.TypeOffline,
		Username: username,
	}
	if err := o.store.Upsert(acc); err != nil {
		return nil, err
	}
	if makeCurrent {
		if err := o.store.SetCurrent(acc.LocalID); err != nil {
			return nil, err
		}
	}
	return acc, nil
}

// RemoveAccount deletes an account and scrubs its local secrets.
// Nothing is revoked remotely; Microsoft tokens are not remotely
// revocable by this application.
func (o *Orchestrator) RemoveAccount(localID string) error {
	return o.store.Remove(localID)
}

// SwitchCurrent changes the current-account pointer
func (o *Orchestrator) SwitchCurrent(localID string) error {
	return o.store.SetCurrent(localID)
}

// ListAccounts returns all stored accounts in insertion order
func (o *Orchestrator) ListAccounts() []*account.Account {
	return o.store.List()
}

// CurrentAccount returns the current account, or nil
func (o *Orchestrator) CurrentAccount() *account.Account {
	return o.store.Current()
}

// Watch exposes the store's change stream for UI subscriptions
func (o *Orchestrator) Watch() <-chan struct{} {
	return o.store.Watch()
}
