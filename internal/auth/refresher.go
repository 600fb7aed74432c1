package auth

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/quasar/mcauth/internal/account"
	"github.com/quasar/mcauth/internal/logging"
)

// Refresher proactively renews tokens nearing expiry for all stored
// accounts. Accounts refresh concurrently and independently; one
// failure never blocks another. Store writes stay serialized by the
// store itself.
type Refresher struct {
	orch   *Orchestrator
	store  *account.Store
	log    *logging.Logger
	margin time.Duration
	tick   time.Duration

	mu       sync.Mutex
	inflight map[string]bool
	stop     context.CancelFunc
}

// NewRefresher creates a scheduler that refreshes accounts whose
// token expires within margin
func NewRefresher(orch *Orchestrator, store *account.Store, margin time.Duration, log *logging.Logger) *Refresher {
	if margin <= 0 {
		margin = 10 * time.Minute
	}
	return &Refresher{
		orch:     orch,
		store:    store,
		log:      log,
		margin:   margin,
		tick:     time.Minute,
		inflight: make(map[string]bool),
	}
}

// Start launches the background loop. Call Stop to end it.
func (r *Refresher) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.stop = cancel
	r.mu.Unlock()

	go func() {
		ticker := time.NewTicker(r.tick)
		defer ticker.Stop()

		// First pass right away so stale tokens from the previous run
		// are renewed without waiting a full tick
		r.RunOnce(ctx)

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.RunOnce(ctx)
			}
		}
	}()
}

// Stop ends the background loop
func (r *Refresher) Stop() {
	r.mu.Lock()
	stop := r.stop
	r.stop = nil
	r.mu.Unlock()
	if stop != nil {
		stop()
	}
}

// RunOnce scans the store and refreshes every account inside the
// expiry margin, concurrently, returning when all attempts finish
func (r *Refresher) RunOnce(ctx context.Context) {
	var wg sync.WaitGroup
	for _, acc := range r.store.List() {
		if !r.needsRefresh(acc) {
			continue
		}
		if !r.claim(acc.LocalID) {
			continue // already being refreshed
		}
		wg.Add(1)
		go func(id, username string) {
			defer wg.Done()
			defer r.release(id)
			r.refreshOne(ctx, id, username)
		}(acc.LocalID, acc.Username)
	}
	wg.Wait()
}

func (r *Refresher) needsRefresh(acc *account.Account) bool {
	if acc.Type != account.TypeMSA || acc.NeedsRelogin {
		return false
	}
	return acc.IsExpired(r.margin)
}

func (r *Refresher) refreshOne(ctx context.Context, localID, username string) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	_, err := r.orch.Refresh(ctx, localID)
	switch {
	case err == nil:
	case errors.Is(err, ErrRefreshTokenRevoked):
		// Flagged needs-relogin by the orchestrator; not a hard
		// failure until the user tries to use the account
		r.log.Warn().Str("username", username).Msg("refresh token rejected, account needs re-login")
	default:
		r.log.Warn().Err(err).Str("username", username).Msg("background refresh failed, will retry next tick")
	}
}

func (r *Refresher) claim(localID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.inflight[localID] {
		return false
	}
	r.inflight[localID] = true
	return true
}

func (r *Refresher) release(localID string) {
	r.mu.Lock()
	delete(r.inflight, localID)
	r.mu.Unlock()
}
