package account

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Store persists accounts and the current-account pointer. It is the
// single shared mutable resource of the auth subsystem; every
// read-modify-write sequence holds the mutex, and every mutation is
// written through to disk before the lock is released.
type Store struct {
	mu       sync.Mutex
	accounts []*Account
	current  string
	filePath string
	watchers []chan struct{}
}

type storeFile struct {
	Accounts  []*Account `json:"accounts"`
	CurrentID string     `json:"currentId"`
}

// NewStore creates a store backed by accounts.json in dataDir
func NewStore(dataDir string) *Store {
	return &Store{
		filePath: filepath.Join(dataDir, "accounts.json"),
	}
}

// Load reads accounts from disk. Entries missing a local id or a
// username are discarded, and a dangling current pointer is repaired.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.filePath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	var f storeFile
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}

	s.accounts = s.accounts[:0]
	for _, a := range f.Accounts {
		if a == nil || a.LocalID == "" || a.Username == "" {
			continue
		}
		s.accounts = append(s.accounts, a)
	}
	s.current = f.CurrentID
	s.repairCurrentLocked()
	return nil
}

// save must be called with the lock held. The write is atomic
// (temp file + rename) and the file is readable only by the owner,
// since it contains refresh tokens.
func (s *Store) saveLocked() error {
	f := storeFile{Accounts: s.accounts, CurrentID: s.current}
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.filePath), 0o755); err != nil {
		return err
	}
	tmp := s.filePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.filePath)
}

func (s *Store) repairCurrentLocked() {
	if s.current == "" {
		if len(s.accounts) > 0 {
			s.current = s.accounts[0].LocalID
		}
		return
	}
	for _, a := range s.accounts {
		if a.LocalID == s.current {
			return
		}
	}
	s.current = ""
	if len(s.accounts) > 0 {
		s.current = s.accounts[0].LocalID
	}
}

// Upsert adds a new account or replaces the entry with the same local
// id, preserving list order. The first account added becomes current.
func (s *Store) Upsert(acc *Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := acc.Clone()
	replaced := false
	for i, a := range s.accounts {
		if a.LocalID == stored.LocalID {
			s.accounts[i] = stored
			replaced = true
			break
		}
	}
	if !replaced {
		s.accounts = append(s.accounts, stored)
	}
	if s.current == "" {
		s.current = stored.LocalID
	}
	if err := s.saveLocked(); err != nil {
		return err
	}
	s.notifyLocked()
	return nil
}

// Remove deletes an account and scrubs its secret material. If it was
// current, the pointer falls back to another entry or to none.
func (s *Store) Remove(localID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := -1
	for i, a := range s.accounts {
		if a.LocalID == localID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("account not found: %s", localID)
	}
	s.accounts[idx].scrub()
	s.accounts = append(s.accounts[:idx], s.accounts[idx+1:]...)
	if s.current == localID {
		s.current = ""
		if len(s.accounts) > 0 {
			s.current = s.accounts[0].LocalID
		}
	}
	if err := s.saveLocked(); err != nil {
		return err
	}
	s.notifyLocked()
	return nil
}

// SetCurrent switches the current-account pointer
func (s *Store) SetCurrent(localID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range s.accounts {
		if a.LocalID == localID {
			s.current = localID
			if err := s.saveLocked(); err != nil {
				return err
			}
			s.notifyLocked()
			return nil
		}
	}
	return fmt.Errorf("account not found: %s", localID)
}

// Current returns a copy of the current account, or nil if none is set
func (s *Store) Current() *Account {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range s.accounts {
		if a.LocalID == s.current {
			return a.Clone()
		}
	}
	return nil
}

// Get returns a copy of the account with the given local id
func (s *Store) Get(localID string) (*Account, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range s.accounts {
		if a.LocalID == localID {
			return a.Clone(), true
		}
	}
	return nil, false
}

// List returns copies of all accounts in insertion order
func (s *Store) List() []*Account {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		out = append(out, a.Clone())
	}
	return out
}

// FindByProfileUUID returns the account already holding a given
// Minecraft profile, so a re-login updates it instead of duplicating
func (s *Store) FindByProfileUUID(uuid string) (*Account, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range s.accounts {
		if a.Profile != nil && a.Profile.UUID == uuid {
			return a.Clone(), true
		}
	}
	return nil, false
}

// UpdateTokens replaces the token material of one account in place,
// along with the re-fetched profile when one is given. An empty
// refreshToken keeps the stored one. It fails when the account is no
// longer in the store, so a refresh finishing after a removal cannot
// re-insert the record.
func (s *Store) UpdateTokens(localID, accessToken, refreshToken string, expiresAt time.Time, profile *Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range s.accounts {
		if a.LocalID == localID {
			a.AccessToken = accessToken
			a.ExpiresAt = expiresAt
			if refreshToken != "" {
				a.MSARefreshToken = refreshToken
			}
			if profile != nil {
				p := *profile
				a.Profile = &p
				a.Username = p.Username
			}
			a.NeedsRelogin = false
			if err := s.saveLocked(); err != nil {
				return err
			}
			s.notifyLocked()
			return nil
		}
	}
	return fmt.Errorf("account not found: %s", localID)
}

// MarkNeedsRelogin flags an account whose refresh token was rejected.
// The account stays in the store; only an interactive flow clears it.
func (s *Store) MarkNeedsRelogin(localID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range s.accounts {
		if a.LocalID == localID {
			a.NeedsRelogin = true
			if err := s.saveLocked(); err != nil {
				return err
			}
			s.notifyLocked()
			return nil
		}
	}
	return fmt.Errorf("account not found: %s", localID)
}

// Watch returns a channel that receives a signal after every mutation.
// Signals are coalesced; receivers re-read List/Current for state.
func (s *Store) Watch() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan struct{}, 1)
	s.watchers = append(s.watchers, ch)
	return ch
}

func (s *Store) notifyLocked() {
	for _, ch := range s.watchers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
