package auth

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

// EventType identifies a credential state transition.
type EventType int

const (
	EventLogin EventType = iota + 1
	EventRefreshed
	EventLogout
	EventSessionEnded
)

func (t EventType) String() string {
	switch t {
	case EventLogin:
		return "login"
	case EventRefreshed:
		return "refreshed"
	case EventLogout:
		return "logout"
	case EventSessionEnded:
		return "session_ended"
	default:
		return "unknown"
	}
}

// Event is delivered to Store subscribers after every credential change.
// Credential is the new credential (zero after logout or session end).
type Event struct {
	Type       EventType
	Credential Credential
	Cause      error
}

// Store holds the live credential. It has a single writer path (Login, Swap,
// Logout, EndSession) and any number of readers.
type Store struct {
	mu       sync.RWMutex
	cred     *Credential
	hydrated bool
	ready    chan struct{}
	loadOnce sync.Once

	storer     SessionStorer
	workspaces WorkspaceStorer

	subMu  sync.Mutex
	nextID int
	subs   map[int]func(Event)
	order  []int
}

// NewStore creates a Store. A nil storer keeps the credential in memory only
// and marks the store hydrated immediately.
func NewStore(storer SessionStorer) *Store {
	s := &Store{
		storer: storer,
		ready:  make(chan struct{}),
		subs:   make(map[int]func(Event)),
	}
	if ws, ok := storer.(WorkspaceStorer); ok {
		s.workspaces = ws
	}
	if storer == nil {
		s.markHydrated()
	}
	return s
}

// Load rehydrates the credential from durable storage. It runs once; later
// calls return immediately. The store is marked hydrated even when loading
// fails so that waiters are not blocked forever; the session is then treated
// as logged out.
func (s *Store) Load(ctx context.Context) error {
	var loadErr error
	s.loadOnce.Do(func() {
		defer s.markHydrated()
		if s.storer == nil {
			return
		}
		cred, err := s.storer.LoadCredential(ctx)
		if err != nil {
			loadErr = fmt.Errorf("failed to load persisted credential: %w", err)
			log.Error().Err(err).Msg("Failed to rehydrate credential")
			return
		}
		if cred == nil || cred.AccessToken == "" {
			log.Debug().Msg("No persisted credential found")
			return
		}
		if cred.ExpiresAt.IsZero() {
			cred.ExpiresAt = tokenExpiry(cred.AccessToken)
		}
		s.mu.Lock()
		s.cred = cred
		s.mu.Unlock()
		log.Info().Msg("Credential rehydrated from storage")
	})
	return loadErr
}

func (s *Store) markHydrated() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hydrated {
		s.hydrated = true
		close(s.ready)
	}
}

// Hydrated reports whether persisted state has been loaded. Before that,
// a missing credential does not mean the user is logged out.
func (s *Store) Hydrated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hydrated
}

// WaitHydrated blocks until Load has finished or ctx is done.
func (s *Store) WaitHydrated(ctx context.Context) error {
	select {
	case <-s.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Current returns a copy of the live credential.
func (s *Store) Current() (Credential, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cred == nil {
		return Credential{}, false
	}
	return *s.cred, true
}

// AccessToken returns the current access token or "" when logged out.
func (s *Store) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cred == nil {
		return ""
	}
	return s.cred.AccessToken
}

// Login installs a fresh credential, e.g. after a login or register call.
func (s *Store) Login(ctx context.Context, cred Credential) error {
	if cred.AccessToken == "" {
		return fmt.Errorf("login credential has no access token")
	}
	if cred.ExpiresAt.IsZero() {
		cred.ExpiresAt = tokenExpiry(cred.AccessToken)
	}
	s.mu.Lock()
	c := cred
	s.cred = &c
	s.mu.Unlock()
	s.markHydrated()

	err := s.persist(ctx, cred)
	s.notify(Event{Type: EventLogin, Credential: cred})
	return err
}

// Swap atomically replaces the tokens with a refresh result. An empty
// refreshToken keeps the current one, since not every endpoint rotates it.
// Swap fails when there is no session to refresh (it ended meanwhile).
func (s *Store) Swap(ctx context.Context, accessToken, refreshToken string) (Credential, error) {
	if accessToken == "" {
		return Credential{}, fmt.Errorf("refresh result has no access token")
	}
	s.mu.Lock()
	if s.cred == nil {
		s.mu.Unlock()
		return Credential{}, fmt.Errorf("no session to refresh")
	}
	next := *s.cred
	next.AccessToken = accessToken
	if refreshToken != "" {
		next.RefreshToken = refreshToken
	}
	next.ExpiresAt = tokenExpiry(accessToken)
	s.cred = &next
	s.mu.Unlock()

	if err := s.persist(ctx, next); err != nil {
		log.Warn().Err(err).Msg("Refreshed credential could not be persisted; continuing with in-memory copy")
	}
	s.notify(Event{Type: EventRefreshed, Credential: next})
	return next, nil
}

// Logout clears the credential at the user's request.
func (s *Store) Logout(ctx context.Context) error {
	return s.clear(ctx, Event{Type: EventLogout})
}

// EndSession clears the credential because it can no longer be refreshed.
func (s *Store) EndSession(ctx context.Context, cause error) error {
	log.Warn().Err(cause).Msg("Session ended")
	return s.clear(ctx, Event{Type: EventSessionEnded, Cause: cause})
}

func (s *Store) clear(ctx context.Context, ev Event) error {
	s.mu.Lock()
	had := s.cred != nil
	s.cred = nil
	s.mu.Unlock()

	var err error
	if s.storer != nil {
		if err = s.storer.ClearCredential(ctx); err != nil {
			log.Error().Err(err).Msg("Failed to clear persisted credential")
			err = fmt.Errorf("failed to clear persisted credential: %w", err)
		}
	}
	if had || ev.Type == EventLogout {
		s.notify(ev)
	}
	return err
}

func (s *Store) persist(ctx context.Context, cred Credential) error {
	if s.storer == nil {
		return nil
	}
	if err := s.storer.SaveCredential(ctx, cred); err != nil {
		log.Error().Err(err).Msg("Failed to persist credential")
		return fmt.Errorf("failed to persist credential: %w", err)
	}
	return nil
}

// Subscribe registers fn for credential events. Subscribers run synchronously
// in registration order on the goroutine that changed the credential.
func (s *Store) Subscribe(fn func(Event)) (unsubscribe func()) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.order = append(s.order, id)
	return func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		delete(s.subs, id)
		for i, v := range s.order {
			if v == id {
				s.order = append(s.order[:i], s.order[i+1:]...)
				break
			}
		}
	}
}

func (s *Store) notify(ev Event) {
	s.subMu.Lock()
	fns := make([]func(Event), 0, len(s.order))
	for _, id := range s.order {
		fns = append(fns, s.subs[id])
	}
	s.subMu.Unlock()

	log.Debug().Str("event", ev.Type.String()).Msg("Credential changed")
	for _, fn := range fns {
		fn(ev)
	}
}

// LastWorkspace returns the persisted last-selected workspace id.
func (s *Store) LastWorkspace(ctx context.Context) (string, bool, error) {
	if s.workspaces == nil {
		return "", false, nil
	}
	return s.workspaces.LastWorkspace(ctx)
}

// SetLastWorkspace persists the selected workspace id.
func (s *Store) SetLastWorkspace(ctx context.Context, id string) error {
	if s.workspaces == nil {
		return fmt.Errorf("workspace selection is not persisted by this store")
	}
	return s.workspaces.SetLastWorkspace(ctx, id)
}
