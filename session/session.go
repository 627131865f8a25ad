package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/habedi/tandem/auth"
	"github.com/habedi/tandem/client"
	"github.com/habedi/tandem/invalidation"
	"github.com/habedi/tandem/presence"
	"github.com/habedi/tandem/realtime"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// Realtime presence events.
const (
	EventPresenceUpdated  = "presence_updated"
	EventPresenceSnapshot = "presence_snapshot"
)

const resyncTimeout = 30 * time.Second

// Channel is the part of realtime.Channel a Session drives.
type Channel interface {
	Connect(ctx context.Context, token string) error
	Disconnect()
	On(event string, fn realtime.Handler) (unsubscribe func())
}

// API is the part of client.Client a Session calls.
type API interface {
	Login(ctx context.Context, email, password string) (*client.AuthResult, error)
	Register(ctx context.Context, name, email, password string) (*client.AuthResult, error)
	Profile(ctx context.Context) (*auth.Profile, error)
	FetchAll(ctx context.Context) ([]presence.Update, error)
	GetRaw(ctx context.Context, path string) ([]byte, error)
}

// QueryCache is the query cache kept in sync with realtime events.
type QueryCache interface {
	invalidation.Cache
	Get(key invalidation.Key) (value []byte, stale bool, ok bool)
	Put(key invalidation.Key, value []byte)
	Purge()
}

// Session ties the credential store, the HTTP client, the realtime channel,
// the presence store, and the query cache together.
type Session struct {
	Store      *auth.Store
	Presence   *presence.Store
	Cache      QueryCache
	Dispatcher *invalidation.Dispatcher

	api     API
	channel Channel
	resync  singleflight.Group

	mu     sync.Mutex
	unsubs []func()
	wg     sync.WaitGroup

	// pmu orders resync merges against the clear on logout
	pmu sync.Mutex
}

// New wires a Session. Call Close to detach its event handlers.
func New(store *auth.Store, api API, channel Channel, cache QueryCache) *Session {
	s := &Session{
		Store:      store,
		Presence:   presence.NewStore(),
		Cache:      cache,
		Dispatcher: invalidation.NewDispatcher(cache),
		api:        api,
		channel:    channel,
	}

	s.unsubs = append(s.unsubs,
		store.Subscribe(s.onCredential),
		channel.On(realtime.EventConnect, func([]byte) { s.onConnect() }),
		channel.On(EventPresenceUpdated, s.onPresenceUpdated),
		channel.On(EventPresenceSnapshot, s.onPresenceSnapshot),
	)
	for _, ev := range []string{
		invalidation.EventMemberAdded,
		invalidation.EventMemberRemoved,
		invalidation.EventNewMessage,
		invalidation.EventCallUpdated,
	} {
		s.unsubs = append(s.unsubs, channel.On(ev, func(data []byte) {
			s.Dispatcher.OnEvent(ev, data)
		}))
	}
	return s
}

// Start rehydrates the persisted credential and, when one exists, opens the
// realtime channel.
func (s *Session) Start(ctx context.Context) error {
	if err := s.Store.Load(ctx); err != nil {
		return err
	}
	if cred, ok := s.Store.Current(); ok {
		return s.channel.Connect(ctx, cred.AccessToken)
	}
	return nil
}

// Login authenticates with email and password and installs the credential.
func (s *Session) Login(ctx context.Context, email, password string) (*auth.Credential, error) {
	res, err := s.api.Login(ctx, email, password)
	if err != nil {
		return nil, err
	}
	return s.install(ctx, res)
}

// Register creates an account and logs into it.
func (s *Session) Register(ctx context.Context, name, email, password string) (*auth.Credential, error) {
	res, err := s.api.Register(ctx, name, email, password)
	if err != nil {
		return nil, err
	}
	return s.install(ctx, res)
}

func (s *Session) install(ctx context.Context, res *client.AuthResult) (*auth.Credential, error) {
	cred := res.Credential()
	if err := s.Store.Login(ctx, cred); err != nil {
		return nil, err
	}
	if cred.User == nil {
		if p, err := s.api.Profile(ctx); err != nil {
			log.Warn().Err(err).Msg("Could not fetch profile after login")
		} else {
			cred.User = p
			if err := s.Store.Login(ctx, cred); err != nil {
				return nil, err
			}
		}
	}
	current, _ := s.Store.Current()
	return &current, nil
}

// Logout ends the session. Requests issued afterwards fail with
// client.ErrNoCredential.
func (s *Session) Logout(ctx context.Context) error {
	return s.Store.Logout(ctx)
}

// SelfID returns the id of the logged-in user, if known.
func (s *Session) SelfID() string {
	cred, ok := s.Store.Current()
	if !ok || cred.User == nil {
		return ""
	}
	return cred.User.ID
}

// Query returns the result for path from the cache, fetching it when it is
// missing or was invalidated by a realtime event.
func (s *Session) Query(ctx context.Context, path string) ([]byte, error) {
	key := invalidation.KeyForPath(path)
	if v, stale, ok := s.Cache.Get(key); ok && !stale {
		log.Debug().Str("key", key.String()).Msg("Query served from cache")
		return v, nil
	}
	body, err := s.api.GetRaw(ctx, path)
	if err != nil {
		return nil, err
	}
	s.Cache.Put(key, body)
	return body, nil
}

// Resync fetches the full presence snapshot and merges it. Overlapping
// calls share one fetch. A snapshot that arrives after the session ended is
// discarded.
func (s *Session) Resync(ctx context.Context) error {
	_, err, shared := s.resync.Do("presence", func() (any, error) {
		updates, err := s.api.FetchAll(ctx)
		if err != nil {
			return nil, err
		}
		s.pmu.Lock()
		defer s.pmu.Unlock()
		if _, ok := s.Store.Current(); !ok {
			log.Debug().Msg("Discarding presence snapshot fetched before logout")
			return nil, nil
		}
		s.Presence.SetMany(updates)
		log.Debug().Int("users", len(updates)).Msg("Presence resynced")
		return nil, nil
	})
	if shared {
		log.Debug().Msg("Joined in-flight presence resync")
	}
	if err != nil {
		return fmt.Errorf("presence resync failed: %w", err)
	}
	return nil
}

// Wait blocks until background resyncs started by reconnects have finished.
func (s *Session) Wait() {
	s.wg.Wait()
}

// Close detaches the session from the store and the channel and disconnects.
func (s *Session) Close() {
	s.mu.Lock()
	unsubs := s.unsubs
	s.unsubs = nil
	s.mu.Unlock()
	for _, u := range unsubs {
		u()
	}
	s.channel.Disconnect()
	s.wg.Wait()
}

func (s *Session) onCredential(ev auth.Event) {
	switch ev.Type {
	case auth.EventLogin, auth.EventRefreshed:
		if err := s.channel.Connect(context.Background(), ev.Credential.AccessToken); err != nil {
			log.Error().Err(err).Msg("Failed to connect realtime channel")
		}
	case auth.EventLogout, auth.EventSessionEnded:
		s.channel.Disconnect()
		s.pmu.Lock()
		s.Presence.Clear()
		s.pmu.Unlock()
		s.Cache.Purge()
		log.Info().Str("reason", ev.Type.String()).Msg("Session state cleared")
	}
}

func (s *Session) onConnect() {
	if self := s.SelfID(); self != "" {
		s.Presence.EnsureOnline(self)
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), resyncTimeout)
		defer cancel()
		if err := s.Resync(ctx); err != nil {
			log.Warn().Err(err).Msg("Presence resync after connect failed")
		}
	}()
}

func (s *Session) onPresenceUpdated(data []byte) {
	u, err := presence.DecodeUpdate(data)
	if err != nil {
		log.Warn().Err(err).Msg("Dropping presence update")
		return
	}
	s.Presence.SetOne(u)
}

func (s *Session) onPresenceSnapshot(data []byte) {
	us, err := presence.DecodeSnapshot(data)
	if err != nil {
		log.Warn().Err(err).Msg("Dropping presence snapshot")
		return
	}
	s.Presence.SetMany(us)
}
