package session_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/habedi/tandem/auth"
	"github.com/habedi/tandem/client"
	"github.com/habedi/tandem/invalidation"
	"github.com/habedi/tandem/presence"
	"github.com/habedi/tandem/realtime"
	"github.com/habedi/tandem/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockChannel struct {
	mu          sync.Mutex
	tokens      []string
	disconnects int
	handlers    map[string][]realtime.Handler
}

func newMockChannel() *mockChannel {
	return &mockChannel{handlers: map[string][]realtime.Handler{}}
}

func (m *mockChannel) Connect(ctx context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens = append(m.tokens, token)
	return nil
}

func (m *mockChannel) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disconnects++
}

func (m *mockChannel) On(event string, fn realtime.Handler) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[event] = append(m.handlers[event], fn)
	idx := len(m.handlers[event]) - 1
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.handlers[event][idx] = nil
	}
}

func (m *mockChannel) fire(event, data string) {
	m.mu.Lock()
	hs := append([]realtime.Handler(nil), m.handlers[event]...)
	m.mu.Unlock()
	for _, h := range hs {
		if h != nil {
			h([]byte(data))
		}
	}
}

type mockAPI struct {
	loginResult *client.AuthResult
	loginErr    error
	profile     *auth.Profile
	snapshot    []presence.Update
	fetchErr    error
	fetchDelay  time.Duration
	fetches     atomic.Int32
	raw         map[string]string
	rawCalls    atomic.Int32
}

func (m *mockAPI) Login(ctx context.Context, email, password string) (*client.AuthResult, error) {
	return m.loginResult, m.loginErr
}

func (m *mockAPI) Register(ctx context.Context, name, email, password string) (*client.AuthResult, error) {
	return m.loginResult, m.loginErr
}

func (m *mockAPI) Profile(ctx context.Context) (*auth.Profile, error) {
	if m.profile == nil {
		return nil, errors.New("no profile")
	}
	return m.profile, nil
}

func (m *mockAPI) FetchAll(ctx context.Context) ([]presence.Update, error) {
	m.fetches.Add(1)
	time.Sleep(m.fetchDelay)
	return m.snapshot, m.fetchErr
}

func (m *mockAPI) GetRaw(ctx context.Context, path string) ([]byte, error) {
	m.rawCalls.Add(1)
	v, ok := m.raw[path]
	if !ok {
		return nil, errors.New("not found")
	}
	return []byte(v), nil
}

func newSession(t *testing.T, api *mockAPI) (*session.Session, *mockChannel) {
	t.Helper()
	cache, err := invalidation.NewLRUCache(32)
	require.NoError(t, err)
	ch := newMockChannel()
	s := session.New(auth.NewStore(nil), api, ch, cache)
	t.Cleanup(s.Close)
	return s, ch
}

func TestLogin_ConnectsRealtime(t *testing.T) {
	api := &mockAPI{loginResult: &client.AuthResult{
		AccessToken: "a1", RefreshToken: "r1", User: &auth.Profile{ID: "me"},
	}}
	s, ch := newSession(t, api)

	cred, err := s.Login(context.Background(), "me@example.com", "secret123")
	require.NoError(t, err)
	assert.Equal(t, "a1", cred.AccessToken)
	assert.Equal(t, "me", s.SelfID())
	assert.Equal(t, []string{"a1"}, ch.tokens)
}

func TestLogin_FetchesProfileWhenMissing(t *testing.T) {
	api := &mockAPI{
		loginResult: &client.AuthResult{AccessToken: "a1", RefreshToken: "r1"},
		profile:     &auth.Profile{ID: "me", Name: "Me"},
	}
	s, _ := newSession(t, api)

	cred, err := s.Login(context.Background(), "me@example.com", "secret123")
	require.NoError(t, err)
	require.NotNil(t, cred.User)
	assert.Equal(t, "Me", cred.User.Name)
}

func TestLogin_Error(t *testing.T) {
	api := &mockAPI{loginErr: errors.New("invalid credentials")}
	s, ch := newSession(t, api)

	_, err := s.Login(context.Background(), "me@example.com", "wrong")
	require.Error(t, err)
	assert.Empty(t, ch.tokens)
}

func TestRefresh_ReconnectsWithNewToken(t *testing.T) {
	api := &mockAPI{loginResult: &client.AuthResult{AccessToken: "a1", RefreshToken: "r1"}}
	s, ch := newSession(t, api)
	_, err := s.Login(context.Background(), "me@example.com", "secret123")
	require.NoError(t, err)

	_, err = s.Store.Swap(context.Background(), "a2", "")
	require.NoError(t, err)
	assert.Equal(t, "a2", ch.tokens[len(ch.tokens)-1])
}

func TestLogout_ClearsEverything(t *testing.T) {
	api := &mockAPI{loginResult: &client.AuthResult{AccessToken: "a1", RefreshToken: "r1", User: &auth.Profile{ID: "me"}}}
	s, ch := newSession(t, api)
	_, err := s.Login(context.Background(), "me@example.com", "secret123")
	require.NoError(t, err)

	s.Presence.SetOne(presence.Update{UserID: "u1", Status: presence.Ptr(presence.StatusOnline)})
	s.Cache.Put(invalidation.WorkspacesKey(), []byte(`[]`))

	require.NoError(t, s.Logout(context.Background()))
	assert.Equal(t, 0, s.Presence.Len())
	_, _, ok := s.Cache.Get(invalidation.WorkspacesKey())
	assert.False(t, ok)
	assert.Equal(t, 1, ch.disconnects)
	_, ok = s.Store.Current()
	assert.False(t, ok)
}

func TestSessionEnded_ClearsEverything(t *testing.T) {
	api := &mockAPI{loginResult: &client.AuthResult{AccessToken: "a1", RefreshToken: "r1"}}
	s, ch := newSession(t, api)
	_, err := s.Login(context.Background(), "me@example.com", "secret123")
	require.NoError(t, err)
	s.Presence.SetOne(presence.Update{UserID: "u1"})

	require.NoError(t, s.Store.EndSession(context.Background(), errors.New("refresh failed")))
	assert.Equal(t, 0, s.Presence.Len())
	assert.Equal(t, 1, ch.disconnects)
}

func TestConnect_EnsuresOnlineAndResyncs(t *testing.T) {
	api := &mockAPI{
		loginResult: &client.AuthResult{AccessToken: "a1", RefreshToken: "r1", User: &auth.Profile{ID: "me"}},
		snapshot: []presence.Update{
			{UserID: "u1", Status: presence.Ptr(presence.StatusAway)},
			{UserID: "u2", Status: presence.Ptr(presence.StatusBusy)},
		},
	}
	s, ch := newSession(t, api)
	_, err := s.Login(context.Background(), "me@example.com", "secret123")
	require.NoError(t, err)

	ch.fire(realtime.EventConnect, "")
	rec, ok := s.Presence.Get("me")
	require.True(t, ok)
	assert.Equal(t, presence.StatusOnline, rec.Status)

	s.Wait()
	assert.Equal(t, 3, s.Presence.Len())
	assert.Equal(t, int32(1), api.fetches.Load())
}

func TestResync_DeduplicatesOverlappingCalls(t *testing.T) {
	api := &mockAPI{
		loginResult: &client.AuthResult{AccessToken: "a1", RefreshToken: "r1"},
		fetchDelay:  50 * time.Millisecond,
		snapshot:    []presence.Update{{UserID: "u1"}},
	}
	s, _ := newSession(t, api)
	_, err := s.Login(context.Background(), "me@example.com", "secret123")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.Resync(context.Background()))
		}()
	}
	wg.Wait()
	assert.Less(t, api.fetches.Load(), int32(5))
	assert.Equal(t, 1, s.Presence.Len())
}

func TestResync_DiscardsSnapshotAfterLogout(t *testing.T) {
	api := &mockAPI{
		loginResult: &client.AuthResult{AccessToken: "a1", RefreshToken: "r1"},
		fetchDelay:  100 * time.Millisecond,
		snapshot: []presence.Update{
			{UserID: "u1", Status: presence.Ptr(presence.StatusOnline)},
			{UserID: "u2", Status: presence.Ptr(presence.StatusBusy)},
		},
	}
	s, _ := newSession(t, api)
	_, err := s.Login(context.Background(), "me@example.com", "secret123")
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() { errCh <- s.Resync(context.Background()) }()
	require.Eventually(t, func() bool { return api.fetches.Load() == 1 }, time.Second, time.Millisecond)

	require.NoError(t, s.Logout(context.Background()))
	require.NoError(t, <-errCh)
	assert.Equal(t, 0, s.Presence.Len())
}

func TestResync_Error(t *testing.T) {
	api := &mockAPI{fetchErr: client.ErrNoCredential}
	s, _ := newSession(t, api)
	err := s.Resync(context.Background())
	assert.ErrorIs(t, err, client.ErrNoCredential)
}

func TestPresenceEventsFeedStore(t *testing.T) {
	s, ch := newSession(t, &mockAPI{})

	ch.fire(session.EventPresenceSnapshot, `[{"userId":"u1","status":"away","lastSeenAt":"2024-01-01T00:00:00Z"}]`)
	ch.fire(session.EventPresenceUpdated, `{"userId":"u1","status":"online"}`)
	ch.fire(session.EventPresenceUpdated, `{"status":"online"}`)
	ch.fire(session.EventPresenceSnapshot, `42`)

	rec, ok := s.Presence.Get("u1")
	require.True(t, ok)
	assert.Equal(t, presence.StatusOnline, rec.Status)
	require.NotNil(t, rec.LastSeenAt)
	assert.Equal(t, 1, s.Presence.Len())
}

func TestDomainEventsInvalidateCache(t *testing.T) {
	api := &mockAPI{raw: map[string]string{
		"/workspaces/w1/channels": `[{"id":"c1"}]`,
		"/workspaces":             `[{"id":"w1"}]`,
	}}
	s, ch := newSession(t, api)

	_, err := s.Query(context.Background(), "/workspaces/w1/channels")
	require.NoError(t, err)
	_, err = s.Query(context.Background(), "/workspaces")
	require.NoError(t, err)
	_, err = s.Query(context.Background(), "/workspaces")
	require.NoError(t, err)
	assert.Equal(t, int32(2), api.rawCalls.Load(), "second read served from cache")

	ch.fire(invalidation.EventNewMessage, `{"channelId":"c1"}`)

	_, stale, _ := s.Cache.Get(invalidation.WorkspaceChannelsKey("w1"))
	assert.True(t, stale)
	_, err = s.Query(context.Background(), "/workspaces")
	require.NoError(t, err)
	assert.Equal(t, int32(3), api.rawCalls.Load(), "stale entry refetched")
}

func TestStart_ConnectsWhenCredentialPersisted(t *testing.T) {
	cache, err := invalidation.NewLRUCache(8)
	require.NoError(t, err)
	ch := newMockChannel()
	store := auth.NewStore(&staticStorer{cred: &auth.Credential{AccessToken: "persisted", RefreshToken: "r"}})
	s := session.New(store, &mockAPI{}, ch, cache)
	defer s.Close()

	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, []string{"persisted"}, ch.tokens)
}

type staticStorer struct{ cred *auth.Credential }

func (s *staticStorer) LoadCredential(context.Context) (*auth.Credential, error) { return s.cred, nil }
func (s *staticStorer) SaveCredential(context.Context, auth.Credential) error { return nil }
func (s *staticStorer) ClearCredential(context.Context) error { return nil }
