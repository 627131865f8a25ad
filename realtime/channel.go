package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog/log"
)

// Lifecycle events delivered to local handlers.
const (
	EventConnect      = "connect"
	EventDisconnect   = "disconnect"
	EventConnectError = "connect_error"
)

const (
	defaultMinBackoff = 1 * time.Second
	defaultMaxBackoff = 30 * time.Second
	backoffMultiplier = 2
	// jitter is uniform in [0, backoff/jitterDivisor)
	jitterDivisor = 2

	dialTimeout  = 10 * time.Second
	writeTimeout = 5 * time.Second
	readLimit    = 1 << 20
)

var (
	// ErrNoToken is returned by Connect when no token is given.
	ErrNoToken = errors.New("realtime: no access token")

	errTokenRotated = errors.New("access token rotated during dial")
)

// Handler receives the raw JSON data of an event.
type Handler func(data []byte)

// envelope is one frame in either direction.
type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type topicPayload struct {
	Topic string `json:"topic"`
}

type handlerEntry struct {
	id int
	fn Handler
}

// Channel is the realtime push connection. It keeps at most one live
// websocket, reconnects with backoff when it drops, and re-joins every
// subscribed topic on each new connection.
type Channel struct {
	url        string
	httpClient *http.Client
	minBackoff time.Duration
	maxBackoff time.Duration

	mu     sync.Mutex
	token  string
	topics map[string]struct{}
	conn   *websocket.Conn
	cancel context.CancelFunc
	done   chan struct{}

	hmu      sync.RWMutex
	handlers map[string][]handlerEntry
	nextID   int
}

// Option configures a Channel.
type Option func(*Channel)

// WithBackoff overrides the reconnect backoff bounds.
func WithBackoff(min, max time.Duration) Option {
	return func(c *Channel) {
		c.minBackoff = min
		c.maxBackoff = max
	}
}

// WithHTTPClient sets the client used for the websocket handshake.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Channel) { c.httpClient = hc }
}

// New creates a Channel for the websocket endpoint at rawURL.
func New(rawURL string, opts ...Option) *Channel {
	c := &Channel{
		url:        rawURL,
		minBackoff: defaultMinBackoff,
		maxBackoff: defaultMaxBackoff,
		topics:     make(map[string]struct{}),
		handlers:   make(map[string][]handlerEntry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// On registers fn for event and returns a function removing it. Handlers
// for one event run in registration order on the channel's reader goroutine.
func (c *Channel) On(event string, fn Handler) (unsubscribe func()) {
	c.hmu.Lock()
	defer c.hmu.Unlock()
	id := c.nextID
	c.nextID++
	c.handlers[event] = append(c.handlers[event], handlerEntry{id: id, fn: fn})
	return func() {
		c.hmu.Lock()
		defer c.hmu.Unlock()
		hs := c.handlers[event]
		for i, h := range hs {
			if h.id == id {
				c.handlers[event] = append(hs[:i:i], hs[i+1:]...)
				return
			}
		}
	}
}

func (c *Channel) emit(event string, data []byte) {
	c.hmu.RLock()
	hs := append([]handlerEntry(nil), c.handlers[event]...)
	c.hmu.RUnlock()
	for _, h := range hs {
		c.invoke(event, h.fn, data)
	}
}

func (c *Channel) invoke(event string, fn Handler, data []byte) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("event", event).Interface("panic", r).Msg("Realtime handler panicked")
		}
	}()
	fn(data)
}

// Connect opens the connection with token, or re-dials if the channel is
// already running with a different token. It does not wait for the dial.
func (c *Channel) Connect(ctx context.Context, token string) error {
	if token == "" {
		return ErrNoToken
	}
	c.mu.Lock()
	if c.cancel != nil {
		if token == c.token {
			c.mu.Unlock()
			return nil
		}
		log.Debug().Msg("Access token rotated, re-dialing realtime channel")
		c.token = token
		conn := c.conn
		c.mu.Unlock()
		if conn != nil {
			_ = conn.Close(websocket.StatusNormalClosure, "token rotated")
		}
		return nil
	}
	defer c.mu.Unlock()

	c.token = token
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	c.cancel = cancel
	c.done = done
	go func() {
		defer close(done)
		c.run(loopCtx)
	}()
	return nil
}

// Run connects with token and blocks until ctx is done or Disconnect is
// called.
func (c *Channel) Run(ctx context.Context, token string) error {
	if err := c.Connect(ctx, token); err != nil {
		return err
	}
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	select {
	case <-ctx.Done():
		c.Disconnect()
		return ctx.Err()
	case <-done:
		return nil
	}
}

// Disconnect closes the connection and stops reconnecting. It returns once
// the connection loop has exited, so it must not be called from a Handler.
// The topic set is kept; handlers stay registered.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	cancel, conn, done := c.cancel, c.conn, c.done
	c.cancel = nil
	c.token = ""
	c.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "logout")
	}
	<-done
	log.Info().Msg("Realtime channel disconnected")
}

// Topics returns the subscribed topics.
func (c *Channel) Topics() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.topics))
	for t := range c.topics {
		out = append(out, t)
	}
	return out
}

// Join subscribes to topic. While disconnected only the subscription set is
// updated and the join is sent on the next connect.
func (c *Channel) Join(ctx context.Context, topic string) error {
	c.mu.Lock()
	c.topics[topic] = struct{}{}
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	return c.send(ctx, conn, "join", topicPayload{Topic: topic})
}

// Leave unsubscribes from topic.
func (c *Channel) Leave(ctx context.Context, topic string) error {
	c.mu.Lock()
	delete(c.topics, topic)
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	return c.send(ctx, conn, "leave", topicPayload{Topic: topic})
}

func (c *Channel) send(ctx context.Context, conn *websocket.Conn, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	frame, err := json.Marshal(envelope{Event: event, Data: data})
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := conn.Write(wctx, websocket.MessageText, frame); err != nil {
		return fmt.Errorf("writing %s frame: %w", event, err)
	}
	return nil
}

// run is the connection loop. It owns every dial and every read.
func (c *Channel) run(ctx context.Context) {
	backoff := c.minBackoff
	for ctx.Err() == nil {
		token := c.currentToken()
		conn, err := c.dial(ctx, token)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn().Err(err).Dur("backoff", backoff).Msg("Realtime connect failed")
			c.emit(EventConnectError, errorPayload(err))
			if !c.sleep(ctx, backoff) {
				return
			}
			backoff = min(backoff*backoffMultiplier, c.maxBackoff)
			continue
		}

		if err := c.attach(ctx, conn, token); err != nil {
			if errors.Is(err, errTokenRotated) {
				_ = conn.Close(websocket.StatusNormalClosure, "token rotated")
				continue
			}
			_ = conn.Close(websocket.StatusInternalError, "join failed")
			c.detach(conn)
			if ctx.Err() != nil {
				return
			}
			log.Warn().Err(err).Dur("backoff", backoff).Msg("Failed to re-join topics")
			if !c.sleep(ctx, backoff) {
				return
			}
			backoff = min(backoff*backoffMultiplier, c.maxBackoff)
			continue
		}
		backoff = c.minBackoff
		log.Info().Msg("Realtime channel connected")
		c.emit(EventConnect, nil)

		err = c.readLoop(ctx, conn)
		c.detach(conn)
		c.emit(EventDisconnect, errorPayload(err))
		if ctx.Err() != nil {
			return
		}
		if c.currentToken() != token {
			continue
		}
		log.Warn().Err(err).Msg("Realtime connection lost, reconnecting")
		if !c.sleep(ctx, backoff) {
			return
		}
	}
}

func (c *Channel) currentToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

func (c *Channel) dial(ctx context.Context, token string) (*websocket.Conn, error) {
	u, err := url.Parse(c.url)
	if err != nil {
		return nil, fmt.Errorf("invalid realtime URL: %w", err)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()

	dctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	conn, _, err := websocket.Dial(dctx, u.String(), &websocket.DialOptions{ //nolint:bodyclose // websocket.Dial closes the response body
		HTTPClient: c.httpClient,
		HTTPHeader: http.Header{"Authorization": []string{"Bearer " + token}},
	})
	if err != nil {
		return nil, fmt.Errorf("dialing realtime channel: %w", err)
	}
	conn.SetReadLimit(readLimit)
	return conn, nil
}

// attach publishes conn and re-joins the topics. The topic snapshot and the
// conn are swapped under one lock so a concurrent Join is sent exactly once.
func (c *Channel) attach(ctx context.Context, conn *websocket.Conn, token string) error {
	c.mu.Lock()
	if err := ctx.Err(); err != nil {
		c.mu.Unlock()
		return err
	}
	if c.token != token {
		c.mu.Unlock()
		return errTokenRotated
	}
	topics := make([]string, 0, len(c.topics))
	for t := range c.topics {
		topics = append(topics, t)
	}
	c.conn = conn
	c.mu.Unlock()

	for _, t := range topics {
		if err := c.send(ctx, conn, "join", topicPayload{Topic: t}); err != nil {
			return err
		}
	}
	return nil
}

func (c *Channel) detach(conn *websocket.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == conn {
		c.conn = nil
	}
}

func (c *Channel) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		if typ != websocket.MessageText {
			log.Debug().Int("bytes", len(data)).Msg("Ignoring binary realtime frame")
			continue
		}
		var env envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Event == "" {
			log.Debug().Int("bytes", len(data)).Msg("Ignoring unparseable realtime frame")
			continue
		}
		log.Debug().Str("event", env.Event).Msg("Realtime event received")
		c.emit(env.Event, env.Data)
	}
}

func (c *Channel) sleep(ctx context.Context, backoff time.Duration) bool {
	d := backoff
	if j := int64(backoff) / jitterDivisor; j > 0 {
		d += time.Duration(rand.Int64N(j))
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func errorPayload(err error) []byte {
	if err == nil {
		return nil
	}
	b, _ := json.Marshal(map[string]string{"error": err.Error()})
	return b
}
