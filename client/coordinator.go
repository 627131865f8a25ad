package client

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/habedi/tandem/auth"
	"github.com/rs/zerolog/log"
)

// refreshTimeout bounds a refresh call. The refresh runs detached from the
// request that triggered it, so a cancelled caller does not fail the others.
const refreshTimeout = 30 * time.Second

// CredentialStore is the part of auth.Store the coordinator depends on.
type CredentialStore interface {
	Current() (auth.Credential, bool)
	Swap(ctx context.Context, accessToken, refreshToken string) (auth.Credential, error)
	EndSession(ctx context.Context, cause error) error
}

// TokenRefresher exchanges a refresh token for a new access token. The
// returned refresh token may be empty when the server does not rotate it.
type TokenRefresher interface {
	Refresh(ctx context.Context, refreshToken string) (accessToken, newRefreshToken string, err error)
}

// dispatchFunc sends req once with the given bearer token.
type dispatchFunc func(ctx context.Context, req *Request, accessToken string) (*Response, error)

type refreshOutcome struct {
	cred auth.Credential
	err  error
}

// pendingRequest is a caller suspended on an in-flight refresh.
type pendingRequest struct {
	id   uuid.UUID
	done chan refreshOutcome
}

// Coordinator attaches the credential to outgoing requests and, on an
// authorization failure, runs at most one refresh at a time. Every request
// that failed while the refresh was running is queued and released, in FIFO
// order, once the refresh resolves.
type Coordinator struct {
	store     CredentialStore
	refresher TokenRefresher
	dispatch  dispatchFunc

	mu         sync.Mutex
	refreshing bool
	queue      []*pendingRequest
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(store CredentialStore, refresher TokenRefresher, dispatch dispatchFunc) *Coordinator {
	return &Coordinator{store: store, refresher: refresher, dispatch: dispatch}
}

// Send dispatches req with the current access token and transparently
// refreshes and replays it once if the server reports the token invalid.
// req is not modified and may be sent again.
func (c *Coordinator) Send(ctx context.Context, req *Request) (*Response, error) {
	cred, ok := c.store.Current()
	if !ok {
		return nil, ErrNoCredential
	}

	resp, err := c.dispatch(ctx, req, cred.AccessToken)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}
	out := c.awaitRefresh(ctx, cred)
	if out.err != nil {
		return nil, out.err
	}

	log.Debug().Str("method", req.Method).Str("path", req.Path).Msg("Replaying request with refreshed credential")
	resp, err = c.dispatch(ctx, req, out.cred.AccessToken)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return nil, fmt.Errorf("%w: %s %s", ErrUnauthorized, req.Method, req.Path)
	}
	return resp, nil
}

// awaitRefresh enqueues the caller and blocks until a refresh resolves. The
// first caller to observe the failure starts the refresh.
func (c *Coordinator) awaitRefresh(ctx context.Context, used auth.Credential) refreshOutcome {
	c.mu.Lock()
	cur, ok := c.store.Current()
	if !ok {
		c.mu.Unlock()
		return refreshOutcome{err: ErrSessionEnded}
	}
	// The token this request carried was superseded by a refresh that has
	// already completed; replay with the newer one instead of refreshing again.
	if !c.refreshing && cur.AccessToken != used.AccessToken {
		c.mu.Unlock()
		return refreshOutcome{cred: cur}
	}

	p := &pendingRequest{id: uuid.New(), done: make(chan refreshOutcome, 1)}
	c.queue = append(c.queue, p)
	if !c.refreshing {
		c.refreshing = true
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
		go func() {
			defer cancel()
			c.refresh(rctx, cur.RefreshToken)
		}()
	}
	queued := len(c.queue)
	c.mu.Unlock()

	log.Debug().Str("pending_id", p.id.String()).Int("queued", queued).Msg("Waiting for credential refresh")
	select {
	case out := <-p.done:
		return out
	case <-ctx.Done():
		return refreshOutcome{err: ctx.Err()}
	}
}

// refresh performs the refresh call, updates the store, and releases every
// queued request with the outcome. The store is updated before any waiter
// is released.
func (c *Coordinator) refresh(ctx context.Context, refreshToken string) {
	var out refreshOutcome
	switch {
	case refreshToken == "":
		out.err = fmt.Errorf("%w: no refresh token available", ErrSessionEnded)
	default:
		log.Info().Msg("Access token rejected, refreshing...")
		access, rotated, err := c.refresher.Refresh(ctx, refreshToken)
		if err != nil {
			out.err = fmt.Errorf("%w: %w", ErrSessionEnded, err)
			break
		}
		cred, err := c.store.Swap(ctx, access, rotated)
		if err != nil {
			out.err = fmt.Errorf("%w: %w", ErrSessionEnded, err)
			break
		}
		out.cred = cred
		log.Info().Msg("Token refreshed successfully.")
	}

	if out.err != nil {
		if err := c.store.EndSession(ctx, out.err); err != nil {
			log.Error().Err(err).Msg("Failed to tear down session after refresh failure")
		}
	}

	c.mu.Lock()
	queue := c.queue
	c.queue = nil
	c.refreshing = false
	c.mu.Unlock()

	for _, p := range queue {
		p.done <- out
	}
	log.Debug().Int("released", len(queue)).Bool("ok", out.err == nil).Msg("Credential refresh resolved")
}
