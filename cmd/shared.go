package cmd

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/habedi/tandem/auth"
	"github.com/habedi/tandem/client"
	"github.com/habedi/tandem/db"
	"github.com/habedi/tandem/invalidation"
	"github.com/habedi/tandem/pkg/clierr"
	"github.com/habedi/tandem/realtime"
	"github.com/habedi/tandem/session"
)

// offlineChannel stands in for the realtime channel in one-shot commands.
type offlineChannel struct{}

func (offlineChannel) Connect(context.Context, string) error { return nil }
func (offlineChannel) Disconnect() {}
func (offlineChannel) On(string, realtime.Handler) func() { return func() {} }

// app is the wired session layer a command works with.
type app struct {
	store *auth.Store
	api   *client.Client
	sess  *session.Session
}

// openApp builds the session layer on top of the open database and
// rehydrates the persisted credential. A nil channel keeps the command
// offline; a nil cache gets a fresh LRU cache.
func openApp(ctx context.Context, channel session.Channel, cache session.QueryCache) (*app, error) {
	storer := auth.NewDBStorer(db.NewSessionRepository(db.Db), db.NewSettingsRepository(db.Db))
	store := auth.NewStore(storer)
	api := client.New(cfg.APIURL(), store, client.WithTimeout(cfg.RequestTimeout))

	if channel == nil {
		channel = offlineChannel{}
	}
	if cache == nil {
		lc, err := invalidation.NewLRUCache(invalidation.DefaultCacheSize)
		if err != nil {
			return nil, clierr.New(clierr.Internal, "Failed to create the query cache.", err)
		}
		cache = lc
	}

	sess := session.New(store, api, channel, cache)
	if err := sess.Start(ctx); err != nil {
		sess.Close()
		return nil, clierr.New(clierr.Internal, "Failed to load the saved session.", err)
	}
	return &app{store: store, api: api, sess: sess}, nil
}

func (a *app) Close() {
	a.sess.Close()
}

// toCLIError maps session layer errors to CLI error types.
func toCLIError(err error) error {
	if err == nil {
		return nil
	}
	var ce *clierr.Error
	if errors.As(err, &ce) {
		return err
	}

	switch {
	case errors.Is(err, client.ErrNoCredential):
		return clierr.New(clierr.Auth, "Not logged in. Run 'tandem login' first.", err)
	case errors.Is(err, client.ErrSessionEnded):
		return clierr.New(clierr.Auth, "Your session has ended. Please log in again.", err)
	case errors.Is(err, client.ErrUnauthorized):
		return clierr.New(clierr.Auth, "The request was rejected as unauthorized.", err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return clierr.New(clierr.Network, "The request was cancelled or timed out.", err)
	}

	var he *client.HTTPError
	if errors.As(err, &he) {
		switch {
		case he.StatusCode == http.StatusNotFound:
			return clierr.New(clierr.NotFound, "Resource not found: "+he.URL, err)
		case he.StatusCode == http.StatusUnauthorized || he.StatusCode == http.StatusForbidden:
			return clierr.New(clierr.Auth, "Access denied: "+he.URL, err)
		case he.StatusCode == http.StatusBadRequest || he.StatusCode == http.StatusUnprocessableEntity:
			return clierr.New(clierr.Validation, "The server rejected the request: "+he.Body, err)
		default:
			return clierr.New(clierr.Network, err.Error(), err)
		}
	}

	var ne net.Error
	if errors.As(err, &ne) {
		return clierr.New(clierr.Network, "Could not reach the server: "+err.Error(), err)
	}
	return clierr.New(clierr.Internal, err.Error(), err)
}

func validationError(err error) error {
	return clierr.New(clierr.Validation, err.Error(), err)
}
