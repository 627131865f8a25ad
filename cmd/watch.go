package cmd

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/habedi/tandem/auth"
	"github.com/habedi/tandem/client"
	"github.com/habedi/tandem/invalidation"
	"github.com/habedi/tandem/pkg/clierr"
	"github.com/habedi/tandem/pkg/validation"
	"github.com/habedi/tandem/presence"
	"github.com/habedi/tandem/realtime"
	"github.com/habedi/tandem/session"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"
)

// expirySkew is how close to expiry an access token counts as expired when
// a realtime dial is rejected.
const expirySkew = 30 * time.Second

// printer serializes output from the realtime goroutine and the command.
type printer struct {
	mu  sync.Mutex
	cmd *cobra.Command
}

func (p *printer) println(a ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cmd.Println(a...)
}

// reportingCache prints every invalidation it applies.
type reportingCache struct {
	*invalidation.LRUCache
	out *printer
}

func (c *reportingCache) Invalidate(prefix invalidation.Key) {
	c.LRUCache.Invalidate(prefix)
	c.out.println("invalidate", prefix.String())
}

// watchCmd holds the realtime connection open and prints lifecycle events,
// cache invalidations and presence changes until interrupted.
func watchCmd() *cobra.Command {
	var topics []string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream realtime events until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, t := range topics {
				if err := validation.ValidateTopic(t); err != nil {
					return validationError(err)
				}
			}
			ctx := cmd.Context()
			out := &printer{cmd: cmd}

			lc, err := invalidation.NewLRUCache(invalidation.DefaultCacheSize)
			if err != nil {
				return clierr.New(clierr.Internal, "Failed to create the query cache.", err)
			}
			channel := realtime.New(cfg.RealtimeURL())
			for _, t := range topics {
				if err := channel.Join(ctx, t); err != nil {
					return toCLIError(err)
				}
			}

			var opened atomic.Pointer[app]
			var probing atomic.Bool
			channel.On(realtime.EventConnect, func([]byte) { out.println("connected") })
			channel.On(realtime.EventDisconnect, func(data []byte) {
				out.println("disconnected", reason(data))
			})
			channel.On(realtime.EventConnectError, func(data []byte) {
				out.println("connect error:", reason(data))
				if a := opened.Load(); a != nil && probing.CompareAndSwap(false, true) {
					go func() {
						defer probing.Store(false)
						refreshIfExpired(ctx, a)
					}()
				}
			})

			a, err := openApp(ctx, channel, &reportingCache{LRUCache: lc, out: out})
			if err != nil {
				return err
			}
			defer a.Close()
			opened.Store(a)

			if _, ok := a.store.Current(); !ok {
				return toCLIError(client.ErrNoCredential)
			}

			channel.On(session.EventPresenceUpdated, func(data []byte) {
				if id := gjson.GetBytes(data, "userId").String(); id != "" {
					if r, ok := a.sess.Presence.Get(id); ok {
						out.println("presence", describePresence(id, r))
					}
				}
			})
			channel.On(session.EventPresenceSnapshot, func([]byte) {
				out.println("presence snapshot:", a.sess.Presence.Len(), "users")
			})
			channel.On(invalidation.EventCallUpdated, func(data []byte) {
				if u, ok := invalidation.NormalizeCallUpdate(data); ok {
					out.println("call", u.ID, u.Status)
				}
			})

			ended := make(chan auth.Event, 1)
			unsubscribe := a.store.Subscribe(func(ev auth.Event) {
				if ev.Type == auth.EventSessionEnded || ev.Type == auth.EventLogout {
					select {
					case ended <- ev:
					default:
					}
				}
			})
			defer unsubscribe()

			out.println("Watching realtime events on", cfg.RealtimeURL(), "(Ctrl+C to stop)")
			select {
			case <-ctx.Done():
				out.println("Stopped.")
				return nil
			case ev := <-ended:
				return clierr.New(clierr.Auth, "Session ended while watching. Please log in again.", ev.Cause)
			}
		},
	}

	cmd.Flags().StringSliceVarP(&topics, "join", "j", nil, "Topic to join, e.g. workspace:w1 (repeatable)")

	return cmd
}

// refreshIfExpired issues an authenticated request when the access token has
// expired, so the refresh coordinator rotates it and the session re-dials.
func refreshIfExpired(ctx context.Context, a *app) {
	cred, ok := a.store.Current()
	if !ok || cred.Valid(expirySkew) {
		return
	}
	log.Debug().Msg("Access token expired, refreshing before the next realtime dial")
	if _, err := a.api.Profile(ctx); err != nil {
		log.Warn().Err(err).Msg("Token refresh after realtime rejection failed")
	}
}

func reason(data []byte) string {
	return gjson.GetBytes(data, "error").String()
}

func describePresence(userID string, r presence.Record) string {
	s := fmt.Sprintf("%s %s (%s)", userID, r.Status, r.StatusSource)
	if r.CustomStatus != nil && *r.CustomStatus != "" {
		s += fmt.Sprintf(" %q", *r.CustomStatus)
	}
	return s
}
