package client

import (
	"context"
	"fmt"
	"net/http"

	"github.com/habedi/tandem/presence"
)

// FetchAll returns the presence snapshot of every user visible to the caller.
func (c *Client) FetchAll(ctx context.Context) ([]presence.Update, error) {
	body, err := c.GetRaw(ctx, "/presence")
	if err != nil {
		return nil, err
	}
	updates, err := presence.DecodeSnapshot(body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse presence snapshot: %w", err)
	}
	return updates, nil
}

// FetchCurrent returns the caller's own presence.
func (c *Client) FetchCurrent(ctx context.Context) (presence.Update, error) {
	body, err := c.GetRaw(ctx, "/presence/me")
	if err != nil {
		return presence.Update{}, err
	}
	u, err := presence.DecodeUpdate(unwrapData(body))
	if err != nil {
		return presence.Update{}, fmt.Errorf("failed to parse presence: %w", err)
	}
	return u, nil
}

// SetManual pins the caller's status until ClearManual is called. A nil
// custom leaves the custom status unset.
func (c *Client) SetManual(ctx context.Context, status presence.Status, custom *string) error {
	payload := map[string]any{"status": status}
	if custom != nil {
		payload["customStatus"] = *custom
	}
	return c.Do(ctx, http.MethodPut, "/presence/manual", payload, nil)
}

// ClearManual returns the caller's status to automatic inference.
func (c *Client) ClearManual(ctx context.Context) error {
	return c.Do(ctx, http.MethodDelete, "/presence/manual", nil, nil)
}
