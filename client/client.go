package client

import (
	"context"
	"net/http"
	"time"
)

// Client is the single HTTP entry point of the session layer. Every domain
// call (workspaces, channels, messages, tasks, comments, notifications,
// calls, users) goes through Send.
type Client struct {
	baseURL string
	http    *http.Client
	coord   *Coordinator
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http = &http.Client{Timeout: d} }
}

// New creates a Client for baseURL backed by store.
func New(baseURL string, store CredentialStore, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	// the client refreshes against its own base URL
	c.coord = NewCoordinator(store, c, c.dispatch)
	return c
}

// BaseURL returns the configured API base URL.
func (c *Client) BaseURL() string { return c.baseURL }

// Send dispatches req through the refresh coordinator and returns the
// response, or an *HTTPError for non-2xx statuses.
func (c *Client) Send(ctx context.Context, req *Request) (*Response, error) {
	resp, err := c.coord.Send(ctx, req)
	if err != nil {
		return nil, err
	}
	urlStr, _ := resolveURL(c.baseURL, req.Path, req.Query)
	if err := checkStatus(req.Method, urlStr, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// Do sends an authenticated JSON request and decodes the response into out
// when out is non-nil.
func (c *Client) Do(ctx context.Context, method, path string, in, out any) error {
	req, err := NewRequest(method, path, in)
	if err != nil {
		return err
	}
	resp, err := c.Send(ctx, req)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return resp.Decode(out)
}

// GetJSON fetches path and decodes the JSON body into dest.
func (c *Client) GetJSON(ctx context.Context, path string, dest any) error {
	return c.Do(ctx, http.MethodGet, path, nil, dest)
}

// GetRaw fetches path and returns the raw body, e.g. for caching.
func (c *Client) GetRaw(ctx context.Context, path string) ([]byte, error) {
	req, err := NewRequest(http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.Send(ctx, req)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// dispatch sends req once. An empty token sends the request anonymously.
func (c *Client) dispatch(ctx context.Context, req *Request, accessToken string) (*Response, error) {
	urlStr, err := resolveURL(c.baseURL, req.Path, req.Query)
	if err != nil {
		return nil, err
	}
	httpReq, err := createRequest(ctx, req, urlStr, accessToken)
	if err != nil {
		return nil, err
	}
	return sendRequest(c.http, httpReq)
}

// sendAnonymous dispatches req without a credential and checks the status.
func (c *Client) sendAnonymous(ctx context.Context, req *Request) (*Response, error) {
	resp, err := c.dispatch(ctx, req, "")
	if err != nil {
		return nil, err
	}
	urlStr, _ := resolveURL(c.baseURL, req.Path, req.Query)
	if err := checkStatus(req.Method, urlStr, resp); err != nil {
		return nil, err
	}
	return resp, nil
}
