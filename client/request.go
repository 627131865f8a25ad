package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Request describes an outbound call independently of any credential, so it
// can be dispatched again unchanged after a refresh.
type Request struct {
	Method string
	Path   string // relative to the client's base URL, or absolute
	Query  url.Values
	Header http.Header
	Body   []byte
}

// NewRequest builds a Request with an optional JSON body.
func NewRequest(method, path string, body any) (*Request, error) {
	req := &Request{Method: method, Path: path, Header: http.Header{}}
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		req.Body = b
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Decode unmarshals the response body into v.
func (r *Response) Decode(v any) error {
	if len(r.Body) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		log.Error().Err(err).Str("body_preview", string(r.Body[:min(len(r.Body), 200)])).Msg("Failed to parse response JSON")
		return fmt.Errorf("failed to parse response JSON: %w", err)
	}
	return nil
}

// resolveURL joins path onto base unless path is already absolute.
func resolveURL(base, path string, query url.Values) (string, error) {
	var u *url.URL
	var err error
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		u, err = url.Parse(path)
	} else {
		u, err = url.Parse(strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/"))
	}
	if err != nil {
		return "", err
	}
	if len(query) > 0 {
		q := u.Query()
		for k, vs := range query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// createRequest creates an HTTP request with authorization.
func createRequest(ctx context.Context, req *Request, urlStr, accessToken string) (*http.Request, error) {
	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, urlStr, body)
	if err != nil {
		log.Error().Err(err).Str("method", req.Method).Str("url", urlStr).Msg("Failed to create HTTP request object")
		return nil, err
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if accessToken != "" {
		httpReq.Header.Set("Authorization", fmt.Sprintf("Bearer %s", accessToken))
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("X-Request-ID", uuid.NewString())
	return httpReq, nil
}

// sendRequest performs the request and reads the whole body. It does not
// judge the status code; callers decide what a 401 or 5xx means.
func sendRequest(hc *http.Client, req *http.Request) (*Response, error) {
	log.Debug().Str("method", req.Method).Str("url", req.URL.String()).Msg("Sending HTTP request")
	resp, err := hc.Do(req)
	if err != nil {
		log.Error().Err(err).Str("method", req.Method).Str("url", req.URL.String()).Msg("HTTP request failed")
		return nil, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Debug().Err(err).Msg("Failed to close response body")
		}
	}()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Error().Err(err).Str("url", req.URL.String()).Msg("Failed to read response body")
		return nil, err
	}
	log.Debug().Str("method", req.Method).Str("url", req.URL.String()).Int("status", resp.StatusCode).Msg("HTTP request finished")
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}, nil
}

// checkStatus converts a non-2xx response into an HTTPError.
func checkStatus(method, urlStr string, resp *Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	log.Error().Str("method", method).Str("url", urlStr).Int("status", resp.StatusCode).Msg("HTTP request returned non-OK status")
	return &HTTPError{Method: method, URL: urlStr, StatusCode: resp.StatusCode, Body: string(resp.Body)}
}
