package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/habedi/tandem/auth"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
)

// AuthResult is the payload of the login and register endpoints.
type AuthResult struct {
	AccessToken  string        `json:"accessToken"`
	RefreshToken string        `json:"refreshToken"`
	User         *auth.Profile `json:"user,omitempty"`
}

// Credential converts the result into a store credential.
func (r *AuthResult) Credential() auth.Credential {
	return auth.Credential{AccessToken: r.AccessToken, RefreshToken: r.RefreshToken, User: r.User}
}

// unwrapData returns the "data" member when the server wraps payloads in a
// {"data": ...} envelope, otherwise body unchanged.
func unwrapData(body []byte) []byte {
	if !gjson.ValidBytes(body) {
		return body
	}
	if d := gjson.GetBytes(body, "data"); d.IsObject() || d.IsArray() {
		return []byte(d.Raw)
	}
	return body
}

func (c *Client) postAuth(ctx context.Context, path string, payload any) (*AuthResult, error) {
	req, err := NewRequest(http.MethodPost, path, payload)
	if err != nil {
		return nil, err
	}
	resp, err := c.sendAnonymous(ctx, req)
	if err != nil {
		return nil, err
	}
	var result AuthResult
	if err := json.Unmarshal(unwrapData(resp.Body), &result); err != nil {
		return nil, fmt.Errorf("failed to parse auth response: %w", err)
	}
	if result.AccessToken == "" {
		return nil, fmt.Errorf("auth response carried no access token")
	}
	return &result, nil
}

// Login exchanges email and password for a credential.
func (c *Client) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	log.Info().Str("email", email).Msg("Logging in")
	return c.postAuth(ctx, "/auth/login", map[string]string{"email": email, "password": password})
}

// Register creates an account and returns its first credential.
func (c *Client) Register(ctx context.Context, name, email, password string) (*AuthResult, error) {
	log.Info().Str("email", email).Msg("Registering account")
	return c.postAuth(ctx, "/auth/register", map[string]string{"name": name, "email": email, "password": password})
}

// Refresh implements TokenRefresher against POST /auth/refresh. The
// endpoint may or may not rotate the refresh token; both are accepted.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (string, string, error) {
	req, err := NewRequest(http.MethodPost, "/auth/refresh", map[string]string{"refreshToken": refreshToken})
	if err != nil {
		return "", "", err
	}
	resp, err := c.sendAnonymous(ctx, req)
	if err != nil {
		return "", "", fmt.Errorf("token refresh request failed: %w", err)
	}
	body := unwrapData(resp.Body)
	access := gjson.GetBytes(body, "accessToken").String()
	if access == "" {
		return "", "", fmt.Errorf("token refresh response carried no access token")
	}
	return access, gjson.GetBytes(body, "refreshToken").String(), nil
}

// Profile fetches the authenticated user's profile.
func (c *Client) Profile(ctx context.Context) (*auth.Profile, error) {
	req, err := NewRequest(http.MethodGet, "/auth/profile", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.Send(ctx, req)
	if err != nil {
		return nil, err
	}
	var p auth.Profile
	if err := json.Unmarshal(unwrapData(resp.Body), &p); err != nil {
		return nil, fmt.Errorf("failed to parse profile: %w", err)
	}
	return &p, nil
}
