package validation

import (
	"fmt"
	"net/mail"
	"net/url"
	"strings"
)

const (
	MinConcurrency = 1
	MaxConcurrency = 20
	MinPasswordLen = 8
	MaxCustomLen   = 100
)

func ValidateConcurrency(n int) error {
	if n < MinConcurrency || n > MaxConcurrency {
		return fmt.Errorf("concurrency must be between %d and %d, got %d", MinConcurrency, MaxConcurrency, n)
	}
	return nil
}

func ValidateNonEmptyString(fieldName, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%s cannot be empty", fieldName)
	}
	return nil
}

// ValidateBaseURL accepts absolute http(s) or ws(s) URLs with a host.
func ValidateBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL %q: %w", raw, err)
	}
	switch u.Scheme {
	case "http", "https", "ws", "wss":
	default:
		return fmt.Errorf("invalid URL %q: scheme must be http, https, ws or wss", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("invalid URL %q: missing host", raw)
	}
	return nil
}

func ValidateEmail(email string) error {
	if _, err := mail.ParseAddress(email); err != nil || !strings.Contains(email, "@") {
		return fmt.Errorf("invalid email address: %q", email)
	}
	return nil
}

func ValidatePassword(pw string) error {
	if len(pw) < MinPasswordLen {
		return fmt.Errorf("password must be at least %d characters", MinPasswordLen)
	}
	return nil
}

// ValidateTopic checks a realtime topic name such as "workspace:w1".
func ValidateTopic(topic string) error {
	if strings.TrimSpace(topic) == "" {
		return fmt.Errorf("topic cannot be empty")
	}
	if strings.ContainsAny(topic, " \t\n") {
		return fmt.Errorf("invalid topic %q: must not contain whitespace", topic)
	}
	return nil
}

func ValidateCustomStatus(s string) error {
	if len([]rune(s)) > MaxCustomLen {
		return fmt.Errorf("custom status must be at most %d characters", MaxCustomLen)
	}
	return nil
}

// ValidateAPIPath checks a path passed to `get`.
func ValidateAPIPath(p string) error {
	if !strings.HasPrefix(p, "/") {
		return fmt.Errorf("invalid path %q: must start with /", p)
	}
	return nil
}
