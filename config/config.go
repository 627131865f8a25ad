package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/habedi/tandem/pkg/validation"
	"github.com/spf13/viper"
)

const (
	DefaultBaseURL     = "http://localhost:3000"
	DefaultRealtimeURL = "ws://localhost:3000"
	RealtimePath       = "/ws"
	EnvPrefix          = "TANDEM"
)

// Config is the runtime configuration of the session layer.
type Config struct {
	BaseURL        string        `mapstructure:"base_url"`
	Origin         string        `mapstructure:"origin"`
	DBPath         string        `mapstructure:"db_path"`
	Debug          bool          `mapstructure:"debug"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// SetDefaults registers every key so environment overrides reach Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("base_url", DefaultBaseURL)
	v.SetDefault("origin", "")
	v.SetDefault("db_path", defaultDBPath())
	v.SetDefault("debug", false)
	v.SetDefault("request_timeout", 30*time.Second)
}

// SetupEnv binds TANDEM_* environment variables.
func SetupEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".tandem", "session.db")
	}
	return filepath.Join(home, ".tandem", "session.db")
}

// Load reads configuration from path (optional) with environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)
	SetupEnv(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}
	return FromViper(v)
}

// FromViper decodes and validates the configuration held by v.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, fmt.Errorf("validating config: %w", errors.Join(errs...))
	}
	return &cfg, nil
}

// Validate returns every problem found rather than stopping at the first.
func (c *Config) Validate() []error {
	var errs []error
	if c.BaseURL != "" {
		if err := validation.ValidateBaseURL(c.BaseURL); err != nil {
			errs = append(errs, fmt.Errorf("base_url: %w", err))
		}
	}
	if c.Origin != "" {
		if err := validation.ValidateBaseURL(c.Origin); err != nil {
			errs = append(errs, fmt.Errorf("origin: %w", err))
		}
	}
	if c.BaseURL == "" && c.Origin == "" {
		errs = append(errs, errors.New("one of base_url or origin must be set"))
	}
	if c.RequestTimeout <= 0 {
		errs = append(errs, fmt.Errorf("request_timeout must be positive, got %s", c.RequestTimeout))
	}
	return errs
}

// APIURL is the base for HTTP requests. It falls back to the origin.
func (c *Config) APIURL() string {
	if c.BaseURL != "" {
		return c.BaseURL
	}
	return c.Origin
}

// RealtimeURL derives the websocket endpoint from the API base URL by
// swapping http for ws and https for wss. With neither a base URL nor an
// origin it falls back to DefaultRealtimeURL.
func (c *Config) RealtimeURL() string {
	return RealtimeURL(c.BaseURL, c.Origin)
}

// RealtimeURL is the function form of Config.RealtimeURL.
func RealtimeURL(baseURL, origin string) string {
	raw := strings.TrimSpace(baseURL)
	if raw == "" {
		raw = strings.TrimSpace(origin)
	}
	if raw == "" {
		raw = DefaultRealtimeURL
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		u, _ = url.Parse(DefaultRealtimeURL)
	}
	switch u.Scheme {
	case "https", "wss":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = RealtimePath
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}
