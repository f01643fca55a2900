package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/hbdp/internal/client"
)

type clientFileConfig struct {
	URL                string `toml:"url"`
	MaxConnectAttempts int    `toml:"max_connect_attempts"`
	MaxPayload         int    `toml:"max_payload"`
	BackoffInitial     string `toml:"backoff_initial"`
	BackoffMax         string `toml:"backoff_max"`
	BackoffJitter      bool   `toml:"backoff_jitter"`
	CloseTimeout       string `toml:"close_timeout"`
}

// ClientConfig is a resolved hbdpcat configuration.
type ClientConfig struct {
	URL  string
	Conn client.Config
}

func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		URL:  "http://localhost:8080/hbdp",
		Conn: client.DefaultConfig(),
	}
}

// LoadClientConfig overlays the keys defined in path on the client defaults.
func LoadClientConfig(path string) (ClientConfig, error) {
	cfg := DefaultClientConfig()

	var raw clientFileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return ClientConfig{}, fmt.Errorf("load client config: %w", err)
	}

	if meta.IsDefined("url") {
		cfg.URL = strings.TrimSpace(raw.URL)
	}
	if meta.IsDefined("max_connect_attempts") {
		cfg.Conn.MaxConnectAttempts = raw.MaxConnectAttempts
	}
	if meta.IsDefined("max_payload") {
		cfg.Conn.MaxPayload = raw.MaxPayload
	}
	if meta.IsDefined("backoff_initial") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.BackoffInitial))
		if err != nil {
			return ClientConfig{}, fmt.Errorf("parse backoff_initial: %w", err)
		}
		cfg.Conn.Backoff.InitialDelay = d
	}
	if meta.IsDefined("backoff_max") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.BackoffMax))
		if err != nil {
			return ClientConfig{}, fmt.Errorf("parse backoff_max: %w", err)
		}
		cfg.Conn.Backoff.MaxDelay = d
	}
	if meta.IsDefined("backoff_jitter") {
		cfg.Conn.Backoff.Jitter = raw.BackoffJitter
	}
	if meta.IsDefined("close_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.CloseTimeout))
		if err != nil {
			return ClientConfig{}, fmt.Errorf("parse close_timeout: %w", err)
		}
		cfg.Conn.CloseTimeout = d
	}

	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return ClientConfig{}, fmt.Errorf("client config has unknown key %q", undecoded[0].String())
	}
	if err := ValidateClientConfig(cfg); err != nil {
		return ClientConfig{}, fmt.Errorf("client config invalid (%s): %w", path, err)
	}
	return cfg, nil
}

func ValidateClientConfig(cfg ClientConfig) error {
	u, err := url.Parse(cfg.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("url must be an absolute http(s) url: %q", cfg.URL)
	}
	if cfg.Conn.MaxConnectAttempts <= 0 {
		return fmt.Errorf("max_connect_attempts must be positive, got %d", cfg.Conn.MaxConnectAttempts)
	}
	if cfg.Conn.MaxPayload <= 0 {
		return fmt.Errorf("max_payload must be positive, got %d", cfg.Conn.MaxPayload)
	}
	if cfg.Conn.Backoff.InitialDelay < 0 || cfg.Conn.Backoff.MaxDelay < 0 {
		return fmt.Errorf("backoff delays must not be negative")
	}
	if cfg.Conn.Backoff.MaxDelay > 0 && cfg.Conn.Backoff.InitialDelay > cfg.Conn.Backoff.MaxDelay {
		return fmt.Errorf("backoff_initial %v exceeds backoff_max %v", cfg.Conn.Backoff.InitialDelay, cfg.Conn.Backoff.MaxDelay)
	}
	return nil
}
