package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/danmuck/hbdp/internal/hbdp"
	"github.com/pelletier/go-toml/v2"
)

// ServerFileConfig is the on-disk form of hbdp.ServerConfig.
type ServerFileConfig struct {
	ID                      string   `toml:"id"`
	Addr                    string   `toml:"addr"`
	BasePath                string   `toml:"base_path"`
	InboundCapacity         int      `toml:"inbound_capacity"`
	OutboundInitialCapacity int      `toml:"outbound_initial_capacity"`
	CorsOrigins             []string `toml:"cors_origins"`
	MetricsPath             *string  `toml:"metrics_path"`
	ReadHeaderTimeout       string   `toml:"read_header_timeout"`
	IdleTimeout             string   `toml:"idle_timeout"`
}

// LoadServerConfig reads path over the server defaults. An explicitly empty
// metrics_path disables the metrics endpoint.
func LoadServerConfig(path string) (hbdp.ServerConfig, error) {
	var raw ServerFileConfig
	if err := loadToml(path, &raw); err != nil {
		return hbdp.ServerConfig{}, err
	}
	cfg, err := raw.Resolve()
	if err != nil {
		return hbdp.ServerConfig{}, fmt.Errorf("config invalid (%s): %w", path, err)
	}
	if err := ValidateServerConfig(cfg); err != nil {
		return hbdp.ServerConfig{}, fmt.Errorf("config invalid (%s): %w", path, err)
	}
	return cfg, nil
}

// Resolve overlays the set fields on hbdp.DefaultServerConfig.
func (raw ServerFileConfig) Resolve() (hbdp.ServerConfig, error) {
	cfg := hbdp.DefaultServerConfig()
	if v := strings.TrimSpace(raw.ID); v != "" {
		cfg.ID = v
	}
	if v := strings.TrimSpace(raw.Addr); v != "" {
		cfg.Addr = v
	}
	if raw.BasePath != "" {
		cfg.BasePath = hbdp.NormalizeBasePath(raw.BasePath)
	}
	if raw.InboundCapacity != 0 {
		cfg.Queues.InboundCapacity = raw.InboundCapacity
	}
	if raw.OutboundInitialCapacity != 0 {
		cfg.Queues.OutboundInitialCapacity = raw.OutboundInitialCapacity
	}
	if raw.CorsOrigins != nil {
		cfg.CORSOrigins = normalizeOrigins(raw.CorsOrigins)
	}
	if raw.MetricsPath != nil {
		cfg.MetricsPath = strings.TrimSpace(*raw.MetricsPath)
	}
	if raw.ReadHeaderTimeout != "" {
		d, err := time.ParseDuration(strings.TrimSpace(raw.ReadHeaderTimeout))
		if err != nil {
			return hbdp.ServerConfig{}, fmt.Errorf("parse read_header_timeout: %w", err)
		}
		cfg.ReadHeaderTimeout = d
	}
	if raw.IdleTimeout != "" {
		d, err := time.ParseDuration(strings.TrimSpace(raw.IdleTimeout))
		if err != nil {
			return hbdp.ServerConfig{}, fmt.Errorf("parse idle_timeout: %w", err)
		}
		cfg.IdleTimeout = d
	}
	return cfg, nil
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func ValidateServerConfig(cfg hbdp.ServerConfig) error {
	if strings.TrimSpace(cfg.ID) == "" {
		return fmt.Errorf("server config missing id")
	}
	if strings.TrimSpace(cfg.Addr) == "" {
		return fmt.Errorf("server config missing addr")
	}
	if cfg.Queues.InboundCapacity <= 0 {
		return fmt.Errorf("inbound_capacity must be positive, got %d", cfg.Queues.InboundCapacity)
	}
	if cfg.Queues.OutboundInitialCapacity <= 0 {
		return fmt.Errorf("outbound_initial_capacity must be positive, got %d", cfg.Queues.OutboundInitialCapacity)
	}
	if cfg.ReadHeaderTimeout < 0 || cfg.IdleTimeout < 0 {
		return fmt.Errorf("timeouts must not be negative")
	}

	base := hbdp.NormalizeBasePath(cfg.BasePath)
	if cfg.MetricsPath != "" {
		if !strings.HasPrefix(cfg.MetricsPath, "/") {
			return fmt.Errorf("metrics_path must start with /: %q", cfg.MetricsPath)
		}
		if underBase(base, cfg.MetricsPath) {
			return fmt.Errorf("metrics_path %q collides with base_path %q", cfg.MetricsPath, base)
		}
	}
	if underBase(base, "/health") {
		return fmt.Errorf("base_path %q shadows /health", base)
	}
	return nil
}

// underBase reports whether path is routed to sessions under a non-root base.
func underBase(base, path string) bool {
	if base == "" {
		return false
	}
	return path == base || strings.HasPrefix(path, base+"/")
}

func normalizeOrigins(in []string) []string {
	out := make([]string, 0, len(in))
	for _, origin := range in {
		v := strings.TrimRight(strings.TrimSpace(origin), "/")
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
