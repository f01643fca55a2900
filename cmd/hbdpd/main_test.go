package main

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/danmuck/hbdp/internal/hbdp"
	"github.com/danmuck/hbdp/internal/testutil/testlog"
)

func TestLoadConfigExample(t *testing.T) {
	testlog.Start(t)
	cfg, err := loadConfig("ex.config.toml")
	if err != nil {
		t.Fatalf("load example config: %v", err)
	}
	if cfg.ID != "hbdpd.local" || cfg.Addr != "127.0.0.1:8080" {
		t.Fatalf("unexpected id/addr: %q %q", cfg.ID, cfg.Addr)
	}
	if cfg.Queues.InboundCapacity != 4096 {
		t.Fatalf("unexpected inbound capacity: %d", cfg.Queues.InboundCapacity)
	}
	if cfg.IdleTimeout != 2*time.Minute {
		t.Fatalf("unexpected idle timeout: %v", cfg.IdleTimeout)
	}
}

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	testlog.Start(t)
	cfg, err := loadConfig(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("defaults: %v", err)
	}
	if cfg.ID != hbdp.DefaultServerConfig().ID || cfg.BasePath != "/hbdp" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}
