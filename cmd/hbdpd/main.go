package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danmuck/hbdp/internal/config"
	"github.com/danmuck/hbdp/internal/echo"
	"github.com/danmuck/hbdp/internal/hbdp"
	"github.com/danmuck/hbdp/internal/logging"
	"github.com/danmuck/hbdp/internal/node"
	"github.com/rs/zerolog/log"
)

func main() {
	configPath := flag.String("config", "cmd/hbdpd/config.toml", "server config path")
	flag.Parse()

	logging.ConfigureRuntime()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", *configPath).Msg("failed to load server config")
	}

	server := hbdp.Appear(cfg, echo.Handler())
	log.Info().
		Str("node", node.Label(server)).
		Str("addr", server.Addr).
		Str("base_path", cfg.BasePath).
		Int("inbound_capacity", cfg.Queues.InboundCapacity).
		Msg("hbdpd started")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("shutdown incomplete")
		}
	}()

	if err := server.Serve(); err != nil {
		log.Fatal().Err(err).Msg("hbdpd stopped")
	}
	log.Info().Msg("hbdpd stopped")
}

// loadConfig falls back to defaults when the file does not exist.
func loadConfig(path string) (hbdp.ServerConfig, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		log.Info().Str("path", path).Msg("no server config, using defaults")
		cfg := hbdp.DefaultServerConfig()
		return cfg, config.ValidateServerConfig(cfg)
	}
	cfg, err := config.LoadServerConfig(path)
	if err != nil {
		return hbdp.ServerConfig{}, err
	}
	log.Info().Str("path", path).Msg("loaded server config")
	return cfg, nil
}
