package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/hbdp/internal/client"
	"github.com/danmuck/hbdp/internal/config"
	"github.com/danmuck/hbdp/internal/logging"
	"github.com/rs/zerolog/log"
)

func main() {
	configPath := flag.String("config", "", "client config path")
	rawURL := flag.String("url", "", "session base url (overrides config)")
	flag.Parse()

	logging.ConfigureRuntime()

	cfg, err := resolveConfig(*configPath, *rawURL, flag.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "hbdpcat: %v\n", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "hbdpcat: %v\n", err)
		os.Exit(1)
	}
}

// resolveConfig applies, in order: defaults, the config file, -url, and a
// positional url.
func resolveConfig(path, flagURL, argURL string) (config.ClientConfig, error) {
	cfg := config.DefaultClientConfig()
	if path != "" {
		loaded, err := config.LoadClientConfig(path)
		if err != nil {
			return config.ClientConfig{}, err
		}
		cfg = loaded
	}
	if flagURL != "" {
		cfg.URL = flagURL
	}
	if argURL != "" {
		cfg.URL = argURL
	}
	return cfg, config.ValidateClientConfig(cfg)
}

// run copies in to the session and the session to out until in ends or the
// server ends the session.
func run(ctx context.Context, cfg config.ClientConfig, in io.Reader, out io.Writer) error {
	conn, err := client.Dial(ctx, cfg.URL, cfg.Conn)
	if err != nil {
		return err
	}
	log.Debug().Str("session", conn.ID()).Str("url", cfg.URL).Msg("connected")

	received := make(chan error, 1)
	go func() {
		_, err := io.Copy(out, conn)
		received <- err
	}()

	sent := make(chan error, 1)
	go func() {
		_, err := io.Copy(conn, in)
		sent <- err
	}()

	var runErr error
	select {
	case err := <-sent:
		// Input exhausted: flush and end the session, then drain output.
		if err != nil && !errors.Is(err, client.ErrClosed) {
			runErr = err
		}
		if err := conn.Close(); err != nil && runErr == nil {
			runErr = err
		}
		if err := <-received; err != nil && runErr == nil {
			runErr = err
		}
	case err := <-received:
		// Server ended the session first.
		runErr = err
		_ = conn.Close()
	case <-ctx.Done():
		_ = conn.Close()
		<-received
	}
	return runErr
}
