package config

import (
	"fmt"
	"os"
	"strings"
)

const (
	KindServer = "server"
	KindClient = "client"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case KindServer:
		return serverTemplate, nil
	case KindClient:
		return clientTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

// Validate loads path as kind and reports the first problem.
func Validate(path, kind string) error {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case KindServer:
		_, err := LoadServerConfig(path)
		return err
	case KindClient:
		_, err := LoadClientConfig(path)
		return err
	default:
		return fmt.Errorf("unknown config kind: %s", kind)
	}
}

// DefaultPath is where cmd binaries look for kind's config.
func DefaultPath(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case KindServer:
		return "cmd/hbdpd/config.toml", nil
	case KindClient:
		return "cmd/hbdpcat/config.toml", nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

const serverTemplate = `id = "hbdpd"
addr = ":8080"
base_path = "/hbdp"
inbound_capacity = 1024
outbound_initial_capacity = 1024
cors_origins = ["http://localhost:3000"]
metrics_path = "/metrics"
read_header_timeout = "10s"
idle_timeout = "2m"
`

const clientTemplate = `url = "http://localhost:8080/hbdp"
max_connect_attempts = 5
max_payload = 1024
backoff_initial = "50ms"
backoff_max = "2s"
backoff_jitter = true
close_timeout = "5s"
`
