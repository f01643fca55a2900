package hbdp

import (
	"strings"
	"time"
)

// ProtocolTag labels every session log record.
const ProtocolTag = "Hbdp"

// QueueConfig sizes the two per-connection byte queues.
type QueueConfig struct {
	// InboundCapacity is fixed for the life of a connection and also caps a
	// single request body.
	InboundCapacity         int
	OutboundInitialCapacity int
}

func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		InboundCapacity:         1024,
		OutboundInitialCapacity: 1024,
	}
}

func (q QueueConfig) withDefaults() QueueConfig {
	def := DefaultQueueConfig()
	if q.InboundCapacity <= 0 {
		q.InboundCapacity = def.InboundCapacity
	}
	if q.OutboundInitialCapacity <= 0 {
		q.OutboundInitialCapacity = def.OutboundInitialCapacity
	}
	return q
}

// ServerConfig defines one HBDP endpoint.
type ServerConfig struct {
	ID                string
	Addr              string
	BasePath          string
	Queues            QueueConfig
	CORSOrigins       []string
	MetricsPath       string
	ReadHeaderTimeout time.Duration
	IdleTimeout       time.Duration
}

func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		ID:                "hbdpd",
		Addr:              ":8080",
		BasePath:          "/hbdp",
		Queues:            DefaultQueueConfig(),
		CORSOrigins:       []string{"http://localhost:3000"},
		MetricsPath:       "/metrics",
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
}

// NormalizeBasePath returns "" for the root and "/a/b" otherwise.
func NormalizeBasePath(raw string) string {
	p := strings.Trim(strings.TrimSpace(raw), "/")
	if p == "" {
		return ""
	}
	return "/" + p
}
