package hbdp

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"io"
	"sort"
	"sync"

	"github.com/rs/zerolog"
)

var ErrIdentifierSpace = errors.New("hbdp: could not generate a unique session identifier")

// IdentifierFunc returns a fresh candidate session identifier.
type IdentifierFunc func() (string, error)

// RandomIdentifier renders 128 random bits as lowercase hex.
func RandomIdentifier() (string, error) {
	return randomIdentifier(rand.Reader)
}

func randomIdentifier(src io.Reader) (string, error) {
	var raw [16]byte
	if _, err := io.ReadFull(src, raw[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(raw[:]), nil
}

// maxIdentifierAttempts bounds regeneration when candidates keep colliding.
const maxIdentifierAttempts = 64

// Registry stores live connections by session identifier.
type Registry struct {
	mu     sync.RWMutex
	items  map[string]*Connection
	nextID IdentifierFunc
	queues QueueConfig
	logger zerolog.Logger
}

func NewRegistry(queues QueueConfig, nextID IdentifierFunc, logger zerolog.Logger) *Registry {
	if nextID == nil {
		nextID = RandomIdentifier
	}
	return &Registry{
		items:  make(map[string]*Connection),
		nextID: nextID,
		queues: queues.withDefaults(),
		logger: logger,
	}
}

// Create registers a new connection under an identifier no live session uses.
func (r *Registry) Create() (*Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for attempt := 0; attempt < maxIdentifierAttempts; attempt++ {
		id, err := r.nextID()
		if err != nil {
			return nil, err
		}
		if _, taken := r.items[id]; taken || id == "" {
			continue
		}
		conn := newConnection(id, r.queues, r.logger)
		r.items[id] = conn
		return conn, nil
	}
	return nil, ErrIdentifierSpace
}

func (r *Registry) Lookup(id string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.items[id]
	return conn, ok
}

// Remove deletes id and returns the connection it mapped to.
func (r *Registry) Remove(id string) (*Connection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.items[id]
	if ok {
		delete(r.items, id)
	}
	return conn, ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}

// IDs returns the live identifiers in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.items))
	for id := range r.items {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
