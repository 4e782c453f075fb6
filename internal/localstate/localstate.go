// Package localstate persists the client's durable state between runs.
package localstate

import (
	"context"
	"sync"
)

// Keys stored by the client.
const (
	KeyToken      = "token"
	KeyGuestCount = "guest_message_count"
	KeyGuestCap   = "guest_message_cap"
	KeyGuestID    = "guest_id"
)

// Snapshot is the durable client state read once at startup.
type Snapshot struct {
	Token      string
	GuestCount int
	GuestCap   int
	GuestID    string
}

// Store defines client-local persistent storage.
// Every write is applied atomically: either all keys of a call change or none do.
type Store interface {
	// Load reads the full durable state.
	Load(ctx context.Context) (Snapshot, error)

	// SaveToken persists the auth token. An empty token removes it.
	SaveToken(ctx context.Context, token string) error

	// SaveGuest persists the guest counter and the learned cap together.
	SaveGuest(ctx context.Context, count, limit int) error

	// SaveGuestID persists the guest identity sent to the gateway.
	SaveGuestID(ctx context.Context, id string) error

	// Close releases resources.
	Close() error
}

// Memory is an in-process Store used by tests and ephemeral sessions.
type Memory struct {
	mu   sync.Mutex
	snap Snapshot
}

// NewMemory creates a Memory store seeded with snap.
func NewMemory(snap Snapshot) *Memory {
	return &Memory{snap: snap}
}

// Load implements Store.
func (m *Memory) Load(_ context.Context) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap, nil
}

// SaveToken implements Store.
func (m *Memory) SaveToken(_ context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap.Token = token
	return nil
}

// SaveGuest implements Store.
func (m *Memory) SaveGuest(_ context.Context, count, limit int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap.GuestCount = count
	m.snap.GuestCap = limit
	return nil
}

// SaveGuestID implements Store.
func (m *Memory) SaveGuestID(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap.GuestID = id
	return nil
}

// Close implements Store.
func (m *Memory) Close() error { return nil }
