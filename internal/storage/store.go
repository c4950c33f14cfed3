// Package storage keeps the audit trail of ride events. It is a history,
// never the source of truth for ride state.
package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/example/commute-pool/internal/models"
)

// EventStore persists ride events. Saving the same (ride, version) twice
// is a no-op so replays from the event bus are harmless.
type EventStore interface {
	SaveEvent(ctx context.Context, ev models.RideEvent) error
	// History returns the driver's events, newest first. limit <= 0 means
	// no limit.
	History(ctx context.Context, driverID string, limit int) ([]models.RideEvent, error)
	Close() error
}

type eventKey struct {
	rideID  string
	version int
}

type MemoryStore struct {
	mu     sync.RWMutex
	seen   map[eventKey]struct{}
	events map[string][]models.RideEvent // by driver id
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{seen: make(map[eventKey]struct{}), events: make(map[string][]models.RideEvent)}
}

func (m *MemoryStore) SaveEvent(_ context.Context, ev models.RideEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := eventKey{ev.RideID, ev.Version}
	if _, dup := m.seen[k]; dup {
		return nil
	}
	m.seen[k] = struct{}{}
	m.events[ev.DriverID] = append(m.events[ev.DriverID], ev)
	return nil
}

func (m *MemoryStore) History(_ context.Context, driverID string, limit int) ([]models.RideEvent, error) {
	m.mu.RLock()
	out := append([]models.RideEvent(nil), m.events[driverID]...)
	m.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].At.Equal(out[j].At) {
			return out[i].At.After(out[j].At)
		}
		return out[i].Version > out[j].Version
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) Close() error { return nil }
