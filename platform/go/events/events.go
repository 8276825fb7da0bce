// Package events publishes store lifecycle notifications. Publishing is
// best-effort by policy: the provisioning pipeline and health monitor log and
// continue when a publish fails, so a broker outage never blocks activation
// or demotion of a store.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event types emitted by the tenant database subsystem.
const (
	TypeStoreActivated = "store.activated"
	TypeStoreDemoted   = "store.demoted"
	TypeStoreDeleted   = "store.deleted"
)

// Event describes a store lifecycle transition.
type Event struct {
	Type    string    `json:"type"`
	StoreID uuid.UUID `json:"store_id"`
	At      time.Time `json:"at"`
	Detail  string    `json:"detail,omitempty"`
}

type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Noop discards events; used when no broker is configured.
type Noop struct{}

func (Noop) Publish(context.Context, Event) error { return nil }

// Memory records events in-process for tests.
type Memory struct {
	mu     sync.Mutex
	events []Event
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Publish(_ context.Context, event Event) error {
	m.mu.Lock()
	m.events = append(m.events, event)
	m.mu.Unlock()
	return nil
}

// Events returns a copy of everything published so far.
func (m *Memory) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}

var (
	_ Publisher = Noop{}
	_ Publisher = (*Memory)(nil)
)
