// Package revision records the last git revision the agent has
// processed, behind a small load/save interface so that
// restart-resilience is a pluggable concern.
package revision

import (
	"context"
	"sync"
)

// State is the revision high-water mark. The poll loop reads it once
// at startup and writes it once per successful cycle.
type State interface {
	// GetRevision fetches the recorded revision, returning an empty
	// string if none has been recorded yet.
	GetRevision(ctx context.Context) (string, error)
	// UpdateMarker records the high water mark.
	UpdateMarker(ctx context.Context, revision string) error
	// DeleteMarker removes the high water mark.
	DeleteMarker(ctx context.Context) error
	// String returns a string representation of where the state is
	// recorded (e.g., for referring to it in logs).
	String() string
}

// Memory is a State kept only in process memory: every agent restart
// is a first sync. Used in tests and available with --state-mode=memory.
type Memory struct {
	mu       sync.Mutex
	revision string
}

func NewMemory() *Memory { return &Memory{} }

func (m *Memory) GetRevision(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.revision, nil
}

func (m *Memory) UpdateMarker(ctx context.Context, revision string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.revision = revision
	return nil
}

func (m *Memory) DeleteMarker(ctx context.Context) error {
	return m.UpdateMarker(ctx, "")
}

func (m *Memory) String() string { return "memory" }
