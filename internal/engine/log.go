package engine

import (
	"context"
	"sync"
)

// DecisionLog is the append-only audit record consumed by the dashboard.
// Every decision the engine produces is appended, whatever its outcome.
type DecisionLog interface {
	Append(ctx context.Context, d Decision) error
	Recent(ctx context.Context, limit int) ([]Decision, error)
}

// MemoryLog is a bounded in-memory decision log used in dry mode and tests.
type MemoryLog struct {
	mu       sync.RWMutex
	capacity int
	entries  []Decision
}

// NewMemoryLog creates a log retaining at most capacity decisions.
func NewMemoryLog(capacity int) *MemoryLog {
	if capacity <= 0 {
		capacity = 1000
	}
	return &MemoryLog{capacity: capacity}
}

// Append stores the decision, evicting the oldest entry past capacity.
func (m *MemoryLog) Append(ctx context.Context, d Decision) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries = append(m.entries, d)
	if len(m.entries) > m.capacity {
		m.entries = m.entries[len(m.entries)-m.capacity:]
	}
	return nil
}

// Recent returns up to limit decisions, newest first.
func (m *MemoryLog) Recent(ctx context.Context, limit int) ([]Decision, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 || limit > len(m.entries) {
		limit = len(m.entries)
	}
	out := make([]Decision, 0, limit)
	for i := len(m.entries) - 1; i >= len(m.entries)-limit; i-- {
		out = append(out, m.entries[i])
	}
	return out, nil
}
