package history

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultMemoryCapacity bounds the in-memory log.
const DefaultMemoryCapacity = 256

// MemoryStore is a bounded in-memory Store. Once full, the oldest entry is
// dropped on each append. Safe for concurrent use.
type MemoryStore struct {
	mu      sync.Mutex
	entries []Entry
	cap     int
}

// NewMemoryStore creates a MemoryStore holding at most capacity entries.
// Non-positive capacity selects the default.
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = DefaultMemoryCapacity
	}
	return &MemoryStore{cap: capacity}
}

// Append implements Store.
func (m *MemoryStore) Append(ctx context.Context, entry Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries = append(m.entries, entry)
	if len(m.entries) > m.cap {
		m.entries = m.entries[len(m.entries)-m.cap:]
	}
	return nil
}

// Recent implements Store.
func (m *MemoryStore) Recent(ctx context.Context, room string, limit int) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	matched := make([]Entry, 0, limit)
	for i := len(m.entries) - 1; i >= 0 && (limit <= 0 || len(matched) < limit); i-- {
		if room == "" || m.entries[i].Room == room {
			matched = append(matched, m.entries[i])
		}
	}

	// Collected newest-first; flip to chronological order.
	for i, j := 0, len(matched)-1; i < j; i, j = i+1, j-1 {
		matched[i], matched[j] = matched[j], matched[i]
	}
	return matched, nil
}

// Close implements Store.
func (m *MemoryStore) Close() error { return nil }

// Ensure MemoryStore implements Store at compile time.
var _ Store = (*MemoryStore)(nil)
