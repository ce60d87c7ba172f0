package transcript

import (
	"context"
	"strings"
	"sync"
)

// DefaultMemoryCapacity is the number of records a [MemoryStore] keeps when
// no capacity is given.
const DefaultMemoryCapacity = 1000

// MemoryStore keeps the most recent records in a ring buffer. It implements
// [Sink] and [Reader] and is safe for concurrent use.
type MemoryStore struct {
	mu    sync.RWMutex
	ring  []Record
	next  int
	count int
}

var (
	_ Sink   = (*MemoryStore)(nil)
	_ Reader = (*MemoryStore)(nil)
)

// NewMemoryStore returns a store holding up to capacity records. A
// non-positive capacity selects [DefaultMemoryCapacity].
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = DefaultMemoryCapacity
	}
	return &MemoryStore{ring: make([]Record, capacity)}
}

// Name returns "memory".
func (m *MemoryStore) Name() string { return "memory" }

// Write appends rec, evicting the oldest record when full.
func (m *MemoryStore) Write(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ring[m.next] = rec
	m.next = (m.next + 1) % len(m.ring)
	if m.count < len(m.ring) {
		m.count++
	}
	return nil
}

// Len returns the number of records held.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.count
}

// List returns the records matching q, oldest first. Text matching is a
// case-insensitive check that every word of q.Text occurs in the record text.
func (m *MemoryStore) List(ctx context.Context, q Query) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	terms := strings.Fields(strings.ToLower(q.Text))

	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []Record{}
	start := (m.next - m.count + len(m.ring)) % len(m.ring)
	for k := range m.count {
		rec := m.ring[(start+k)%len(m.ring)]
		if q.StreamID != "" && rec.StreamID != q.StreamID {
			continue
		}
		if !q.Since.IsZero() && rec.CreatedAt.Before(q.Since) {
			continue
		}
		if !containsAll(strings.ToLower(rec.Text), terms) {
			continue
		}
		out = append(out, rec)
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[len(out)-q.Limit:]
	}
	return out, nil
}

func containsAll(text string, terms []string) bool {
	for _, t := range terms {
		if !strings.Contains(text, t) {
			return false
		}
	}
	return true
}
