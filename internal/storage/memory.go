package storage

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Memory is an in-process Store. It is also the reference behavior the
// other drivers follow.
type Memory struct {
	mu         sync.Mutex
	closed     bool
	scheduled  map[string]ScheduledEntry
	dedup      map[string]time.Time
	deliveries []DeliveryRecord
}

func NewMemory() *Memory {
	return &Memory{
		scheduled: map[string]ScheduledEntry{},
		dedup:     map[string]time.Time{},
	}
}

func (m *Memory) PutScheduled(_ context.Context, e ScheduledEntry) error {
	if strings.TrimSpace(e.ID) == "" {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = time.Now()
	}
	m.scheduled[e.ID] = e
	return nil
}

func (m *Memory) DeleteScheduled(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	delete(m.scheduled, id)
	return nil
}

func (m *Memory) ListScheduled(_ context.Context) ([]ScheduledEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	out := make([]ScheduledEntry, 0, len(m.scheduled))
	for _, e := range m.scheduled {
		out = append(out, e)
	}
	sortEntries(out)
	return out, nil
}

func (m *Memory) PutDedup(_ context.Context, key string, until time.Time) error {
	if key == "" {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.dedup[key] = until
	return nil
}

func (m *Memory) GetDedup(_ context.Context, key string) (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return time.Time{}, false, ErrClosed
	}
	until, ok := m.dedup[key]
	return until, ok, nil
}

func (m *Memory) AppendDelivery(_ context.Context, r DeliveryRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.deliveries = append(m.deliveries, r)
	return nil
}

// Deliveries returns a copy of the delivery log.
func (m *Memory) Deliveries() []DeliveryRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]DeliveryRecord(nil), m.deliveries...)
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
