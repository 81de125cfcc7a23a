package queue

import (
	"context"
	"sort"
	"sync"
	"time"
)

var _ Storage = (*MemoryStorage)(nil)

// MemoryStorage is a non-durable Storage for tests and dry runs.
type MemoryStorage struct {
	mu    sync.Mutex
	seq   int64
	items []Item

	// FailAppend, when set, is returned by every Append.
	FailAppend error
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{}
}

func (m *MemoryStorage) Append(_ context.Context, item Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailAppend != nil {
		return m.FailAppend
	}
	for _, existing := range m.items {
		if existing.Owner == item.Owner && existing.IdempotencyKey == item.IdempotencyKey {
			return ErrDuplicate
		}
	}
	m.seq++
	item.Seq = m.seq
	item.Payload = append([]byte(nil), item.Payload...)
	m.items = append(m.items, item)
	return nil
}

func (m *MemoryStorage) Pending(_ context.Context, owner string) ([]Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Item
	for _, item := range m.items {
		if item.Owner == owner {
			out = append(out, item)
		}
	}
	return out, nil
}

func (m *MemoryStorage) Remove(_ context.Context, owner, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	i := m.find(owner, key)
	if i < 0 {
		return ErrNotQueued
	}
	m.items = append(m.items[:i], m.items[i+1:]...)
	return nil
}

func (m *MemoryStorage) Claim(_ context.Context, owner, key string, at, staleBefore time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	i := m.find(owner, key)
	if i < 0 {
		return ErrNotQueued
	}
	if live(m.items[i].ClaimedAt, staleBefore) {
		return ErrInFlight
	}
	m.items[i].ClaimedAt = at
	return nil
}

func (m *MemoryStorage) Release(_ context.Context, owner, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if i := m.find(owner, key); i >= 0 {
		m.items[i].ClaimedAt = time.Time{}
	}
	return nil
}

func (m *MemoryStorage) Withdraw(_ context.Context, owner, key string, staleBefore time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	i := m.find(owner, key)
	if i < 0 {
		return ErrNotQueued
	}
	if live(m.items[i].ClaimedAt, staleBefore) {
		return ErrInFlight
	}
	m.items = append(m.items[:i], m.items[i+1:]...)
	return nil
}

func (m *MemoryStorage) find(owner, key string) int {
	for i, item := range m.items {
		if item.Owner == owner && item.IdempotencyKey == key {
			return i
		}
	}
	return -1
}

func live(claimedAt, staleBefore time.Time) bool {
	return !claimedAt.IsZero() && !claimedAt.Before(staleBefore)
}

func (m *MemoryStorage) Purge(_ context.Context, owner string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.items[:0]
	removed := 0
	for _, item := range m.items {
		if item.Owner == owner {
			removed++
			continue
		}
		kept = append(kept, item)
	}
	m.items = kept
	return removed, nil
}

func (m *MemoryStorage) Owners(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[string]bool)
	var owners []string
	for _, item := range m.items {
		if !seen[item.Owner] {
			seen[item.Owner] = true
			owners = append(owners, item.Owner)
		}
	}
	sort.Strings(owners)
	return owners, nil
}
