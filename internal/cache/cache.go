// Package cache provides an in-process TTL cache implementing the
// retrieval cache collaborator contract. Expired entries are dropped lazily
// on read and in bulk by Sweep, which the cache sweep worker calls on a
// schedule.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/ceterislabs/ceteris/pkg/retrieval"
)

// Compile-time interface check
var _ retrieval.Cache = (*Memory)(nil)

type entry struct {
	value     any
	expiresAt time.Time
}

// Memory is a TTL map cache safe for concurrent use.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]entry
}

// NewMemory creates an empty cache.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]entry)}
}

// Get returns the cached value when present and unexpired. An expired entry
// is removed on the spot.
func (m *Memory) Get(_ context.Context, key string) (any, bool, error) {
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if time.Now().After(e.expiresAt) {
		m.mu.Lock()
		delete(m.entries, key)
		m.mu.Unlock()
		return nil, false, nil
	}
	return e.value, true, nil
}

// Set stores a value with the given TTL. Non-positive TTLs are rejected by
// evicting any existing entry.
func (m *Memory) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ttl <= 0 {
		delete(m.entries, key)
		return nil
	}
	m.entries[key] = entry{value: value, expiresAt: time.Now().Add(ttl)}
	return nil
}

// Delete removes a key.
func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

// Sweep removes all expired entries and reports how many were dropped.
func (m *Memory) Sweep() int {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()

	dropped := 0
	for key, e := range m.entries {
		if now.After(e.expiresAt) {
			delete(m.entries, key)
			dropped++
		}
	}
	return dropped
}

// Len returns the number of live entries, expired ones included until the
// next sweep.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
