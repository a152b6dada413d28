// SPDX-FileCopyrightText: Copyright 2025 Docsgate Authors
// SPDX-License-Identifier: Apache-2.0

package tokenstore

import (
	"context"
	"sync"
	"time"

	"github.com/docsgate/docsgate/pkg/logger"
)

// DefaultCleanupInterval is how often the background cleanup runs.
const DefaultCleanupInterval = 5 * time.Minute

// timedEntry wraps a value with its expiry for TTL tracking. A zero
// expiresAt means the entry does not expire.
type timedEntry struct {
	value     []byte
	expiresAt time.Time
}

func (e *timedEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// MemoryStore implements Store with an in-process map. TTLs are enforced by
// expiry timestamps checked on read plus a periodic cleanup sweep. It is
// safe for concurrent use.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*timedEntry

	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	cleanupDone     chan struct{}
}

// MemoryStoreOption configures a MemoryStore instance.
type MemoryStoreOption func(*MemoryStore)

// WithCleanupInterval sets a custom cleanup interval.
func WithCleanupInterval(interval time.Duration) MemoryStoreOption {
	return func(s *MemoryStore) {
		s.cleanupInterval = interval
	}
}

// NewMemoryStore creates a MemoryStore and starts its background cleanup
// goroutine. Callers must Close the store to stop the goroutine.
func NewMemoryStore(opts ...MemoryStoreOption) *MemoryStore {
	s := &MemoryStore{
		entries:         make(map[string]*timedEntry),
		cleanupInterval: DefaultCleanupInterval,
		stopCleanup:     make(chan struct{}),
		cleanupDone:     make(chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	go s.cleanupLoop()

	return s
}

// Set stores value under key with the given TTL.
func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		return ErrInvalidTTL
	}

	entry := &timedEntry{value: append([]byte(nil), value...)}
	if ttl != NoExpiry {
		entry.expiresAt = time.Now().Add(ttl)
	}

	s.mu.Lock()
	s.entries[key] = entry
	s.mu.Unlock()
	return nil
}

// Get returns the value for key. An expired entry behaves as absent and is
// purged eagerly.
func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	now := time.Now()

	s.mu.RLock()
	entry, ok := s.entries[key]
	s.mu.RUnlock()

	if !ok {
		return nil, ErrNotFound
	}

	if entry.expired(now) {
		// Purge under the write lock; re-check in case of concurrent Set.
		s.mu.Lock()
		if cur, ok := s.entries[key]; ok && cur.expired(time.Now()) {
			delete(s.entries, key)
		}
		s.mu.Unlock()
		return nil, ErrNotFound
	}

	return append([]byte(nil), entry.value...), nil
}

// GetDel returns the value for key and removes the entry in one step
// under the write lock, so concurrent callers cannot both observe it.
func (s *MemoryStore) GetDel(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	entry, ok := s.entries[key]
	if ok {
		delete(s.entries, key)
	}
	s.mu.Unlock()

	if !ok || entry.expired(time.Now()) {
		return nil, ErrNotFound
	}
	return append([]byte(nil), entry.value...), nil
}

// Delete removes the entry for key.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
	return nil
}

// Ping is a no-op for in-memory storage since it is always available.
func (*MemoryStore) Ping(_ context.Context) error {
	return nil
}

// Close stops the background cleanup goroutine and waits for it to finish.
func (s *MemoryStore) Close() error {
	close(s.stopCleanup)
	<-s.cleanupDone
	return nil
}

// Len returns the number of live entries. Used by tests and stats.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// cleanupLoop runs periodic cleanup of expired entries.
func (s *MemoryStore) cleanupLoop() {
	defer close(s.cleanupDone)

	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCleanup:
			return
		case <-ticker.C:
			s.cleanupExpired()
		}
	}
}

// cleanupExpired removes all expired entries. Expired keys are collected
// under the read lock and deleted under the write lock, which keeps the
// write lock hold time short.
func (s *MemoryStore) cleanupExpired() {
	now := time.Now()

	s.mu.RLock()
	var expired []string
	for k, v := range s.entries {
		if v.expired(now) {
			expired = append(expired, k)
		}
	}
	s.mu.RUnlock()

	if len(expired) == 0 {
		return
	}

	s.mu.Lock()
	for _, k := range expired {
		if cur, ok := s.entries[k]; ok && cur.expired(now) {
			delete(s.entries, k)
		}
	}
	s.mu.Unlock()

	logger.Debugw("purged expired store entries", "count", len(expired))
}

// Compile-time interface compliance check.
var _ Store = (*MemoryStore)(nil)
