// SPDX-FileCopyrightText: Copyright 2025 Docsgate Authors
// SPDX-License-Identifier: Apache-2.0

package authserver

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Defaults for authentication failure rate limiting.
const (
	DefaultFailureLimit  = 5
	DefaultFailureWindow = 15 * time.Minute
)

// staleAfterWindows controls when an idle limiter entry is dropped,
// expressed in multiples of the failure window.
const staleAfterWindows = 2

// FailureLimiter tracks failed authentication attempts per
// client-identifying key. Each key gets a token bucket sized to the
// failure limit that refills over the window; once a key has burned
// through its bucket, Blocked reports true until tokens regenerate.
type FailureLimiter struct {
	mu          sync.Mutex
	entries     map[string]*failureEntry
	limit       int
	window      time.Duration
	lastCleanup time.Time
}

type failureEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewFailureLimiter creates a limiter allowing limit failures per key
// per window.
func NewFailureLimiter(limit int, window time.Duration) *FailureLimiter {
	return &FailureLimiter{
		entries:     make(map[string]*failureEntry),
		limit:       limit,
		window:      window,
		lastCleanup: time.Now(),
	}
}

// Blocked reports whether key has exhausted its failure budget.
func (l *FailureLimiter) Blocked(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.entries[key]
	if !ok {
		return false
	}
	entry.lastSeen = time.Now()
	return entry.limiter.Tokens() < 1
}

// RecordFailure charges one failed attempt against key.
func (l *FailureLimiter) RecordFailure(key string) {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.entries[key]
	if !ok {
		entry = &failureEntry{
			limiter: rate.NewLimiter(rate.Every(l.window/time.Duration(l.limit)), l.limit),
		}
		l.entries[key] = entry
	}
	entry.lastSeen = now
	entry.limiter.Allow()

	l.cleanupLocked(now)
}

// cleanupLocked drops entries idle for longer than the stale threshold.
// Runs at most once per window to keep RecordFailure cheap.
func (l *FailureLimiter) cleanupLocked(now time.Time) {
	if now.Sub(l.lastCleanup) < l.window {
		return
	}
	l.lastCleanup = now

	staleBefore := now.Add(-staleAfterWindows * l.window)
	for key, entry := range l.entries {
		if entry.lastSeen.Before(staleBefore) {
			delete(l.entries, key)
		}
	}
}
