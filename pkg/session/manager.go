// SPDX-FileCopyrightText: Copyright 2025 Docsgate Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/docsgate/docsgate/pkg/logger"
)

// Timer defaults.
const (
	DefaultIdleTimeout         = 30 * time.Minute
	DefaultSweepInterval       = 5 * time.Minute
	DefaultHealthProbeInterval = 2 * time.Minute
)

// ReasonShutdown is the close reason used for every session still open
// when the manager stops.
const ReasonShutdown = "shutdown"

// ReasonIdleTimeout is the close reason used by the idle sweep.
const ReasonIdleTimeout = "idle-timeout"

// ErrIdentityMismatch is returned when CreateOrAttach is called for an
// existing session with a different identity.
var ErrIdentityMismatch = errors.New("session belongs to another identity")

// ErrManagerStopped is returned by CreateOrAttach after Stop.
var ErrManagerStopped = errors.New("session manager is stopped")

// Config holds the manager's timer settings. Zero values take the
// package defaults.
type Config struct {
	IdleTimeout         time.Duration
	SweepInterval       time.Duration
	HealthProbeInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.IdleTimeout == 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	if c.SweepInterval == 0 {
		c.SweepInterval = DefaultSweepInterval
	}
	if c.HealthProbeInterval == 0 {
		c.HealthProbeInterval = DefaultHealthProbeInterval
	}
	return c
}

// Manager owns the session table and the two background timers: the
// idle sweep and the health probe. Both start at construction and stop
// as a unit with Stop.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*ProtocolSession
	stopped  bool

	config Config
	stopCh chan struct{}
	wg     sync.WaitGroup

	stopOnce sync.Once
}

// NewManager creates a session manager and starts its background timers.
func NewManager(cfg Config) *Manager {
	m := &Manager{
		sessions: make(map[string]*ProtocolSession),
		config:   cfg.withDefaults(),
		stopCh:   make(chan struct{}),
	}

	m.wg.Add(2)
	go m.sweepLoop()
	go m.probeLoop()

	return m
}

// CreateOrAttach returns the session for id, creating it when absent.
// Attaching to an existing session refreshes its activity and replaces
// the transport handle; the identity must match the one the session was
// created with.
func (m *Manager) CreateOrAttach(id, identityID string, transport Transport) (*ProtocolSession, error) {
	if id == "" {
		return nil, errors.New("session ID is required")
	}
	if identityID == "" {
		return nil, errors.New("identity ID is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return nil, ErrManagerStopped
	}

	if existing, ok := m.sessions[id]; ok {
		if existing.IdentityID() != identityID {
			return nil, fmt.Errorf("%w: session %s", ErrIdentityMismatch, id)
		}
		if transport != nil {
			existing.attachTransport(transport)
		} else {
			existing.Touch()
		}
		return existing, nil
	}

	s := newProtocolSession(id, identityID, transport)
	m.sessions[id] = s

	logger.Debugw("session created",
		"session_id", id,
		"identity_id", identityID,
	)

	return s, nil
}

// Get returns the session for id without touching it.
func (m *Manager) Get(id string) (*ProtocolSession, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Touch refreshes the activity timestamp for id. Reports whether the
// session exists.
func (m *Manager) Touch(id string) bool {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()

	if !ok {
		return false
	}
	s.Touch()
	return true
}

// Len returns the number of tracked sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Close removes the session and closes its transport, logging the
// reason. Closing an absent session is not an error. Transport close
// failures are logged and treated as already cleaned up; they never
// propagate.
func (m *Manager) Close(id, reason string) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	if !ok {
		return
	}

	// Transport close happens outside the table lock.
	if err := s.closeTransport(); err != nil {
		logger.Warnw("failed to close session transport",
			"session_id", id,
			"error", err.Error(),
		)
	}

	logger.Infow("session closed",
		"session_id", id,
		"identity_id", s.IdentityID(),
		"reason", reason,
	)
}

// CloseAllForIdentity closes every session belonging to identityID,
// leaving other identities' sessions untouched. Returns the number of
// sessions closed. Used when an identity's authorization is revoked or
// its refresh fails irrecoverably.
func (m *Manager) CloseAllForIdentity(identityID, reason string) int {
	// Snapshot matching IDs, then act without holding the table lock.
	m.mu.RLock()
	var ids []string
	for id, s := range m.sessions {
		if s.IdentityID() == identityID {
			ids = append(ids, id)
		}
	}
	m.mu.RUnlock()

	for _, id := range ids {
		m.Close(id, reason)
	}

	if len(ids) > 0 {
		logger.Infow("closed all sessions for identity",
			"identity_id", identityID,
			"count", len(ids),
			"reason", reason,
		)
	}

	return len(ids)
}

// Stop cancels both background timers as a unit, waits for them, and
// closes every open session with reason "shutdown". CreateOrAttach
// fails with ErrManagerStopped afterward.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
		m.wg.Wait()

		// Setting stopped and snapshotting under the same lock means no
		// session can be created after the final close fan-out.
		m.mu.Lock()
		m.stopped = true
		ids := make([]string, 0, len(m.sessions))
		for id := range m.sessions {
			ids = append(ids, id)
		}
		m.mu.Unlock()

		for _, id := range ids {
			m.Close(id, ReasonShutdown)
		}
	})
}

// sweepLoop runs the periodic idle sweep.
func (m *Manager) sweepLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.sweepIdle()
		}
	}
}

// sweepIdle closes every session whose idle time exceeds the timeout.
func (m *Manager) sweepIdle() {
	cutoff := time.Now().Add(-m.config.IdleTimeout)

	m.mu.RLock()
	var idle []string
	for id, s := range m.sessions {
		if s.LastActivity().Before(cutoff) {
			idle = append(idle, id)
		}
	}
	m.mu.RUnlock()

	for _, id := range idle {
		m.Close(id, ReasonIdleTimeout)
	}

	if len(idle) > 0 {
		logger.Infow("idle sweep closed sessions",
			"count", len(idle),
		)
	}
}

// probeLoop runs the periodic health probe.
func (m *Manager) probeLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.config.HealthProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.probeHealth()
		}
	}
}

// probeHealth walks active sessions for liveness bookkeeping. It never
// closes sessions; dead transports are left for the idle sweep.
func (m *Manager) probeHealth() {
	m.mu.RLock()
	snapshot := make([]*ProtocolSession, 0, len(m.sessions))
	for _, s := range m.sessions {
		snapshot = append(snapshot, s)
	}
	m.mu.RUnlock()

	dead := 0
	for _, s := range snapshot {
		if !s.alive() {
			dead++
		}
	}

	logger.Debugw("session health probe",
		"total", len(snapshot),
		"dead_transports", dead,
	)
}
