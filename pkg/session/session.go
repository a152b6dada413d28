// SPDX-FileCopyrightText: Copyright 2025 Docsgate Authors
// SPDX-License-Identifier: Apache-2.0

// Package session tracks per-connection protocol sessions: it creates
// them on the first authenticated handshake, refreshes their activity
// timestamps, sweeps idle ones, probes liveness, and force-closes every
// session of an identity when its authorization is revoked.
package session

import (
	"sync"
	"time"
)

// Transport is the handle to a session's underlying connection. Close is
// called at most once per session; Alive is consulted by the periodic
// health probe without side effects.
type Transport interface {
	Close() error
	Alive() bool
}

// ProtocolSession is a stateful, identity-bound handle over a persistent
// client connection. The identity never changes after creation; a new
// login requires a new session.
type ProtocolSession struct {
	id         string
	identityID string
	createdAt  time.Time

	mu           sync.Mutex
	transport    Transport
	lastActivity time.Time
	closed       bool
}

func newProtocolSession(id, identityID string, transport Transport) *ProtocolSession {
	now := time.Now()
	return &ProtocolSession{
		id:           id,
		identityID:   identityID,
		createdAt:    now,
		transport:    transport,
		lastActivity: now,
	}
}

// ID returns the session identifier.
func (s *ProtocolSession) ID() string {
	return s.id
}

// IdentityID returns the identity the session was created for.
func (s *ProtocolSession) IdentityID() string {
	return s.identityID
}

// CreatedAt returns the session creation time.
func (s *ProtocolSession) CreatedAt() time.Time {
	return s.createdAt
}

// LastActivity returns the time of the last inbound or outbound message.
func (s *ProtocolSession) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// Touch refreshes the activity timestamp.
func (s *ProtocolSession) Touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// attachTransport replaces the transport handle, e.g. on reconnect.
func (s *ProtocolSession) attachTransport(t Transport) {
	s.mu.Lock()
	s.transport = t
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// alive reports transport liveness for the health probe.
func (s *ProtocolSession) alive() bool {
	s.mu.Lock()
	t := s.transport
	s.mu.Unlock()
	return t != nil && t.Alive()
}

// closeTransport closes the transport exactly once. Never called under
// the manager's table lock.
func (s *ProtocolSession) closeTransport() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	t := s.transport
	s.mu.Unlock()

	if t == nil {
		return nil
	}
	return t.Close()
}
