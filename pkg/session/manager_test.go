// SPDX-FileCopyrightText: Copyright 2025 Docsgate Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTransport records Close calls and reports configurable liveness.
type fakeTransport struct {
	mu       sync.Mutex
	closed   int
	liveness bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{liveness: true}
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed++
	return nil
}

func (t *fakeTransport) Alive() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.liveness
}

func (t *fakeTransport) closeCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func newTestManager(t *testing.T, cfg Config) *Manager {
	t.Helper()
	m := NewManager(cfg)
	t.Cleanup(m.Stop)
	return m
}

func TestCreateOrAttach(t *testing.T) {
	t.Parallel()
	m := newTestManager(t, Config{})

	tr := newFakeTransport()
	s, err := m.CreateOrAttach("sess-1", "user-a", tr)
	require.NoError(t, err)
	assert.Equal(t, "sess-1", s.ID())
	assert.Equal(t, "user-a", s.IdentityID())
	assert.Equal(t, 1, m.Len())

	// Attaching again returns the same session.
	again, err := m.CreateOrAttach("sess-1", "user-a", newFakeTransport())
	require.NoError(t, err)
	assert.Same(t, s, again)
	assert.Equal(t, 1, m.Len())
}

func TestCreateOrAttachIdentityImmutable(t *testing.T) {
	t.Parallel()
	m := newTestManager(t, Config{})

	_, err := m.CreateOrAttach("sess-1", "user-a", newFakeTransport())
	require.NoError(t, err)

	// A new login must not take over an existing session.
	_, err = m.CreateOrAttach("sess-1", "user-b", newFakeTransport())
	assert.ErrorIs(t, err, ErrIdentityMismatch)
}

func TestCreateOrAttachValidation(t *testing.T) {
	t.Parallel()
	m := newTestManager(t, Config{})

	_, err := m.CreateOrAttach("", "user-a", nil)
	assert.Error(t, err)

	_, err = m.CreateOrAttach("sess-1", "", nil)
	assert.Error(t, err)
}

func TestTouch(t *testing.T) {
	t.Parallel()
	m := newTestManager(t, Config{})

	s, err := m.CreateOrAttach("sess-1", "user-a", newFakeTransport())
	require.NoError(t, err)

	before := s.LastActivity()
	time.Sleep(10 * time.Millisecond)

	assert.True(t, m.Touch("sess-1"))
	assert.True(t, s.LastActivity().After(before))

	assert.False(t, m.Touch("absent"))
}

func TestClose(t *testing.T) {
	t.Parallel()
	m := newTestManager(t, Config{})

	tr := newFakeTransport()
	_, err := m.CreateOrAttach("sess-1", "user-a", tr)
	require.NoError(t, err)

	m.Close("sess-1", "client-disconnect")

	_, ok := m.Get("sess-1")
	assert.False(t, ok)
	assert.Equal(t, 1, tr.closeCount())

	// Closing an absent session is not an error and closes nothing twice.
	m.Close("sess-1", "again")
	assert.Equal(t, 1, tr.closeCount())
}

func TestIdleSweepClosesStaleSessions(t *testing.T) {
	t.Parallel()
	m := newTestManager(t, Config{
		IdleTimeout:         50 * time.Millisecond,
		SweepInterval:       20 * time.Millisecond,
		HealthProbeInterval: time.Hour,
	})

	stale := newFakeTransport()
	_, err := m.CreateOrAttach("stale", "user-a", stale)
	require.NoError(t, err)

	fresh := newFakeTransport()
	_, err = m.CreateOrAttach("fresh", "user-a", fresh)
	require.NoError(t, err)

	// Keep one session alive across the sweep window.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 20; i++ {
			m.Touch("fresh")
			time.Sleep(10 * time.Millisecond)
		}
	}()

	assert.Eventually(t, func() bool {
		_, ok := m.Get("stale")
		return !ok
	}, time.Second, 10*time.Millisecond)

	<-done
	_, ok := m.Get("fresh")
	assert.True(t, ok, "touched session must survive the sweep")
	assert.Equal(t, 1, stale.closeCount())
	assert.Equal(t, 0, fresh.closeCount())
}

func TestCloseAllForIdentity(t *testing.T) {
	t.Parallel()
	m := newTestManager(t, Config{})

	aliceFirst := newFakeTransport()
	aliceSecond := newFakeTransport()
	bob := newFakeTransport()

	_, err := m.CreateOrAttach("alice-1", "alice", aliceFirst)
	require.NoError(t, err)
	_, err = m.CreateOrAttach("alice-2", "alice", aliceSecond)
	require.NoError(t, err)
	_, err = m.CreateOrAttach("bob-1", "bob", bob)
	require.NoError(t, err)

	closed := m.CloseAllForIdentity("alice", "revoked")
	assert.Equal(t, 2, closed)

	_, ok := m.Get("alice-1")
	assert.False(t, ok)
	_, ok = m.Get("alice-2")
	assert.False(t, ok)

	// Bob's session is untouched.
	_, ok = m.Get("bob-1")
	assert.True(t, ok)
	assert.Equal(t, 0, bob.closeCount())
	assert.Equal(t, 1, aliceFirst.closeCount())
	assert.Equal(t, 1, aliceSecond.closeCount())

	// No sessions left for alice.
	assert.Equal(t, 0, m.CloseAllForIdentity("alice", "revoked"))
}

func TestStopClosesEverySession(t *testing.T) {
	t.Parallel()
	m := NewManager(Config{})

	first := newFakeTransport()
	second := newFakeTransport()
	_, err := m.CreateOrAttach("sess-1", "user-a", first)
	require.NoError(t, err)
	_, err = m.CreateOrAttach("sess-2", "user-b", second)
	require.NoError(t, err)

	m.Stop()

	assert.Equal(t, 0, m.Len())
	assert.Equal(t, 1, first.closeCount())
	assert.Equal(t, 1, second.closeCount())

	// Stop is idempotent.
	m.Stop()
}

func TestConcurrentCreateAndCloseAll(t *testing.T) {
	t.Parallel()
	m := newTestManager(t, Config{})

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			ids := []string{"a", "b", "c", "d"}
			identity := ids[n]
			for j := 0; j < 50; j++ {
				id := identity + "-" + time.Now().Format("150405.000000000")
				_, _ = m.CreateOrAttach(id, identity, newFakeTransport())
				if j%10 == 0 {
					m.CloseAllForIdentity(identity, "test")
				}
			}
		}(i)
	}
	wg.Wait()

	// Drain everything; the table must be consistent.
	for _, identity := range []string{"a", "b", "c", "d"} {
		m.CloseAllForIdentity(identity, "drain")
	}
	assert.Equal(t, 0, m.Len())
}

func TestCreateOrAttachAfterStop(t *testing.T) {
	t.Parallel()
	m := NewManager(Config{})

	_, err := m.CreateOrAttach("sess-1", "user-a", newFakeTransport())
	require.NoError(t, err)

	m.Stop()

	// A stopped manager never admits new sessions, so nothing can
	// outlive the shutdown fan-out.
	_, err = m.CreateOrAttach("sess-2", "user-a", newFakeTransport())
	assert.ErrorIs(t, err, ErrManagerStopped)
	assert.Equal(t, 0, m.Len())
}
