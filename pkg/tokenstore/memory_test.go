// SPDX-FileCopyrightText: Copyright 2025 Docsgate Authors
// SPDX-License-Identifier: Apache-2.0

package tokenstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMemoryStore(t *testing.T) *MemoryStore {
	t.Helper()
	s := NewMemoryStore(WithCleanupInterval(10 * time.Millisecond))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestMemoryStoreSetGet(t *testing.T) {
	t.Parallel()
	s := newTestMemoryStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "code:abc", []byte("payload"), time.Minute))

	got, err := s.Get(ctx, "code:abc")
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), got)
}

func TestMemoryStoreMissingKey(t *testing.T) {
	t.Parallel()
	s := newTestMemoryStore(t)

	_, err := s.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreExpiredBehavesAsAbsent(t *testing.T) {
	t.Parallel()
	s := NewMemoryStore(WithCleanupInterval(time.Hour)) // cleanup never fires during the test
	t.Cleanup(func() { _ = s.Close() })
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "short", []byte("v"), 20*time.Millisecond))
	time.Sleep(40 * time.Millisecond)

	_, err := s.Get(ctx, "short")
	assert.ErrorIs(t, err, ErrNotFound)

	// The read must have purged the entry eagerly.
	assert.Equal(t, 0, s.Len())
}

func TestMemoryStoreNoExpiry(t *testing.T) {
	t.Parallel()
	s := newTestMemoryStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "client:1", []byte("v"), NoExpiry))
	time.Sleep(30 * time.Millisecond)

	got, err := s.Get(ctx, "client:1")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)
}

func TestMemoryStoreDelete(t *testing.T) {
	t.Parallel()
	s := newTestMemoryStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k", []byte("v"), time.Minute))
	require.NoError(t, s.Delete(ctx, "k"))

	_, err := s.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)

	// Deleting an absent key is not an error.
	assert.NoError(t, s.Delete(ctx, "k"))
}

func TestMemoryStoreNegativeTTL(t *testing.T) {
	t.Parallel()
	s := newTestMemoryStore(t)

	err := s.Set(context.Background(), "k", []byte("v"), -time.Second)
	assert.ErrorIs(t, err, ErrInvalidTTL)
}

func TestMemoryStoreCleanupSweep(t *testing.T) {
	t.Parallel()
	s := newTestMemoryStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "a", []byte("v"), 15*time.Millisecond))
	require.NoError(t, s.Set(ctx, "b", []byte("v"), time.Minute))

	assert.Eventually(t, func() bool {
		return s.Len() == 1
	}, time.Second, 10*time.Millisecond)
}

func TestMemoryStoreOverwriteResetsTTL(t *testing.T) {
	t.Parallel()
	s := newTestMemoryStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k", []byte("v1"), 20*time.Millisecond))
	require.NoError(t, s.Set(ctx, "k", []byte("v2"), time.Minute))
	time.Sleep(40 * time.Millisecond)

	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), got)
}

func TestMemoryStoreGetDel(t *testing.T) {
	t.Parallel()
	s := newTestMemoryStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "code:once", []byte("payload"), time.Minute))

	got, err := s.GetDel(ctx, "code:once")
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), got)

	// The entry is gone after the first consume.
	_, err = s.GetDel(ctx, "code:once")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Get(ctx, "code:once")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreGetDelExpired(t *testing.T) {
	t.Parallel()
	s := NewMemoryStore(WithCleanupInterval(time.Hour))
	t.Cleanup(func() { _ = s.Close() })
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "short", []byte("v"), 20*time.Millisecond))
	time.Sleep(40 * time.Millisecond)

	_, err := s.GetDel(ctx, "short")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreGetDelConcurrent(t *testing.T) {
	t.Parallel()
	s := newTestMemoryStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "code:raced", []byte("payload"), time.Minute))

	const workers = 8
	wins := make(chan struct{}, workers)

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			if _, err := s.GetDel(ctx, "code:raced"); err == nil {
				wins <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(wins)

	assert.Len(t, wins, 1, "exactly one caller may consume the entry")
}
