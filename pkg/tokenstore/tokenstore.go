// SPDX-FileCopyrightText: Copyright 2025 Docsgate Authors
// SPDX-License-Identifier: Apache-2.0

// Package tokenstore provides the keyed TTL store that backs authorization
// codes, access and refresh tokens, resource tokens, and session-identity
// mappings.
//
// Two backends implement the same contract: an in-process volatile map and a
// Redis-backed durable store. Selection happens once at startup; callers
// depend only on the Store interface and may not assume which backend is
// active.
package tokenstore

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key is absent or its entry has expired.
// Expired entries are indistinguishable from absent ones.
var ErrNotFound = errors.New("tokenstore: key not found")

// NoExpiry can be passed as the TTL for entries that should not expire,
// such as registered clients and identity mappings.
const NoExpiry time.Duration = 0

// Store is the TTL key-value contract shared by all backends.
//
// A Get that observes an expired entry must behave as if the key were absent
// and purge the entry. Mutations are atomic upserts and deletes; callers
// never perform read-modify-write against the same key concurrently.
type Store interface {
	// Set stores value under key. A ttl of NoExpiry means the entry
	// does not expire; otherwise ttl must be strictly positive.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Get returns the value stored under key, or ErrNotFound if the key
	// is absent or expired.
	Get(ctx context.Context, key string) ([]byte, error)

	// GetDel atomically returns the value stored under key and removes
	// the entry. At most one concurrent caller observes the value; the
	// rest get ErrNotFound. Single-use credentials (authorization codes,
	// refresh tokens, flow state) are consumed through this.
	GetDel(ctx context.Context, key string) ([]byte, error)

	// Delete removes the entry for key. Deleting an absent key is not an
	// error.
	Delete(ctx context.Context, key string) error

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases backend resources and stops background work.
	Close() error
}

// ErrInvalidTTL is returned when a negative TTL is passed to Set.
var ErrInvalidTTL = errors.New("tokenstore: ttl must be NoExpiry or positive")
