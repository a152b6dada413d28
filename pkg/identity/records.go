// SPDX-FileCopyrightText: Copyright 2025 Docsgate Authors
// SPDX-License-Identifier: Apache-2.0

package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/docsgate/docsgate/pkg/tokenstore"
)

// putRecord serializes v as JSON and stores it under key with the TTL.
func putRecord(ctx context.Context, store tokenstore.Store, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	return store.Set(ctx, key, data, ttl)
}

// getRecord loads and deserializes the record stored under key.
// tokenstore.ErrNotFound passes through unchanged.
func getRecord[T any](ctx context.Context, store tokenstore.Store, key string) (*T, error) {
	data, err := store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("failed to unmarshal record: %w", err)
	}
	return &v, nil
}

// takeRecord atomically consumes and deserializes the record stored
// under key. Exactly one concurrent caller gets the record.
func takeRecord[T any](ctx context.Context, store tokenstore.Store, key string) (*T, error) {
	data, err := store.GetDel(ctx, key)
	if err != nil {
		return nil, err
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("failed to unmarshal record: %w", err)
	}
	return &v, nil
}
