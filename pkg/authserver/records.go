// SPDX-FileCopyrightText: Copyright 2025 Docsgate Authors
// SPDX-License-Identifier: Apache-2.0

package authserver

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/docsgate/docsgate/pkg/tokenstore"
)

// Store key prefixes. Records of different types never collide because
// every key carries its type prefix.
const (
	authCodeKeyPrefix     = "code:"
	accessTokenKeyPrefix  = "access:"
	refreshTokenKeyPrefix = "refresh:"
	clientKeyPrefix       = "client:"
	pendingAuthKeyPrefix  = "pending:"
)

// Default lifetimes for issued credentials.
const (
	DefaultAuthCodeTTL     = 10 * time.Minute
	DefaultAccessTokenTTL  = time.Hour
	DefaultRefreshTokenTTL = 30 * 24 * time.Hour
	DefaultPendingAuthTTL  = 10 * time.Minute
)

// AuthorizationCode is a single-use code bound to the client's PKCE
// challenge and the resolved identity. It is deleted on the first
// exchange attempt regardless of outcome.
type AuthorizationCode struct {
	Code                string    `json:"code"`
	ClientID            string    `json:"client_id"`
	RedirectURI         string    `json:"redirect_uri"`
	Scope               string    `json:"scope,omitempty"`
	CodeChallenge       string    `json:"code_challenge"`
	CodeChallengeMethod string    `json:"code_challenge_method"`
	IdentityID          string    `json:"identity_id"`
	ExpiresAt           time.Time `json:"expires_at"`
}

// AccessToken is a short-lived bearer credential.
type AccessToken struct {
	Token      string    `json:"token"`
	IdentityID string    `json:"identity_id"`
	ClientID   string    `json:"client_id"`
	Scope      string    `json:"scope,omitempty"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// RefreshToken is a longer-lived credential rotated on every use.
type RefreshToken struct {
	Token      string    `json:"token"`
	IdentityID string    `json:"identity_id"`
	ClientID   string    `json:"client_id"`
	Scope      string    `json:"scope,omitempty"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Client is a registered public OAuth client. Public clients carry no
// secret; PKCE substitutes for client authentication.
type Client struct {
	ID           string    `json:"client_id"`
	Name         string    `json:"client_name"`
	RedirectURIs []string  `json:"redirect_uris"`
	CreatedAt    time.Time `json:"created_at"`
}

// PendingAuthorization holds the state of an in-flight authorization
// between the client's /authorize request and the upstream callback. It
// is keyed by the internal state value and consumed on first use.
type PendingAuthorization struct {
	ClientID            string    `json:"client_id"`
	RedirectURI         string    `json:"redirect_uri"`
	State               string    `json:"state,omitempty"`
	Scope               string    `json:"scope,omitempty"`
	CodeChallenge       string    `json:"code_challenge"`
	CodeChallengeMethod string    `json:"code_challenge_method"`
	UpstreamVerifier    string    `json:"upstream_verifier"`
	UpstreamNonce       string    `json:"upstream_nonce"`
	CreatedAt           time.Time `json:"created_at"`
}

// expired reports whether a record's expiry has passed. A zero expiry
// never expires. The store's TTL already enforces expiry; this is the
// record-level check for backends whose clock may lag.
func expired(at time.Time) bool {
	return !at.IsZero() && !time.Now().Before(at)
}

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
// under key. Exactly one concurrent caller gets the record; the rest
// get tokenstore.ErrNotFound.
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
