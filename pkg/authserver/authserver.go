// SPDX-FileCopyrightText: Copyright 2025 Docsgate Authors
// SPDX-License-Identifier: Apache-2.0

// Package authserver implements the OAuth 2.0 authorization bridge: it
// proxies a single upstream login flow, mints its own single-use
// authorization codes bound to the caller's PKCE challenge, exchanges
// them for access/refresh token pairs, rotates refresh tokens, and
// answers introspection queries. All state lives in an injected
// tokenstore.Store, so the backing store is swappable without touching
// call sites.
package authserver

import (
	"context"
	"time"

	"github.com/docsgate/docsgate/pkg/authserver/upstream"
	"github.com/docsgate/docsgate/pkg/tokenstore"
)

// UpstreamProvider is the upstream identity provider contract consumed
// by the authorization flow.
type UpstreamProvider interface {
	// Name identifies the provider flavor in logs.
	Name() string

	// AuthorizationURL builds the provider login URL for the given
	// state, S256 PKCE challenge, and nonce.
	AuthorizationURL(state, codeChallenge, nonce string) (string, error)

	// Exchange redeems the provider's authorization code and resolves
	// the authenticated identity.
	Exchange(ctx context.Context, code, codeVerifier, nonce string) (*upstream.Identity, error)
}

// Compile-time interface compliance checks.
var (
	_ UpstreamProvider = (*upstream.OAuth2Provider)(nil)
	_ UpstreamProvider = (*upstream.OIDCProvider)(nil)
)

// Config holds the authorization server settings.
type Config struct {
	// Issuer is this server's externally visible base URL, used in
	// discovery metadata and callback construction.
	Issuer string

	// Credential lifetimes. Zero values take the package defaults.
	AuthCodeTTL     time.Duration
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	PendingAuthTTL  time.Duration

	// FailureLimit and FailureWindow bound failed authentication
	// attempts per client-identifying key before requests are answered
	// with 429. Zero values take the package defaults.
	FailureLimit  int
	FailureWindow time.Duration
}

func (c Config) withDefaults() Config {
	if c.AuthCodeTTL == 0 {
		c.AuthCodeTTL = DefaultAuthCodeTTL
	}
	if c.AccessTokenTTL == 0 {
		c.AccessTokenTTL = DefaultAccessTokenTTL
	}
	if c.RefreshTokenTTL == 0 {
		c.RefreshTokenTTL = DefaultRefreshTokenTTL
	}
	if c.PendingAuthTTL == 0 {
		c.PendingAuthTTL = DefaultPendingAuthTTL
	}
	if c.FailureLimit == 0 {
		c.FailureLimit = DefaultFailureLimit
	}
	if c.FailureWindow == 0 {
		c.FailureWindow = DefaultFailureWindow
	}
	return c
}

// Server is the authorization server. It owns no background goroutines;
// all expiry is delegated to the store's TTLs.
type Server struct {
	store    tokenstore.Store
	upstream UpstreamProvider
	config   Config
	limiter  *FailureLimiter
}

// New creates an authorization server over the given store and upstream
// provider.
func New(store tokenstore.Store, up UpstreamProvider, cfg Config) *Server {
	cfg = cfg.withDefaults()
	return &Server{
		store:    store,
		upstream: up,
		config:   cfg,
		limiter:  NewFailureLimiter(cfg.FailureLimit, cfg.FailureWindow),
	}
}
