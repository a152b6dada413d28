// SPDX-FileCopyrightText: Copyright 2025 Docsgate Authors
// SPDX-License-Identifier: Apache-2.0

// Package identity bridges provider-issued ephemeral session handles to
// the stable identity the downstream resource API recognizes. It is used
// only when the downstream system requires its own OAuth handshake
// rather than a static service credential.
//
// The bridge persists two kinds of state in the token store: the
// ResourceToken for each stable identity, refreshed transparently with a
// safety buffer, and the ephemeral-session-to-identity mapping recorded
// once per login so that a handle issued mid-flow resolves correctly
// afterward.
package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/docsgate/docsgate/pkg/authserver"
	"github.com/docsgate/docsgate/pkg/authserver/upstream"
	"github.com/docsgate/docsgate/pkg/logger"
	"github.com/docsgate/docsgate/pkg/tokenstore"
)

// ErrNotAuthorized signals that no usable downstream token exists for
// the identity and the caller must restart the login flow.
var ErrNotAuthorized = errors.New("identity: not authorized, a fresh login is required")

// DefaultRefreshBuffer is how long before expiry a resource token is
// refreshed.
const DefaultRefreshBuffer = 5 * time.Minute

// pendingFlowTTL bounds how long an issued auth URL stays redeemable.
const pendingFlowTTL = 10 * time.Minute

// Store key prefixes.
const (
	resourceTokenKeyPrefix = "resource:"
	mappingKeyPrefix       = "mapping:"
	flowStateKeyPrefix     = "flowstate:"
)

// Provider is the downstream OAuth provider contract. Implemented by
// upstream.OAuth2Provider and upstream.OIDCProvider.
type Provider interface {
	AuthorizationURL(state, codeChallenge, nonce string) (string, error)
	Exchange(ctx context.Context, code, codeVerifier, nonce string) (*upstream.Identity, error)
	RefreshTokens(ctx context.Context, refreshToken string) (*upstream.Tokens, error)
	RevokeToken(ctx context.Context, token string) error
}

// Compile-time interface compliance check.
var _ Provider = (*upstream.OAuth2Provider)(nil)

// ResourceToken holds the downstream provider's credentials for one
// stable identity.
type ResourceToken struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
	Scopes       []string  `json:"scopes,omitempty"`
	AuthorizedAt time.Time `json:"authorized_at"`
}

// SessionIdentityMapping records which stable identity an ephemeral
// session handle resolved to.
type SessionIdentityMapping struct {
	EphemeralSessionID string    `json:"ephemeral_session_id"`
	IdentityID         string    `json:"identity_id"`
	CreatedAt          time.Time `json:"created_at"`
}

// flowState correlates an issued auth URL with its originating session.
type flowState struct {
	EphemeralSessionID string    `json:"ephemeral_session_id"`
	CreatedAt          time.Time `json:"created_at"`
}

// AuthRequest is the output of GenerateAuthURL. The caller holds the
// verifier and state until the exchange.
type AuthRequest struct {
	URL      string
	Verifier string
	State    string
}

// Bridge resolves ephemeral session handles to stable identities and
// manages the downstream resource tokens for them.
type Bridge struct {
	store    tokenstore.Store
	provider Provider

	refreshBuffer time.Duration
	refreshGroup  singleflight.Group
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithRefreshBuffer overrides the safety buffer before expiry at which
// tokens are refreshed.
func WithRefreshBuffer(buffer time.Duration) Option {
	return func(b *Bridge) {
		b.refreshBuffer = buffer
	}
}

// New creates an identity bridge over the given store and downstream
// provider.
func New(store tokenstore.Store, provider Provider, opts ...Option) *Bridge {
	b := &Bridge{
		store:         store,
		provider:      provider,
		refreshBuffer: DefaultRefreshBuffer,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// GenerateAuthURL produces a PKCE-protected downstream authorization URL
// for the given ephemeral session. The returned verifier and state must
// be presented again at ExchangeCode.
func (b *Bridge) GenerateAuthURL(ctx context.Context, ephemeralSessionID string) (*AuthRequest, error) {
	if ephemeralSessionID == "" {
		return nil, errors.New("ephemeral session ID is required")
	}

	verifier, err := authserver.GeneratePKCEVerifier()
	if err != nil {
		return nil, fmt.Errorf("failed to generate PKCE verifier: %w", err)
	}
	state, err := authserver.GeneratePKCEVerifier()
	if err != nil {
		return nil, fmt.Errorf("failed to generate state: %w", err)
	}

	record := &flowState{
		EphemeralSessionID: ephemeralSessionID,
		CreatedAt:          time.Now(),
	}
	if err := putRecord(ctx, b.store, flowStateKeyPrefix+state, record, pendingFlowTTL); err != nil {
		return nil, fmt.Errorf("failed to store flow state: %w", err)
	}

	authURL, err := b.provider.AuthorizationURL(state, authserver.ComputePKCEChallenge(verifier), "")
	if err != nil {
		_ = b.store.Delete(ctx, flowStateKeyPrefix+state)
		return nil, fmt.Errorf("failed to build authorization URL: %w", err)
	}

	return &AuthRequest{
		URL:      authURL,
		Verifier: verifier,
		State:    state,
	}, nil
}

// ExchangeCode redeems the downstream authorization code, persists the
// resulting ResourceToken under the resolved stable identity, and
// records the ephemeral-session mapping. Returns the stable identity.
func (b *Bridge) ExchangeCode(ctx context.Context, code, verifier, state, ephemeralSessionID string) (string, error) {
	// Single use, consumed atomically before the network call.
	flow, err := takeRecord[flowState](ctx, b.store, flowStateKeyPrefix+state)
	if err != nil {
		if errors.Is(err, tokenstore.ErrNotFound) {
			return "", errors.New("state is unknown or expired")
		}
		return "", fmt.Errorf("failed to load flow state: %w", err)
	}

	if flow.EphemeralSessionID != ephemeralSessionID {
		return "", errors.New("state was issued for another session")
	}

	resolved, err := b.provider.Exchange(ctx, code, verifier, "")
	if err != nil {
		return "", fmt.Errorf("downstream code exchange failed: %w", err)
	}

	token := &ResourceToken{
		AccessToken:  resolved.Tokens.AccessToken,
		RefreshToken: resolved.Tokens.RefreshToken,
		ExpiresAt:    resolved.Tokens.ExpiresAt,
		AuthorizedAt: time.Now(),
	}
	if err := putRecord(ctx, b.store, resourceTokenKeyPrefix+resolved.Subject, token, tokenstore.NoExpiry); err != nil {
		return "", fmt.Errorf("failed to store resource token: %w", err)
	}

	mapping := &SessionIdentityMapping{
		EphemeralSessionID: ephemeralSessionID,
		IdentityID:         resolved.Subject,
		CreatedAt:          time.Now(),
	}
	if err := putRecord(ctx, b.store, mappingKeyPrefix+ephemeralSessionID, mapping, tokenstore.NoExpiry); err != nil {
		return "", fmt.Errorf("failed to store session identity mapping: %w", err)
	}

	logger.Infow("downstream authorization complete",
		"identity_id", resolved.Subject,
	)

	return resolved.Subject, nil
}

// ResolveIdentity returns the stable identity an ephemeral session
// handle was mapped to, or ErrNotAuthorized when no login happened for
// that handle.
func (b *Bridge) ResolveIdentity(ctx context.Context, ephemeralSessionID string) (string, error) {
	mapping, err := getRecord[SessionIdentityMapping](ctx, b.store, mappingKeyPrefix+ephemeralSessionID)
	if err != nil {
		if errors.Is(err, tokenstore.ErrNotFound) {
			return "", ErrNotAuthorized
		}
		return "", fmt.Errorf("failed to load session identity mapping: %w", err)
	}
	return mapping.IdentityID, nil
}

// GetValidAccessToken returns a non-expired downstream access token for
// the identity, transparently refreshing when the token is within the
// safety buffer of its expiry. Concurrent refreshes for the same
// identity are deduplicated. A failed refresh deletes the stored token
// and returns ErrNotAuthorized so the caller can restart the flow.
func (b *Bridge) GetValidAccessToken(ctx context.Context, identityID string) (string, error) {
	token, err := getRecord[ResourceToken](ctx, b.store, resourceTokenKeyPrefix+identityID)
	if err != nil {
		if errors.Is(err, tokenstore.ErrNotFound) {
			return "", ErrNotAuthorized
		}
		return "", fmt.Errorf("failed to load resource token: %w", err)
	}

	if time.Until(token.ExpiresAt) > b.refreshBuffer {
		return token.AccessToken, nil
	}

	refreshed, err, _ := b.refreshGroup.Do(identityID, func() (any, error) {
		return b.refresh(ctx, identityID, token)
	})
	if err != nil {
		return "", err
	}
	return refreshed.(string), nil
}

// refresh exchanges the refresh token for a fresh set and persists it.
func (b *Bridge) refresh(ctx context.Context, identityID string, token *ResourceToken) (string, error) {
	if token.RefreshToken == "" {
		_ = b.store.Delete(ctx, resourceTokenKeyPrefix+identityID)
		return "", ErrNotAuthorized
	}

	tokens, err := b.provider.RefreshTokens(ctx, token.RefreshToken)
	if err != nil {
		logger.Warnw("downstream token refresh failed",
			"identity_id", identityID,
			"error", err.Error(),
		)
		_ = b.store.Delete(ctx, resourceTokenKeyPrefix+identityID)
		return "", ErrNotAuthorized
	}

	updated := &ResourceToken{
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		ExpiresAt:    tokens.ExpiresAt,
		Scopes:       token.Scopes,
		AuthorizedAt: token.AuthorizedAt,
	}
	if err := putRecord(ctx, b.store, resourceTokenKeyPrefix+identityID, updated, tokenstore.NoExpiry); err != nil {
		return "", fmt.Errorf("failed to store refreshed resource token: %w", err)
	}

	logger.Debugw("downstream token refreshed",
		"identity_id", identityID,
	)

	return updated.AccessToken, nil
}

// Revoke notifies the downstream provider best-effort and
// unconditionally deletes the local tokens for the identity.
func (b *Bridge) Revoke(ctx context.Context, identityID string) error {
	token, err := getRecord[ResourceToken](ctx, b.store, resourceTokenKeyPrefix+identityID)
	if err == nil {
		if revokeErr := b.provider.RevokeToken(ctx, token.RefreshToken); revokeErr != nil {
			logger.Warnw("downstream revocation failed",
				"identity_id", identityID,
				"error", revokeErr.Error(),
			)
		}
	} else if !errors.Is(err, tokenstore.ErrNotFound) {
		return fmt.Errorf("failed to load resource token: %w", err)
	}

	return b.store.Delete(ctx, resourceTokenKeyPrefix+identityID)
}
