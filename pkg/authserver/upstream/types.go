// SPDX-FileCopyrightText: Copyright 2025 Docsgate Authors
// SPDX-License-Identifier: Apache-2.0

// Package upstream implements the client side of the bridged login: it
// drives the authorization-code-with-PKCE handshake against an upstream
// identity provider and resolves the provider's notion of identity.
//
// Two provider flavors are supported. OAuth2Provider works against plain
// OAuth 2.0 providers with explicitly configured endpoints and resolves
// identity through a userinfo endpoint. OIDCProvider discovers endpoints
// from the issuer and resolves identity from a verified ID token.
package upstream

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

// DefaultTimeout bounds every network call to the provider.
const DefaultTimeout = 30 * time.Second

// ErrIdentityResolutionFailed is returned when tokens were obtained but
// the provider's identity could not be established.
var ErrIdentityResolutionFailed = errors.New("failed to resolve upstream identity")

// Config holds the settings shared by all provider flavors.
type Config struct {
	// ClientID and ClientSecret identify this server to the provider.
	// ClientSecret may be empty for public-client registrations.
	ClientID     string
	ClientSecret string

	// RedirectURI is this server's callback URL registered with the
	// provider.
	RedirectURI string

	// Scopes requested during authorization.
	Scopes []string

	// Explicit endpoints, required for plain OAuth 2.0 providers.
	// OIDC providers discover these from the issuer instead.
	AuthorizationEndpoint string
	TokenEndpoint         string
	UserInfoEndpoint      string

	// RevocationEndpoint enables best-effort RFC 7009 revocation when
	// set. Optional for all provider flavors.
	RevocationEndpoint string

	// Timeout bounds network calls. Defaults to DefaultTimeout.
	Timeout time.Duration
}

// Validate checks the fields every provider flavor requires.
func (c *Config) Validate() error {
	if c.ClientID == "" {
		return errors.New("client ID is required")
	}
	if c.RedirectURI == "" {
		return errors.New("redirect URI is required")
	}
	if _, err := url.Parse(c.RedirectURI); err != nil {
		return fmt.Errorf("invalid redirect URI: %w", err)
	}
	return nil
}

// validateEndpoints checks the explicit-endpoint fields that plain
// OAuth 2.0 providers require.
func (c *Config) validateEndpoints() error {
	if c.AuthorizationEndpoint == "" {
		return errors.New("authorization endpoint is required")
	}
	if c.TokenEndpoint == "" {
		return errors.New("token endpoint is required")
	}
	if c.UserInfoEndpoint == "" {
		return errors.New("userinfo endpoint is required")
	}
	return nil
}

func (c *Config) timeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return DefaultTimeout
}

// Tokens holds the credentials returned by the provider's token endpoint.
type Tokens struct {
	AccessToken  string
	RefreshToken string
	IDToken      string
	ExpiresAt    time.Time
}

// Identity is the provider's resolved view of the authenticated user.
type Identity struct {
	// Subject is the provider's stable identifier for the user.
	Subject string

	// Email is best-effort and may be empty.
	Email string

	// Tokens are the provider credentials obtained during the exchange.
	Tokens *Tokens
}
