// SPDX-FileCopyrightText: Copyright 2025 Docsgate Authors
// SPDX-License-Identifier: Apache-2.0

package upstream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/docsgate/docsgate/pkg/logger"
)

// ErrNonceMismatch is returned when the nonce claim in the ID token does
// not match the value sent in the authorization request.
var ErrNonceMismatch = errors.New("ID token nonce does not match expected value")

// ErrNonceMissing is returned when a nonce was sent in the authorization
// request but the ID token carries none.
var ErrNonceMissing = errors.New("ID token missing nonce claim when nonce was expected")

// OIDCConfig configures an OIDC provider. Endpoints are discovered from
// the issuer's /.well-known/openid-configuration document.
type OIDCConfig struct {
	Config

	// Issuer is the URL of the OIDC provider, e.g.
	// https://accounts.google.com.
	Issuer string
}

// Validate checks that OIDCConfig has all required fields.
func (c *OIDCConfig) Validate() error {
	if c.Issuer == "" {
		return errors.New("issuer is required for OIDC providers")
	}
	return c.Config.Validate()
}

// OIDCProvider implements the handshake against an OIDC-compliant
// provider. It embeds OAuth2Provider for the shared OAuth 2.0 mechanics
// and overrides identity resolution with ID-token verification,
// including nonce validation for replay protection.
type OIDCProvider struct {
	*OAuth2Provider

	issuer   string
	verifier *oidc.IDTokenVerifier
}

// NewOIDCProvider creates an OIDC provider. It performs discovery
// against the issuer and wires the discovered endpoints into the
// embedded OAuth 2.0 configuration.
func NewOIDCProvider(ctx context.Context, config *OIDCConfig) (*OIDCProvider, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	httpClient := &http.Client{Timeout: config.timeout()}

	// go-oidc picks up the custom client from the context.
	provider, err := oidc.NewProvider(oidc.ClientContext(ctx, httpClient), config.Issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to discover OIDC endpoints: %w", err)
	}

	scopes := config.Scopes
	if len(scopes) == 0 {
		scopes = []string{"openid", "profile", "email"}
	}
	// Without the openid scope the provider returns no ID token, which
	// this flavor requires for identity resolution.
	if !slices.Contains(scopes, "openid") {
		return nil, errors.New("openid scope is required for OIDC providers; use NewOAuth2Provider for plain OAuth 2.0 flows")
	}

	endpoint := provider.Endpoint()
	// Send client credentials in the request body for consistent
	// behavior across provider implementations.
	endpoint.AuthStyle = oauth2.AuthStyleInParams

	p := &OIDCProvider{
		OAuth2Provider: &OAuth2Provider{
			config:     &config.Config,
			httpClient: httpClient,
			oauthConfig: &oauth2.Config{
				ClientID:     config.ClientID,
				ClientSecret: config.ClientSecret,
				RedirectURL:  config.RedirectURI,
				Scopes:       scopes,
				Endpoint:     endpoint,
			},
		},
		issuer:   config.Issuer,
		verifier: provider.Verifier(&oidc.Config{ClientID: config.ClientID}),
	}

	logger.Debugw("created OIDC provider",
		"issuer", config.Issuer,
		"client_id", config.ClientID,
	)

	return p, nil
}

// Name returns the provider name used in logs.
func (*OIDCProvider) Name() string {
	return "oidc"
}

// Exchange redeems an authorization code for tokens and resolves the
// authenticated identity from the verified ID token. Per OIDC Core
// Section 3.1.3.3 the ID token must be present; its nonce claim must
// match the nonce sent in the authorization request (Section 3.1.3.7).
func (p *OIDCProvider) Exchange(ctx context.Context, code, codeVerifier, nonce string) (*Identity, error) {
	tokens, err := p.exchangeCode(ctx, code, codeVerifier)
	if err != nil {
		return nil, err
	}

	if tokens.IDToken == "" {
		return nil, fmt.Errorf("%w: ID token missing from token response", ErrIdentityResolutionFailed)
	}

	idToken, err := p.verifyIDToken(ctx, tokens.IDToken, nonce)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIdentityResolutionFailed, err)
	}

	var claims struct {
		Email string `json:"email"`
	}
	// Email is best-effort; a claims decode failure is not fatal.
	if err := idToken.Claims(&claims); err != nil {
		logger.Debugw("failed to decode ID token claims", "error", err.Error())
	}

	return &Identity{
		Subject: idToken.Subject,
		Email:   claims.Email,
		Tokens:  tokens,
	}, nil
}

// verifyIDToken validates the ID token signature, issuer, audience, and
// expiry via go-oidc, then checks the nonce claim.
func (p *OIDCProvider) verifyIDToken(ctx context.Context, rawIDToken, nonce string) (*oidc.IDToken, error) {
	token, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("failed to verify ID token: %w", err)
	}

	if nonce != "" {
		if token.Nonce == "" {
			return nil, ErrNonceMissing
		}
		if token.Nonce != nonce {
			return nil, ErrNonceMismatch
		}
	}

	return token, nil
}
