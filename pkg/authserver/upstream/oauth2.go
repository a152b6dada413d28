// SPDX-FileCopyrightText: Copyright 2025 Docsgate Authors
// SPDX-License-Identifier: Apache-2.0

package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/docsgate/docsgate/pkg/logger"
)

// maxResponseSize bounds provider response bodies.
const maxResponseSize = 1 << 20

// OAuth2Provider implements the handshake against a plain OAuth 2.0
// provider with explicitly configured endpoints. Identity is resolved
// through the provider's userinfo endpoint. OIDCProvider embeds this
// type and overrides identity resolution with ID-token verification.
type OAuth2Provider struct {
	config      *Config
	oauthConfig *oauth2.Config
	httpClient  *http.Client
}

// OAuth2ProviderOption configures an OAuth2Provider.
type OAuth2ProviderOption func(*OAuth2Provider)

// WithHTTPClient sets a custom HTTP client, mainly for tests.
func WithHTTPClient(client *http.Client) OAuth2ProviderOption {
	return func(p *OAuth2Provider) {
		p.httpClient = client
	}
}

// NewOAuth2Provider creates a provider for plain OAuth 2.0 endpoints.
// Use NewOIDCProvider for issuers that support OIDC discovery.
func NewOAuth2Provider(config *Config, opts ...OAuth2ProviderOption) (*OAuth2Provider, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if err := config.validateEndpoints(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	p := &OAuth2Provider{
		config:     config,
		httpClient: &http.Client{Timeout: config.timeout()},
		oauthConfig: &oauth2.Config{
			ClientID:     config.ClientID,
			ClientSecret: config.ClientSecret,
			RedirectURL:  config.RedirectURI,
			Scopes:       config.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  config.AuthorizationEndpoint,
				TokenURL: config.TokenEndpoint,
				// Send client credentials in the request body for
				// consistent behavior across provider implementations.
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
	}

	for _, opt := range opts {
		opt(p)
	}

	logger.Debugw("created OAuth2 provider",
		"authorization_endpoint", config.AuthorizationEndpoint,
		"token_endpoint", config.TokenEndpoint,
		"client_id", config.ClientID,
	)

	return p, nil
}

// Name returns the provider name used in logs.
func (*OAuth2Provider) Name() string {
	return "oauth2"
}

// AuthorizationURL builds the URL to redirect the user to the provider.
// The PKCE challenge uses the S256 method; providers without PKCE
// support ignore the parameters per RFC 7636 Section 5. The nonce is
// carried for OIDC providers and ignored by plain OAuth 2.0 ones.
func (p *OAuth2Provider) AuthorizationURL(state, codeChallenge, nonce string) (string, error) {
	if state == "" {
		return "", errors.New("state parameter is required")
	}

	opts := []oauth2.AuthCodeOption{}
	if codeChallenge != "" {
		opts = append(opts,
			oauth2.SetAuthURLParam("code_challenge", codeChallenge),
			oauth2.SetAuthURLParam("code_challenge_method", "S256"),
		)
	}
	if nonce != "" {
		opts = append(opts, oauth2.SetAuthURLParam("nonce", nonce))
	}

	return p.oauthConfig.AuthCodeURL(state, opts...), nil
}

// Exchange redeems an authorization code for tokens and resolves the
// authenticated identity via the userinfo endpoint. The nonce is unused
// here; OIDCProvider validates it against the ID token.
func (p *OAuth2Provider) Exchange(ctx context.Context, code, codeVerifier, _ string) (*Identity, error) {
	tokens, err := p.exchangeCode(ctx, code, codeVerifier)
	if err != nil {
		return nil, err
	}

	info, err := p.fetchUserInfo(ctx, tokens.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIdentityResolutionFailed, err)
	}
	if info.Subject == "" {
		return nil, fmt.Errorf("%w: userinfo response missing subject", ErrIdentityResolutionFailed)
	}

	return &Identity{
		Subject: info.Subject,
		Email:   info.Email,
		Tokens:  tokens,
	}, nil
}

// exchangeCode performs the code-for-token exchange.
func (p *OAuth2Provider) exchangeCode(ctx context.Context, code, codeVerifier string) (*Tokens, error) {
	if code == "" {
		return nil, errors.New("authorization code is required")
	}

	logger.Debugw("exchanging authorization code with provider",
		"token_endpoint", p.oauthConfig.Endpoint.TokenURL,
		"has_pkce_verifier", codeVerifier != "",
	)

	opts := []oauth2.AuthCodeOption{}
	if codeVerifier != "" {
		opts = append(opts, oauth2.SetAuthURLParam("code_verifier", codeVerifier))
	}

	tok, err := p.oauthConfig.Exchange(p.clientContext(ctx), code, opts...)
	if err != nil {
		return nil, fmt.Errorf("token exchange failed: %w", err)
	}

	return tokensFromOAuth2(tok), nil
}

// RefreshTokens redeems a refresh token for a fresh token set. Providers
// that rotate refresh tokens return a new one; otherwise the old token
// is carried forward.
func (p *OAuth2Provider) RefreshTokens(ctx context.Context, refreshToken string) (*Tokens, error) {
	if refreshToken == "" {
		return nil, errors.New("refresh token is required")
	}

	logger.Debugw("refreshing provider tokens",
		"token_endpoint", p.oauthConfig.Endpoint.TokenURL,
	)

	src := p.oauthConfig.TokenSource(p.clientContext(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, fmt.Errorf("token refresh failed: %w", err)
	}

	tokens := tokensFromOAuth2(tok)
	if tokens.RefreshToken == "" {
		tokens.RefreshToken = refreshToken
	}
	return tokens, nil
}

// RevokeToken performs a best-effort RFC 7009 revocation. Providers
// without a configured revocation endpoint are skipped silently; callers
// treat revocation as advisory.
func (p *OAuth2Provider) RevokeToken(ctx context.Context, token string) error {
	if token == "" || p.config.RevocationEndpoint == "" {
		return nil
	}

	form := url.Values{
		"token":     {token},
		"client_id": {p.config.ClientID},
	}
	if p.config.ClientSecret != "" {
		form.Set("client_secret", p.config.ClientSecret)
	}

	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		p.config.RevocationEndpoint,
		strings.NewReader(form.Encode()),
	)
	if err != nil {
		return fmt.Errorf("failed to create revocation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("revocation request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseSize))

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("revocation endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

// userInfo is the subset of userinfo claims this server consumes.
type userInfo struct {
	Subject string `json:"sub"`
	Email   string `json:"email"`
}

// fetchUserInfo resolves the authenticated user via the provider's
// userinfo endpoint.
func (p *OAuth2Provider) fetchUserInfo(ctx context.Context, accessToken string) (*userInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.config.UserInfoEndpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create userinfo request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("userinfo request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read userinfo response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("userinfo endpoint returned status %d", resp.StatusCode)
	}

	var info userInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("failed to parse userinfo response: %w", err)
	}
	return &info, nil
}

// clientContext injects the provider's HTTP client so every oauth2 call
// inherits its timeout.
func (p *OAuth2Provider) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
}

// tokensFromOAuth2 converts an oauth2 token to the internal shape.
func tokensFromOAuth2(tok *oauth2.Token) *Tokens {
	tokens := &Tokens{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry,
	}
	if tokens.ExpiresAt.IsZero() {
		tokens.ExpiresAt = time.Now().Add(time.Hour)
	}
	if raw, ok := tok.Extra("id_token").(string); ok {
		tokens.IDToken = raw
	}
	return tokens
}
