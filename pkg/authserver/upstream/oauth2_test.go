// SPDX-FileCopyrightText: Copyright 2025 Docsgate Authors
// SPDX-License-Identifier: Apache-2.0

package upstream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeProvider is an httptest-backed OAuth 2.0 provider with token and
// userinfo endpoints.
type fakeProvider struct {
	srv *httptest.Server

	tokenStatus   int
	lastTokenForm url.Values
	refreshCalls  int
	revokeCalls   int
}

func newFakeProvider(t *testing.T) *fakeProvider {
	t.Helper()
	f := &fakeProvider{tokenStatus: http.StatusOK}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		f.lastTokenForm = r.PostForm
		if r.PostForm.Get("grant_type") == "refresh_token" {
			f.refreshCalls++
		}
		if f.tokenStatus != http.StatusOK {
			w.WriteHeader(f.tokenStatus)
			_, _ = w.Write([]byte(`{"error": "invalid_grant"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "provider-access",
			"refresh_token": "provider-refresh",
			"token_type":    "Bearer",
			"expires_in":    3600,
		})
	})
	mux.HandleFunc("GET /userinfo", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer provider-access" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"sub":   "subject-42",
			"email": "user@example.com",
		})
	})
	mux.HandleFunc("POST /revoke", func(w http.ResponseWriter, _ *http.Request) {
		f.revokeCalls++
		w.WriteHeader(http.StatusOK)
	})

	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeProvider) config() *Config {
	return &Config{
		ClientID:              "bridge-client",
		ClientSecret:          "bridge-secret",
		RedirectURI:           "https://auth.example/auth/callback",
		Scopes:                []string{"profile"},
		AuthorizationEndpoint: f.srv.URL + "/authorize",
		TokenEndpoint:         f.srv.URL + "/token",
		UserInfoEndpoint:      f.srv.URL + "/userinfo",
		RevocationEndpoint:    f.srv.URL + "/revoke",
	}
}

func TestNewOAuth2ProviderValidation(t *testing.T) {
	t.Parallel()

	_, err := NewOAuth2Provider(nil)
	assert.Error(t, err)

	_, err = NewOAuth2Provider(&Config{ClientID: "id"})
	assert.Error(t, err)

	_, err = NewOAuth2Provider(&Config{
		ClientID:    "id",
		RedirectURI: "https://auth.example/cb",
	})
	assert.Error(t, err) // endpoints missing
}

func TestAuthorizationURLCarriesPKCEAndNonce(t *testing.T) {
	t.Parallel()
	f := newFakeProvider(t)

	p, err := NewOAuth2Provider(f.config())
	require.NoError(t, err)

	raw, err := p.AuthorizationURL("state-1", "challenge-1", "nonce-1")
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	q := u.Query()

	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "bridge-client", q.Get("client_id"))
	assert.Equal(t, "state-1", q.Get("state"))
	assert.Equal(t, "challenge-1", q.Get("code_challenge"))
	assert.Equal(t, "S256", q.Get("code_challenge_method"))
	assert.Equal(t, "nonce-1", q.Get("nonce"))
}

func TestAuthorizationURLRequiresState(t *testing.T) {
	t.Parallel()
	f := newFakeProvider(t)

	p, err := NewOAuth2Provider(f.config())
	require.NoError(t, err)

	_, err = p.AuthorizationURL("", "challenge", "")
	assert.Error(t, err)
}

func TestExchangeResolvesIdentity(t *testing.T) {
	t.Parallel()
	f := newFakeProvider(t)

	p, err := NewOAuth2Provider(f.config())
	require.NoError(t, err)

	identity, err := p.Exchange(context.Background(), "auth-code", "pkce-verifier", "")
	require.NoError(t, err)

	assert.Equal(t, "subject-42", identity.Subject)
	assert.Equal(t, "user@example.com", identity.Email)
	assert.Equal(t, "provider-access", identity.Tokens.AccessToken)
	assert.Equal(t, "provider-refresh", identity.Tokens.RefreshToken)

	// The verifier went to the token endpoint.
	assert.Equal(t, "pkce-verifier", f.lastTokenForm.Get("code_verifier"))
	assert.Equal(t, "authorization_code", f.lastTokenForm.Get("grant_type"))
}

func TestExchangeProviderFailure(t *testing.T) {
	t.Parallel()
	f := newFakeProvider(t)
	f.tokenStatus = http.StatusBadRequest

	p, err := NewOAuth2Provider(f.config())
	require.NoError(t, err)

	_, err = p.Exchange(context.Background(), "auth-code", "verifier", "")
	assert.Error(t, err)
}

func TestRefreshTokens(t *testing.T) {
	t.Parallel()
	f := newFakeProvider(t)

	p, err := NewOAuth2Provider(f.config())
	require.NoError(t, err)

	tokens, err := p.RefreshTokens(context.Background(), "old-refresh")
	require.NoError(t, err)

	assert.Equal(t, "provider-access", tokens.AccessToken)
	assert.Equal(t, "provider-refresh", tokens.RefreshToken)
	assert.Equal(t, 1, f.refreshCalls)
	assert.False(t, tokens.ExpiresAt.IsZero())
}

func TestRefreshTokensRequiresToken(t *testing.T) {
	t.Parallel()
	f := newFakeProvider(t)

	p, err := NewOAuth2Provider(f.config())
	require.NoError(t, err)

	_, err = p.RefreshTokens(context.Background(), "")
	assert.Error(t, err)
}

func TestRevokeToken(t *testing.T) {
	t.Parallel()
	f := newFakeProvider(t)

	p, err := NewOAuth2Provider(f.config())
	require.NoError(t, err)

	require.NoError(t, p.RevokeToken(context.Background(), "provider-refresh"))
	assert.Equal(t, 1, f.revokeCalls)
}

func TestRevokeTokenWithoutEndpointIsNoop(t *testing.T) {
	t.Parallel()
	f := newFakeProvider(t)

	cfg := f.config()
	cfg.RevocationEndpoint = ""
	p, err := NewOAuth2Provider(cfg)
	require.NoError(t, err)

	assert.NoError(t, p.RevokeToken(context.Background(), "anything"))
	assert.Equal(t, 0, f.revokeCalls)
}
