// SPDX-FileCopyrightText: Copyright 2025 Docsgate Authors
// SPDX-License-Identifier: Apache-2.0

package identity

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docsgate/docsgate/pkg/authserver/upstream"
	"github.com/docsgate/docsgate/pkg/tokenstore"
)

// stubProvider is a canned downstream provider.
type stubProvider struct {
	identity     *upstream.Identity
	exchangeErr  error
	refreshErr   error
	refreshSleep time.Duration

	refreshCalls atomic.Int64
	revokeCalls  atomic.Int64
	revokedToken string
}

func (*stubProvider) AuthorizationURL(state, codeChallenge, _ string) (string, error) {
	return "https://docs.example/oauth/authorize?state=" + state + "&code_challenge=" + codeChallenge, nil
}

func (p *stubProvider) Exchange(context.Context, string, string, string) (*upstream.Identity, error) {
	if p.exchangeErr != nil {
		return nil, p.exchangeErr
	}
	return p.identity, nil
}

func (p *stubProvider) RefreshTokens(context.Context, string) (*upstream.Tokens, error) {
	p.refreshCalls.Add(1)
	if p.refreshSleep > 0 {
		time.Sleep(p.refreshSleep)
	}
	if p.refreshErr != nil {
		return nil, p.refreshErr
	}
	return &upstream.Tokens{
		AccessToken:  "refreshed-access",
		RefreshToken: "refreshed-refresh",
		ExpiresAt:    time.Now().Add(time.Hour),
	}, nil
}

func (p *stubProvider) RevokeToken(_ context.Context, token string) error {
	p.revokeCalls.Add(1)
	p.revokedToken = token
	return nil
}

func newTestBridge(t *testing.T, opts ...Option) (*Bridge, *stubProvider, tokenstore.Store) {
	t.Helper()

	store := tokenstore.NewMemoryStore(tokenstore.WithCleanupInterval(time.Hour))
	t.Cleanup(func() { _ = store.Close() })

	provider := &stubProvider{
		identity: &upstream.Identity{
			Subject: "stable-user",
			Tokens: &upstream.Tokens{
				AccessToken:  "downstream-access",
				RefreshToken: "downstream-refresh",
				ExpiresAt:    time.Now().Add(time.Hour),
			},
		},
	}

	return New(store, provider, opts...), provider, store
}

func TestGenerateAuthURL(t *testing.T) {
	t.Parallel()
	b, _, _ := newTestBridge(t)

	req, err := b.GenerateAuthURL(context.Background(), "ephemeral-1")
	require.NoError(t, err)

	assert.NotEmpty(t, req.Verifier)
	assert.NotEmpty(t, req.State)

	u, err := url.Parse(req.URL)
	require.NoError(t, err)
	assert.Equal(t, req.State, u.Query().Get("state"))
	assert.NotEmpty(t, u.Query().Get("code_challenge"))
}

func TestGenerateAuthURLRequiresSession(t *testing.T) {
	t.Parallel()
	b, _, _ := newTestBridge(t)

	_, err := b.GenerateAuthURL(context.Background(), "")
	assert.Error(t, err)
}

func TestExchangeCodeRecordsMapping(t *testing.T) {
	t.Parallel()
	b, _, _ := newTestBridge(t)
	ctx := context.Background()

	req, err := b.GenerateAuthURL(ctx, "ephemeral-1")
	require.NoError(t, err)

	identityID, err := b.ExchangeCode(ctx, "downstream-code", req.Verifier, req.State, "ephemeral-1")
	require.NoError(t, err)
	assert.Equal(t, "stable-user", identityID)

	// The ephemeral handle now resolves to the stable identity.
	resolved, err := b.ResolveIdentity(ctx, "ephemeral-1")
	require.NoError(t, err)
	assert.Equal(t, "stable-user", resolved)

	// And a usable token is on file.
	token, err := b.GetValidAccessToken(ctx, "stable-user")
	require.NoError(t, err)
	assert.Equal(t, "downstream-access", token)
}

func TestExchangeCodeRejectsUnknownState(t *testing.T) {
	t.Parallel()
	b, _, _ := newTestBridge(t)

	_, err := b.ExchangeCode(context.Background(), "code", "verifier", "never-issued", "ephemeral-1")
	assert.Error(t, err)
}

func TestExchangeCodeRejectsForeignSession(t *testing.T) {
	t.Parallel()
	b, _, _ := newTestBridge(t)
	ctx := context.Background()

	req, err := b.GenerateAuthURL(ctx, "ephemeral-1")
	require.NoError(t, err)

	_, err = b.ExchangeCode(ctx, "code", req.Verifier, req.State, "ephemeral-2")
	assert.Error(t, err)
}

func TestExchangeCodeStateIsSingleUse(t *testing.T) {
	t.Parallel()
	b, _, _ := newTestBridge(t)
	ctx := context.Background()

	req, err := b.GenerateAuthURL(ctx, "ephemeral-1")
	require.NoError(t, err)

	_, err = b.ExchangeCode(ctx, "code", req.Verifier, req.State, "ephemeral-1")
	require.NoError(t, err)

	_, err = b.ExchangeCode(ctx, "code", req.Verifier, req.State, "ephemeral-1")
	assert.Error(t, err)
}

func TestResolveIdentityUnknownHandle(t *testing.T) {
	t.Parallel()
	b, _, _ := newTestBridge(t)

	_, err := b.ResolveIdentity(context.Background(), "unknown")
	assert.ErrorIs(t, err, ErrNotAuthorized)
}

func TestGetValidAccessTokenNoToken(t *testing.T) {
	t.Parallel()
	b, _, _ := newTestBridge(t)

	_, err := b.GetValidAccessToken(context.Background(), "nobody")
	assert.ErrorIs(t, err, ErrNotAuthorized)
}

func TestGetValidAccessTokenRefreshesWithinBuffer(t *testing.T) {
	t.Parallel()
	b, provider, store := newTestBridge(t)
	ctx := context.Background()

	// A token expiring inside the 5-minute buffer.
	token := &ResourceToken{
		AccessToken:  "old-access",
		RefreshToken: "old-refresh",
		ExpiresAt:    time.Now().Add(time.Minute),
		AuthorizedAt: time.Now().Add(-time.Hour),
	}
	require.NoError(t, putRecord(ctx, store, resourceTokenKeyPrefix+"stable-user", token, tokenstore.NoExpiry))

	got, err := b.GetValidAccessToken(ctx, "stable-user")
	require.NoError(t, err)
	assert.Equal(t, "refreshed-access", got)
	assert.EqualValues(t, 1, provider.refreshCalls.Load())

	// The refreshed token is persisted; no second refresh happens.
	got, err = b.GetValidAccessToken(ctx, "stable-user")
	require.NoError(t, err)
	assert.Equal(t, "refreshed-access", got)
	assert.EqualValues(t, 1, provider.refreshCalls.Load())
}

func TestGetValidAccessTokenFailedRefreshDeletesToken(t *testing.T) {
	t.Parallel()
	b, provider, store := newTestBridge(t)
	ctx := context.Background()

	provider.refreshErr = errors.New("provider says no")

	token := &ResourceToken{
		AccessToken:  "old-access",
		RefreshToken: "old-refresh",
		ExpiresAt:    time.Now().Add(time.Minute),
	}
	require.NoError(t, putRecord(ctx, store, resourceTokenKeyPrefix+"stable-user", token, tokenstore.NoExpiry))

	_, err := b.GetValidAccessToken(ctx, "stable-user")
	assert.ErrorIs(t, err, ErrNotAuthorized)

	// The stored token is gone; the next call needs a fresh login.
	_, err = b.GetValidAccessToken(ctx, "stable-user")
	assert.ErrorIs(t, err, ErrNotAuthorized)
}

func TestGetValidAccessTokenMissingRefreshToken(t *testing.T) {
	t.Parallel()
	b, provider, store := newTestBridge(t)
	ctx := context.Background()

	token := &ResourceToken{
		AccessToken: "old-access",
		ExpiresAt:   time.Now().Add(time.Minute),
	}
	require.NoError(t, putRecord(ctx, store, resourceTokenKeyPrefix+"stable-user", token, tokenstore.NoExpiry))

	_, err := b.GetValidAccessToken(ctx, "stable-user")
	assert.ErrorIs(t, err, ErrNotAuthorized)
	assert.EqualValues(t, 0, provider.refreshCalls.Load())
}

func TestConcurrentRefreshIsDeduplicated(t *testing.T) {
	t.Parallel()
	b, provider, store := newTestBridge(t)
	ctx := context.Background()

	provider.refreshSleep = 50 * time.Millisecond

	token := &ResourceToken{
		AccessToken:  "old-access",
		RefreshToken: "old-refresh",
		ExpiresAt:    time.Now().Add(time.Minute),
	}
	require.NoError(t, putRecord(ctx, store, resourceTokenKeyPrefix+"stable-user", token, tokenstore.NoExpiry))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := b.GetValidAccessToken(ctx, "stable-user")
			assert.NoError(t, err)
			assert.Equal(t, "refreshed-access", got)
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, provider.refreshCalls.Load())
}

func TestRevoke(t *testing.T) {
	t.Parallel()
	b, provider, store := newTestBridge(t)
	ctx := context.Background()

	token := &ResourceToken{
		AccessToken:  "access",
		RefreshToken: "refresh",
		ExpiresAt:    time.Now().Add(time.Hour),
	}
	require.NoError(t, putRecord(ctx, store, resourceTokenKeyPrefix+"stable-user", token, tokenstore.NoExpiry))

	require.NoError(t, b.Revoke(ctx, "stable-user"))

	assert.EqualValues(t, 1, provider.revokeCalls.Load())
	assert.Equal(t, "refresh", provider.revokedToken)

	_, err := b.GetValidAccessToken(ctx, "stable-user")
	assert.ErrorIs(t, err, ErrNotAuthorized)
}

func TestRevokeWithoutTokenIsNoop(t *testing.T) {
	t.Parallel()
	b, provider, _ := newTestBridge(t)

	require.NoError(t, b.Revoke(context.Background(), "nobody"))
	assert.EqualValues(t, 0, provider.revokeCalls.Load())
}
