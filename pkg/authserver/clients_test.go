// SPDX-FileCopyrightText: Copyright 2025 Docsgate Authors
// SPDX-License-Identifier: Apache-2.0

package authserver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterClient(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t)
	ctx := context.Background()

	client, err := s.RegisterClient(ctx, "docs-cli", []string{"http://127.0.0.1:8765/callback"})
	require.NoError(t, err)

	assert.NotEmpty(t, client.ID)
	assert.Equal(t, "docs-cli", client.Name)
	assert.Equal(t, []string{"http://127.0.0.1:8765/callback"}, client.RedirectURIs)

	loaded, err := s.GetClient(ctx, client.ID)
	require.NoError(t, err)
	assert.Equal(t, client.ID, loaded.ID)
	assert.Equal(t, client.RedirectURIs, loaded.RedirectURIs)
}

func TestRegisterClientValidation(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t)
	ctx := context.Background()

	tests := []struct {
		name         string
		clientName   string
		redirectURIs []string
	}{
		{"missing name", "", []string{"https://app.example/cb"}},
		{"no redirect URIs", "app", nil},
		{"relative redirect URI", "app", []string{"/callback"}},
		{"fragment in redirect URI", "app", []string{"https://app.example/cb#frag"}},
		{"http on non-loopback host", "app", []string{"http://app.example/cb"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := s.RegisterClient(ctx, tt.clientName, tt.redirectURIs)
			assert.Equal(t, KindInvalidRequest, KindOf(err))
		})
	}
}

func TestRegisterClientAcceptsCustomSchemes(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t)

	client, err := s.RegisterClient(context.Background(), "native-app", []string{
		"com.example.app:/oauth/callback",
		"https://app.example/cb",
		"http://localhost:9999/cb",
	})
	require.NoError(t, err)
	assert.Len(t, client.RedirectURIs, 3)
}

func TestGetClientNotFound(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t)

	_, err := s.GetClient(context.Background(), "nope")
	assert.Equal(t, KindInvalidRequest, KindOf(err))
}

func TestMatchesRedirectURI(t *testing.T) {
	t.Parallel()

	client := &Client{
		RedirectURIs: []string{"https://app.example/cb", "http://localhost:8080/cb"},
	}

	assert.True(t, matchesRedirectURI(client, "https://app.example/cb"))
	assert.False(t, matchesRedirectURI(client, "https://app.example/cb/"))
	assert.False(t, matchesRedirectURI(client, "https://other.example/cb"))
}
