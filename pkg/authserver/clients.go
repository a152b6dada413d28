// SPDX-FileCopyrightText: Copyright 2025 Docsgate Authors
// SPDX-License-Identifier: Apache-2.0

package authserver

import (
	"context"
	"errors"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/docsgate/docsgate/pkg/logger"
	"github.com/docsgate/docsgate/pkg/tokenstore"
)

// maxRedirectURIs bounds the number of redirect URIs a single client may
// register.
const maxRedirectURIs = 10

// RegisterClient auto-approves a public client registration (RFC 7591)
// and returns the generated client. Public clients carry no secret; the
// PKCE requirement on /authorize substitutes for client authentication.
func (s *Server) RegisterClient(ctx context.Context, name string, redirectURIs []string) (*Client, error) {
	if name == "" {
		return nil, NewError(KindInvalidRequest, "client_name is required")
	}
	if len(redirectURIs) == 0 {
		return nil, NewError(KindInvalidRequest, "at least one redirect URI is required")
	}
	if len(redirectURIs) > maxRedirectURIs {
		return nil, NewError(KindInvalidRequest, "too many redirect URIs")
	}
	for _, uri := range redirectURIs {
		if err := validateRedirectURI(uri); err != nil {
			return nil, NewError(KindInvalidRequest, "invalid redirect URI: "+uri)
		}
	}

	client := &Client{
		ID:           uuid.NewString(),
		Name:         name,
		RedirectURIs: append([]string(nil), redirectURIs...),
		CreatedAt:    time.Now(),
	}

	if err := putRecord(ctx, s.store, clientKeyPrefix+client.ID, client, tokenstore.NoExpiry); err != nil {
		return nil, WrapError(KindServerError, "failed to store client", err)
	}

	logger.Infow("registered client",
		"client_id", client.ID,
		"client_name", client.Name,
		"redirect_uris", client.RedirectURIs,
	)

	return client, nil
}

// GetClient loads a registered client by ID.
func (s *Server) GetClient(ctx context.Context, clientID string) (*Client, error) {
	client, err := getRecord[Client](ctx, s.store, clientKeyPrefix+clientID)
	if err != nil {
		if errors.Is(err, tokenstore.ErrNotFound) {
			return nil, NewError(KindInvalidRequest, "client not found")
		}
		return nil, WrapError(KindServerError, "failed to load client", err)
	}
	return client, nil
}

// validateRedirectURI checks that a redirect URI is an absolute URL
// without a fragment. Both https and custom schemes are accepted; http
// is restricted to loopback hosts per RFC 8252.
func validateRedirectURI(uri string) error {
	u, err := url.Parse(uri)
	if err != nil {
		return err
	}
	if !u.IsAbs() {
		return errors.New("redirect URI must be absolute")
	}
	if u.Fragment != "" {
		return errors.New("redirect URI must not contain a fragment")
	}
	if u.Scheme == "http" && !isLoopbackHost(u.Hostname()) {
		return errors.New("http redirect URIs are allowed for loopback hosts only")
	}
	return nil
}

// matchesRedirectURI reports whether uri exactly matches one of the
// client's registered redirect URIs.
func matchesRedirectURI(client *Client, uri string) bool {
	for _, registered := range client.RedirectURIs {
		if registered == uri {
			return true
		}
	}
	return false
}

func isLoopbackHost(host string) bool {
	return host == "localhost" || host == "127.0.0.1" || host == "::1"
}
