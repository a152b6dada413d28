// SPDX-FileCopyrightText: Copyright 2025 Docsgate Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"context"
	"net/http"
	"strings"

	"github.com/docsgate/docsgate/pkg/logger"
)

// sessionHeader carries the protocol session identifier on every
// request after the initialize handshake.
const sessionHeader = "Mcp-Session-Id"

type contextKey string

const (
	identityContextKey  contextKey = "docsgate.identity"
	sessionIDContextKey contextKey = "docsgate.session"
)

// IdentityFromContext returns the authenticated identity placed on the
// context by the bearer middleware.
func IdentityFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(identityContextKey).(string)
	return id, ok && id != ""
}

// SessionIDFromContext returns the protocol session ID for the request,
// when the client sent one.
func SessionIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(sessionIDContextKey).(string)
	return id, ok && id != ""
}

// bearerAuth validates the Authorization header against the embedded
// authorization server and stores the resolved identity on the request
// context. Requests without a valid access token get 401 with a
// WWW-Authenticate challenge pointing at the protected resource
// metadata.
func (g *Gateway) bearerAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := extractBearerToken(r)
		if !ok {
			g.writeUnauthorized(w, "missing bearer token")
			return
		}

		record, err := g.auth.ValidateAccessToken(r.Context(), token)
		if err != nil {
			logger.Debugw("rejected bearer token", "error", err.Error())
			g.writeUnauthorized(w, "invalid or expired token")
			return
		}

		ctx := context.WithValue(r.Context(), identityContextKey, record.IdentityID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// sessionTracking binds the request's protocol session to its identity:
// it creates the session on first sight, refuses session reuse across
// identities, and refreshes the activity timestamp on every request.
// Requests without a session header pass through; the MCP handshake
// itself runs before a session ID exists.
func (g *Gateway) sessionTracking(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sessionID := r.Header.Get(sessionHeader)
		if sessionID == "" {
			next.ServeHTTP(w, r)
			return
		}

		identityID, ok := IdentityFromContext(r.Context())
		if !ok {
			g.writeUnauthorized(w, "missing bearer token")
			return
		}

		if _, err := g.sessions.CreateOrAttach(sessionID, identityID, nil); err != nil {
			logger.Warnw("rejected session attach",
				"session_id", sessionID,
				"error", err.Error(),
			)
			http.Error(w, "session belongs to another identity", http.StatusForbidden)
			return
		}

		ctx := context.WithValue(r.Context(), sessionIDContextKey, sessionID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (g *Gateway) writeUnauthorized(w http.ResponseWriter, description string) {
	challenge := `Bearer error="invalid_token", error_description="` + description + `"`
	if g.resourceMetadataURL != "" {
		challenge += `, resource_metadata="` + g.resourceMetadataURL + `"`
	}
	w.Header().Set("WWW-Authenticate", challenge)
	http.Error(w, description, http.StatusUnauthorized)
}

func extractBearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	return header[len(prefix):], true
}
