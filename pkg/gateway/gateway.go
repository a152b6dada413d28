// SPDX-FileCopyrightText: Copyright 2025 Docsgate Authors
// SPDX-License-Identifier: Apache-2.0

// Package gateway fronts the downstream document API with an MCP tool
// server. It composes the embedded OAuth authorization server, bearer
// validation, protocol session tracking and the tool surface into one
// HTTP handler.
package gateway

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/mark3labs/mcp-go/server"

	"github.com/docsgate/docsgate/pkg/authserver"
	"github.com/docsgate/docsgate/pkg/session"
	"github.com/docsgate/docsgate/pkg/tokenstore"
)

// Config holds the gateway settings.
type Config struct {
	// Name and Version identify the MCP server to clients.
	Name    string
	Version string

	// Issuer is the externally reachable base URL, used to advertise
	// the protected resource metadata in authentication challenges.
	Issuer string
}

func (c Config) withDefaults() Config {
	if c.Name == "" {
		c.Name = "docsgate"
	}
	if c.Version == "" {
		c.Version = "dev"
	}
	return c
}

// Gateway is the protected MCP surface over the document API.
type Gateway struct {
	auth     *authserver.Server
	sessions *session.Manager
	invoker  Invoker
	store    tokenstore.Store

	config              Config
	resourceMetadataURL string

	mcpServer  *server.MCPServer
	streamable *server.StreamableHTTPServer
	router     http.Handler
}

// New assembles the gateway. The token store is only used for the
// health endpoint; all token state flows through the authorization
// server.
func New(auth *authserver.Server, sessions *session.Manager, invoker Invoker, store tokenstore.Store, cfg Config) (*Gateway, error) {
	if auth == nil {
		return nil, errors.New("authorization server is required")
	}
	if sessions == nil {
		return nil, errors.New("session manager is required")
	}
	if invoker == nil {
		return nil, errors.New("invoker is required")
	}
	if store == nil {
		return nil, errors.New("token store is required")
	}

	cfg = cfg.withDefaults()

	g := &Gateway{
		auth:     auth,
		sessions: sessions,
		invoker:  invoker,
		store:    store,
		config:   cfg,
	}
	if cfg.Issuer != "" {
		g.resourceMetadataURL = strings.TrimRight(cfg.Issuer, "/") + "/.well-known/oauth-protected-resource"
	}

	g.mcpServer = server.NewMCPServer(
		cfg.Name,
		cfg.Version,
		server.WithToolCapabilities(false),
		server.WithLogging(),
	)
	g.registerTools(g.mcpServer)

	g.streamable = server.NewStreamableHTTPServer(
		g.mcpServer,
		server.WithEndpointPath("/mcp"),
		server.WithHTTPContextFunc(forwardRequestContext),
	)

	g.router = g.buildRouter()

	return g, nil
}

// Router returns the complete HTTP handler: public OAuth endpoints,
// the health probe and the bearer-protected MCP endpoint.
func (g *Gateway) Router() http.Handler {
	return g.router
}

// Shutdown drains the streamable MCP transport.
func (g *Gateway) Shutdown(ctx context.Context) error {
	return g.streamable.Shutdown(ctx)
}

func (g *Gateway) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.Recoverer,
	)

	// OAuth endpoints and discovery metadata are public.
	r.Mount("/", g.auth.Routes())

	r.Get("/health", g.healthHandler)

	// The MCP endpoint requires a valid access token and tracks the
	// protocol session.
	r.Group(func(r chi.Router) {
		r.Use(g.bearerAuth, g.sessionTracking)
		r.Handle("/mcp", g.streamable)
	})

	return r
}

func (g *Gateway) healthHandler(w http.ResponseWriter, r *http.Request) {
	if err := g.store.Ping(r.Context()); err != nil {
		http.Error(w, "token store unavailable", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// forwardRequestContext carries the identity and session values set by
// the HTTP middleware into the tool handler context.
func forwardRequestContext(ctx context.Context, r *http.Request) context.Context {
	if identityID, ok := IdentityFromContext(r.Context()); ok {
		ctx = context.WithValue(ctx, identityContextKey, identityID)
	}
	if sessionID, ok := SessionIDFromContext(r.Context()); ok {
		ctx = context.WithValue(ctx, sessionIDContextKey, sessionID)
	}
	return ctx
}
