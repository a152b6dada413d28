// SPDX-FileCopyrightText: Copyright 2025 Docsgate Authors
// SPDX-License-Identifier: Apache-2.0

package authserver

import "net/http"

// Routes returns the handler serving all authorization server endpoints.
// The caller mounts it at the root of the issuer host.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /.well-known/oauth-authorization-server", s.metadataHandler)
	mux.HandleFunc("GET /.well-known/oauth-protected-resource", s.protectedResourceHandler)
	mux.HandleFunc("GET /authorize", s.authorizeHandler)
	mux.HandleFunc("GET /auth/callback", s.callbackHandler)
	mux.HandleFunc("POST /token", s.tokenHandler)
	mux.HandleFunc("POST /introspect", s.introspectHandler)
	mux.HandleFunc("POST /register", s.registerHandler)

	return mux
}
