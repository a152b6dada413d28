// SPDX-FileCopyrightText: Copyright 2025 Docsgate Authors
// SPDX-License-Identifier: Apache-2.0

package authserver

import (
	"net/http"
	"net/url"
	"time"

	"github.com/docsgate/docsgate/pkg/logger"
)

// authorizeHandler handles GET /authorize. It validates the client's
// authorization request and redirects to the upstream identity provider.
func (s *Server) authorizeHandler(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	q := req.URL.Query()

	clientID := q.Get("client_id")
	redirectURI := q.Get("redirect_uri")
	state := q.Get("state")
	codeChallenge := q.Get("code_challenge")
	codeChallengeMethod := q.Get("code_challenge_method")
	scope := q.Get("scope")
	responseType := q.Get("response_type")

	if clientID == "" {
		writeAuthorizeError(w, "client_id is required")
		return
	}
	if redirectURI == "" {
		writeAuthorizeError(w, "redirect_uri is required")
		return
	}

	client, err := s.GetClient(ctx, clientID)
	if err != nil {
		logger.Warnw("client not found",
			"client_id", clientID,
			"error", err.Error(),
		)
		writeAuthorizeError(w, "client not found")
		return
	}

	// The redirect URI must match the allow-list exactly before any
	// error may be redirected to it.
	if !matchesRedirectURI(client, redirectURI) {
		logger.Warnw("redirect_uri not in client allow-list",
			"client_id", clientID,
			"redirect_uri", redirectURI,
		)
		writeAuthorizeError(w, "redirect_uri does not match registered URIs")
		return
	}

	if responseType != "code" {
		redirectWithError(w, redirectURI, state, "unsupported_response_type", "only response_type=code is supported")
		return
	}

	// PKCE is mandatory: every client is public.
	if codeChallenge == "" {
		redirectWithError(w, redirectURI, state, "invalid_request", "code_challenge is required")
		return
	}
	if codeChallengeMethod != PKCEMethodS256 {
		redirectWithError(w, redirectURI, state, "invalid_request", "code_challenge_method must be S256")
		return
	}

	if state == "" {
		logger.Warnw("authorization request missing state parameter",
			"client_id", clientID,
		)
	}

	if s.upstream == nil {
		logger.Error("upstream provider not configured")
		redirectWithError(w, redirectURI, state, "server_error", "authorization server not configured")
		return
	}

	internalState, upstreamVerifier, upstreamChallenge, upstreamNonce, err := generateAuthorizationSecrets()
	if err != nil {
		logger.Errorw("failed to generate authorization secrets",
			"error", err.Error(),
		)
		redirectWithError(w, redirectURI, state, "server_error", "failed to generate authorization request")
		return
	}

	pending := &PendingAuthorization{
		ClientID:            clientID,
		RedirectURI:         redirectURI,
		State:               state,
		Scope:               scope,
		CodeChallenge:       codeChallenge,
		CodeChallengeMethod: codeChallengeMethod,
		UpstreamVerifier:    upstreamVerifier,
		UpstreamNonce:       upstreamNonce,
		CreatedAt:           time.Now(),
	}

	if err := putRecord(ctx, s.store, pendingAuthKeyPrefix+internalState, pending, s.config.PendingAuthTTL); err != nil {
		logger.Errorw("failed to store pending authorization",
			"error", err.Error(),
		)
		redirectWithError(w, redirectURI, state, "server_error", "failed to store authorization request")
		return
	}

	upstreamURL, err := s.upstream.AuthorizationURL(internalState, upstreamChallenge, upstreamNonce)
	if err != nil {
		logger.Errorw("failed to build upstream authorization URL",
			"error", err.Error(),
		)
		_ = s.store.Delete(ctx, pendingAuthKeyPrefix+internalState)
		redirectWithError(w, redirectURI, state, "server_error", "failed to build authorization URL")
		return
	}

	logger.Infow("redirecting to upstream provider",
		"client_id", clientID,
		"upstream_provider", s.upstream.Name(),
	)

	http.Redirect(w, req, upstreamURL, http.StatusFound)
}

// callbackHandler handles GET /auth/callback. It exchanges the upstream
// authorization code and redirects to the client with our own code.
func (s *Server) callbackHandler(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	q := req.URL.Query()

	code := q.Get("code")
	internalState := q.Get("state")
	errorParam := q.Get("error")
	errorDescription := q.Get("error_description")

	// Upstream reported a failure. Relay it to the client when the
	// pending authorization is still known.
	if errorParam != "" {
		logger.Warnw("upstream provider returned error",
			"error", errorParam,
			"error_description", errorDescription,
		)
		if internalState != "" {
			if pending, err := takeRecord[PendingAuthorization](ctx, s.store, pendingAuthKeyPrefix+internalState); err == nil {
				redirectWithError(w, pending.RedirectURI, pending.State, errorParam, errorDescription)
				return
			}
		}
		http.Error(w, "upstream authentication failed: "+errorParam, http.StatusBadGateway)
		return
	}

	if internalState == "" {
		logger.Warn("callback missing state parameter")
		http.Error(w, "missing state parameter", http.StatusBadRequest)
		return
	}
	if code == "" {
		logger.Warn("callback missing code parameter")
		http.Error(w, "missing code parameter", http.StatusBadRequest)
		return
	}

	// Single use: the pending authorization is consumed atomically, so a
	// replayed callback finds nothing.
	pending, err := takeRecord[PendingAuthorization](ctx, s.store, pendingAuthKeyPrefix+internalState)
	if err != nil {
		logger.Warnw("pending authorization not found",
			"error", err.Error(),
		)
		http.Error(w, "authorization request not found or expired", http.StatusBadRequest)
		return
	}

	identity, err := s.upstream.Exchange(ctx, code, pending.UpstreamVerifier, pending.UpstreamNonce)
	if err != nil {
		logger.Errorw("failed to exchange code with upstream provider",
			"upstream_provider", s.upstream.Name(),
			"error", err.Error(),
		)
		redirectWithError(w, pending.RedirectURI, pending.State, "server_error", "failed to exchange authorization code")
		return
	}

	ourCode, err := s.mintAuthorizationCode(ctx, pending, identity.Subject)
	if err != nil {
		logger.Errorw("failed to mint authorization code",
			"error", err.Error(),
		)
		redirectWithError(w, pending.RedirectURI, pending.State, "server_error", "failed to create authorization code")
		return
	}

	logger.Infow("authorization successful, redirecting to client",
		"client_id", pending.ClientID,
	)

	http.Redirect(w, req, buildCallbackURL(pending.RedirectURI, ourCode, pending.State), http.StatusFound)
}

// generateAuthorizationSecrets generates the internal state for callback
// correlation, the upstream PKCE verifier/challenge pair (RFC 7636), and
// the nonce for ID token replay protection.
func generateAuthorizationSecrets() (internalState, verifier, challenge, nonce string, err error) {
	internalState, err = generateRandomToken()
	if err != nil {
		return "", "", "", "", err
	}
	verifier, err = GeneratePKCEVerifier()
	if err != nil {
		return "", "", "", "", err
	}
	challenge = ComputePKCEChallenge(verifier)
	nonce, err = generateRandomToken()
	if err != nil {
		return "", "", "", "", err
	}
	return internalState, verifier, challenge, nonce, nil
}

// writeAuthorizeError responds with a plain error when no validated
// redirect URI is available.
func writeAuthorizeError(w http.ResponseWriter, description string) {
	http.Error(w, description, http.StatusBadRequest)
}

// redirectWithError redirects to the client's redirect URI carrying an
// error/error_description pair.
func redirectWithError(w http.ResponseWriter, redirectURI, state, errorCode, description string) {
	if redirectURI == "" {
		http.Error(w, description, http.StatusBadRequest)
		return
	}

	u, err := url.Parse(redirectURI)
	if err != nil {
		http.Error(w, "invalid redirect URI", http.StatusBadRequest)
		return
	}

	q := u.Query()
	q.Set("error", errorCode)
	if description != "" {
		q.Set("error_description", description)
	}
	if state != "" {
		q.Set("state", state)
	}
	u.RawQuery = q.Encode()

	w.Header().Set("Location", u.String())
	w.WriteHeader(http.StatusFound)
}

// buildCallbackURL appends code and state to the client's redirect URI.
func buildCallbackURL(redirectURI, code, state string) string {
	u, err := url.Parse(redirectURI)
	if err != nil {
		return redirectURI
	}

	q := u.Query()
	q.Set("code", code)
	if state != "" {
		q.Set("state", state)
	}
	u.RawQuery = q.Encode()

	return u.String()
}
