// SPDX-FileCopyrightText: Copyright 2025 Docsgate Authors
// SPDX-License-Identifier: Apache-2.0

package authserver

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/docsgate/docsgate/pkg/logger"
)

// oauthErrorResponse is the OAuth error object returned by the token and
// registration endpoints.
type oauthErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// tokenHandler handles POST /token for the authorization_code and
// refresh_token grants.
func (s *Server) tokenHandler(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()

	if err := req.ParseForm(); err != nil {
		writeOAuthError(w, NewError(KindInvalidRequest, "failed to parse request body"))
		return
	}

	grantType := req.PostForm.Get("grant_type")
	limiterKey := s.limiterKey(req)

	if s.limiter.Blocked(limiterKey) {
		logger.Warnw("token request rate limited",
			"grant_type", grantType,
		)
		writeRateLimited(w)
		return
	}

	var (
		resp *TokenResponse
		err  error
	)

	switch grantType {
	case "authorization_code":
		resp, err = s.ExchangeCode(ctx,
			req.PostForm.Get("code"),
			req.PostForm.Get("redirect_uri"),
			req.PostForm.Get("code_verifier"),
			req.PostForm.Get("client_id"),
		)
	case "refresh_token":
		resp, err = s.Refresh(ctx, req.PostForm.Get("refresh_token"))
	case "":
		err = NewError(KindInvalidRequest, "grant_type is required")
	default:
		err = NewError(KindUnsupportedGrantType, "grant_type must be authorization_code or refresh_token")
	}

	if err != nil {
		if KindOf(err) == KindInvalidGrant {
			s.limiter.RecordFailure(limiterKey)
		}
		writeOAuthError(w, err)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	writeJSON(w, http.StatusOK, resp)
}

// introspectHandler handles POST /introspect. It always answers 200;
// failures are expressed uniformly as {active: false}.
func (s *Server) introspectHandler(w http.ResponseWriter, req *http.Request) {
	token := ""
	if err := req.ParseForm(); err == nil {
		token = req.PostForm.Get("token")
	}
	if token == "" && strings.Contains(req.Header.Get("Content-Type"), "application/json") {
		var body struct {
			Token string `json:"token"`
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err == nil {
			token = body.Token
		}
	}

	writeJSON(w, http.StatusOK, s.Introspect(req.Context(), token))
}

// registrationRequest is the RFC 7591 registration payload subset this
// server accepts.
type registrationRequest struct {
	ClientName   string   `json:"client_name"`
	RedirectURIs []string `json:"redirect_uris"`
}

// registrationResponse is the RFC 7591 registration result for a public
// client.
type registrationResponse struct {
	ClientID                string   `json:"client_id"`
	ClientName              string   `json:"client_name"`
	RedirectURIs            []string `json:"redirect_uris"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method"`
	GrantTypes              []string `json:"grant_types"`
	ResponseTypes           []string `json:"response_types"`
}

// registerHandler handles POST /register for dynamic client
// registration. Registrations are auto-approved; clients are public.
func (s *Server) registerHandler(w http.ResponseWriter, req *http.Request) {
	var body registrationRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeOAuthError(w, NewError(KindInvalidRequest, "failed to parse registration request"))
		return
	}

	client, err := s.RegisterClient(req.Context(), body.ClientName, body.RedirectURIs)
	if err != nil {
		writeOAuthError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, &registrationResponse{
		ClientID:                client.ID,
		ClientName:              client.Name,
		RedirectURIs:            client.RedirectURIs,
		TokenEndpointAuthMethod: "none",
		GrantTypes:              []string{"authorization_code", "refresh_token"},
		ResponseTypes:           []string{"code"},
	})
}

// limiterKey derives the client-identifying key for failure rate
// limiting: the client_id when present, the remote host otherwise.
func (*Server) limiterKey(req *http.Request) string {
	if clientID := req.PostForm.Get("client_id"); clientID != "" {
		return clientID
	}
	if host, _, err := net.SplitHostPort(req.RemoteAddr); err == nil {
		return host
	}
	return req.RemoteAddr
}

// writeOAuthError serializes err as an OAuth error object. Unexpected
// faults are logged with context and surfaced as a generic server_error
// that never carries internal detail.
func writeOAuthError(w http.ResponseWriter, err error) {
	var oe *Error
	if !errors.As(err, &oe) {
		logger.Errorw("unexpected fault in OAuth endpoint",
			"error", err.Error(),
		)
		oe = NewError(KindServerError, "internal server error")
	} else if oe.Kind == KindServerError {
		logger.Errorw("server error in OAuth endpoint",
			"error", oe.Error(),
		)
		// Replace the description so internals never leak.
		oe = NewError(KindServerError, "internal server error")
	}

	writeJSON(w, oe.HTTPStatus(), &oauthErrorResponse{
		Error:            string(oe.Kind),
		ErrorDescription: oe.Description,
	})
}

// writeRateLimited answers a rate-limited authentication attempt.
func writeRateLimited(w http.ResponseWriter) {
	w.Header().Set("Retry-After", "60")
	writeJSON(w, http.StatusTooManyRequests, &oauthErrorResponse{
		Error:            string(KindInvalidRequest),
		ErrorDescription: "too many failed authentication attempts",
	})
}

// writeJSON serializes v with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Errorw("failed to encode response",
			"error", err.Error(),
		)
	}
}
