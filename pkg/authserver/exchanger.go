// SPDX-FileCopyrightText: Copyright 2025 Docsgate Authors
// SPDX-License-Identifier: Apache-2.0

package authserver

import (
	"context"
	"errors"
	"time"

	"github.com/docsgate/docsgate/pkg/logger"
	"github.com/docsgate/docsgate/pkg/tokenstore"
)

// TokenResponse is the token endpoint's success payload.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	Scope        string `json:"scope,omitempty"`
}

// Introspection is the introspection endpoint's payload (RFC 7662).
// For inactive tokens every field except Active is omitted.
type Introspection struct {
	Active   bool   `json:"active"`
	Scope    string `json:"scope,omitempty"`
	ClientID string `json:"client_id,omitempty"`
	Identity string `json:"identity,omitempty"`
	Exp      int64  `json:"exp,omitempty"`
}

// mintAuthorizationCode creates a single-use authorization code bound to
// the pending request's PKCE challenge and the resolved identity.
func (s *Server) mintAuthorizationCode(ctx context.Context, pending *PendingAuthorization, identityID string) (string, error) {
	code, err := generateRandomToken()
	if err != nil {
		return "", WrapError(KindServerError, "failed to generate authorization code", err)
	}

	record := &AuthorizationCode{
		Code:                code,
		ClientID:            pending.ClientID,
		RedirectURI:         pending.RedirectURI,
		Scope:               pending.Scope,
		CodeChallenge:       pending.CodeChallenge,
		CodeChallengeMethod: pending.CodeChallengeMethod,
		IdentityID:          identityID,
		ExpiresAt:           time.Now().Add(s.config.AuthCodeTTL),
	}

	if err := putRecord(ctx, s.store, authCodeKeyPrefix+code, record, s.config.AuthCodeTTL); err != nil {
		return "", WrapError(KindServerError, "failed to store authorization code", err)
	}

	return code, nil
}

// ExchangeCode redeems a single-use authorization code for an
// access/refresh token pair. The code is deleted on the first exchange
// attempt regardless of outcome, so a failed PKCE verification consumes
// it and the client must restart the flow.
func (s *Server) ExchangeCode(ctx context.Context, code, redirectURI, codeVerifier, clientID string) (*TokenResponse, error) {
	if code == "" {
		return nil, NewError(KindInvalidRequest, "code is required")
	}
	if codeVerifier == "" {
		return nil, NewError(KindInvalidRequest, "code_verifier is required")
	}
	// Public clients must identify themselves (RFC 6749 section 4.1.3).
	if clientID == "" {
		return nil, NewError(KindInvalidRequest, "client_id is required")
	}

	// Single use: atomically consume the code before any validation, so
	// concurrent exchange attempts cannot both redeem it.
	record, err := takeRecord[AuthorizationCode](ctx, s.store, authCodeKeyPrefix+code)
	if err != nil {
		if errors.Is(err, tokenstore.ErrNotFound) {
			return nil, NewError(KindInvalidGrant, "authorization code is invalid or expired")
		}
		return nil, WrapError(KindServerError, "failed to consume authorization code", err)
	}

	if expired(record.ExpiresAt) {
		return nil, NewError(KindInvalidGrant, "authorization code is invalid or expired")
	}
	if record.ClientID != clientID {
		return nil, NewError(KindInvalidGrant, "authorization code was issued to another client")
	}
	if record.RedirectURI != redirectURI {
		return nil, NewError(KindInvalidGrant, "redirect_uri does not match the authorization request")
	}
	if !VerifyPKCE(record.CodeChallenge, codeVerifier) {
		logger.Warnw("PKCE verification failed",
			"client_id", record.ClientID,
		)
		return nil, NewError(KindInvalidGrant, "PKCE verification failed")
	}

	resp, err := s.mintTokenPair(ctx, record.IdentityID, record.ClientID, record.Scope)
	if err != nil {
		return nil, err
	}

	logger.Infow("authorization code exchanged",
		"client_id", record.ClientID,
	)

	return resp, nil
}

// Refresh rotates a refresh token: the presented token is invalidated
// before the replacement pair is persisted, so redeeming the same token
// twice is impossible.
func (s *Server) Refresh(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	if refreshToken == "" {
		return nil, NewError(KindInvalidRequest, "refresh_token is required")
	}

	// Rotation: atomically consume the presented token before issuing
	// the new pair, so two concurrent refreshes cannot both redeem it.
	record, err := takeRecord[RefreshToken](ctx, s.store, refreshTokenKeyPrefix+refreshToken)
	if err != nil {
		if errors.Is(err, tokenstore.ErrNotFound) {
			return nil, NewError(KindInvalidGrant, "refresh token is invalid or expired")
		}
		return nil, WrapError(KindServerError, "failed to rotate refresh token", err)
	}

	if expired(record.ExpiresAt) {
		return nil, NewError(KindInvalidGrant, "refresh token is invalid or expired")
	}

	resp, err := s.mintTokenPair(ctx, record.IdentityID, record.ClientID, record.Scope)
	if err != nil {
		return nil, err
	}

	logger.Infow("refresh token rotated",
		"client_id", record.ClientID,
	)

	return resp, nil
}

// Introspect answers RFC 7662 queries. Absent, expired, and malformed
// tokens are indistinguishable: all yield {active: false}.
func (s *Server) Introspect(ctx context.Context, token string) *Introspection {
	if token == "" {
		return &Introspection{Active: false}
	}

	if access, err := getRecord[AccessToken](ctx, s.store, accessTokenKeyPrefix+token); err == nil {
		if expired(access.ExpiresAt) {
			_ = s.store.Delete(ctx, accessTokenKeyPrefix+token)
			return &Introspection{Active: false}
		}
		return &Introspection{
			Active:   true,
			Scope:    access.Scope,
			ClientID: access.ClientID,
			Identity: access.IdentityID,
			Exp:      access.ExpiresAt.Unix(),
		}
	}

	if refresh, err := getRecord[RefreshToken](ctx, s.store, refreshTokenKeyPrefix+token); err == nil {
		if expired(refresh.ExpiresAt) {
			_ = s.store.Delete(ctx, refreshTokenKeyPrefix+token)
			return &Introspection{Active: false}
		}
		return &Introspection{
			Active:   true,
			Scope:    refresh.Scope,
			ClientID: refresh.ClientID,
			Identity: refresh.IdentityID,
			Exp:      refresh.ExpiresAt.Unix(),
		}
	}

	return &Introspection{Active: false}
}

// ValidateAccessToken resolves a bearer access token to its record, or
// returns an invalid_token error when the token is absent or expired.
// Used by the gateway's authentication middleware.
func (s *Server) ValidateAccessToken(ctx context.Context, token string) (*AccessToken, error) {
	if token == "" {
		return nil, NewError(KindInvalidToken, "missing access token")
	}

	record, err := getRecord[AccessToken](ctx, s.store, accessTokenKeyPrefix+token)
	if err != nil {
		if errors.Is(err, tokenstore.ErrNotFound) {
			return nil, NewError(KindInvalidToken, "access token is invalid or expired")
		}
		return nil, WrapError(KindServerError, "failed to load access token", err)
	}
	if expired(record.ExpiresAt) {
		_ = s.store.Delete(ctx, accessTokenKeyPrefix+token)
		return nil, NewError(KindInvalidToken, "access token is invalid or expired")
	}

	return record, nil
}

// mintTokenPair creates and persists a fresh access/refresh token pair
// bound to the given identity.
func (s *Server) mintTokenPair(ctx context.Context, identityID, clientID, scope string) (*TokenResponse, error) {
	accessToken, err := generateRandomToken()
	if err != nil {
		return nil, WrapError(KindServerError, "failed to generate access token", err)
	}
	refreshToken, err := generateRandomToken()
	if err != nil {
		return nil, WrapError(KindServerError, "failed to generate refresh token", err)
	}

	now := time.Now()
	access := &AccessToken{
		Token:      accessToken,
		IdentityID: identityID,
		ClientID:   clientID,
		Scope:      scope,
		ExpiresAt:  now.Add(s.config.AccessTokenTTL),
	}
	refresh := &RefreshToken{
		Token:      refreshToken,
		IdentityID: identityID,
		ClientID:   clientID,
		Scope:      scope,
		ExpiresAt:  now.Add(s.config.RefreshTokenTTL),
	}

	if err := putRecord(ctx, s.store, accessTokenKeyPrefix+accessToken, access, s.config.AccessTokenTTL); err != nil {
		return nil, WrapError(KindServerError, "failed to store access token", err)
	}
	if err := putRecord(ctx, s.store, refreshTokenKeyPrefix+refreshToken, refresh, s.config.RefreshTokenTTL); err != nil {
		// Keep the pair consistent if the second write fails.
		_ = s.store.Delete(ctx, accessTokenKeyPrefix+accessToken)
		return nil, WrapError(KindServerError, "failed to store refresh token", err)
	}

	return &TokenResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.config.AccessTokenTTL.Seconds()),
		Scope:        scope,
	}, nil
}
