// SPDX-FileCopyrightText: Copyright 2025 Docsgate Authors
// SPDX-License-Identifier: Apache-2.0

package authserver

import (
	"errors"
	"net/http"
)

// ErrorKind identifies a class of OAuth failure. Kinds are checked
// structurally with errors.As, never by matching message text.
type ErrorKind string

// The full error taxonomy of the authorization server.
const (
	// KindInvalidRequest covers malformed or missing parameters and
	// disallowed redirect URIs.
	KindInvalidRequest ErrorKind = "invalid_request"

	// KindInvalidGrant covers expired, absent, or reused authorization
	// codes, redirect URI mismatches, PKCE mismatches, and expired
	// refresh tokens.
	KindInvalidGrant ErrorKind = "invalid_grant"

	// KindInvalidToken covers absent or expired access tokens presented
	// on protected calls.
	KindInvalidToken ErrorKind = "invalid_token"

	// KindUnsupportedGrantType is returned for grant types other than
	// authorization_code and refresh_token.
	KindUnsupportedGrantType ErrorKind = "unsupported_grant_type"

	// KindServerError covers unexpected internal faults. The description
	// shown to callers is generic; full context goes to the server log.
	KindServerError ErrorKind = "server_error"

	// KindNotAuthorized signals that the identity bridge holds no usable
	// downstream token and the caller needs a fresh login.
	KindNotAuthorized ErrorKind = "not_authorized"
)

// Error is a tagged OAuth error carrying a machine-checkable kind and a
// human-readable description safe to return to callers.
type Error struct {
	Kind        ErrorKind
	Description string
	cause       error
}

func (e *Error) Error() string {
	if e.Description == "" {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.Description
}

// Unwrap exposes the underlying cause for errors.Is/As chains.
func (e *Error) Unwrap() error {
	return e.cause
}

// HTTPStatus maps the error kind to the HTTP status the caller receives.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindInvalidToken:
		return http.StatusUnauthorized
	case KindNotAuthorized:
		return http.StatusForbidden
	case KindServerError:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

// NewError creates a tagged error with the given kind and description.
func NewError(kind ErrorKind, description string) *Error {
	return &Error{Kind: kind, Description: description}
}

// WrapError creates a tagged error that wraps an underlying cause. The
// cause is never serialized to callers; it exists for server-side logs
// and errors.Is checks.
func WrapError(kind ErrorKind, description string, cause error) *Error {
	return &Error{Kind: kind, Description: description, cause: cause}
}

// KindOf returns the kind of err, or the empty string when err carries
// no kind.
func KindOf(err error) ErrorKind {
	var oe *Error
	if errors.As(err, &oe) {
		return oe.Kind
	}
	return ""
}
