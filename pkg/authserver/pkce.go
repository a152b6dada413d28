// SPDX-FileCopyrightText: Copyright 2025 Docsgate Authors
// SPDX-License-Identifier: Apache-2.0

package authserver

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
)

// PKCEMethodS256 is the only supported code challenge method (RFC 7636).
const PKCEMethodS256 = "S256"

// GeneratePKCEVerifier generates a cryptographically random PKCE code
// verifier suitable for the S256 method.
func GeneratePKCEVerifier() (string, error) {
	return generateRandomToken()
}

// ComputePKCEChallenge derives the S256 code challenge from a verifier:
// base64url(SHA-256(verifier)) without padding.
func ComputePKCEChallenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// VerifyPKCE reports whether verifier hashes to the stored challenge.
// The comparison is constant-time.
func VerifyPKCE(challenge, verifier string) bool {
	if challenge == "" || verifier == "" {
		return false
	}
	computed := ComputePKCEChallenge(verifier)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) == 1
}

// generateRandomToken returns 32 bytes of cryptographically secure
// randomness encoded as unpadded base64url. Used for authorization codes,
// access and refresh tokens, state values, and nonces.
func generateRandomToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
