// SPDX-FileCopyrightText: Copyright 2025 Docsgate Authors
// SPDX-License-Identifier: Apache-2.0

package authserver

import (
	"crypto/sha256"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeneratePKCEVerifierUnique(t *testing.T) {
	t.Parallel()

	a, err := GeneratePKCEVerifier()
	require.NoError(t, err)
	b, err := GeneratePKCEVerifier()
	require.NoError(t, err)

	assert.NotEmpty(t, a)
	assert.NotEqual(t, a, b)
}

func TestComputePKCEChallenge(t *testing.T) {
	t.Parallel()

	verifier := "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	sum := sha256.Sum256([]byte(verifier))
	want := base64.RawURLEncoding.EncodeToString(sum[:])

	assert.Equal(t, want, ComputePKCEChallenge(verifier))
	// No padding in the challenge encoding.
	assert.NotContains(t, ComputePKCEChallenge(verifier), "=")
}

func TestVerifyPKCE(t *testing.T) {
	t.Parallel()

	verifier, err := GeneratePKCEVerifier()
	require.NoError(t, err)
	challenge := ComputePKCEChallenge(verifier)

	assert.True(t, VerifyPKCE(challenge, verifier))
	assert.False(t, VerifyPKCE(challenge, verifier+"x"))
	assert.False(t, VerifyPKCE("", verifier))
	assert.False(t, VerifyPKCE(challenge, ""))
}
