// SPDX-FileCopyrightText: Copyright 2025 Docsgate Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/docsgate/docsgate/pkg/identity"
	"github.com/docsgate/docsgate/pkg/logger"
)

// DefaultInvokeTimeout bounds every call to the downstream document API.
const DefaultInvokeTimeout = 30 * time.Second

// maxInvokeResponseSize bounds downstream response bodies.
const maxInvokeResponseSize = 4 << 20

// Invoker is the gateway's view of the downstream document API: one
// call in, one result out. Implementations carry their own credential
// handling and timeouts.
type Invoker interface {
	Invoke(ctx context.Context, endpoint string, payload any, callerIdentity string) (json.RawMessage, error)
}

// CredentialSource yields the bearer credential to present downstream
// for a given caller identity.
type CredentialSource func(ctx context.Context, callerIdentity string) (string, error)

// StaticCredential returns the same fixed service credential for every
// caller. The default deployment mode: the downstream API trusts this
// server and receives the caller identity as an impersonation header.
func StaticCredential(token string) CredentialSource {
	return func(context.Context, string) (string, error) {
		return token, nil
	}
}

// BridgeCredential resolves per-identity downstream tokens through the
// identity bridge, for deployments where the downstream API requires its
// own OAuth handshake.
func BridgeCredential(bridge *identity.Bridge) CredentialSource {
	return func(ctx context.Context, callerIdentity string) (string, error) {
		return bridge.GetValidAccessToken(ctx, callerIdentity)
	}
}

// HTTPInvoker calls the downstream document API over HTTP with JSON
// request/response bodies.
type HTTPInvoker struct {
	baseURL     string
	credentials CredentialSource
	httpClient  *http.Client
}

// HTTPInvokerOption configures an HTTPInvoker.
type HTTPInvokerOption func(*HTTPInvoker)

// WithInvokeTimeout overrides the downstream call timeout.
func WithInvokeTimeout(timeout time.Duration) HTTPInvokerOption {
	return func(i *HTTPInvoker) {
		i.httpClient.Timeout = timeout
	}
}

// NewHTTPInvoker creates an invoker for the document API at baseURL.
func NewHTTPInvoker(baseURL string, credentials CredentialSource, opts ...HTTPInvokerOption) (*HTTPInvoker, error) {
	if baseURL == "" {
		return nil, errors.New("base URL is required")
	}
	if credentials == nil {
		return nil, errors.New("credential source is required")
	}

	i := &HTTPInvoker{
		baseURL:     strings.TrimRight(baseURL, "/"),
		credentials: credentials,
		httpClient:  &http.Client{Timeout: DefaultInvokeTimeout},
	}
	for _, opt := range opts {
		opt(i)
	}
	return i, nil
}

// Invoke POSTs payload to the endpoint and returns the raw JSON result.
// The caller identity travels as an impersonation header so the
// downstream API can attribute the action.
func (i *HTTPInvoker) Invoke(ctx context.Context, endpoint string, payload any, callerIdentity string) (json.RawMessage, error) {
	credential, err := i.credentials(ctx, callerIdentity)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve downstream credential: %w", err)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, i.baseURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+credential)
	if callerIdentity != "" {
		req.Header.Set("X-On-Behalf-Of", callerIdentity)
	}

	resp, err := i.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("downstream request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	result, err := io.ReadAll(io.LimitReader(resp.Body, maxInvokeResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read downstream response: %w", err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		// The raw downstream body stays in the server log; callers see
		// only the status.
		logger.Warnw("downstream call failed",
			"endpoint", endpoint,
			"status", resp.StatusCode,
			"body", string(result),
		)
		return nil, fmt.Errorf("downstream API returned status %d", resp.StatusCode)
	}

	return result, nil
}

// Compile-time interface compliance check.
var _ Invoker = (*HTTPInvoker)(nil)
