// Package smartcar implements the outbound request/response contract with the
// Smartcar vehicle API: the batched poll call and the failure taxonomy every
// caller relies on.
package smartcar

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/rs/zerolog"
)

// ErrAuthenticationRequired marks failures caused by rejected or expired
// credentials. It is never retried locally; the host is expected to begin
// reauthorization.
var ErrAuthenticationRequired = errors.New("authentication required")

// ErrUpdateFailed marks a transient or structural failure of one refresh
// cycle. The host's retry/backoff owns recovery.
var ErrUpdateFailed = errors.New("update failed")

// TokenSource supplies the bearer token for outbound requests. The OAuth
// refresh flow behind it is an external collaborator.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticTokenSource is a fixed token, typically loaded from configuration.
type StaticTokenSource string

// Token returns the fixed token.
func (s StaticTokenSource) Token(_ context.Context) (string, error) {
	if s == "" {
		return "", errors.New("no access token configured")
	}
	return string(s), nil
}

// BatchResult is one endpoint's outcome within a batch response.
type BatchResult struct {
	Path    string            `json:"path"`
	Code    int               `json:"code"`
	Body    map[string]any    `json:"body"`
	Headers map[string]string `json:"headers"`
}

// Header names carrying per-endpoint freshness and unit metadata.
const (
	HeaderUnitSystem = "sc-unit-system"
	HeaderDataAge    = "sc-data-age"
	HeaderFetchedAt  = "sc-fetched-at"
)

// Client issues batched poll requests against the vehicle API.
type Client struct {
	baseURL string
	tokens  TokenSource
	client  *http.Client
	log     zerolog.Logger
}

// NewClient creates a client for the given API base URL.
func NewClient(baseURL string, tokens TokenSource, log zerolog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		tokens:  tokens,
		client:  &http.Client{Timeout: 30 * time.Second},
		log:     log.With().Str("component", "smartcar").Logger(),
	}
}

// SetHTTPClient overrides the underlying HTTP client, mainly for tests.
func (c *Client) SetHTTPClient(client *http.Client) {
	c.client = client
}

// Batch issues one POST {vehicle}/batch request covering the given endpoints.
// Endpoints are sorted ascending on the wire for deterministic output.
//
// Token negotiation failures and 400/401/403 statuses map to
// ErrAuthenticationRequired; any other non-2xx status or a response missing
// the "responses" envelope maps to ErrUpdateFailed.
func (c *Client) Batch(ctx context.Context, vehicleID string, endpoints []string) ([]BatchResult, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("negotiating token: %v: %w", err, ErrAuthenticationRequired)
	}

	paths := append([]string(nil), endpoints...)
	sort.Strings(paths)

	requests := make([]map[string]string, len(paths))
	for i, path := range paths {
		requests[i] = map[string]string{"path": path}
	}
	jsonBody, err := json.Marshal(map[string]any{"requests": requests})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal batch request: %w", err)
	}

	url := fmt.Sprintf("%s/vehicles/%s/batch", c.baseURL, vehicleID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create batch request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("batch request failed: %v: %w", err, ErrUpdateFailed)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusBadRequest,
		resp.StatusCode == http.StatusUnauthorized,
		resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("batch status %d: %w", resp.StatusCode, ErrAuthenticationRequired)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, fmt.Errorf("batch status %d: %w", resp.StatusCode, ErrUpdateFailed)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read batch response: %v: %w", err, ErrUpdateFailed)
	}

	var envelope struct {
		Responses *[]BatchResult `json:"responses"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("failed to unmarshal batch response: %v: %w", err, ErrUpdateFailed)
	}
	if envelope.Responses == nil {
		return nil, fmt.Errorf("invalid batch response format: %w", ErrUpdateFailed)
	}

	c.log.Debug().Str("vehicle_id", vehicleID).Strs("paths", paths).
		Int("responses", len(*envelope.Responses)).Msg("batch request completed")

	return *envelope.Responses, nil
}
