// Package hub is a Go client for the hub HTTP API: change capture, retrieval and the indexing
// operations surface.
package hub

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// ProblemTypeRetrievalUnavailable is the problem type the server uses when it cannot answer a search.
const ProblemTypeRetrievalUnavailable = "urn:pagewise:hub:retrieval-unavailable"

// ErrRetrievalUnavailable is returned by Search when the server could not answer. It is never
// returned for a search that simply found nothing.
var ErrRetrievalUnavailable = errors.New("hub: retrieval unavailable")

// APIError is a non-2xx response decoded from the server's problem details.
type APIError struct {
	StatusCode int
	Type       string `json:"type"`
	Title      string `json:"title"`
	Detail     string `json:"detail"`
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("hub: %d %s: %s", e.StatusCode, e.Title, e.Detail)
	}

	return fmt.Sprintf("hub: %d %s", e.StatusCode, e.Title)
}

// Is makes a retrieval-unavailable APIError match ErrRetrievalUnavailable.
func (e *APIError) Is(target error) bool {
	return target == ErrRetrievalUnavailable && e.Type == ProblemTypeRetrievalUnavailable
}

// ClientOptions configures the hub API client.
type ClientOptions struct {
	// BaseURL is the server root, e.g. "http://hub:8080". A trailing /v1 is stripped.
	BaseURL string
	// APIKey is sent as a bearer token.
	APIKey string
	// RetryMax is the maximum number of retries on connection errors and 5xx (default 3, negative disables).
	RetryMax int
	// RetryWaitMin and RetryWaitMax bound the backoff between retries (defaults 1s and 30s).
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
	// Timeout is the HTTP client timeout (default 30 seconds). Drains can take a while.
	Timeout time.Duration
}

// Client is the hub API client. Requests are retried, so EmitChange may enqueue a duplicate job;
// the server's content hash check makes that a no-op.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *retryablehttp.Client
}

// NewClient creates a client for baseURL with default settings.
func NewClient(baseURL, apiKey string) *Client {
	return NewClientWithOptions(ClientOptions{BaseURL: baseURL, APIKey: apiKey})
}

// NewClientWithOptions creates a client with custom options.
func NewClientWithOptions(opts ClientOptions) *Client {
	opts.BaseURL = strings.TrimSuffix(opts.BaseURL, "/")
	opts.BaseURL = strings.TrimSuffix(opts.BaseURL, "/v1")

	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}

	switch {
	case opts.RetryMax == 0:
		opts.RetryMax = 3
	case opts.RetryMax < 0:
		opts.RetryMax = 0
	}

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = opts.RetryMax
	retryClient.HTTPClient.Timeout = opts.Timeout
	retryClient.Logger = nil // Disable logging by default
	// Hand the final response back so problem details can be decoded.
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler

	if opts.RetryWaitMin > 0 {
		retryClient.RetryWaitMin = opts.RetryWaitMin
	}

	if opts.RetryWaitMax > 0 {
		retryClient.RetryWaitMax = opts.RetryWaitMax
	}

	return &Client{
		baseURL:    opts.BaseURL,
		apiKey:     opts.APIKey,
		httpClient: retryClient,
	}
}

type emitResponse struct {
	JobID string `json:"jobId"` //nolint:tagliatelle // API contract
}

// EmitChange records an entity mutation and returns the id of the queued indexing job.
func (c *Client) EmitChange(ctx context.Context, event ChangeEvent) (string, error) {
	var out emitResponse
	if err := c.do(ctx, http.MethodPost, "/v1/changes", event, http.StatusAccepted, &out); err != nil {
		return "", err
	}

	return out.JobID, nil
}

// Search runs a similarity search. A server that cannot answer yields an error matching
// ErrRetrievalUnavailable; no match yields an empty Results slice and a nil error.
func (c *Client) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	var out SearchResponse
	if err := c.do(ctx, http.MethodPost, "/v1/retrieval/search", req, http.StatusOK, &out); err != nil {
		return nil, err
	}

	if out.Results == nil {
		out.Results = []SearchResult{}
	}

	return &out, nil
}

// Drain asks the server to process the queue now and returns the run summary.
func (c *Client) Drain(ctx context.Context) (*DrainStats, error) {
	var out DrainStats
	if err := c.do(ctx, http.MethodPost, "/v1/indexing/drain", nil, http.StatusOK, &out); err != nil {
		return nil, err
	}

	return &out, nil
}

// Stats returns the indexing queue snapshot.
func (c *Client) Stats(ctx context.Context) (*QueueStats, error) {
	var out QueueStats
	if err := c.do(ctx, http.MethodGet, "/v1/indexing/stats", nil, http.StatusOK, &out); err != nil {
		return nil, err
	}

	return &out, nil
}

// DeadJobs lists dead-lettered jobs, optionally for one tenant. limit 0 uses the server default.
func (c *Client) DeadJobs(ctx context.Context, tenantID string, limit int) ([]DeadJob, error) {
	params := url.Values{}
	if tenantID != "" {
		params.Set("tenantId", tenantID)
	}

	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}

	path := "/v1/indexing/dead"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}

	var out struct {
		Data []DeadJob `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, http.StatusOK, &out); err != nil {
		return nil, err
	}

	return out.Data, nil
}

// TenantEmbeddingCount returns how many embedding records a tenant has.
func (c *Client) TenantEmbeddingCount(ctx context.Context, tenantID string) (int, error) {
	var out struct {
		Count int `json:"count"`
	}
	if err := c.do(ctx, http.MethodGet, tenantPath(tenantID)+"/count", nil, http.StatusOK, &out); err != nil {
		return 0, err
	}

	return out.Count, nil
}

// PurgeTenant removes every embedding record and pending job of a tenant.
func (c *Client) PurgeTenant(ctx context.Context, tenantID string) (*PurgeRequest, error) {
	var out PurgeRequest
	if err := c.do(ctx, http.MethodDelete, tenantPath(tenantID), nil, http.StatusAccepted, &out); err != nil {
		return nil, err
	}

	return &out, nil
}

func tenantPath(tenantID string) string {
	return "/v1/tenants/" + url.PathEscape(tenantID) + "/embeddings"
}

func (c *Client) do(ctx context.Context, method, path string, body any, wantStatus int, out any) error {
	var reader io.Reader

	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}

		reader = bytes.NewReader(payload)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Error("Failed to close response body", "error", err)
		}
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != wantStatus {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if jsonErr := json.Unmarshal(respBody, apiErr); jsonErr != nil || apiErr.Title == "" {
			apiErr.Title = http.StatusText(resp.StatusCode)
			apiErr.Detail = strings.TrimSpace(string(respBody))
		}

		return apiErr
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return nil
}
