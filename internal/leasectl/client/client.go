// Package client is the HTTP client for the lease daemon's control API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gookit/goutil/strutil"

	"github.com/chiquitav2/vpn-leased/pkg/api"
	"github.com/chiquitav2/vpn-leased/pkg/logger"
)

// APIError is a non-success answer from the daemon
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	RequestID  string
}

func (e *APIError) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("%s (status %d, request ID: %s)", e.Message, e.StatusCode, e.RequestID)
	}
	return fmt.Sprintf("%s (status %d)", e.Message, e.StatusCode)
}

// IsNotFound reports whether err is a 404 from the daemon
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// Client represents the API client for the lease daemon.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *logger.Logger

	maxRetries      uint64
	initialInterval time.Duration
}

// Option configures a Client
type Option func(*Client)

// WithTimeout sets the per-request timeout
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// WithRetryPolicy sets how often and how soon transient failures are retried
func WithRetryPolicy(maxRetries uint64, initialInterval time.Duration) Option {
	return func(c *Client) {
		c.maxRetries = maxRetries
		c.initialInterval = initialInterval
	}
}

// NewClient creates a new API client.
func NewClient(baseURL string, log *logger.Logger, opts ...Option) *Client {
	if log == nil {
		log = logger.NewDiscard()
	}

	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger:          log.WithComponent("leasectl-client"),
		maxRetries:      3,
		initialInterval: time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Health fetches /health
func (c *Client) Health(ctx context.Context) (*api.HealthResponse, error) {
	return do[api.HealthResponse](ctx, c, http.MethodGet, "/health", nil)
}

// Status fetches the daemon counters
func (c *Client) Status(ctx context.Context) (*api.StatusResponse, error) {
	return do[api.StatusResponse](ctx, c, http.MethodGet, "/api/v1/status", nil)
}

// ListLeases lists leases, optionally filtered
func (c *Client) ListLeases(ctx context.Context, params api.LeaseListParams) (*api.LeaseListResponse, error) {
	q := url.Values{}
	if params.Status != "" {
		q.Set("status", params.Status)
	}
	if params.Tier != "" {
		q.Set("tier", params.Tier)
	}
	path := "/api/v1/leases"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	return do[api.LeaseListResponse](ctx, c, http.MethodGet, path, nil)
}

// GetLease fetches one lease
func (c *Client) GetLease(ctx context.Context, leaseID string) (*api.LeaseInfo, error) {
	return do[api.LeaseInfo](ctx, c, http.MethodGet, "/api/v1/leases/"+url.PathEscape(leaseID), nil)
}

// CreateLease registers a lease. Creating an existing id returns the stored
// lease with Existing set.
func (c *Client) CreateLease(ctx context.Context, req *api.CreateLeaseRequest) (*api.CreateLeaseResponse, error) {
	if strutil.IsBlank(req.LeaseID) {
		return nil, fmt.Errorf("lease id is required")
	}
	return do[api.CreateLeaseResponse](ctx, c, http.MethodPost, "/api/v1/leases", req)
}

// ExpireLease revokes a lease now
func (c *Client) ExpireLease(ctx context.Context, leaseID string) (*api.ExpireResponse, error) {
	return do[api.ExpireResponse](ctx, c, http.MethodPost, "/api/v1/leases/"+url.PathEscape(leaseID)+"/expire", nil)
}

func (c *Client) retryPolicy(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.initialInterval
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, c.maxRetries), ctx)
}

// do performs one call with retries on transport errors and gateway
// statuses. Every operation the daemon exposes is idempotent.
func do[T any](ctx context.Context, c *Client, method, path string, body any) (*T, error) {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
	}

	attempt := 0
	op := func() (*T, error) {
		attempt++
		return doOnce[T](ctx, c, method, path, payload)
	}
	notify := func(err error, wait time.Duration) {
		c.logger.Warn("request failed, will retry",
			"path", path, "attempt", attempt, "wait_time", wait, "error", err)
	}

	result, err := backoff.RetryNotifyWithData(op, c.retryPolicy(ctx), notify)
	if err != nil {
		return nil, err
	}
	if attempt > 1 {
		c.logger.Info("request succeeded after retry", "path", path, "attempt", attempt)
	}
	return result, nil
}

func doOnce[T any](ctx context.Context, c *Client, method, path string, payload []byte) (*T, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.logger.Debug("making API request", "method", method, "path", path)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, backoff.Permanent(ctx.Err())
		}
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
		var apiResp api.Response[T]
		if err := json.Unmarshal(data, &apiResp); err != nil {
			return nil, backoff.Permanent(fmt.Errorf("failed to decode API response: %w", err))
		}
		if !apiResp.Success {
			return nil, backoff.Permanent(fmt.Errorf("API returned success=false without error details"))
		}
		return &apiResp.Data, nil

	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return nil, decodeError(resp.StatusCode, data)

	default:
		return nil, backoff.Permanent(decodeError(resp.StatusCode, data))
	}
}

func decodeError(status int, data []byte) error {
	apiErr := &APIError{StatusCode: status, Message: http.StatusText(status)}

	var apiResp api.Response[any]
	if err := json.Unmarshal(data, &apiResp); err == nil && apiResp.Error != nil {
		apiErr.Code = apiResp.Error.Code
		apiErr.Message = apiResp.Error.Message
		apiErr.RequestID = apiResp.Error.RequestID
	}
	return apiErr
}
