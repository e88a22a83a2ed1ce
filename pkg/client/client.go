// Package client provides the Plaid institutions HTTP client: a single-page
// fetcher with optional forward-proxy routing and error classification.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/routing-export/pkg/logging"
	"github.com/Sternrassler/routing-export/pkg/routing"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for Plaid client operations.
var (
	plaidRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "plaid_requests_total",
		Help: "Total Plaid requests by endpoint and status",
	}, []string{"endpoint", "status"})

	plaidRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "plaid_request_duration_seconds",
		Help:    "Plaid request duration in seconds by endpoint",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"endpoint"})

	plaidErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "plaid_errors_total",
		Help: "Total Plaid errors by class",
	}, []string{"class"})
)

const (
	// SandboxBaseURL is the Plaid sandbox environment.
	SandboxBaseURL = "https://sandbox.plaid.com"

	// InstitutionsPath is the institutions listing endpoint.
	InstitutionsPath = "/institutions/get"

	// maxErrorBody bounds how much of an error body is kept.
	maxErrorBody = 64 << 10
)

// Client fetches pages of institutions from Plaid.
type Client struct {
	httpClient *retryablehttp.Client
	config     Config
	logger     zerolog.Logger
}

// Config holds the client configuration.
type Config struct {
	BaseURL string

	// Credentials are sent in every request body. Their absence is not
	// validated; upstream rejects the request instead.
	ClientID string
	Secret   string

	// CountryCodes is the fixed country filter sent with every request.
	CountryCodes []string

	// Proxy routing
	UseProxy bool
	Proxy    ProxyConfig

	Timeout time.Duration
	Retry   RetryConfig
}

// DefaultConfig returns the default configuration for the given credentials.
func DefaultConfig(clientID, secret string) Config {
	return Config{
		BaseURL:      SandboxBaseURL,
		ClientID:     clientID,
		Secret:       secret,
		CountryCodes: []string{"US"},
		Timeout:      30 * time.Second,
		Retry:        DefaultRetryConfig(),
	}
}

// New creates a new Plaid client. The underlying HTTP client is built once
// and reused for every page request.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}

	if len(cfg.CountryCodes) == 0 {
		return nil, fmt.Errorf("at least one country code is required")
	}

	if cfg.Retry.MaxRetries < 0 {
		return nil, fmt.Errorf("max_retries must be >= 0 (got %d)", cfg.Retry.MaxRetries)
	}

	httpClient, err := NewHTTPClient(cfg.UseProxy, cfg.Proxy, cfg.Timeout)
	if err != nil {
		return nil, fmt.Errorf("build http client: %w", err)
	}

	logger := logging.NewLogger("plaid-client")

	rc := retryablehttp.NewClient()
	rc.HTTPClient = httpClient
	rc.RetryMax = cfg.Retry.MaxRetries
	rc.RetryWaitMin = cfg.Retry.InitialBackoff
	rc.RetryWaitMax = cfg.Retry.MaxBackoff
	rc.CheckRetry = rateLimitRetryPolicy
	rc.Backoff = retryablehttp.DefaultBackoff
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	rc.RequestLogHook = retryLogHook(logger)
	rc.Logger = logging.NewLeveledLogger(logger)

	if cfg.UseProxy && cfg.Proxy.Host != "" {
		logger.Info().Str("proxy", cfg.Proxy.String()).Msg("Routing requests through proxy")
	}

	return &Client{
		httpClient: rc,
		config:     cfg,
		logger:     logger,
	}, nil
}

// institutionsRequest is the /institutions/get request body.
type institutionsRequest struct {
	ClientID       string   `json:"client_id"`
	Secret         string   `json:"secret"`
	Count          int      `json:"count"`
	Offset         int      `json:"offset"`
	CountryCodes   []string `json:"country_codes"`
	RoutingNumbers []string `json:"routing_numbers,omitempty"`
}

// FetchPage fetches a single page of institutions. The page is returned as
// received; any failure is reported as an *UpstreamRequestError.
func (c *Client) FetchPage(ctx context.Context, req routing.PageRequest) (*routing.Page, error) {
	if req.Count <= 0 {
		return nil, fmt.Errorf("%w: count must be > 0 (got %d)", ErrInvalidPageRequest, req.Count)
	}
	if req.Offset < 0 {
		return nil, fmt.Errorf("%w: offset must be >= 0 (got %d)", ErrInvalidPageRequest, req.Offset)
	}

	body := institutionsRequest{
		ClientID:       c.config.ClientID,
		Secret:         c.config.Secret,
		Count:          req.Count,
		Offset:         req.Offset,
		CountryCodes:   c.config.CountryCodes,
		RoutingNumbers: req.RoutingNumbers,
	}

	var page routing.Page
	if err := c.post(ctx, InstitutionsPath, body, &page); err != nil {
		c.logger.Debug().
			Err(err).
			Int("count", req.Count).
			Int("offset", req.Offset).
			Msg("Error fetching institutions")
		return nil, err
	}
	page.Offset = req.Offset

	c.logger.Debug().
		Int("offset", req.Offset).
		Int("received", len(page.Institutions)).
		Int("total", page.Total).
		Str("request_id", page.RequestID).
		Msg("Fetched institutions page")

	return &page, nil
}

// post sends body as JSON to endpoint and decodes a 2xx JSON response into out.
func (c *Client) post(ctx context.Context, endpoint string, body, out any) error {
	startTime := time.Now()
	defer func() {
		plaidRequestDuration.WithLabelValues(endpoint).Observe(time.Since(startTime).Seconds())
	}()

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	url := strings.TrimRight(c.config.BaseURL, "/") + endpoint
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		plaidErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		plaidRequestsTotal.WithLabelValues(endpoint, "network_error").Inc()
		return &UpstreamRequestError{Class: ErrorClassNetwork, Err: err}
	}
	defer resp.Body.Close()

	status := strconv.Itoa(resp.StatusCode)
	plaidRequestsTotal.WithLabelValues(endpoint, status).Inc()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, readErr := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		upErr := newStatusError(resp.StatusCode, data)
		if readErr != nil {
			upErr.Err = readErr
		}
		plaidErrorsTotal.WithLabelValues(string(upErr.Class)).Inc()

		c.logger.Warn().
			Str("endpoint", endpoint).
			Int("status", resp.StatusCode).
			Str("error_class", string(upErr.Class)).
			Str("error_code", upErr.ErrorCode).
			Msg("Plaid request error")
		return upErr
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		plaidErrorsTotal.WithLabelValues(string(ErrorClassMalformed)).Inc()
		return &UpstreamRequestError{
			StatusCode: resp.StatusCode,
			Class:      ErrorClassMalformed,
			Err:        fmt.Errorf("decode response: %w", err),
		}
	}

	return nil
}

// Config returns a copy of the client configuration.
func (c *Client) Config() Config {
	return c.config
}
