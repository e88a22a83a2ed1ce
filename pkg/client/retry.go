package client

import (
	"context"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for retry operations.
var (
	plaidRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "plaid_retries_total",
		Help: "Total number of retry attempts by error class",
	}, []string{"error_class"})
)

// RetryConfig holds the configuration for rate-limit retries.
// Retries are disabled unless MaxRetries > 0.
type RetryConfig struct {
	// MaxRetries is the number of retries after the initial request.
	MaxRetries int

	// InitialBackoff is the first backoff duration; it doubles per attempt.
	InitialBackoff time.Duration

	// MaxBackoff caps the backoff duration.
	MaxBackoff time.Duration
}

// DefaultRetryConfig returns the default retry configuration (no retries).
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     0,
		InitialBackoff: 5 * time.Second,
		MaxBackoff:     60 * time.Second,
	}
}

// rateLimitRetryPolicy retries only rate-limited responses. Transport errors,
// client errors and server errors are returned to the caller on first sight.
func rateLimitRetryPolicy(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err != nil || resp == nil {
		return false, nil
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return true, nil
	}
	return false, nil
}

// retryLogHook returns a retryablehttp.RequestLogHook that counts and logs
// retry attempts through logger.
func retryLogHook(logger zerolog.Logger) retryablehttp.RequestLogHook {
	return func(_ retryablehttp.Logger, req *http.Request, attempt int) {
		if attempt == 0 {
			return
		}

		plaidRetriesTotal.WithLabelValues(string(ErrorClassRateLimit)).Inc()
		logger.Warn().
			Str("endpoint", req.URL.Path).
			Int("attempt", attempt).
			Str("error_class", string(ErrorClassRateLimit)).
			Msg("Retrying rate-limited request")
	}
}
