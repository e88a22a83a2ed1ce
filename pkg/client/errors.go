package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// ErrInvalidPageRequest is returned when a page request fails its preconditions.
var ErrInvalidPageRequest = errors.New("invalid page request")

// ErrorClass represents a classification of upstream failures.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx client errors (bad credentials, bad input).
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassRateLimit represents 429 or Plaid RATE_LIMIT_EXCEEDED errors.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassNetwork represents transport errors and timeouts.
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassMalformed represents a 2xx response whose body could not be decoded.
	ErrorClassMalformed ErrorClass = "malformed"

	// ErrorClassUnexpected represents other non-2xx statuses (1xx, unfollowed 3xx).
	ErrorClassUnexpected ErrorClass = "unexpected_status"
)

// plaidRateLimitType is the Plaid error_type for rate limiting.
const plaidRateLimitType = "RATE_LIMIT_EXCEEDED"

// UpstreamRequestError is returned for any failed call to the institutions endpoint.
type UpstreamRequestError struct {
	// StatusCode is 0 when no response was received.
	StatusCode int
	Class      ErrorClass

	// Body is the raw upstream error body, if any.
	Body string

	// Plaid error object fields, populated when Body is a Plaid error.
	ErrorType    string
	ErrorCode    string
	ErrorMessage string
	RequestID    string

	Err error
}

// Error implements the error interface.
func (e *UpstreamRequestError) Error() string {
	detail := e.Body
	if e.ErrorCode != "" {
		detail = fmt.Sprintf("%s/%s: %s", e.ErrorType, e.ErrorCode, e.ErrorMessage)
	}

	switch {
	case e.Err != nil && detail != "":
		return fmt.Sprintf("upstream %s error (status %d): %s: %v", e.Class, e.StatusCode, detail, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("upstream %s error (status %d): %v", e.Class, e.StatusCode, e.Err)
	case detail == "":
		return fmt.Sprintf("upstream %s error (status %d)", e.Class, e.StatusCode)
	default:
		return fmt.Sprintf("upstream %s error (status %d): %s", e.Class, e.StatusCode, detail)
	}
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *UpstreamRequestError) Unwrap() error {
	return e.Err
}

// plaidError mirrors the Plaid error object.
type plaidError struct {
	ErrorType    string `json:"error_type"`
	ErrorCode    string `json:"error_code"`
	ErrorMessage string `json:"error_message"`
	RequestID    string `json:"request_id"`
}

// newStatusError builds an UpstreamRequestError from a non-2xx response body.
func newStatusError(statusCode int, body []byte) *UpstreamRequestError {
	upErr := &UpstreamRequestError{
		StatusCode: statusCode,
		Body:       string(body),
	}

	var pe plaidError
	if err := json.Unmarshal(body, &pe); err == nil && pe.ErrorType != "" {
		upErr.ErrorType = pe.ErrorType
		upErr.ErrorCode = pe.ErrorCode
		upErr.ErrorMessage = pe.ErrorMessage
		upErr.RequestID = pe.RequestID
	}

	upErr.Class = classifyStatus(statusCode, upErr.ErrorType)
	return upErr
}

// classifyStatus categorizes a non-2xx status for observability and retry decisions.
func classifyStatus(statusCode int, errorType string) ErrorClass {
	switch {
	case statusCode == http.StatusTooManyRequests || errorType == plaidRateLimitType:
		return ErrorClassRateLimit
	case statusCode >= 400 && statusCode < 500:
		return ErrorClassClient
	case statusCode >= 500:
		return ErrorClassServer
	default:
		return ErrorClassUnexpected
	}
}
