// Package testutil provides testing utilities for the Plaid institutions client.
package testutil

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"

	"github.com/Sternrassler/routing-export/pkg/routing"
)

// MockPlaidResponse defines a canned response for one request.
type MockPlaidResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
}

// RecordedRequest is one request received by MockPlaid.
type RecordedRequest struct {
	// Raw is the decoded JSON body, used to assert on field presence.
	Raw map[string]any `json:"-"`

	ClientID       string   `json:"client_id"`
	Secret         string   `json:"secret"`
	Count          int      `json:"count"`
	Offset         int      `json:"offset"`
	CountryCodes   []string `json:"country_codes"`
	RoutingNumbers []string `json:"routing_numbers"`

	Header http.Header `json:"-"`
}

// MockPlaid is a configurable mock of the Plaid /institutions/get endpoint.
// It pages over Institutions by count/offset and filters by routing number.
type MockPlaid struct {
	server *httptest.Server
	mu     sync.Mutex

	institutions []routing.Institution
	responses    map[int]MockPlaidResponse
	totalFor     func(call int, actual int) int
	requests     []RecordedRequest
}

// NewMockPlaid creates a new mock Plaid server serving institutions.
func NewMockPlaid(institutions []routing.Institution) *MockPlaid {
	mock := &MockPlaid{
		institutions: institutions,
		responses:    make(map[int]MockPlaidResponse),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/institutions/get", mock.handleInstitutions)
	mock.server = httptest.NewServer(mux)

	return mock
}

// URL returns the mock server URL.
func (m *MockPlaid) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockPlaid) Close() {
	m.server.Close()
}

// SetResponse overrides the response for the given 1-based call number.
func (m *MockPlaid) SetResponse(call int, resp MockPlaidResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[call] = resp
}

// SetTotal overrides the reported total. fn receives the 1-based call number
// and the real total of the (filtered) data set.
func (m *MockPlaid) SetTotal(fn func(call int, actual int) int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totalFor = fn
}

// Requests returns the requests received so far.
func (m *MockPlaid) Requests() []RecordedRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]RecordedRequest, len(m.requests))
	copy(out, m.requests)
	return out
}

// RequestCount returns the number of requests received.
func (m *MockPlaid) RequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

func (m *MockPlaid) handleInstitutions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, plaidError("INVALID_REQUEST", "METHOD_NOT_ALLOWED", "POST required"))
		return
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, plaidError("INVALID_REQUEST", "INVALID_BODY", err.Error()))
		return
	}

	var rec RecordedRequest
	if err := json.Unmarshal(data, &rec); err != nil {
		writeJSON(w, http.StatusBadRequest, plaidError("INVALID_REQUEST", "INVALID_BODY", err.Error()))
		return
	}
	_ = json.Unmarshal(data, &rec.Raw)
	rec.Header = r.Header.Clone()

	m.mu.Lock()
	m.requests = append(m.requests, rec)
	call := len(m.requests)
	resp, hasResp := m.responses[call]
	totalFor := m.totalFor
	m.mu.Unlock()

	if hasResp {
		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}
		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
		return
	}

	matched := m.filter(rec.RoutingNumbers)
	total := len(matched)
	if totalFor != nil {
		total = totalFor(call, total)
	}

	start := min(rec.Offset, len(matched))
	end := min(start+rec.Count, len(matched))

	writeJSON(w, http.StatusOK, map[string]any{
		"institutions": matched[start:end],
		"total":        total,
		"request_id":   "req-mock",
	})
}

func (m *MockPlaid) filter(routingNumbers []string) []routing.Institution {
	if len(routingNumbers) == 0 {
		return m.institutions
	}

	wanted := make(map[string]struct{}, len(routingNumbers))
	for _, rn := range routingNumbers {
		wanted[rn] = struct{}{}
	}

	var out []routing.Institution
	for _, inst := range m.institutions {
		for _, rn := range inst.RoutingNumbers {
			if _, ok := wanted[rn]; ok {
				out = append(out, inst)
				break
			}
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func plaidError(errorType, code, message string) map[string]string {
	return map[string]string{
		"error_type":    errorType,
		"error_code":    code,
		"error_message": message,
		"request_id":    "req-mock",
	}
}

// NewRateLimitResponse creates a Plaid 429 RATE_LIMIT_EXCEEDED response.
func NewRateLimitResponse() MockPlaidResponse {
	return MockPlaidResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"error_type":"RATE_LIMIT_EXCEEDED","error_code":"INSTITUTIONS_GET_LIMIT","error_message":"rate limit exceeded for institutions/get","request_id":"req-rl"}`,
		Headers: map[string]string{
			"Content-Type": "application/json",
		},
	}
}

// NewInvalidCredentialsResponse creates a Plaid 400 INVALID_API_KEYS response.
func NewInvalidCredentialsResponse() MockPlaidResponse {
	return MockPlaidResponse{
		StatusCode: http.StatusBadRequest,
		Body:       `{"error_type":"INVALID_INPUT","error_code":"INVALID_API_KEYS","error_message":"invalid client_id or secret provided","request_id":"req-auth"}`,
		Headers: map[string]string{
			"Content-Type": "application/json",
		},
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockPlaidResponse {
	return MockPlaidResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"error_type":"API_ERROR","error_code":"INTERNAL_SERVER_ERROR","error_message":"an unexpected error occurred","request_id":"req-500"}`,
		Headers: map[string]string{
			"Content-Type": "application/json",
		},
	}
}

// NewMalformedResponse creates a 200 response whose body is not JSON.
func NewMalformedResponse() MockPlaidResponse {
	return MockPlaidResponse{
		StatusCode: http.StatusOK,
		Body:       `<html>gateway</html>`,
	}
}

// Institutions builds n institutions with ids ins_1..ins_n; institution i has
// i%3 routing numbers.
func Institutions(n int) []routing.Institution {
	out := make([]routing.Institution, 0, n)
	for i := 1; i <= n; i++ {
		inst := routing.Institution{
			Name:          "Bank " + strconv.Itoa(i),
			InstitutionID: "ins_" + strconv.Itoa(i),
			CountryCodes:  []string{"US"},
		}
		for j := 0; j < i%3; j++ {
			inst.RoutingNumbers = append(inst.RoutingNumbers, strconv.Itoa(100000000+i*10+j))
		}
		out = append(out, inst)
	}
	return out
}

