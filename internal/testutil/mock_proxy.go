package testutil

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
)

// MockProxy is a plain-HTTP forward proxy that records what it relays.
type MockProxy struct {
	server *httptest.Server
	mu     sync.Mutex

	requestCount int
	authHeaders  []string
	targets      []string
}

// NewMockProxy starts a forward proxy relaying absolute-form requests.
func NewMockProxy() *MockProxy {
	p := &MockProxy{}
	p.server = httptest.NewServer(http.HandlerFunc(p.relay))
	return p
}

// URL returns the proxy URL.
func (p *MockProxy) URL() string {
	return p.server.URL
}

// Addr returns the proxy host:port.
func (p *MockProxy) Addr() string {
	return p.server.Listener.Addr().String()
}

// Close shuts down the proxy.
func (p *MockProxy) Close() {
	p.server.Close()
}

// RequestCount returns the number of relayed requests.
func (p *MockProxy) RequestCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.requestCount
}

// AuthHeaders returns the Proxy-Authorization header of each request ("" when absent).
func (p *MockProxy) AuthHeaders() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.authHeaders...)
}

// Targets returns the host each request was relayed to.
func (p *MockProxy) Targets() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.targets...)
}

func (p *MockProxy) relay(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	p.requestCount++
	p.authHeaders = append(p.authHeaders, r.Header.Get("Proxy-Authorization"))
	p.targets = append(p.targets, r.URL.Host)
	p.mu.Unlock()

	if !r.URL.IsAbs() {
		http.Error(w, "proxy expects absolute-form request", http.StatusBadRequest)
		return
	}

	out := r.Clone(r.Context())
	out.RequestURI = ""
	out.Header.Del("Proxy-Authorization")
	out.Header.Del("Proxy-Connection")

	resp, err := http.DefaultTransport.RoundTrip(out)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	for key, values := range resp.Header {
		for _, value := range values {
			w.Header().Add(key, value)
		}
	}
	w.WriteHeader(resp.StatusCode)
	io.Copy(w, resp.Body)
}
