package client

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ProxyConfig describes an HTTP forward proxy.
type ProxyConfig struct {
	// Host may be a bare hostname or carry a scheme ("http://proxy.local")
	// and a port ("proxy.local:9000").
	Host string

	// Port applies only when Host has no port of its own.
	Port int

	// Basic auth is sent only when both are set.
	Username string
	Password string
}

// URL renders the proxy as a URL suitable for http.ProxyURL.
func (p ProxyConfig) URL() (*url.URL, error) {
	if p.Host == "" {
		return nil, fmt.Errorf("proxy host is required")
	}

	raw := p.Host
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse proxy host %q: %w", p.Host, err)
	}

	// A port written into Host wins over Port.
	if p.Port > 0 && u.Port() == "" {
		u.Host = net.JoinHostPort(u.Hostname(), strconv.Itoa(p.Port))
	}

	if p.Username != "" && p.Password != "" {
		u.User = url.UserPassword(p.Username, p.Password)
	}

	return u, nil
}

// String renders the proxy URL with the password redacted, for logging.
func (p ProxyConfig) String() string {
	u, err := p.URL()
	if err != nil {
		return ""
	}
	return u.Redacted()
}

// NewHTTPClient builds the HTTP client used for every page request of a run.
// When useProxy is set and a proxy host is configured, all requests are routed
// through the proxy; otherwise requests go direct.
func NewHTTPClient(useProxy bool, proxy ProxyConfig, timeout time.Duration) (*http.Client, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	// Never pick up HTTP_PROXY from the environment; routing is explicit.
	transport.Proxy = nil

	if useProxy && proxy.Host != "" {
		proxyURL, err := proxy.URL()
		if err != nil {
			return nil, err
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}, nil
}
