// Package connpool owns the process-wide HTTP client shared by every
// outbound call (GraphQL queries and webhook deliveries).
package connpool

import (
	"net"
	"net/http"
	"time"
)

// Doer is the capability both API clients need. *Manager and *http.Client
// satisfy it; tests substitute fakes.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Options tunes the shared transport.
type Options struct {
	// Timeout bounds each request end to end. Default: 15s.
	Timeout time.Duration
	// MaxIdleConnsPerHost caps pooled keep-alive connections per host. Default: 4.
	MaxIdleConnsPerHost int
	// IdleConnTimeout closes pooled connections left idle this long. Default: 90s.
	IdleConnTimeout time.Duration
	// UserAgent is set on requests that don't carry one.
	UserAgent string
}

// DefaultOptions returns the transport settings used by the CLI.
func DefaultOptions() Options {
	return Options{
		Timeout:             15 * time.Second,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     90 * time.Second,
		UserAgent:           "streakwatch/1.0",
	}
}

// Manager holds one keep-alive *http.Client for the life of the process.
// It carries no per-request state and is safe for concurrent use.
type Manager struct {
	client    *http.Client
	transport *http.Transport
	userAgent string
}

// New builds the shared client. Call it once at startup and pass the
// result to every component that talks to the network.
func New(opts Options) *Manager {
	def := DefaultOptions()
	if opts.Timeout <= 0 {
		opts.Timeout = def.Timeout
	}
	if opts.MaxIdleConnsPerHost <= 0 {
		opts.MaxIdleConnsPerHost = def.MaxIdleConnsPerHost
	}
	if opts.IdleConnTimeout <= 0 {
		opts.IdleConnTimeout = def.IdleConnTimeout
	}
	if opts.UserAgent == "" {
		opts.UserAgent = def.UserAgent
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          opts.MaxIdleConnsPerHost * 4,
		MaxIdleConnsPerHost:   opts.MaxIdleConnsPerHost,
		IdleConnTimeout:       opts.IdleConnTimeout,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &Manager{
		client: &http.Client{
			Timeout:   opts.Timeout,
			Transport: transport,
		},
		transport: transport,
		userAgent: opts.UserAgent,
	}
}

// Do sends req over the shared client.
func (m *Manager) Do(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", m.userAgent)
	}
	return m.client.Do(req)
}

// Timeout returns the per-request bound.
func (m *Manager) Timeout() time.Duration {
	return m.client.Timeout
}

// Close drops idle pooled connections. The Manager stays usable.
func (m *Manager) Close() {
	m.transport.CloseIdleConnections()
}
