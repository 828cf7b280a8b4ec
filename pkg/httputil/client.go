// Package httputil provides shared HTTP utilities with connection pooling
// and safe response handling for the LureGuard gateway.
package httputil

import (
	"io"
	"net"
	"net/http"
	"sync"
	"time"
)

// MaxResponseSize is the default maximum size for reading HTTP response bodies.
// This prevents OOM from oversized or hostile pages.
const MaxResponseSize = 10 * 1024 * 1024 // 10MB

// Shared transport with optimized connection pooling.
// Safe for concurrent use; domain-discovery probes hit the same hosts
// repeatedly and benefit from connection reuse.
var sharedTransport = &http.Transport{
	Proxy: http.ProxyFromEnvironment,
	DialContext: (&net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext,
	ForceAttemptHTTP2:     true,
	MaxIdleConns:          100,
	MaxIdleConnsPerHost:   10,
	IdleConnTimeout:       90 * time.Second,
	TLSHandshakeTimeout:   10 * time.Second,
	ExpectContinueTimeout: 1 * time.Second,
}

// TimeoutTier defines standard timeout categories for different operation types.
type TimeoutTier int

const (
	// TierFast for quick probes like domain reachability checks (5s)
	TierFast TimeoutTier = iota
	// TierRedirect for the redirect-following page fetch (10s)
	TierRedirect
	// TierMedium for standard API calls such as screenshot capture (30s)
	TierMedium
	// TierSlow for model invocations that may take longer (60s)
	TierSlow
)

var timeoutDurations = map[TimeoutTier]time.Duration{
	TierFast:     5 * time.Second,
	TierRedirect: 10 * time.Second,
	TierMedium:   30 * time.Second,
	TierSlow:     60 * time.Second,
}

// Singleton clients for each timeout tier - initialized once, reused everywhere.
var (
	tierClients map[TimeoutTier]*http.Client
	clientOnce  sync.Once
)

func initClients() {
	tierClients = make(map[TimeoutTier]*http.Client, len(timeoutDurations))
	for tier, d := range timeoutDurations {
		tierClients[tier] = &http.Client{
			Timeout:   d,
			Transport: sharedTransport,
		}
	}
}

// Client returns a shared HTTP client for the given timeout tier.
// These clients share a connection pool and should be used instead of
// creating new http.Client instances per request.
//
// Usage:
//
//	client := httputil.Client(httputil.TierFast)
//	resp, err := client.Head(probeURL)
func Client(tier TimeoutTier) *http.Client {
	clientOnce.Do(initClients)
	if c, ok := tierClients[tier]; ok {
		return c
	}
	return tierClients[TierMedium]
}

// FastClient returns a client with 5s timeout (reachability probes).
func FastClient() *http.Client {
	return Client(TierFast)
}

// MediumClient returns a client with 30s timeout (standard API calls).
func MediumClient() *http.Client {
	return Client(TierMedium)
}

// SlowClient returns a client with 60s timeout (model invocations).
func SlowClient() *http.Client {
	return Client(TierSlow)
}

// NewClient builds a client on the shared transport with a custom timeout
// and redirect policy. The redirect resolver uses this to record the hop
// chain instead of following silently.
func NewClient(timeout time.Duration, checkRedirect func(req *http.Request, via []*http.Request) error) *http.Client {
	return &http.Client{
		Timeout:       timeout,
		Transport:     sharedTransport,
		CheckRedirect: checkRedirect,
	}
}

// ReadResponseBody safely reads an HTTP response body with size limits.
//
// Usage:
//
//	body, err := httputil.ReadResponseBody(resp.Body, httputil.MaxResponseSize)
func ReadResponseBody(r io.Reader, maxSize int64) ([]byte, error) {
	if maxSize <= 0 {
		maxSize = MaxResponseSize
	}
	return io.ReadAll(io.LimitReader(r, maxSize))
}

// ReadErrorBody reads the response body for error messages with a reasonable limit.
// Uses a smaller limit (1MB) since error messages shouldn't be large.
func ReadErrorBody(r io.Reader) ([]byte, error) {
	const maxErrorSize = 1 * 1024 * 1024 // 1MB for error messages
	return io.ReadAll(io.LimitReader(r, maxErrorSize))
}

// DrainAndClose properly drains and closes an HTTP response body.
// This ensures connection reuse in the pool.
func DrainAndClose(body io.ReadCloser) {
	if body != nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(body, MaxResponseSize))
		_ = body.Close()
	}
}
