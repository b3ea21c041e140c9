package netutil

import (
	"net"
	"net/http"
	"time"
)

const (
	defaultDialTimeout       = 5 * time.Second
	defaultTLSHandshake      = 5 * time.Second
	defaultIdleConnTimeout   = 30 * time.Second
	defaultResponseTimeout   = 10 * time.Second
	defaultClientTimeout     = 30 * time.Second
	defaultKeepAliveInterval = 30 * time.Second
	defaultRetryAttempts     = 2
	defaultRetryBackoff      = 500 * time.Millisecond
)

// ClientOptions tunes NewHTTPClient. Zero values select defaults.
type ClientOptions struct {
	Timeout        time.Duration
	ResponseHeader time.Duration
	Retries        int
	Backoff        time.Duration
	// Base replaces the tuned transport, mostly for tests.
	Base http.RoundTripper
}

// NewHTTPClient returns a client whose transport retries transient failures of
// idempotent requests.
func NewHTTPClient(opts ClientOptions) *http.Client {
	base := opts.Base
	if base == nil {
		header := opts.ResponseHeader
		if header <= 0 {
			header = defaultResponseTimeout
		}
		base = &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           (&net.Dialer{Timeout: defaultDialTimeout, KeepAlive: defaultKeepAliveInterval}).DialContext,
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   10,
			IdleConnTimeout:       defaultIdleConnTimeout,
			TLSHandshakeTimeout:   defaultTLSHandshake,
			ResponseHeaderTimeout: header,
			ExpectContinueTimeout: 1 * time.Second,
		}
	}

	retries := opts.Retries
	if retries < 0 {
		retries = 0
	} else if retries == 0 {
		retries = defaultRetryAttempts
	}
	backoff := opts.Backoff
	if backoff <= 0 {
		backoff = defaultRetryBackoff
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultClientTimeout
	}

	return &http.Client{
		Timeout: timeout,
		Transport: &RetryTransport{
			Base:       base,
			MaxRetries: retries,
			Backoff:    backoff,
		},
	}
}

// RetryTransport retries GET and HEAD requests that fail with a transient
// network error. Other methods go through exactly once: a reservation POST
// must never be replayed.
type RetryTransport struct {
	Base       http.RoundTripper
	MaxRetries int
	Backoff    time.Duration
}

func (t *RetryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	if !idempotent(req.Method) {
		return base.RoundTrip(req)
	}

	attempts := t.MaxRetries + 1
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		currReq := req
		if attempt > 1 {
			currReq = req.Clone(req.Context())
		}

		resp, err := base.RoundTrip(currReq)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !ShouldRetry(err) || attempt == attempts {
			break
		}

		delay := t.Backoff * time.Duration(attempt)
		if delay <= 0 {
			continue
		}
		timer := time.NewTimer(delay)
		select {
		case <-req.Context().Done():
			timer.Stop()
			return nil, req.Context().Err()
		case <-timer.C:
		}
	}
	return nil, lastErr
}

func idempotent(method string) bool {
	switch method {
	case "", http.MethodGet, http.MethodHead:
		return true
	}
	return false
}
