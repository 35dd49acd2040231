package utils

import (
	"fmt"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/net/http/httpguts"
)

const (
	DefaultRetries         = 3
	DefaultConcurrency     = 32
	DefaultTimeout         = 3 * time.Minute
	DefaultKATimeout       = 90 * time.Second
	DefaultRetryBackoff    = 500 * time.Millisecond
	DefaultRetryMaxBackoff = 30 * time.Second
)

// EngineConfig is the immutable configuration shared by every transfer of a batch.
// Build one with DefaultEngineConfig and adjust fields or use the With* helpers,
// which return copies.
type EngineConfig struct {
	// Retries is the number of retries after the first attempt.
	Retries int
	// Concurrency is the maximum number of simultaneous transfers.
	Concurrency int
	// Resumable enables range negotiation and appending to partial files.
	Resumable bool
	// Headers are merged into every outbound request.
	Headers http.Header

	Proxy         string
	ProxyUsername string
	ProxyPassword string
	UserAgent     string

	// Timeout bounds connection setup and waiting for response headers of one attempt.
	Timeout         time.Duration
	KATimeout       time.Duration
	RetryBackoff    time.Duration
	RetryMaxBackoff time.Duration
	HighThreadMode  bool
}

func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Retries:         DefaultRetries,
		Concurrency:     DefaultConcurrency,
		Resumable:       true,
		UserAgent:       ToolUserAgent,
		Timeout:         DefaultTimeout,
		KATimeout:       DefaultKATimeout,
		RetryBackoff:    DefaultRetryBackoff,
		RetryMaxBackoff: DefaultRetryMaxBackoff,
	}
}

// WithHeader returns a copy of c with the header merged in.
func (c EngineConfig) WithHeader(name, value string) EngineConfig {
	headers := c.Headers.Clone()
	if headers == nil {
		headers = make(http.Header)
	}
	headers.Set(name, value)
	c.Headers = headers
	return c
}

// WithHeaders returns a copy of c with all headers merged in.
func (c EngineConfig) WithHeaders(headers map[string]string) EngineConfig {
	for k, v := range headers {
		c = c.WithHeader(k, v)
	}
	return c
}

// Clone returns a copy of c that shares no mutable state with it.
func (c EngineConfig) Clone() EngineConfig {
	c.Headers = c.Headers.Clone()
	return c
}

// Validate rejects invalid combinations instead of clamping them.
func (c EngineConfig) Validate() error {
	if c.Concurrency < 1 {
		return fmt.Errorf("%w: concurrency must be at least 1, got %d", ErrInvalidConfig, c.Concurrency)
	}
	if c.Retries < 0 {
		return fmt.Errorf("%w: retries must not be negative, got %d", ErrInvalidConfig, c.Retries)
	}
	if c.RetryBackoff <= 0 || c.RetryMaxBackoff <= 0 {
		return fmt.Errorf("%w: retry backoff must be positive", ErrInvalidConfig)
	}
	if c.RetryMaxBackoff < c.RetryBackoff {
		return fmt.Errorf("%w: max backoff %s is below initial backoff %s", ErrInvalidConfig, c.RetryMaxBackoff, c.RetryBackoff)
	}
	if c.Timeout < 0 || c.KATimeout < 0 {
		return fmt.Errorf("%w: timeouts must not be negative", ErrInvalidConfig)
	}
	for name, values := range c.Headers {
		if !httpguts.ValidHeaderFieldName(name) {
			return fmt.Errorf("%w: invalid header name %q", ErrInvalidConfig, name)
		}
		for _, v := range values {
			if !httpguts.ValidHeaderFieldValue(v) {
				return fmt.Errorf("%w: invalid value for header %q", ErrInvalidConfig, name)
			}
		}
	}
	if _, err := ParseProxy(c.Proxy, c.ProxyUsername, c.ProxyPassword); err != nil {
		return err
	}
	return nil
}

// ParseProxy parses a proxy endpoint and attaches credentials when given separately.
// An empty proxy returns nil without error.
func ParseProxy(proxy, username, password string) (*url.URL, error) {
	if proxy == "" {
		return nil, nil
	}
	proxyURL, err := url.Parse(proxy)
	if err != nil || proxyURL.Host == "" {
		// proxy.example.com:8080 parses with an empty host; retry with a scheme
		proxyURL, err = url.Parse("http://" + proxy)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid proxy %q: %v", ErrInvalidConfig, proxy, err)
		}
	}
	switch proxyURL.Scheme {
	case "http", "https", "socks5":
	default:
		return nil, fmt.Errorf("%w: unsupported proxy scheme %q", ErrInvalidConfig, proxyURL.Scheme)
	}
	if proxyURL.Host == "" {
		return nil, fmt.Errorf("%w: proxy %q has no host", ErrInvalidConfig, proxy)
	}
	if username != "" {
		if password != "" {
			proxyURL.User = url.UserPassword(username, password)
		} else {
			proxyURL.User = url.User(username)
		}
	}
	return proxyURL, nil
}
