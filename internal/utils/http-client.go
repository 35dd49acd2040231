package utils

import (
	"net"
	"net/http"
	"syscall"
	"time"
)

// HTTPDoer sends one request. The shared client and the retry decorator both satisfy it.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

type HTTPClientConfig struct {
	Timeout        time.Duration
	KATimeout      time.Duration
	ProxyURL       string
	ProxyUsername  string
	ProxyPassword  string
	UserAgent      string
	Headers        http.Header
	HighThreadMode bool // advanced socket options for high concurrency
}

// HTTPConfig extracts the client settings from an engine configuration.
func (c EngineConfig) HTTPConfig() HTTPClientConfig {
	return HTTPClientConfig{
		Timeout:        c.Timeout,
		KATimeout:      c.KATimeout,
		ProxyURL:       c.Proxy,
		ProxyUsername:  c.ProxyUsername,
		ProxyPassword:  c.ProxyPassword,
		UserAgent:      c.UserAgent,
		Headers:        c.Headers.Clone(),
		HighThreadMode: c.HighThreadMode,
	}
}

// TrawlHTTPClient is safe for concurrent use; its headers are fixed at construction.
type TrawlHTTPClient struct {
	client *http.Client
	config HTTPClientConfig
}

func NewTrawlHTTPClient(cfg HTTPClientConfig) (*TrawlHTTPClient, error) {
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.KATimeout == 0 {
		cfg.KATimeout = DefaultKATimeout
	}
	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	if cfg.HighThreadMode {
		dialer.Control = func(network, address string, c syscall.RawConn) error {
			return c.Control(func(fd uintptr) {
				setSocketOptions(fd)
			})
		}
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		IdleConnTimeout:       cfg.KATimeout,
		ResponseHeaderTimeout: cfg.Timeout,
		TLSHandshakeTimeout:   30 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   100,
		DisableCompression:    true, // byte offsets must refer to the raw body
	}
	proxyURL, err := ParseProxy(cfg.ProxyURL, cfg.ProxyUsername, cfg.ProxyPassword)
	if err != nil {
		return nil, err
	}
	if proxyURL != nil {
		transport.Proxy = http.ProxyURL(proxyURL)
	}
	cfg.Headers = cfg.Headers.Clone()
	return &TrawlHTTPClient{
		// no overall client timeout: a large body may legitimately stream for hours
		client: &http.Client{Transport: transport},
		config: cfg,
	}, nil
}

func (t *TrawlHTTPClient) Do(req *http.Request) (*http.Response, error) {
	if t.config.UserAgent != "" {
		req.Header.Set("User-Agent", t.config.UserAgent)
	} else {
		req.Header.Set("User-Agent", ToolUserAgent)
	}
	for k, v := range t.config.Headers {
		req.Header[k] = append([]string(nil), v...)
	}
	return t.client.Do(req)
}

// CloseIdleConnections releases pooled connections once a batch is done.
func (t *TrawlHTTPClient) CloseIdleConnections() {
	t.client.CloseIdleConnections()
}
