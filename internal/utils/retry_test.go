package utils

import (
	"context"
	"crypto/x509"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryPolicy_Backoff(t *testing.T) {
	p := RetryPolicy{MaxRetries: 5, MinBackoff: 100 * time.Millisecond, MaxBackoff: time.Second}
	tests := []struct {
		attempt int
		ceiling time.Duration
	}{
		{attempt: 1, ceiling: 100 * time.Millisecond},
		{attempt: 2, ceiling: 200 * time.Millisecond},
		{attempt: 3, ceiling: 400 * time.Millisecond},
		{attempt: 4, ceiling: 800 * time.Millisecond},
		{attempt: 5, ceiling: time.Second},
		{attempt: 12, ceiling: time.Second},
	}
	for _, tt := range tests {
		for range 20 {
			d := p.Backoff(tt.attempt)
			assert.GreaterOrEqual(t, d, tt.ceiling/2, "attempt %d", tt.attempt)
			assert.LessOrEqual(t, d, tt.ceiling, "attempt %d", tt.attempt)
		}
	}
	assert.Equal(t, time.Duration(0), p.Backoff(0))
}

type scriptedDoer struct {
	calls   atomic.Int32
	respond func(call int) (*http.Response, error)
}

func (s *scriptedDoer) Do(req *http.Request) (*http.Response, error) {
	n := int(s.calls.Add(1))
	return s.respond(n)
}

func statusResponse(code int) *http.Response {
	return &http.Response{
		StatusCode: code,
		Status:     http.StatusText(code),
		Header:     make(http.Header),
		Body:       io.NopCloser(http.NoBody),
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func newTestRetryDoer(next HTTPDoer, retries int) (*RetryDoer, *[]time.Duration) {
	var slept []time.Duration
	r := NewRetryDoer(next, RetryPolicy{MaxRetries: retries, MinBackoff: time.Millisecond, MaxBackoff: 4 * time.Millisecond})
	r.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return r, &slept
}

func TestRetryDoer(t *testing.T) {
	tests := []struct {
		name       string
		retries    int
		respond    func(call int) (*http.Response, error)
		wantCalls  int32
		wantStatus int
		wantErr    bool
	}{
		{
			name:       "success first try",
			retries:    3,
			respond:    func(int) (*http.Response, error) { return statusResponse(http.StatusOK), nil },
			wantCalls:  1,
			wantStatus: http.StatusOK,
		},
		{
			name:    "recovers after server errors",
			retries: 3,
			respond: func(call int) (*http.Response, error) {
				if call < 3 {
					return statusResponse(http.StatusServiceUnavailable), nil
				}
				return statusResponse(http.StatusOK), nil
			},
			wantCalls:  3,
			wantStatus: http.StatusOK,
		},
		{
			name:       "client error is not retried",
			retries:    3,
			respond:    func(int) (*http.Response, error) { return statusResponse(http.StatusNotFound), nil },
			wantCalls:  1,
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "server error returned once retries run out",
			retries:    2,
			respond:    func(int) (*http.Response, error) { return statusResponse(http.StatusBadGateway), nil },
			wantCalls:  3,
			wantStatus: http.StatusBadGateway,
		},
		{
			name:    "transient transport error recovers",
			retries: 1,
			respond: func(call int) (*http.Response, error) {
				if call == 1 {
					return nil, timeoutErr{}
				}
				return statusResponse(http.StatusOK), nil
			},
			wantCalls:  2,
			wantStatus: http.StatusOK,
		},
		{
			name:      "transient transport error exhausts",
			retries:   2,
			respond:   func(int) (*http.Response, error) { return nil, io.ErrUnexpectedEOF },
			wantCalls: 3,
			wantErr:   true,
		},
		{
			name:      "permanent transport error",
			retries:   3,
			respond:   func(int) (*http.Response, error) { return nil, errors.New("unsupported protocol scheme") },
			wantCalls: 1,
			wantErr:   true,
		},
		{
			name:       "zero retries",
			retries:    0,
			respond:    func(int) (*http.Response, error) { return statusResponse(http.StatusInternalServerError), nil },
			wantCalls:  1,
			wantStatus: http.StatusInternalServerError,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doer := &scriptedDoer{respond: tt.respond}
			r, slept := newTestRetryDoer(doer, tt.retries)
			req, err := http.NewRequest(http.MethodGet, "http://example.com/file", nil)
			require.NoError(t, err)

			resp, err := r.Do(req)
			assert.Equal(t, tt.wantCalls, doer.calls.Load())
			assert.Len(t, *slept, int(tt.wantCalls)-1)
			if tt.wantErr {
				require.Error(t, err)
				assert.Nil(t, resp)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
		})
	}
}

func TestRetryDoer_ExhaustedErrorUnwraps(t *testing.T) {
	doer := &scriptedDoer{respond: func(int) (*http.Response, error) { return nil, io.ErrUnexpectedEOF }}
	r, _ := newTestRetryDoer(doer, 1)
	req, err := http.NewRequest(http.MethodGet, "http://example.com/file", nil)
	require.NoError(t, err)

	_, err = r.Do(req)
	var exhausted *RetriesExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 2, exhausted.Attempts)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestRetryDoer_StopsWhenContextCanceled(t *testing.T) {
	doer := &scriptedDoer{respond: func(int) (*http.Response, error) {
		return statusResponse(http.StatusServiceUnavailable), nil
	}}
	r := NewRetryDoer(doer, RetryPolicy{MaxRetries: 5, MinBackoff: time.Hour, MaxBackoff: time.Hour})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://example.com/file", nil)
	require.NoError(t, err)

	_, err = r.Do(req)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, int32(1), doer.calls.Load())
}

func TestRetryDoer_AgainstServer(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		assert.Equal(t, "yes", r.Header.Get("X-Kept"))
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	r, _ := newTestRetryDoer(http.DefaultClient, 3)
	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	req.Header.Set("X-Kept", "yes")

	resp, err := r.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(body))
	assert.Equal(t, int32(3), hits.Load())
}

type countingDoer struct {
	next  HTTPDoer
	calls atomic.Int32
}

func (c *countingDoer) Do(req *http.Request) (*http.Response, error) {
	c.calls.Add(1)
	return c.next.Do(req)
}

func TestRetryDoer_CertificateFailureNotRetried(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("unreachable"))
	}))
	defer srv.Close()

	// the default client does not trust the test server's certificate
	client, err := NewTrawlHTTPClient(DefaultEngineConfig().HTTPConfig())
	require.NoError(t, err)
	defer client.CloseIdleConnections()
	counter := &countingDoer{next: client}
	r, slept := newTestRetryDoer(counter, 3)

	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	resp, err := r.Do(req)

	require.Error(t, err)
	assert.Nil(t, resp)
	assert.Equal(t, int32(1), counter.calls.Load())
	assert.Empty(t, *slept)
	assert.False(t, IsTransientError(err))
	var exhausted *RetriesExhaustedError
	assert.False(t, errors.As(err, &exhausted))
}

func TestRetryDoer_RefusedConnectionRetried(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	counter := &countingDoer{next: http.DefaultClient}
	r, slept := newTestRetryDoer(counter, 2)
	req, err := http.NewRequest(http.MethodGet, "http://"+addr+"/file", nil)
	require.NoError(t, err)

	_, err = r.Do(req)
	var exhausted *RetriesExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, int32(3), counter.calls.Load())
	assert.Len(t, *slept, 2)
}

func TestIsTransientError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "canceled", err: &url.Error{Op: "Get", URL: "http://x", Err: context.Canceled}, want: false},
		{name: "unexpected eof", err: &url.Error{Op: "Get", URL: "http://x", Err: io.ErrUnexpectedEOF}, want: true},
		{name: "timeout", err: &url.Error{Op: "Get", URL: "http://x", Err: timeoutErr{}}, want: true},
		{name: "dial error", err: &url.Error{Op: "Get", URL: "http://x", Err: &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("no route to host")}}, want: true},
		{name: "unknown authority", err: &url.Error{Op: "Get", URL: "https://x", Err: x509.UnknownAuthorityError{}}, want: false},
		{name: "hostname mismatch", err: &url.Error{Op: "Get", URL: "https://x", Err: x509.HostnameError{Host: "x"}}, want: false},
		{name: "redirect policy", err: &url.Error{Op: "Get", URL: "http://x", Err: errors.New("stopped after 10 redirects")}, want: false},
		{name: "unknown host", err: &url.Error{Op: "Get", URL: "http://x", Err: &net.OpError{Op: "dial", Net: "tcp", Err: &net.DNSError{Err: "no such host", Name: "x", IsNotFound: true}}}, want: false},
		{name: "plain error", err: errors.New("unsupported protocol scheme"), want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransientError(tt.err))
		})
	}
}
