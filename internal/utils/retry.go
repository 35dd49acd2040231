package utils

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net"
	"net/http"
	"net/url"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
)

// RetryPolicy bounds how often and how patiently a request is re-sent.
type RetryPolicy struct {
	// MaxRetries counts attempts beyond the first one.
	MaxRetries int
	MinBackoff time.Duration
	MaxBackoff time.Duration
}

func (c EngineConfig) RetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: c.Retries,
		MinBackoff: c.RetryBackoff,
		MaxBackoff: c.RetryMaxBackoff,
	}
}

// Backoff returns the delay before retry number attempt (1-based). The delay doubles
// per attempt up to MaxBackoff and is jittered into [d/2, d] so that many transfers
// failing at once do not retry in lockstep.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}
	d := p.MinBackoff
	for i := 1; i < attempt && d < p.MaxBackoff; i++ {
		d *= 2
	}
	d = min(d, p.MaxBackoff)
	half := d / 2
	if half <= 0 {
		return d
	}
	return half + rand.N(half+1)
}

// IsTransientStatus reports whether a response status is worth retrying.
func IsTransientStatus(code int) bool {
	return code >= 500 && code <= 599
}

// IsTransientError reports whether a transport error is worth retrying: timeouts,
// refused or reset connections, and bodies cut short. Certificate, redirect and
// proxy failures repeat identically and are not retried.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	// *url.Error implements net.Error itself, so look at what it wraps
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		err = urlErr.Err
	}

	var certErr *tls.CertificateVerificationError
	var unknownAuthority x509.UnknownAuthorityError
	var hostnameErr x509.HostnameError
	var invalidCert x509.CertificateInvalidError
	var recordErr tls.RecordHeaderError
	if errors.As(err, &certErr) || errors.As(err, &unknownAuthority) || errors.As(err, &hostnameErr) ||
		errors.As(err, &invalidCert) || errors.As(err, &recordErr) {
		return false
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
		return false
	}

	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) ||
		errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) || errors.Is(err, syscall.EPIPE) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return opErr.Op == "dial" || opErr.Op == "read" || opErr.Op == "write"
	}
	return false
}

// RetryDoer decorates an HTTPDoer with bounded exponential backoff on transient failures.
// Client errors (4xx) and other non-transient results are returned untouched after the
// first attempt. When retries run out on a 5xx status the last response is returned
// as-is for the caller to classify.
type RetryDoer struct {
	next   HTTPDoer
	policy RetryPolicy
	sleep  func(ctx context.Context, d time.Duration) error
}

func NewRetryDoer(next HTTPDoer, policy RetryPolicy) *RetryDoer {
	return &RetryDoer{next: next, policy: policy, sleep: sleepCtx}
}

func (r *RetryDoer) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	var lastErr error
	for attempt := 0; attempt <= r.policy.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := r.policy.Backoff(attempt)
			log.Warn().Str("op", "retry").Str("url", req.URL.String()).Int("attempt", attempt+1).
				Int("maxAttempts", r.policy.MaxRetries+1).Dur("delay", delay).Err(lastErr).Msg("retrying request")
			if err := r.sleep(ctx, delay); err != nil {
				return nil, err
			}
		}
		attemptReq, err := cloneRequest(req, attempt)
		if err != nil {
			return nil, err
		}
		resp, err := r.next.Do(attemptReq)
		if err != nil {
			if !IsTransientError(err) || ctx.Err() != nil {
				return nil, err
			}
			lastErr = err
			continue
		}
		if IsTransientStatus(resp.StatusCode) && attempt < r.policy.MaxRetries {
			lastErr = &StatusError{StatusCode: resp.StatusCode, Status: resp.Status}
			drainAndClose(resp.Body)
			continue
		}
		return resp, nil
	}
	return nil, &RetriesExhaustedError{Attempts: r.policy.MaxRetries + 1, Err: lastErr}
}

// RetriesExhaustedError is returned when every attempt failed at the transport level.
type RetriesExhaustedError struct {
	Attempts int
	Err      error
}

func (e *RetriesExhaustedError) Error() string {
	return fmt.Sprintf("request failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *RetriesExhaustedError) Unwrap() error { return e.Err }

func cloneRequest(req *http.Request, attempt int) (*http.Request, error) {
	if attempt == 0 {
		return req, nil
	}
	clone := req.Clone(req.Context())
	if req.Body != nil && req.Body != http.NoBody {
		if req.GetBody == nil {
			return nil, errors.New("request body cannot be replayed for retry")
		}
		body, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		clone.Body = body
	}
	return clone, nil
}

func drainAndClose(body io.ReadCloser) {
	io.Copy(io.Discard, io.LimitReader(body, 64*1024))
	body.Close()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
