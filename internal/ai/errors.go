package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrUnavailable is returned by providers that were registered without
// credentials.
var ErrUnavailable = errors.New("ai provider unavailable")

type ErrorKind int

const (
	KindTransient ErrorKind = iota
	KindRateLimited
	KindQuotaExceeded
	KindInvalidCredentials
	KindMalformedResponse
)

func (k ErrorKind) String() string {
	switch k {
	case KindRateLimited:
		return "rate_limited"
	case KindQuotaExceeded:
		return "quota_exceeded"
	case KindInvalidCredentials:
		return "invalid_credentials"
	case KindMalformedResponse:
		return "malformed_response"
	default:
		return "transient"
	}
}

// ProviderError is the only error shape the embedding path surfaces for
// provider failures.
type ProviderError struct {
	Kind     ErrorKind
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Provider == "" {
		return fmt.Sprintf("embedding provider %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("embedding provider %s (%s): %v", e.Kind, e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

func newProviderError(provider string, kind ErrorKind, err error) *ProviderError {
	return &ProviderError{Kind: kind, Provider: provider, Err: err}
}

type retryPolicy struct {
	fatal       bool
	maxAttempts int
	baseBackoff time.Duration
}

const maxBackoff = 8 * time.Second

var retryPolicies = map[ErrorKind]retryPolicy{
	KindQuotaExceeded:      {fatal: true, maxAttempts: 1},
	KindInvalidCredentials: {fatal: true, maxAttempts: 1},
	KindRateLimited:        {maxAttempts: 3, baseBackoff: time.Second},
	KindTransient:          {maxAttempts: 3, baseBackoff: 500 * time.Millisecond},
	KindMalformedResponse:  {maxAttempts: 1},
}

func policyFor(kind ErrorKind) retryPolicy {
	if p, ok := retryPolicies[kind]; ok {
		return p
	}
	return retryPolicies[KindTransient]
}

func (p retryPolicy) backoff(attempt int) time.Duration {
	d := p.baseBackoff << uint(attempt-1)
	if d > maxBackoff || d <= 0 {
		return maxBackoff
	}
	return d
}

// KindOf extracts the error kind. Errors that are not provider errors are
// treated as transient.
func KindOf(err error) ErrorKind {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindTransient
}

func IsProviderError(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe)
}

// IsFatal reports whether err means the remaining work of a run will fail
// the same way.
func IsFatal(err error) bool {
	var pe *ProviderError
	if !errors.As(err, &pe) {
		return false
	}
	return policyFor(pe.Kind).fatal
}

// classifyStatus maps an HTTP status to a kind. Providers refine this with
// their own error codes before falling back here.
func classifyStatus(status int) ErrorKind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindInvalidCredentials
	case status == http.StatusPaymentRequired:
		return KindQuotaExceeded
	case status == http.StatusTooManyRequests:
		return KindRateLimited
	case status >= 500:
		return KindTransient
	case status >= 400:
		return KindMalformedResponse
	default:
		return KindTransient
	}
}

func classifyContextErr(provider string, err error) (*ProviderError, bool) {
	if errors.Is(err, context.DeadlineExceeded) {
		return newProviderError(provider, KindTransient, err), true
	}
	if errors.Is(err, ErrUnavailable) {
		return newProviderError(provider, KindInvalidCredentials, err), true
	}
	return nil, false
}
