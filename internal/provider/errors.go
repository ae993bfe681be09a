package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/ollama/ollama/api"
	openai "github.com/openai/openai-go"
)

// Kind classifies a generation failure.
type Kind string

const (
	KindTimeout        Kind = "timeout"
	KindRateLimited    Kind = "rate_limited"
	KindServer         Kind = "server_error"
	KindInvalidRequest Kind = "invalid_request"
	KindAuth           Kind = "auth"
	KindNoProvider     Kind = "no_provider"
	KindCancelled      Kind = "cancelled"
	KindContract       Kind = "contract"
	KindUnknown        Kind = "unknown"
)

// Transient reports whether a failure of this kind may succeed on retry.
func (k Kind) Transient() bool {
	switch k {
	case KindTimeout, KindRateLimited, KindServer:
		return true
	}
	return false
}

// ErrNoProvider is returned by Pool.Select when every provider for a
// capability is circuit-open or none is registered.
var ErrNoProvider = errors.New("no provider available")

// Error is a classified provider failure.
type Error struct {
	Kind       Kind
	Provider   string
	StatusCode int
	RetryAfter time.Duration // server hint, zero when absent
	Err        error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Provider != "" {
		msg = e.Provider + ": " + msg
	}
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Errorf builds a classified error.
func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the classification of err, classifying it on the fly
// when it is not already a *Error.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	return Classify(err).Kind
}

// Classify maps an arbitrary error into the provider taxonomy. Errors that
// are already classified are returned unchanged.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}
	if errors.Is(err, ErrNoProvider) {
		return &Error{Kind: KindNoProvider, Err: err}
	}
	if errors.Is(err, context.Canceled) {
		return &Error{Kind: KindCancelled, Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Err: err}
	}

	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		e := &Error{Kind: kindForStatus(apiErr.StatusCode), StatusCode: apiErr.StatusCode, Err: err}
		if apiErr.Response != nil {
			e.RetryAfter = parseRetryAfter(apiErr.Response.Header.Get("Retry-After"))
		}
		return e
	}

	var statusErr api.StatusError
	if errors.As(err, &statusErr) {
		return &Error{Kind: kindForStatus(statusErr.StatusCode), StatusCode: statusErr.StatusCode, Err: err}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &Error{Kind: KindTimeout, Err: err}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return &Error{Kind: KindServer, Err: err}
	}
	return &Error{Kind: KindUnknown, Err: err}
}

func kindForStatus(code int) Kind {
	switch {
	case code == http.StatusTooManyRequests:
		return KindRateLimited
	case code == http.StatusRequestTimeout || code == http.StatusGatewayTimeout:
		return KindTimeout
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return KindAuth
	case code >= 500:
		return KindServer
	case code >= 400:
		return KindInvalidRequest
	}
	return KindUnknown
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := time.ParseDuration(v + "s"); err == nil && secs > 0 {
		return secs
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
