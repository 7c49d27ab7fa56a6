package publisher

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Kind classifies a sink failure.
type Kind int

const (
	KindTransport Kind = iota
	KindAuth
	KindConflict
	KindQuotaOrRate
	KindConfig
)

func (k Kind) String() string {
	switch k {
	case KindAuth:
		return "auth"
	case KindConflict:
		return "conflict"
	case KindQuotaOrRate:
		return "quota"
	case KindConfig:
		return "config"
	default:
		return "transport"
	}
}

// Error is returned by every Sink.
type Error struct {
	Sink       string
	Kind       Kind
	StatusCode int           // zero when no response was received
	RetryAfter time.Duration // server-provided backoff hint, if any
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s", e.Sink, e.Kind)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the Kind of err if it is or wraps an *Error.
func KindOf(err error) (Kind, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind, true
	}
	return 0, false
}

// IsConflict returns true if err is a precondition failure on the remote.
func IsConflict(err error) bool {
	k, ok := KindOf(err)
	return ok && k == KindConflict
}

// IsRetryable returns true for rate limiting and transport failures.
func IsRetryable(err error) bool {
	k, ok := KindOf(err)
	return ok && (k == KindQuotaOrRate || k == KindTransport)
}

// classifyStatus maps an HTTP error response to a sink error.
func classifyStatus(sink string, status int, header http.Header, body string) *Error {
	e := &Error{Sink: sink, StatusCode: status, Err: errors.New(summarize(body))}
	lower := strings.ToLower(body)

	switch {
	case status == http.StatusUnauthorized:
		e.Kind = KindAuth
	case status == http.StatusForbidden:
		if header.Get("X-RateLimit-Remaining") == "0" || strings.Contains(lower, "rate limit") {
			e.Kind = KindQuotaOrRate
		} else {
			e.Kind = KindAuth
		}
	case status == http.StatusConflict:
		e.Kind = KindConflict
	case status == http.StatusUnprocessableEntity && strings.Contains(lower, "sha"):
		e.Kind = KindConflict
	case status == http.StatusTooManyRequests:
		e.Kind = KindQuotaOrRate
	case status >= 500:
		e.Kind = KindTransport
	default:
		e.Kind = KindConfig
	}

	if secs, err := strconv.Atoi(header.Get("Retry-After")); err == nil && secs > 0 {
		e.RetryAfter = time.Duration(secs) * time.Second
	}
	return e
}

func summarize(body string) string {
	body = strings.TrimSpace(body)
	if body == "" {
		return "empty response body"
	}
	const max = 200
	if len(body) > max {
		return body[:max] + "..."
	}
	return body
}
