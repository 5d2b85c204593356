package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"relay-proxy-go/internal/rewrite"
	"relay-proxy-go/internal/target"
)

// Sentinel errors classifying proxy failures. A *ProxyError matches its
// kind through errors.Is.
var (
	// ErrInvalidTarget indicates a malformed upstream address.
	ErrInvalidTarget = target.ErrInvalidTarget

	// ErrTemplateResolution indicates the upstream path could not be built.
	ErrTemplateResolution = rewrite.ErrTemplateResolution

	// ErrConnection indicates the outbound connection failed: refused,
	// reset, timed out, DNS failure or canceled by the caller.
	ErrConnection = errors.New("upstream connection failed")

	// ErrUpstreamNoStatus indicates the upstream answered without a usable
	// status code. It is handled inside the proxy with a 503.
	ErrUpstreamNoStatus = errors.New("upstream did not respond")

	// ErrHook indicates a pre-request or post-response hook failed.
	ErrHook = errors.New("hook failed")
)

// ProxyError describes a failed proxy operation.
type ProxyError struct {
	Kind    error  // One of the sentinel errors above
	Op      string // Pipeline stage that failed
	Target  string // Upstream host:port if known
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *ProxyError) Error() string {
	msg := fmt.Sprintf("proxy error [%s]", e.Op)
	if e.Target != "" {
		msg += " target=" + e.Target
	}
	msg += ": " + e.Message
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the kind and the underlying error.
func (e *ProxyError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}
	return errs
}

// StatusCode returns the HTTP status a central error handler should
// answer with.
func (e *ProxyError) StatusCode() int {
	switch {
	case errors.Is(e, ErrConnection):
		if isTimeout(e.Cause) {
			return http.StatusGatewayTimeout
		}
		return http.StatusBadGateway
	case errors.Is(e, ErrUpstreamNoStatus):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// KindName returns a short label for the error kind, used in metrics.
func KindName(err error) string {
	switch {
	case errors.Is(err, ErrInvalidTarget):
		return "invalid_target"
	case errors.Is(err, ErrTemplateResolution):
		return "template"
	case errors.Is(err, ErrHook):
		return "hook"
	case errors.Is(err, ErrUpstreamNoStatus):
		return "no_status"
	case errors.Is(err, ErrConnection):
		return "connection"
	default:
		return "other"
	}
}

func newProxyError(kind error, op, tgt, message string, cause error) *ProxyError {
	return &ProxyError{
		Kind:    kind,
		Op:      op,
		Target:  tgt,
		Message: message,
		Cause:   cause,
	}
}
