// Package service implements the core proxy forwarding logic.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"relay-proxy-go/internal/client"
	"relay-proxy-go/internal/metrics"
	"relay-proxy-go/internal/model"
	"relay-proxy-go/internal/rewrite"
	"relay-proxy-go/internal/target"
)

// DefaultTimeout is the upstream connection timeout when none is configured.
const DefaultTimeout = client.DefaultTimeout

// streamBufferSize is the largest chunk copied to the caller at once.
const streamBufferSize = 32 * 1024

// hopByHopHeaders are connection-scoped and never copied from the upstream
// response (RFC 7230 section 6.1).
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"TE",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Options configures a ProxyService.
type Options struct {
	// To is the upstream address, host[:port] with an optional scheme.
	To string
	// At rewrites the upstream path. Nil forwards the inbound path.
	At rewrite.Rule
	// Timeout bounds the upstream connection. Zero means DefaultTimeout.
	Timeout time.Duration
	// Before hooks run in order before the request body is sent.
	Before []PreRequestHook
	// After hooks run in order before the response body is sent.
	After []PostResponseHook
	// Transport overrides the upstream transport.
	Transport http.RoundTripper
}

// ProxyService forwards requests to a single upstream. It is immutable
// after construction and safe for concurrent use.
type ProxyService struct {
	to      string
	target  target.Target
	at      rewrite.Rule
	timeout time.Duration
	before  []PreRequestHook
	after   []PostResponseHook
	client  *client.UpstreamClient
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewProxyService validates opts and creates a ProxyService. An unusable
// upstream address fails here, before any traffic is accepted.
// The metrics parameter is optional.
func NewProxyService(opts Options, logger *slog.Logger, m *metrics.Metrics) (*ProxyService, error) {
	tgt, err := target.Parse(opts.To)
	if err != nil {
		return nil, newProxyError(ErrInvalidTarget, "parse_target", "", "invalid upstream address", err)
	}
	if opts.Timeout < 0 {
		return nil, fmt.Errorf("timeout must be non-negative; got %v", opts.Timeout)
	}

	timeout := opts.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	return &ProxyService{
		to:      opts.To,
		target:  tgt,
		at:      opts.At,
		timeout: timeout,
		before:  append([]PreRequestHook(nil), opts.Before...),
		after:   append([]PostResponseHook(nil), opts.After...),
		client:  client.NewUpstreamClient(client.Config{Timeout: timeout, Transport: opts.Transport}, logger, m),
		logger:  logger.With("component", "proxy_service"),
		metrics: m,
	}, nil
}

// Target returns the parsed upstream address.
func (s *ProxyService) Target() target.Target { return s.target }

// Timeout returns the effective upstream connection timeout.
func (s *ProxyService) Timeout() time.Duration { return s.timeout }

// Forward proxies in to the upstream and streams the answer into w.
//
// Pre-request hooks run before any body byte goes upstream; post-response
// hooks run before any body byte reaches the caller. Connection, hook and
// path errors are returned, not written: the caller decides how to render
// them. The only response the proxy writes on its own is the 503 sent when
// the upstream answers without a usable status.
//
// Upstream response headers are copied as received except the hop-by-hop
// headers of RFC 7230 section 6.1, which belong to the upstream connection.
// Caller headers change only once all post-response hooks succeed; a failed
// hook leaves them as they were before Forward.
//
// log is the request-scoped logger; nil uses the service logger.
func (s *ProxyService) Forward(ctx context.Context, log *slog.Logger, w http.ResponseWriter, in *model.ProxyRequest) error {
	if log == nil {
		log = s.logger
	}
	log = log.With("upstream", s.target.String())

	err := s.forward(ctx, log, w, in)
	if err != nil && s.metrics != nil {
		s.metrics.ProxyFailures.WithLabelValues(s.target.String(), KindName(err)).Inc()
	}
	return err
}

func (s *ProxyService) forward(ctx context.Context, log *slog.Logger, w http.ResponseWriter, in *model.ProxyRequest) error {
	tgt := s.target.String()

	path, err := rewrite.Path(s.at, in)
	if err != nil {
		return newProxyError(ErrTemplateResolution, "rewrite_path", tgt, "cannot build upstream path", err)
	}

	d := s.target.Resolve(path, in.Header, in.Method, s.timeout)
	log.Debug("request options",
		"method", d.Method,
		"host", d.Host,
		"port", d.Port,
		"path", d.Path,
		"timeout_ms", d.Timeout.Milliseconds(),
	)

	out, err := s.client.Open(ctx, d, requestBody(in), in.ContentLength)
	if err != nil {
		return newProxyError(ErrTemplateResolution, "open_request", tgt, "invalid upstream path "+path, err)
	}

	// Hooks work on a staged copy of the caller headers. It replaces the
	// live headers only once the status line is about to be written, so a
	// failed hook leaves the caller response clean for the error handler.
	reply := &model.Reply{Header: w.Header().Clone()}
	if reply.Header == nil {
		reply.Header = http.Header{}
	}
	for i, h := range s.before {
		if err := h.BeforeRequest(ctx, out, in, reply); err != nil {
			return newProxyError(ErrHook, "before_request", tgt, fmt.Sprintf("pre-request hook #%d failed", i), err)
		}
	}

	resp, err := s.client.Send(out)
	if err != nil {
		log.Warn("upstream request failed", "err", err)
		return newProxyError(ErrConnection, "send_request", tgt, "upstream request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	log.Debug("received response", "status", resp.StatusCode)
	copyHeader(reply.Header, resp.Header)

	if resp.StatusCode < 100 {
		log.Warn("upstream response has no status", "path", path)
		if s.metrics != nil {
			s.metrics.ProxyFailures.WithLabelValues(tgt, KindName(ErrUpstreamNoStatus)).Inc()
		}
		replaceHeader(w.Header(), reply.Header)
		return s.writeUnavailable(w, path)
	}

	reply.StatusCode = resp.StatusCode
	for i, h := range s.after {
		if err := h.AfterResponse(ctx, resp, in, reply); err != nil {
			return newProxyError(ErrHook, "after_response", tgt, fmt.Sprintf("post-response hook #%d failed", i), err)
		}
	}

	replaceHeader(w.Header(), reply.Header)
	w.WriteHeader(reply.StatusCode)

	// The status line is out; a failure from here on leaves the caller
	// with a truncated body.
	if err := stream(w, resp.Body); err != nil {
		log.Warn("streaming response body", "err", err)
		return newProxyError(ErrConnection, "stream_response", tgt, "response stream interrupted", err)
	}
	return nil
}

// unavailableBody is the payload sent when the upstream gives no status.
type unavailableBody struct {
	Status int              `json:"status"`
	Error  unavailableError `json:"error"`
}

type unavailableError struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

func (s *ProxyService) writeUnavailable(w http.ResponseWriter, path string) error {
	body := unavailableBody{
		Status: http.StatusServiceUnavailable,
		Error: unavailableError{
			Message: fmt.Sprintf("Service at %s/%s did not respond",
				strings.TrimRight(s.to, "/"), strings.TrimPrefix(path, "/")),
			Code: "service_unavailable",
		},
	}

	h := w.Header()
	h.Del("Content-Length")
	h.Del("Content-Encoding")
	h.Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusServiceUnavailable)

	if err := json.NewEncoder(w).Encode(body); err != nil {
		return fmt.Errorf("write unavailable response: %w", err)
	}
	return nil
}

// requestBody returns the inbound body for the outbound request, or nil
// when there is nothing to send.
func requestBody(in *model.ProxyRequest) io.Reader {
	if in.Body == nil || in.Body == http.NoBody {
		return nil
	}
	return in.Body
}

// copyHeader replaces dst entries with the end-to-end headers of src.
func copyHeader(dst, src http.Header) {
	for key, vals := range src {
		if isHopByHop(key) {
			continue
		}
		dst[key] = append([]string(nil), vals...)
	}
}

// replaceHeader makes dst hold exactly the entries of src.
func replaceHeader(dst, src http.Header) {
	for key := range dst {
		if _, ok := src[key]; !ok {
			delete(dst, key)
		}
	}
	for key, vals := range src {
		dst[key] = vals
	}
}

func isHopByHop(key string) bool {
	for _, h := range hopByHopHeaders {
		if strings.EqualFold(h, key) {
			return true
		}
	}
	return false
}

// stream copies src to w chunk by chunk, flushing after each write so the
// caller sees bytes as they arrive.
func stream(w http.ResponseWriter, src io.Reader) error {
	rc := http.NewResponseController(w)
	buf := make([]byte, streamBufferSize)
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			if _, err := w.Write(buf[:n]); err != nil {
				return err
			}
			if err := rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
				return err
			}
		}
		if errors.Is(rerr, io.EOF) {
			return nil
		}
		if rerr != nil {
			return rerr
		}
	}
}
