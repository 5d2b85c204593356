// Package client provides the outbound HTTP client used to reach upstreams.
package client

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"relay-proxy-go/internal/metrics"
	"relay-proxy-go/internal/model"
)

// DefaultTimeout bounds dialing and waiting for response headers.
const DefaultTimeout = 3000 * time.Millisecond

// Config holds upstream client settings.
type Config struct {
	// Timeout bounds the connection: dialing and time to response headers.
	// Response bodies may stream for longer.
	Timeout time.Duration
	// Transport overrides the default transport. Tests use it to inject
	// upstream behavior.
	Transport http.RoundTripper
}

// UpstreamClient opens and sends outbound requests. Every request uses a
// fresh connection; nothing is pooled or retried.
type UpstreamClient struct {
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewUpstreamClient creates an UpstreamClient.
// The metrics parameter is optional; pass nil to disable upstream metrics recording.
func NewUpstreamClient(cfg Config, logger *slog.Logger, m *metrics.Metrics) *UpstreamClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	transport := cfg.Transport
	if transport == nil {
		transport = &http.Transport{
			DisableKeepAlives:     true,
			DisableCompression:    true,
			ResponseHeaderTimeout: timeout,
			DialContext: (&net.Dialer{
				Timeout: timeout,
			}).DialContext,
		}
	}

	return &UpstreamClient{
		httpClient: &http.Client{
			Transport: transport,
			// Redirects are the caller's business.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger:  logger.With("component", "upstream_client"),
		metrics: m,
	}
}

// Open builds the outbound request for d without sending anything. body
// is consumed only when the request is sent; contentLength is -1 when
// unknown.
// The provided context controls the lifetime of the upstream request:
// when the context is canceled (e.g. caller disconnects), the upstream
// request is also canceled.
func (c *UpstreamClient) Open(ctx context.Context, d *model.Descriptor, body io.Reader, contentLength int64) (*http.Request, error) {
	u, err := d.URL()
	if err != nil {
		return nil, fmt.Errorf("build upstream url: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, d.Method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	req.Header = d.Header
	if body != nil {
		req.ContentLength = contentLength
	}

	return req, nil
}

// Send transmits req and returns once response headers arrive.
// The caller is responsible for closing the response body.
func (c *UpstreamClient) Send(req *http.Request) (*http.Response, error) {
	c.logger.Debug("upstream request",
		"method", req.Method,
		"host", req.URL.Host,
		"path", req.URL.Path,
	)

	start := time.Now()
	resp, err := c.httpClient.Do(req) //nolint:bodyclose // body ownership transfers to caller
	duration := time.Since(start).Seconds()

	method := metrics.NormalizeMethod(req.Method)
	upstream := req.URL.Host

	if c.metrics != nil {
		c.metrics.UpstreamDuration.WithLabelValues(method, upstream).Observe(duration)
	}
	if err != nil {
		return nil, fmt.Errorf("upstream request: %w", err)
	}

	if c.metrics != nil {
		status := strconv.Itoa(resp.StatusCode)
		c.metrics.UpstreamResponses.WithLabelValues(method, upstream, status).Inc()
	}

	return resp, nil
}
