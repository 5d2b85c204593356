// Package model defines shared types for the proxy.
package model

import (
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"relay-proxy-go/internal/query"
)

// ProxyRequest represents a caller request to be forwarded upstream.
type ProxyRequest struct {
	Method   string
	Host     string
	Scheme   string
	RemoteIP string
	// Path is the escaped request path without the query.
	Path     string
	Params   map[string]string
	Query    query.Values
	Header   http.Header

	// ContentLength is -1 when unknown.
	ContentLength int64
	// Body is read once, front to back. Nil means no body.
	Body io.ReadCloser
}

// Reply is the caller-facing response head before the status line is
// written. Header starts as a copy of the caller response headers and is
// applied to the caller response right before the status line.
type Reply struct {
	StatusCode int
	Header     http.Header
}

// Descriptor is the fully resolved outbound request.
type Descriptor struct {
	Method   string
	Header   http.Header
	Protocol string
	Host     string
	Port     int
	// Path includes the encoded query string when there is one.
	Path    string
	Timeout time.Duration
}

// URL returns the absolute upstream URL for d.
func (d *Descriptor) URL() (*url.URL, error) {
	u, err := url.ParseRequestURI(d.Path)
	if err != nil {
		return nil, err
	}
	u.Scheme = d.Protocol
	u.Host = net.JoinHostPort(d.Host, strconv.Itoa(d.Port))
	return u, nil
}
