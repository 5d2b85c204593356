// Package target parses upstream addresses and resolves outbound request
// descriptors.
package target

import (
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"relay-proxy-go/internal/model"
)

// ErrInvalidTarget is returned when an upstream address cannot be used.
var ErrInvalidTarget = errors.New("invalid upstream target")

const (
	// Protocol is the only scheme used towards upstreams.
	Protocol = "http"

	// DefaultPort applies when the address carries no port.
	DefaultPort = 80
)

var schemePattern = regexp.MustCompile(`(?i)^https?://`)

// Target is a parsed upstream address.
type Target struct {
	Host string
	Port int
}

// Parse reads an address of the form [scheme://]host[:port][/]. Any
// scheme is discarded; upstream traffic is always plain HTTP.
func Parse(to string) (Target, error) {
	rest := schemePattern.ReplaceAllString(strings.TrimSpace(to), "")
	rest = strings.Trim(rest, "/")

	if strings.Contains(rest, "/") {
		return Target{}, fmt.Errorf("%w: %q must not contain a path", ErrInvalidTarget, to)
	}

	host, portStr, hasPort := strings.Cut(rest, ":")
	if host == "" {
		return Target{}, fmt.Errorf("%w: %q has an empty host", ErrInvalidTarget, to)
	}

	port := DefaultPort
	if hasPort {
		p, err := strconv.Atoi(portStr)
		if err != nil || p < 1 || p > 65535 {
			return Target{}, fmt.Errorf("%w: %q has an invalid port %q", ErrInvalidTarget, to, portStr)
		}
		port = p
	}

	return Target{Host: host, Port: port}, nil
}

// String returns host:port.
func (t Target) String() string {
	return t.Host + ":" + strconv.Itoa(t.Port)
}

// Resolve combines the target with a rewritten path into a descriptor.
// The inbound Host header is dropped; all other headers are copied.
func (t Target) Resolve(path string, header http.Header, method string, timeout time.Duration) *model.Descriptor {
	return &model.Descriptor{
		Method:   method,
		Header:   stripHost(header),
		Protocol: Protocol,
		Host:     t.Host,
		Port:     t.Port,
		Path:     path,
		Timeout:  timeout,
	}
}

func stripHost(src http.Header) http.Header {
	dst := make(http.Header, len(src))
	for key, vals := range src {
		if strings.EqualFold(key, "host") {
			continue
		}
		dst[key] = append([]string(nil), vals...)
	}
	return dst
}
