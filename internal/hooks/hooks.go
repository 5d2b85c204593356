// Package hooks provides the named pre-request and post-response hooks
// that routes can enable from configuration.
package hooks

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"relay-proxy-go/internal/model"
	"relay-proxy-go/internal/service"
)

// Definition selects and parameterizes a named hook.
type Definition struct {
	Name    string
	Headers map[string]string
	Names   []string
}

type (
	preFactory  func(Definition) (service.PreRequestHook, error)
	postFactory func(Definition) (service.PostResponseHook, error)
)

var preHooks = map[string]preFactory{
	"forwarded":           func(Definition) (service.PreRequestHook, error) { return Forwarded(), nil },
	"request_id":          func(Definition) (service.PreRequestHook, error) { return RequestID(), nil },
	"set_request_headers": newSetRequestHeaders,
}

var postHooks = map[string]postFactory{
	"set_response_headers":    newSetResponseHeaders,
	"remove_response_headers": newRemoveResponseHeaders,
}

// BuildBefore resolves defs into pre-request hooks, keeping their order.
func BuildBefore(defs []Definition) ([]service.PreRequestHook, error) {
	out := make([]service.PreRequestHook, 0, len(defs))
	for _, s := range defs {
		f, ok := preHooks[s.Name]
		if !ok {
			return nil, fmt.Errorf("unknown pre-request hook %q (available: %v)", s.Name, PreRequestNames())
		}
		h, err := f(s)
		if err != nil {
			return nil, fmt.Errorf("hook %q: %w", s.Name, err)
		}
		out = append(out, h)
	}
	return out, nil
}

// BuildAfter resolves defs into post-response hooks, keeping their order.
func BuildAfter(defs []Definition) ([]service.PostResponseHook, error) {
	out := make([]service.PostResponseHook, 0, len(defs))
	for _, s := range defs {
		f, ok := postHooks[s.Name]
		if !ok {
			return nil, fmt.Errorf("unknown post-response hook %q (available: %v)", s.Name, PostResponseNames())
		}
		h, err := f(s)
		if err != nil {
			return nil, fmt.Errorf("hook %q: %w", s.Name, err)
		}
		out = append(out, h)
	}
	return out, nil
}

// PreRequestNames lists the registered pre-request hook names.
func PreRequestNames() []string { return sortedKeys(preHooks) }

// PostResponseNames lists the registered post-response hook names.
func PostResponseNames() []string { return sortedKeys(postHooks) }

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Forwarded appends the caller address to X-Forwarded-For and records the
// original host and scheme.
func Forwarded() service.PreRequestHook {
	return service.BeforeFunc(func(_ context.Context, out *http.Request, in *model.ProxyRequest, _ *model.Reply) error {
		if in.RemoteIP != "" {
			if prior := out.Header.Values("X-Forwarded-For"); len(prior) > 0 {
				out.Header.Set("X-Forwarded-For", strings.Join(prior, ", ")+", "+in.RemoteIP)
			} else {
				out.Header.Set("X-Forwarded-For", in.RemoteIP)
			}
		}
		if in.Host != "" {
			out.Header.Set("X-Forwarded-Host", in.Host)
		}
		scheme := in.Scheme
		if scheme == "" {
			scheme = "http"
		}
		out.Header.Set("X-Forwarded-Proto", scheme)
		return nil
	})
}

// RequestID copies the caller-facing X-Request-Id onto the outbound request
// unless the request already carries one.
func RequestID() service.PreRequestHook {
	return service.BeforeFunc(func(_ context.Context, out *http.Request, _ *model.ProxyRequest, reply *model.Reply) error {
		if out.Header.Get("X-Request-Id") != "" {
			return nil
		}
		if id := reply.Header.Get("X-Request-Id"); id != "" {
			out.Header.Set("X-Request-Id", id)
		}
		return nil
	})
}

func newSetRequestHeaders(s Definition) (service.PreRequestHook, error) {
	if len(s.Headers) == 0 {
		return nil, fmt.Errorf("headers must not be empty")
	}
	headers := cloneHeaders(s.Headers)
	return service.BeforeFunc(func(_ context.Context, out *http.Request, _ *model.ProxyRequest, _ *model.Reply) error {
		for k, v := range headers {
			out.Header.Set(k, v)
		}
		return nil
	}), nil
}

func newSetResponseHeaders(s Definition) (service.PostResponseHook, error) {
	if len(s.Headers) == 0 {
		return nil, fmt.Errorf("headers must not be empty")
	}
	headers := cloneHeaders(s.Headers)
	return service.AfterFunc(func(_ context.Context, _ *http.Response, _ *model.ProxyRequest, reply *model.Reply) error {
		for k, v := range headers {
			reply.Header.Set(k, v)
		}
		return nil
	}), nil
}

func newRemoveResponseHeaders(s Definition) (service.PostResponseHook, error) {
	if len(s.Names) == 0 {
		return nil, fmt.Errorf("names must not be empty")
	}
	names := append([]string(nil), s.Names...)
	return service.AfterFunc(func(_ context.Context, _ *http.Response, _ *model.ProxyRequest, reply *model.Reply) error {
		for _, n := range names {
			reply.Header.Del(n)
		}
		return nil
	}), nil
}

func cloneHeaders(src map[string]string) map[string]string {
	dst := make(map[string]string, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

