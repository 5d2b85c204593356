package service

import (
	"context"
	"net/http"

	"relay-proxy-go/internal/model"
)

// PreRequestHook runs after the outbound request is opened and before any
// body byte is sent. It may change out's header and other fields. reply is
// the caller-facing response head; the upstream status replaces its status
// later, and upstream headers override same-named entries.
type PreRequestHook interface {
	BeforeRequest(ctx context.Context, out *http.Request, in *model.ProxyRequest, reply *model.Reply) error
}

// PostResponseHook runs after upstream headers were copied to reply and
// before the status line and body reach the caller. It may change reply.
// upstream.Body must not be read.
type PostResponseHook interface {
	AfterResponse(ctx context.Context, upstream *http.Response, in *model.ProxyRequest, reply *model.Reply) error
}

// BeforeFunc adapts a function to PreRequestHook.
type BeforeFunc func(ctx context.Context, out *http.Request, in *model.ProxyRequest, reply *model.Reply) error

// BeforeRequest implements PreRequestHook.
func (f BeforeFunc) BeforeRequest(ctx context.Context, out *http.Request, in *model.ProxyRequest, reply *model.Reply) error {
	return f(ctx, out, in, reply)
}

// AfterFunc adapts a function to PostResponseHook.
type AfterFunc func(ctx context.Context, upstream *http.Response, in *model.ProxyRequest, reply *model.Reply) error

// AfterResponse implements PostResponseHook.
func (f AfterFunc) AfterResponse(ctx context.Context, upstream *http.Response, in *model.ProxyRequest, reply *model.Reply) error {
	return f(ctx, upstream, in, reply)
}

// Before collects one or more pre-request hooks in declaration order.
func Before(hooks ...PreRequestHook) []PreRequestHook { return hooks }

// After collects one or more post-response hooks in declaration order.
func After(hooks ...PostResponseHook) []PostResponseHook { return hooks }
