package handler

import (
	"log/slog"
	"net/http"
	"net/url"

	"github.com/labstack/echo/v4"

	"relay-proxy-go/internal/model"
	"relay-proxy-go/internal/query"
	"relay-proxy-go/internal/service"
)

// ProxyHandler forwards requests matched by one route to its upstream.
type ProxyHandler struct {
	service *service.ProxyService
	splat   string
	logger  *slog.Logger
}

// NewProxyHandler creates a ProxyHandler. splat names the route's trailing
// wildcard parameter; empty leaves it under echo's "*" key.
func NewProxyHandler(svc *service.ProxyService, splat string, logger *slog.Logger) *ProxyHandler {
	return &ProxyHandler{
		service: svc,
		splat:   splat,
		logger:  logger.With("component", "proxy_handler"),
	}
}

// Handle proxies the request and streams the upstream response back.
// Errors are rendered by ErrorHandler.
func (h *ProxyHandler) Handle(c echo.Context) error {
	req := c.Request()
	log := h.logger.With(
		"request_id", c.Response().Header().Get(echo.HeaderXRequestID),
		"route", c.Path(),
	)
	return h.service.Forward(req.Context(), log, c.Response(), h.proxyRequest(c))
}

func (h *ProxyHandler) proxyRequest(c echo.Context) *model.ProxyRequest {
	req := c.Request()

	names, values := c.ParamNames(), c.ParamValues()
	params := make(map[string]string, len(names))
	for i, name := range names {
		if i >= len(values) {
			break
		}
		if name == "*" && h.splat != "" {
			name = h.splat
		}
		params[name] = paramValue(req, values[i])
	}

	return &model.ProxyRequest{
		Method:        req.Method,
		Host:          req.Host,
		Scheme:        c.Scheme(),
		RemoteIP:      c.RealIP(),
		Path:          req.URL.EscapedPath(),
		Params:        params,
		Query:         query.Decode(req.URL.RawQuery),
		Header:        req.Header,
		ContentLength: req.ContentLength,
		Body:          req.Body,
	}
}

// paramValue returns the decoded value of a route parameter. Echo matches
// on the escaped path when the request has one, so its values are still
// escaped in that case.
func paramValue(req *http.Request, v string) string {
	if req.URL.RawPath == "" {
		return v
	}
	if u, err := url.PathUnescape(v); err == nil {
		return u
	}
	return v
}
