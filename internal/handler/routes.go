package handler

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"relay-proxy-go/internal/config"
	"relay-proxy-go/internal/hooks"
	"relay-proxy-go/internal/metrics"
	"relay-proxy-go/internal/rewrite"
	"relay-proxy-go/internal/service"
)

// Route is one configured route with its proxy service.
type Route struct {
	Config  config.RouteConfig
	Pattern string // echo route pattern
	Splat   string // name of the trailing wildcard, if any
	Service *service.ProxyService
}

// NewRoutes builds a proxy service for every configured route.
// It fails on the first route that cannot be built.
func NewRoutes(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) ([]*Route, error) {
	routes := make([]*Route, 0, len(cfg.Routes))
	for i, rc := range cfg.Routes {
		r, err := newRoute(rc, logger, m)
		if err != nil {
			return nil, fmt.Errorf("route %d (%s): %w", i, rc.Path, err)
		}
		routes = append(routes, r)
	}
	return routes, nil
}

func newRoute(rc config.RouteConfig, logger *slog.Logger, m *metrics.Metrics) (*Route, error) {
	opts := service.Options{
		To:      rc.To,
		Timeout: time.Duration(rc.TimeoutMS) * time.Millisecond,
	}

	if rc.At != "" {
		tmpl, err := rewrite.Compile(rc.At)
		if err != nil {
			return nil, fmt.Errorf("at: %w", err)
		}
		opts.At = tmpl
	}

	var err error
	if opts.Before, err = hooks.BuildBefore(hookDefinitions(rc.Before)); err != nil {
		return nil, fmt.Errorf("before: %w", err)
	}
	if opts.After, err = hooks.BuildAfter(hookDefinitions(rc.After)); err != nil {
		return nil, fmt.Errorf("after: %w", err)
	}

	svc, err := service.NewProxyService(opts, logger, m)
	if err != nil {
		return nil, err
	}

	pattern, splat := echoPattern(rc.Path)
	return &Route{
		Config:  rc,
		Pattern: pattern,
		Splat:   splat,
		Service: svc,
	}, nil
}

func hookDefinitions(cfgs []config.HookConfig) []hooks.Definition {
	defs := make([]hooks.Definition, 0, len(cfgs))
	for _, h := range cfgs {
		defs = append(defs, hooks.Definition{Name: h.Name, Headers: h.Headers, Names: h.Names})
	}
	return defs
}

// echoPattern converts a trailing named wildcard such as "/files/*path" into
// echo's anonymous "/files/*" and returns the wildcard name.
func echoPattern(path string) (string, string) {
	i := strings.LastIndexByte(path, '/')
	last := path[i+1:]
	if len(last) > 1 && last[0] == '*' {
		return path[:i+1] + "*", last[1:]
	}
	return path, ""
}

// RegisterRoutes wires all route handlers onto the Echo instance.
func RegisterRoutes(e *echo.Echo, routes []*Route, health *HealthHandler, cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) {
	e.GET("/healthz", health.Healthz)
	e.GET("/proxy/status", health.Status)

	if cfg.Metrics.Enabled {
		e.GET(cfg.Metrics.Path, echo.WrapHandler(m.Handler()))
	}

	for _, r := range routes {
		h := NewProxyHandler(r.Service, r.Splat, logger)
		if len(r.Config.Methods) == 0 {
			e.Any(r.Pattern, h.Handle)
		} else {
			e.Match(r.Config.Methods, r.Pattern, h.Handle)
		}
		logger.Info("route registered",
			"path", r.Pattern,
			"methods", methodsLabel(r.Config.Methods),
			"upstream", r.Service.Target().String(),
		)
	}
}

func methodsLabel(methods []string) string {
	if len(methods) == 0 {
		return "*"
	}
	return strings.Join(methods, ",")
}

