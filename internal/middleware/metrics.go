package middleware

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"relay-proxy-go/internal/metrics"
)

// StatusCoder is implemented by errors that know the HTTP status they will
// be rendered with by the central error handler.
type StatusCoder interface {
	StatusCode() int
}

// MetricsMiddleware returns an Echo middleware that records Prometheus metrics
// for each inbound request.
func MetricsMiddleware(m *metrics.Metrics) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			m.RequestsInFlight.Inc()
			defer m.RequestsInFlight.Dec()

			start := time.Now()

			err := next(c)

			statusCode := responseStatus(c, err)

			status := strconv.Itoa(statusCode)
			method := metrics.NormalizeMethod(c.Request().Method)
			route := metrics.NormalizeRoute(c.Path())
			duration := time.Since(start).Seconds()

			m.RequestsTotal.WithLabelValues(method, status, route).Inc()
			m.RequestDuration.WithLabelValues(method, status, route).Observe(duration)

			return err
		}
	}
}

// responseStatus returns the status the caller will see. When a handler
// returns an error before committing, the status is written later by Echo's
// central error handler, so it is taken from the error instead.
func responseStatus(c echo.Context, err error) int {
	if err == nil || c.Response().Committed {
		return c.Response().Status
	}
	var he *echo.HTTPError
	var sc StatusCoder
	switch {
	case errors.As(err, &he):
		return he.Code
	case errors.As(err, &sc):
		return sc.StatusCode()
	default:
		return http.StatusInternalServerError
	}
}
