package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"
)

// RateLimit returns a per-IP rate limiter allowing rps requests per second.
// Rejected requests get the same JSON error body as proxy failures.
func RateLimit(rps float64) echo.MiddlewareFunc {
	store := echomw.NewRateLimiterMemoryStore(rate.Limit(rps))
	return echomw.RateLimiterWithConfig(echomw.RateLimiterConfig{
		Store: store,
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return c.RealIP(), nil
		},
		ErrorHandler: func(c echo.Context, err error) error {
			return c.JSON(http.StatusForbidden, errorBody(http.StatusForbidden, "rate_limit_identifier", "unable to identify caller"))
		},
		DenyHandler: func(c echo.Context, _ string, _ error) error {
			return c.JSON(http.StatusTooManyRequests, errorBody(http.StatusTooManyRequests, "rate_limited", "too many requests"))
		},
	})
}

func errorBody(status int, code, message string) map[string]any {
	return map[string]any{
		"status": status,
		"error": map[string]string{
			"message": message,
			"code":    code,
		},
	}
}
