package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"relay-proxy-go/internal/service"
)

// ErrorBody is the JSON shape of every error the proxy answers with.
type ErrorBody struct {
	Status int         `json:"status"`
	Error  ErrorDetail `json:"error"`
}

// ErrorDetail carries the message and a stable machine-readable code.
type ErrorDetail struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

// ErrorHandler returns the central echo error handler. Proxy failures are
// mapped to 502, 503, 504 or 500; echo HTTP errors keep their code. When the
// response is already committed the error is only logged.
func ErrorHandler(logger *slog.Logger) echo.HTTPErrorHandler {
	logger = logger.With("component", "error_handler")
	return func(err error, c echo.Context) {
		req := c.Request()
		if c.Response().Committed {
			logger.Error("error after response was committed",
				"err", err,
				"method", req.Method,
				"path", req.URL.Path,
			)
			return
		}

		status, body := mapError(err)
		if status >= http.StatusInternalServerError {
			logger.Error("proxy error",
				"err", err,
				"method", req.Method,
				"path", req.URL.Path,
				"status", status,
			)
		}

		var werr error
		if req.Method == http.MethodHead {
			werr = c.NoContent(status)
		} else {
			werr = c.JSON(status, body)
		}
		if werr != nil {
			logger.Error("writing error response", "err", werr)
		}
	}
}

func mapError(err error) (int, ErrorBody) {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		msg := http.StatusText(he.Code)
		if s, ok := he.Message.(string); ok && s != "" {
			msg = s
		}
		return he.Code, newErrorBody(he.Code, codeFor(he.Code), msg)
	}

	var pe *service.ProxyError
	if errors.As(err, &pe) {
		status := pe.StatusCode()
		msg := pe.Message
		switch status {
		case http.StatusGatewayTimeout:
			msg = "upstream request timed out"
		case http.StatusBadGateway:
			msg = "upstream connection failed"
		}
		return status, newErrorBody(status, codeFor(status), msg)
	}

	return http.StatusInternalServerError,
		newErrorBody(http.StatusInternalServerError, codeFor(http.StatusInternalServerError), "internal error")
}

func newErrorBody(status int, code, message string) ErrorBody {
	return ErrorBody{Status: status, Error: ErrorDetail{Message: message, Code: code}}
}

var codeReplacer = strings.NewReplacer(" ", "_", "-", "_", "'", "")

// codeFor derives the error code from the status text, e.g. 504 becomes
// "gateway_timeout".
func codeFor(status int) string {
	switch status {
	case http.StatusInternalServerError:
		return "internal_error"
	case http.StatusTooManyRequests:
		return "rate_limited"
	}
	text := http.StatusText(status)
	if text == "" {
		return "error"
	}
	return codeReplacer.Replace(strings.ToLower(text))
}
