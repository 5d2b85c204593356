package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// Version is a string type for dependency injection of the build version.
type Version string

// HealthHandler serves health and status endpoints.
type HealthHandler struct {
	routes  []*Route
	version Version
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(routes []*Route, v Version) *HealthHandler {
	return &HealthHandler{routes: routes, version: v}
}

// Healthz returns a simple OK response for liveness probes.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// RouteStatus describes one route in the status response.
type RouteStatus struct {
	Path      string   `json:"path"`
	Methods   []string `json:"methods"`
	Upstream  string   `json:"upstream"`
	At        string   `json:"at,omitempty"`
	TimeoutMS int64    `json:"timeout_ms"`
	Before    []string `json:"before,omitempty"`
	After     []string `json:"after,omitempty"`
}

// StatusResponse is the body of the status endpoint.
type StatusResponse struct {
	Status  string        `json:"status"`
	Version string        `json:"version"`
	Routes  []RouteStatus `json:"routes"`
}

// Status returns proxy status information and the route table.
func (h *HealthHandler) Status(c echo.Context) error {
	resp := StatusResponse{
		Status:  "ok",
		Version: string(h.version),
		Routes:  make([]RouteStatus, 0, len(h.routes)),
	}
	for _, r := range h.routes {
		rs := RouteStatus{
			Path:      r.Config.Path,
			Methods:   r.Config.Methods,
			Upstream:  r.Service.Target().String(),
			At:        r.Config.At,
			TimeoutMS: r.Service.Timeout().Milliseconds(),
		}
		if len(rs.Methods) == 0 {
			rs.Methods = []string{"*"}
		}
		for _, hc := range r.Config.Before {
			rs.Before = append(rs.Before, hc.Name)
		}
		for _, hc := range r.Config.After {
			rs.After = append(rs.After, hc.Name)
		}
		resp.Routes = append(resp.Routes, rs)
	}
	return c.JSON(http.StatusOK, resp)
}
