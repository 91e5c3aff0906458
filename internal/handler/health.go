package handler

import (
	"net/http"
	"os"

	"github.com/labstack/echo/v4"

	"runalyze-proxy-go/internal/config"
	"runalyze-proxy-go/internal/service"
)

// Version is a string type for dependency injection of the build version.
type Version string

// HealthHandler serves health and status endpoints.
type HealthHandler struct {
	cfg     *config.Config
	version Version
	getenv  func(string) string
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(cfg *config.Config, v Version) *HealthHandler {
	return &HealthHandler{cfg: cfg, version: v, getenv: os.Getenv}
}

// Healthz returns a simple OK response for liveness probes.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Status returns proxy status information. api_key_configured reflects the
// environment at the time of the call, the same lookup the proxy performs.
func (h *HealthHandler) Status(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":             "ok",
		"version":            string(h.version),
		"upstream_url":       h.cfg.Upstream.BaseURL,
		"api_key_configured": h.getenv(service.APIKeyEnv) != "",
	})
}
