package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"runalyze-proxy-go/internal/client"
	"runalyze-proxy-go/internal/service"
)

// ProxyHandler serves live Runalyze metrics to the dashboard.
type ProxyHandler struct {
	service *service.ProxyService
	logger  *slog.Logger
}

// NewProxyHandler creates a ProxyHandler.
func NewProxyHandler(svc *service.ProxyService, logger *slog.Logger) *ProxyHandler {
	return &ProxyHandler{
		service: svc,
		logger:  logger.With("component", "proxy_handler"),
	}
}

// RestingHeartRate relays the first page of resting heart rate metrics.
// The request method, query and body are ignored.
func (h *ProxyHandler) RestingHeartRate(c echo.Context) error {
	payload, err := h.service.RestingHeartRate(c.Request().Context())
	if err != nil {
		return h.mapError(c, err)
	}
	return c.JSONBlob(http.StatusOK, payload)
}

// mapError writes the JSON error envelope for a failed forward:
// missing configuration and transport failures are 500, upstream
// failures mirror the upstream status.
func (h *ProxyHandler) mapError(c echo.Context, err error) error {
	var statusErr *client.StatusError
	if errors.As(err, &statusErr) {
		h.logger.Warn("upstream error",
			"status", statusErr.StatusCode,
			"path", c.Request().URL.Path,
		)
		return c.JSON(statusErr.StatusCode, map[string]string{
			"error": statusErr.Error(),
		})
	}

	h.logger.Error("proxy error",
		"err", err,
		"path", c.Request().URL.Path,
	)

	msg := err.Error()
	var te *service.TransportError
	switch {
	case errors.Is(err, service.ErrMissingAPIKey):
		msg = service.ErrMissingAPIKey.Error()
	case errors.As(err, &te):
		msg = te.Error()
	}
	return c.JSON(http.StatusInternalServerError, map[string]string{
		"error": msg,
	})
}
