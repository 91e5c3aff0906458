// Package handler implements the HTTP endpoints of the proxy.
package handler

import (
	"github.com/labstack/echo/v4"
)

// RestingHeartRatePath is the live resting heart rate endpoint.
const RestingHeartRatePath = "/api/rhr"

// RegisterRoutes wires all route handlers onto the Echo instance.
func RegisterRoutes(e *echo.Echo, proxy *ProxyHandler, health *HealthHandler) {
	e.GET("/healthz", health.Healthz)
	e.GET("/proxy/status", health.Status)

	// Any covers the methods echo knows; the not-found route on the same path
	// catches every other method instead of answering 405.
	e.Any(RestingHeartRatePath, proxy.RestingHeartRate)
	e.RouteNotFound(RestingHeartRatePath, proxy.RestingHeartRate)
}
