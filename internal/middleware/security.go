package middleware

import (
	"strings"

	"github.com/labstack/echo/v4"
)

// hopByHopHeaders are headers that should not be forwarded by proxies.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"TE",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// SecurityHeaders returns an Echo middleware that strips hop-by-hop headers
// from the request and adds security headers to the response. Responses for
// paths under any of noStorePrefixes are marked uncacheable; those carry live
// metrics that must never be served stale from a browser or CDN cache.
func SecurityHeaders(noStorePrefixes ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			for _, h := range hopByHopHeaders {
				c.Request().Header.Del(h)
			}

			// Set before next: handlers commit the response when they write.
			h := c.Response().Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Referrer-Policy", "no-referrer")

			path := c.Request().URL.Path
			for _, prefix := range noStorePrefixes {
				if path == prefix || strings.HasPrefix(path, prefix+"/") {
					h.Set(echo.HeaderCacheControl, "no-store")
					break
				}
			}

			return next(c)
		}
	}
}
