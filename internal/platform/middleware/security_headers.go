package middleware

import (
	"strings"

	"github.com/labstack/echo/v4"
)

const (
	apiPolicy = "default-src 'none'; frame-ancestors 'none'"
	// The docs page pulls swagger-ui from unpkg and boots it inline.
	docsPolicy = "default-src 'none'; script-src https://unpkg.com 'unsafe-inline'; " +
		"style-src https://unpkg.com 'unsafe-inline'; img-src 'self' data:; " +
		"connect-src 'self'; frame-ancestors 'none'"
	hstsValue = "max-age=31536000; includeSubDomains"
)

// SecurityHeadersConfig selects the transport dependent headers.
type SecurityHeadersConfig struct {
	// HSTS is only meaningful when the listener terminates TLS.
	HSTS bool
	// DocsPath is served with a policy that lets the swagger UI load.
	DocsPath string
}

// SecurityHeaders applies the defaults for a plain HTTP listener with the
// docs page at /api/docs.
func SecurityHeaders() echo.MiddlewareFunc {
	return SecurityHeadersWithConfig(SecurityHeadersConfig{DocsPath: "/api/docs"})
}

// SecurityHeadersWithConfig sets the headers every reply carries. Results
// and parameter sets are patient specific, so nothing is stored by
// intermediaries.
func SecurityHeadersWithConfig(cfg SecurityHeadersConfig) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Referrer-Policy", "no-referrer")
			h.Set("Cache-Control", "no-store")
			if cfg.HSTS {
				h.Set("Strict-Transport-Security", hstsValue)
			}

			if cfg.DocsPath != "" && strings.TrimSuffix(c.Request().URL.Path, "/") == cfg.DocsPath {
				h.Set("Content-Security-Policy", docsPolicy)
			} else {
				h.Set("Content-Security-Policy", apiPolicy)
			}
			return next(c)
		}
	}
}
