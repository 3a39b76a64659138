package middleware

import (
	"github.com/labstack/echo/v4"
)

// SecurityConfig controls the hardening headers.
type SecurityConfig struct {
	// HSTS is only meaningful behind TLS; development servers leave it off.
	HSTS bool
	// CacheablePaths are route templates exempt from Cache-Control: no-store,
	// such as the metrics endpoint.
	CacheablePaths []string
}

// SecurityHeaders sets hardening headers on every response. Patient data and
// reports are never cached by intermediaries.
func SecurityHeaders(cfg SecurityConfig) echo.MiddlewareFunc {
	cacheable := make(map[string]bool, len(cfg.CacheablePaths))
	for _, p := range cfg.CacheablePaths {
		cacheable[p] = true
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()

			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
			h.Set("Referrer-Policy", "no-referrer")
			h.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
			if cfg.HSTS {
				h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
			}
			if !cacheable[c.Path()] {
				h.Set("Cache-Control", "no-store")
				h.Set("Pragma", "no-cache")
			}

			return next(c)
		}
	}
}
