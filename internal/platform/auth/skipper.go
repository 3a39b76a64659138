package auth

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// publicPaths lists route templates reachable without a bearer token.
var publicPaths = map[string]bool{
	"/health":             true,
	"/health/db":          true,
	"/metrics":            true,
	"/api/v1/users/login": true,
}

// AuthSkipper returns true for requests whose route skips authentication.
// CORS preflight requests never carry credentials and are skipped too.
func AuthSkipper(c echo.Context) bool {
	if c.Request().Method == http.MethodOptions {
		return true
	}
	return IsPublicPath(c.Path())
}

// IsPublicPath reports whether a route template is public. Trailing slashes
// are ignored.
func IsPublicPath(path string) bool {
	if len(path) > 1 {
		path = strings.TrimSuffix(path, "/")
	}
	return publicPaths[path]
}
