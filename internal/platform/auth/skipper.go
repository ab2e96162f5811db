package auth

import (
	"github.com/labstack/echo/v4"
)

// publicPaths bypass authentication. Model metadata is published literature
// and carries no patient data; metrics carry only aggregate counts.
var publicPaths = map[string]bool{
	"/health":           true,
	"/metrics":          true,
	"/api/openapi.json": true,
	"/api/docs":         true,
	"/api/v1/models":    true,
}

// AuthSkipper returns true for requests whose route should skip authentication.
func AuthSkipper(c echo.Context) bool {
	return IsPublicPath(c.Path())
}

func IsPublicPath(path string) bool {
	return publicPaths[path]
}
