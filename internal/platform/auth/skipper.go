package auth

import (
	"github.com/labstack/echo/v4"
)

// publicPaths lists route paths that bypass authentication and actor
// resolution: health checks and the sign-in endpoints.
var publicPaths = map[string]bool{
	"/health":                       true,
	"/health/db":                    true,
	"/api/v1/auth/signup":           true,
	"/api/v1/auth/signin":           true,
	"/api/v1/auth/oauth/github":     true,
	"/api/v1/auth/oauth/github/url": true,
}

// AuthSkipper returns true for requests whose route should skip authentication.
func AuthSkipper(c echo.Context) bool {
	return publicPaths[c.Path()]
}

func IsPublicPath(path string) bool {
	return publicPaths[path]
}
