package auth

import (
	"github.com/labstack/echo/v4"
)

// publicPaths bypass bearer authentication. The cron trigger carries its own
// shared secret.
var publicPaths = map[string]bool{
	"/health":            true,
	"/health/db":         true,
	"/api/reminder-cron": true,
}

// AuthSkipper returns true for requests whose path should skip
// authentication. Pass it as JWTConfig.Skipper.
func AuthSkipper(c echo.Context) bool {
	return publicPaths[c.Path()]
}

// IsPublicPath reports whether path bypasses authentication.
func IsPublicPath(path string) bool {
	return publicPaths[path]
}
