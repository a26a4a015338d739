package middleware

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// DefaultCORSMaxAge is the preflight cache lifetime in seconds.
const DefaultCORSMaxAge = 86400

// CORSConfig holds CORS middleware configuration.
type CORSConfig struct {
	AllowOrigins  []string
	AllowMethods  []string
	AllowHeaders  []string
	ExposeHeaders []string
	MaxAge        int
}

// DefaultCORSConfig returns a CORSConfig with sensible defaults.
func DefaultCORSConfig() CORSConfig {
	return CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{
			echo.GET,
			echo.HEAD,
			echo.PATCH,
			echo.POST,
			echo.DELETE,
			echo.OPTIONS,
		},
		AllowHeaders: []string{
			echo.HeaderOrigin,
			echo.HeaderContentType,
			echo.HeaderAccept,
			RequestIDHeader,
			CausationIDHeader,
		},
		ExposeHeaders: []string{RequestIDHeader, "X-Ratelimit-Remaining"},
		MaxAge:        DefaultCORSMaxAge,
	}
}

// CORS returns a CORS middleware with the given configuration.
func CORS(config CORSConfig) echo.MiddlewareFunc {
	return middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:  config.AllowOrigins,
		AllowMethods:  config.AllowMethods,
		AllowHeaders:  config.AllowHeaders,
		ExposeHeaders: config.ExposeHeaders,
		MaxAge:        config.MaxAge,
	})
}
