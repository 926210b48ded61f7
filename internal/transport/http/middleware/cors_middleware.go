package middleware

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// CORSMiddleware allows the REST surface to be called from browser-based
// LunchBadger front ends hosted on a different origin. An empty
// allowedOrigins falls back to cors' permissive defaults.
func CORSMiddleware(allowedOrigins []string) gin.HandlerFunc {
	if len(allowedOrigins) == 0 {
		return cors.Default()
	}
	return cors.New(cors.Config{
		AllowOrigins: allowedOrigins,
		AllowMethods: []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS", "HEAD"},
		AllowHeaders: []string{
			"Origin",
			"Content-Length",
			"Content-Type",
			"Authorization",
			"Accept",
			"Accept-Encoding",
			"Accept-Language",
			"Cache-Control",
			"Cookie",
			"X-Requested-With",
			"X-Auth-Token",
		},
		ExposeHeaders: []string{
			"Content-Length",
			"Content-Type",
			"Set-Cookie",
			"Authorization",
		},
		AllowCredentials: true,
		MaxAge:           12 * 60 * 60, // 12 hours preflight cache
	})
}
