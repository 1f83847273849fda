package middleware

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/GriffinCanCode/termhost/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/termhost/internal/shared/utils"
)

// CORSConfig controls which browser origins may call the REST API.
type CORSConfig struct {
	// AllowOrigins uses the same rules as the WebSocket gateway: exact
	// origins, "*" or glob patterns.
	AllowOrigins []string
	MaxAge       time.Duration
}

// DefaultCORSConfig allows every origin and caches preflights for 12h.
func DefaultCORSConfig() CORSConfig {
	return CORSConfig{
		AllowOrigins: []string{"*"},
		MaxAge:       12 * time.Hour,
	}
}

// Identity headers let browser clients create sessions directly; trace
// headers let them join a request to its gateway traffic.
var (
	corsMethods = []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions}
	corsHeaders = []string{
		"Accept",
		"Authorization",
		"Content-Type",
		"Origin",
		"X-Auth-Token",
		"X-User-ID",
		"X-User-Email",
		tracing.HeaderTraceID,
		tracing.HeaderSpanID,
	}
	corsExposed = []string{tracing.HeaderTraceID, tracing.HeaderSpanID, "Retry-After"}
)

// CORS answers preflights and stamps allowed responses. The request origin
// is echoed back rather than "*" so credentialed requests work. Disallowed
// origins get 403.
func CORS(cfg CORSConfig) gin.HandlerFunc {
	origins := cfg.AllowOrigins
	return cors.New(cors.Config{
		AllowOriginFunc:  func(origin string) bool { return utils.MatchOrigin(origins, origin) },
		AllowMethods:     corsMethods,
		AllowHeaders:     corsHeaders,
		ExposeHeaders:    corsExposed,
		AllowCredentials: true,
		MaxAge:           cfg.MaxAge,
	})
}
