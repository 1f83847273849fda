// Package middleware holds the gin middleware in front of the REST API.
//
// CORS shares its origin rules with the WebSocket gateway. RateLimit keeps
// one bucket per forwarded user, or per client IP for anonymous callers,
// and leaves health checks and scrapes alone.
//
//	router.Use(middleware.Recovery(log), middleware.RequestLogger(log))
//	router.Use(middleware.CORS(middleware.CORSConfig{AllowOrigins: origins, MaxAge: time.Hour}))
//	router.Use(middleware.RateLimit(middleware.DefaultRateLimitConfig()))
package middleware
