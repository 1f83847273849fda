package tracing

import (
	"github.com/gin-gonic/gin"
)

// HTTPMiddleware opens a span per request, continuing an incoming trace
// when the caller sent one.
func HTTPMiddleware(tracer *Tracer) gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID, parentID := FromHeader(c.Request.Header)
		ctx := ContextWith(c.Request.Context(), traceID, parentID)

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		span, ctx := tracer.Start(ctx, c.Request.Method+" "+route)
		span.SetAttr("remote_addr", c.ClientIP())
		c.Request = c.Request.WithContext(ctx)
		SetHeader(c.Writer.Header(), span)

		c.Next()

		span.Status = c.Writer.Status()
		if err := c.Errors.Last(); err != nil {
			span.Fail(err)
		}
		tracer.End(span)
	}
}
