package monitoring

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const unmatchedRoute = "unmatched"

// Middleware records per-route request metrics. Routes are labelled by
// their template, never the raw path. WebSocket upgrades are counted but
// kept out of the latency and in-flight figures.
func Middleware(metrics *Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.IsWebsocket() {
			c.Next()
			metrics.RecordHTTPUpgrade(c.Request.Method, route(c), statusLabel(c.Writer.Status()))
			return
		}

		metrics.AddInFlight(1)
		start := time.Now()
		c.Next()
		elapsed := time.Since(start)
		metrics.AddInFlight(-1)

		metrics.RecordHTTPRequest(
			c.Request.Method,
			route(c),
			statusLabel(c.Writer.Status()),
			elapsed,
			max(c.Request.ContentLength, 0),
			int64(max(c.Writer.Size(), 0)),
		)
	}
}

func route(c *gin.Context) string {
	if p := c.FullPath(); p != "" {
		return p
	}
	return unmatchedRoute
}

// statusLabel collapses codes outside the HTTP range so a misbehaving
// handler cannot mint new label values.
func statusLabel(code int) string {
	if code < 100 || code > 599 {
		return "other"
	}
	return strconv.Itoa(code)
}

// Handler serves the collector's registry. A collector that fails to
// gather does not blank the whole scrape.
func Handler(metrics *Metrics) gin.HandlerFunc {
	return gin.WrapH(promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{
		ErrorHandling:     promhttp.ContinueOnError,
		EnableOpenMetrics: true,
	}))
}

// Timer measures one internal call, labelled service/method.
type Timer struct {
	metrics *Metrics
	service string
	method  string
	start   time.Time
}

// NewTimer starts timing a call.
func NewTimer(metrics *Metrics, service, method string) *Timer {
	return &Timer{metrics: metrics, service: service, method: method, start: time.Now()}
}

// Stop records the call with an explicit status label.
func (t *Timer) Stop(status string) {
	t.metrics.RecordServiceCall(t.service, t.method, status, time.Since(t.start))
}

// StopErr records "success" or "error" depending on err.
func (t *Timer) StopErr(err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	t.Stop(status)
}

// Track times fn and records its outcome.
func Track(metrics *Metrics, service, method string, fn func() error) error {
	t := NewTimer(metrics, service, method)
	err := fn()
	t.StopErr(err)
	return err
}
