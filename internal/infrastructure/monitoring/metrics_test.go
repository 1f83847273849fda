package monitoring

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetricsIndependentRegistries(t *testing.T) {
	a := NewMetrics()
	b := NewMetrics()

	a.IncSessionsCreated()
	a.IncSessionsCreated()
	b.IncSessionsCreated()

	assert.Equal(t, float64(2), testutil.ToFloat64(a.SessionsCreated))
	assert.Equal(t, float64(1), testutil.ToFloat64(b.SessionsCreated))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.SetSessionsActive(3)
		m.RecordSessionReaped("delete")
		m.RecordProvisionFailure("ensure")
		m.AddPTYOutput(10)
		m.RecordWSMessage("in", "ping")
		m.IncWSConnections()
		m.DecWSConnections()
		NewTimer(m, "provisioner", "ensure").Stop("success")
	})
	assert.Nil(t, m.Registry())
}

func TestSessionCounters(t *testing.T) {
	m := NewMetrics()

	m.SetSessionsActive(4)
	m.RecordSessionReaped("grace")
	m.RecordSessionReaped("grace")
	m.RecordSessionReaped("delete")
	m.AddPTYOutput(128)

	assert.Equal(t, float64(4), testutil.ToFloat64(m.SessionsActive))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.SessionsReaped.WithLabelValues("grace")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.SessionsReaped.WithLabelValues("delete")))
	assert.Equal(t, float64(128), testutil.ToFloat64(m.PTYOutputBytes))
}

func TestTimerStopErr(t *testing.T) {
	m := NewMetrics()

	NewTimer(m, "provisioner", "ensure").StopErr(nil)
	NewTimer(m, "provisioner", "ensure").StopErr(assert.AnError)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.ServiceCalls.WithLabelValues("provisioner", "ensure", "success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ServiceCalls.WithLabelValues("provisioner", "ensure", "error")))
}

func TestTrackReturnsError(t *testing.T) {
	m := NewMetrics()

	err := Track(m, "provisioner", "kill", func() error { return assert.AnError })
	assert.ErrorIs(t, err, assert.AnError)
	assert.NoError(t, Track(m, "provisioner", "kill", func() error { return nil }))

	assert.Equal(t, float64(1), testutil.ToFloat64(m.ServiceCalls.WithLabelValues("provisioner", "kill", "error")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ServiceCalls.WithLabelValues("provisioner", "kill", "success")))
}

func TestStatusLabel(t *testing.T) {
	assert.Equal(t, "200", statusLabel(200))
	assert.Equal(t, "599", statusLabel(599))
	assert.Equal(t, "other", statusLabel(0))
	assert.Equal(t, "other", statusLabel(1000))
}

func TestMiddlewareCountsUpgradesWithoutLatency(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := NewMetrics()

	router := gin.New()
	router.Use(Middleware(m))
	router.GET("/terminal/ws", func(c *gin.Context) {
		assert.Equal(t, float64(0), testutil.ToFloat64(m.RequestsInFlight))
		c.Status(http.StatusSwitchingProtocols)
	})

	req := httptest.NewRequest(http.MethodGet, "/terminal/ws", nil)
	req.Header.Set("Connection", "Upgrade")
	req.Header.Set("Upgrade", "websocket")
	router.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, float64(1), testutil.ToFloat64(
		m.RequestsTotal.WithLabelValues(http.MethodGet, "/terminal/ws", "101")))
	assert.Equal(t, 0, testutil.CollectAndCount(m.RequestDuration))
}

func TestMiddlewareAndHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := NewMetrics()

	router := gin.New()
	router.Use(Middleware(m))
	router.GET("/terminal/session/:userId", func(c *gin.Context) {
		assert.Equal(t, float64(1), testutil.ToFloat64(m.RequestsInFlight))
		time.Sleep(time.Millisecond)
		c.Status(http.StatusNotFound)
	})
	router.GET("/metrics", Handler(m))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/terminal/session/u1", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	assert.Equal(t, float64(1), testutil.ToFloat64(
		m.RequestsTotal.WithLabelValues(http.MethodGet, "/terminal/session/:userId", "404")))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.RequestsInFlight))

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.True(t, strings.Contains(body, "termhost_http_requests_total"))
	assert.True(t, strings.Contains(body, "termhost_uptime_seconds"))
}
