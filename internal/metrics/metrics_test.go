package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorRecordsExecutions(t *testing.T) {
	c := NewCollector()

	c.ObserveExecution("echo", "success", 20*time.Millisecond)
	c.ObserveExecution("echo", "success", 30*time.Millisecond)
	c.ObserveExecution("echo", "timeout", time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.executions.WithLabelValues("echo", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.executions.WithLabelValues("echo", "timeout")))
	assert.Equal(t, 1, testutil.CollectAndCount(c.duration))
}

func TestCollectorHealthAndLiveServers(t *testing.T) {
	c := NewCollector()

	c.ObserveHealthCheck("echo", true)
	c.ObserveHealthCheck("echo", false)
	c.ObserveHealthCheck("echo", false)
	c.SetLiveServers(3)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.healthCheck.WithLabelValues("echo", "healthy")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.healthCheck.WithLabelValues("echo", "unhealthy")))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.liveServers))
}

func TestNilCollectorIsNoop(t *testing.T) {
	var c *Collector

	assert.NotPanics(t, func() {
		c.ObserveExecution("echo", "success", time.Millisecond)
		c.ObserveHealthCheck("echo", true)
		c.SetLiveServers(1)
	})
}

func TestCollectorHandler(t *testing.T) {
	c := NewCollector()
	c.ObserveExecution("echo", "error", time.Millisecond)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `mcphost_tool_executions_total{server="echo",status="error"} 1`)
	assert.Contains(t, body, "mcphost_live_servers")
	assert.Contains(t, body, "go_goroutines")
}
