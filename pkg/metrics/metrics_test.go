package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorRecords(t *testing.T) {
	c := New()
	c.ObserveCall("claude", "success", 2*time.Second)
	c.ObserveCall("claude", "success", time.Second)
	c.Fallback("claude", "codex")
	c.Health("gemini", "degraded")
	c.Consensus("majority")
	c.Task("timeout")

	assert.Equal(t, 2.0, testutil.ToFloat64(c.backendCalls.WithLabelValues("claude", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.fallbacks.WithLabelValues("claude", "codex")))
	assert.Equal(t, 0.5, testutil.ToFloat64(c.backendHealth.WithLabelValues("gemini")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.consensus.WithLabelValues("majority")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.subagentTasks.WithLabelValues("timeout")))

	families, err := c.Registry().Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestNilCollectorIsNoop(t *testing.T) {
	var c *Collector
	c.ObserveCall("x", "error", time.Second)
	c.Fallback("a", "b")
	c.Health("x", "available")
	c.Consensus("unanimous")
	c.Task("success")
	assert.Nil(t, c.Registry())
	assert.NotNil(t, c.Handler())
}
