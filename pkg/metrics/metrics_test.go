package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestCollector_RecordsAndWatermarks(t *testing.T) {
	c := NewCollector(zap.NewNop())

	c.RecordClassified("valid", time.Millisecond)
	c.RecordClassified("valid", time.Millisecond)
	c.RecordClassified("late", time.Millisecond)
	c.RecordExtractionFallback("processing_time")

	assert.Equal(t, 2.0, testutil.ToFloat64(c.RecordsClassified.WithLabelValues("valid")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.RecordsClassified.WithLabelValues("late")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.ExtractionFallbacks.WithLabelValues("processing_time")))

	c.ObserveWatermarks(9000, map[int32]int64{0: 9000, 3: 12000}, 10000)
	assert.Equal(t, 9000.0, testutil.ToFloat64(c.GlobalWatermark))
	assert.Equal(t, 12000.0, testutil.ToFloat64(c.PartitionWatermark.WithLabelValues("3")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.WatermarkLag))
}

func TestCollector_WindowAndErrorMetrics(t *testing.T) {
	c := NewCollector(nil)

	c.RecordWindowFired("on_time")
	c.RecordWindowReleased("reclaimed")
	c.SetWindowsOpen(4)
	c.ObserveReclaimPass(2 * time.Millisecond)
	c.RecordError("processor", "configuration")
	c.RecordSideOutput("late-events", true)
	c.RecordSideOutput("late-events", false)
	c.RecordSinkWrite("kafka", nil)
	c.RecordSinkWrite("kafka", errors.New("boom"))
	c.SetBufferUtilization(25, 100)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.WindowsFired.WithLabelValues("on_time")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.WindowsReleased.WithLabelValues("reclaimed")))
	assert.Equal(t, 4.0, testutil.ToFloat64(c.WindowsOpen))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.ReclaimerPasses))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.ErrorMetrics.ErrorsByCategory.WithLabelValues("processor", "configuration")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.ErrorMetrics.SideOutputEvents.WithLabelValues("late-events")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.ErrorMetrics.SideOutputDropped.WithLabelValues("late-events")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.ErrorMetrics.SinkWrites.WithLabelValues("kafka")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.ErrorMetrics.SinkFailures.WithLabelValues("kafka")))
	assert.Equal(t, 0.25, testutil.ToFloat64(c.BufferUtilization))
}

func TestCollector_NilIsNoop(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.RecordClassified("valid", 0)
		c.RecordExtractionFallback("x")
		c.ObserveWatermarks(1, nil, 2)
		c.RecordWindowFired("late")
		c.RecordWindowReleased("expired")
		c.SetWindowsOpen(1)
		c.ObserveReclaimPass(0)
		c.RecordError("a", "b")
		c.RecordSideOutput("t", true)
		c.RecordSinkWrite("s", nil)
		c.SetBufferUtilization(1, 2)
	})
}

func TestCollector_CustomMetrics(t *testing.T) {
	c := NewCollector(zap.NewNop())
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "custom_total", Help: "custom"})

	require.NoError(t, c.RegisterCustomMetric("custom", counter))
	assert.Error(t, c.RegisterCustomMetric("custom", counter))
	assert.True(t, c.UnregisterCustomMetric("custom"))
	assert.False(t, c.UnregisterCustomMetric("custom"))
}

func TestCollector_Handler(t *testing.T) {
	c := NewCollector(zap.NewNop())
	c.ObserveWatermarks(42, map[int32]int64{0: 42}, 42)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "eventtime_global_watermark_milliseconds 42"))
}
