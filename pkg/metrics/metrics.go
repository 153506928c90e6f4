package metrics

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Collector holds all Prometheus metrics for the event-time engine.
// A nil *Collector is valid and records nothing.
type Collector struct {
	// Record metrics
	RecordsClassified   *prometheus.CounterVec
	ExtractionFallbacks *prometheus.CounterVec
	ProcessingLatency   prometheus.Histogram
	BufferUtilization   prometheus.Gauge

	// Watermark metrics
	GlobalWatermark    prometheus.Gauge
	PartitionWatermark *prometheus.GaugeVec
	WatermarkLag       prometheus.Gauge

	// Window metrics
	WindowsFired     *prometheus.CounterVec
	WindowsReleased  *prometheus.CounterVec
	WindowsOpen      prometheus.Gauge
	ReclaimDuration  prometheus.Histogram
	ReclaimerPasses  prometheus.Counter

	// Error handling metrics
	ErrorMetrics *ErrorMetrics

	// Custom metrics registry for user applications
	customMetrics map[string]prometheus.Collector
	customMu      sync.RWMutex

	registry *prometheus.Registry
	logger   *zap.Logger
}

// NewCollector creates a new Prometheus metrics collector
func NewCollector(logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry:      registry,
		logger:        logger,
		customMetrics: make(map[string]prometheus.Collector),
	}

	c.initMetrics()
	c.registerMetrics()

	c.ErrorMetrics = NewErrorMetrics(registry)

	return c
}

func (c *Collector) initMetrics() {
	c.RecordsClassified = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventtime_records_classified_total",
			Help: "Total number of records classified by the watermark tracker",
		},
		[]string{"status"},
	)

	c.ExtractionFallbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventtime_extraction_fallbacks_total",
			Help: "Records without an event time that fell back to processing time",
		},
		[]string{"source"},
	)

	c.ProcessingLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "eventtime_processing_latency_seconds",
			Help:    "Time spent assigning and classifying one record",
			Buckets: []float64{.00001, .00005, .0001, .0005, .001, .005, .01, .05, .1},
		},
	)

	c.BufferUtilization = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "eventtime_buffer_utilization_ratio",
			Help: "Current input buffer utilization (0.0 to 1.0)",
		},
	)

	c.GlobalWatermark = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "eventtime_global_watermark_milliseconds",
			Help: "Current global watermark (minimum across partitions)",
		},
	)

	c.PartitionWatermark = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "eventtime_partition_watermark_milliseconds",
			Help: "Current watermark of a partition",
		},
		[]string{"partition"},
	)

	c.WatermarkLag = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "eventtime_watermark_lag_seconds",
			Help: "Processing time minus global watermark",
		},
	)

	c.WindowsFired = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventtime_windows_fired_total",
			Help: "Total number of window emissions",
		},
		[]string{"kind"},
	)

	c.WindowsReleased = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventtime_windows_released_total",
			Help: "Total number of windows whose state was released",
		},
		[]string{"reason"},
	)

	c.WindowsOpen = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "eventtime_windows_open",
			Help: "Number of windows currently holding state",
		},
	)

	c.ReclaimDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "eventtime_reclaimer_pass_duration_seconds",
			Help:    "Duration of one idle-window reclaimer pass",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
		},
	)

	c.ReclaimerPasses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "eventtime_reclaimer_passes_total",
			Help: "Total number of reclaimer passes",
		},
	)
}

func (c *Collector) registerMetrics() {
	c.registry.MustRegister(c.RecordsClassified)
	c.registry.MustRegister(c.ExtractionFallbacks)
	c.registry.MustRegister(c.ProcessingLatency)
	c.registry.MustRegister(c.BufferUtilization)

	c.registry.MustRegister(c.GlobalWatermark)
	c.registry.MustRegister(c.PartitionWatermark)
	c.registry.MustRegister(c.WatermarkLag)

	c.registry.MustRegister(c.WindowsFired)
	c.registry.MustRegister(c.WindowsReleased)
	c.registry.MustRegister(c.WindowsOpen)
	c.registry.MustRegister(c.ReclaimDuration)
	c.registry.MustRegister(c.ReclaimerPasses)

	// Go runtime and process metrics
	c.registry.MustRegister(collectors.NewGoCollector())
	c.registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
}

// RecordClassified counts one classified record
func (c *Collector) RecordClassified(status string, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.RecordsClassified.WithLabelValues(status).Inc()
	c.ProcessingLatency.Observe(elapsed.Seconds())
}

// RecordExtractionFallback counts a record that had no event time
func (c *Collector) RecordExtractionFallback(source string) {
	if c == nil {
		return
	}
	c.ExtractionFallbacks.WithLabelValues(source).Inc()
}

// ObserveWatermarks publishes the global and per-partition watermarks.
// nowMillis is the current processing time used for the lag gauge.
func (c *Collector) ObserveWatermarks(global int64, partitions map[int32]int64, nowMillis int64) {
	if c == nil {
		return
	}
	c.GlobalWatermark.Set(float64(global))
	for p, wm := range partitions {
		c.PartitionWatermark.WithLabelValues(strconv.FormatInt(int64(p), 10)).Set(float64(wm))
	}
	if len(partitions) > 0 {
		c.WatermarkLag.Set(float64(nowMillis-global) / 1000)
	}
}

// RecordWindowFired counts a window emission
func (c *Collector) RecordWindowFired(kind string) {
	if c == nil {
		return
	}
	c.WindowsFired.WithLabelValues(kind).Inc()
}

// RecordWindowReleased counts a window whose state was dropped
func (c *Collector) RecordWindowReleased(reason string) {
	if c == nil {
		return
	}
	c.WindowsReleased.WithLabelValues(reason).Inc()
}

// SetWindowsOpen sets the open window gauge
func (c *Collector) SetWindowsOpen(n int) {
	if c == nil {
		return
	}
	c.WindowsOpen.Set(float64(n))
}

// ObserveReclaimPass records the duration of a reclaimer pass
func (c *Collector) ObserveReclaimPass(elapsed time.Duration) {
	if c == nil {
		return
	}
	c.ReclaimerPasses.Inc()
	c.ReclaimDuration.Observe(elapsed.Seconds())
}

// SetBufferUtilization sets the input buffer utilization ratio
func (c *Collector) SetBufferUtilization(used, capacity int) {
	if c == nil || capacity <= 0 {
		return
	}
	c.BufferUtilization.Set(float64(used) / float64(capacity))
}

// RegisterCustomMetric allows applications to register custom metrics
func (c *Collector) RegisterCustomMetric(name string, collector prometheus.Collector) error {
	c.customMu.Lock()
	defer c.customMu.Unlock()

	if _, exists := c.customMetrics[name]; exists {
		return prometheus.AlreadyRegisteredError{}
	}

	if err := c.registry.Register(collector); err != nil {
		return err
	}

	c.customMetrics[name] = collector
	c.logger.Info("Registered custom metric", zap.String("name", name))
	return nil
}

// UnregisterCustomMetric removes a custom metric
func (c *Collector) UnregisterCustomMetric(name string) bool {
	c.customMu.Lock()
	defer c.customMu.Unlock()

	if collector, exists := c.customMetrics[name]; exists {
		c.registry.Unregister(collector)
		delete(c.customMetrics, name)
		c.logger.Info("Unregistered custom metric", zap.String("name", name))
		return true
	}
	return false
}

// Registry exposes the underlying registry, mainly for tests
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler returns an HTTP handler for the /metrics endpoint
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Server creates an HTTP server for metrics exposition
type Server struct {
	collector *Collector
	server    *http.Server
	logger    *zap.Logger
}

// NewServer creates a new metrics HTTP server
func NewServer(addr string, collector *Collector, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	return &Server{
		collector: collector,
		server: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
	}
}

// Start starts the metrics HTTP server
func (s *Server) Start() error {
	s.logger.Info("Starting metrics server", zap.String("addr", s.server.Addr))

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Metrics server error", zap.Error(err))
		}
	}()

	return nil
}

// Stop gracefully stops the metrics server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping metrics server")
	return s.server.Shutdown(ctx)
}
