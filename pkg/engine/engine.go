// Package engine runs the event-time pipeline: sources feed a bounded buffer,
// a worker pool augments each record and hands it to the window aggregator,
// and the idle-window reclaimer releases windows the watermark has passed.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/zoobzio/clockz"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/therealutkarshpriyadarshi/eventtime/pkg/augment"
	"github.com/therealutkarshpriyadarshi/eventtime/pkg/config"
	eterrors "github.com/therealutkarshpriyadarshi/eventtime/pkg/errors"
	"github.com/therealutkarshpriyadarshi/eventtime/pkg/metrics"
	"github.com/therealutkarshpriyadarshi/eventtime/pkg/stream"
	"github.com/therealutkarshpriyadarshi/eventtime/pkg/watermark"
	"github.com/therealutkarshpriyadarshi/eventtime/pkg/window"
)

// ErrShutdownTimeout is returned by Stop when in-flight records did not
// finish within the shutdown budget.
var ErrShutdownTimeout = errors.New("engine shutdown timed out")

// Config holds configuration for the engine
type Config struct {
	BufferSize               int
	MaxConcurrency           int
	WatermarkInterval        time.Duration
	MetricsInterval          time.Duration
	ShutdownTimeout          time.Duration
	ReclaimerShutdownTimeout time.Duration
	MetricsAddr              string // Empty disables the metrics server
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	return Config{
		BufferSize:               10000,
		MaxConcurrency:           100,
		WatermarkInterval:        5 * time.Second,
		MetricsInterval:          10 * time.Second,
		ShutdownTimeout:          30 * time.Second,
		ReclaimerShutdownTimeout: time.Second,
		MetricsAddr:              ":9091",
	}
}

// ConfigFrom derives the engine configuration from the application config
func ConfigFrom(cfg *config.Config) Config {
	c := Config{
		BufferSize:               cfg.Engine.BufferSize,
		MaxConcurrency:           cfg.Engine.MaxConcurrency,
		WatermarkInterval:        cfg.Engine.WatermarkInterval,
		MetricsInterval:          cfg.Engine.MetricsInterval,
		ShutdownTimeout:          cfg.Engine.ShutdownTimeout,
		ReclaimerShutdownTimeout: cfg.Reclaimer.ShutdownTimeout,
	}
	if cfg.Metrics.Enabled {
		c.MetricsAddr = cfg.Metrics.Address
	}
	return c
}

// Stats is a snapshot of engine counters
type Stats struct {
	RecordsReceived int64
	RecordsFailed   int64
	BufferLen       int
	BufferCap       int
	GlobalWatermark int64
}

// Engine is the event-time processing engine
type Engine struct {
	config      Config
	tracker     *watermark.Tracker
	aggregator  *window.Aggregator
	reclaimer   *window.Reclaimer
	augmenter   *augment.Augmenter
	sink        stream.Sink
	sideOutputs *eterrors.SideOutputCollector
	metrics     *metrics.Collector
	server      *metrics.Server
	clock       clockz.Clock
	logger      *zap.Logger

	sources []stream.Source
	records chan *stream.Record

	ctx      context.Context
	cancel   context.CancelFunc
	draining chan struct{}
	pipeline sync.WaitGroup
	loops    sync.WaitGroup
	workers  sync.WaitGroup
	side     sync.WaitGroup

	received atomic.Int64
	failed   atomic.Int64

	startOnce sync.Once
	stopOnce  sync.Once
	stopErr   error
}

// Option configures an Engine
type Option func(*Engine)

// WithReclaimer runs r for the lifetime of the engine
func WithReclaimer(r *window.Reclaimer) Option {
	return func(e *Engine) { e.reclaimer = r }
}

// WithAugmenter derives headers on every record before windowing
func WithAugmenter(a *augment.Augmenter) Option {
	return func(e *Engine) { e.augmenter = a }
}

// WithSink closes sink when the engine stops. The aggregator writes to it.
func WithSink(sink stream.Sink) Option {
	return func(e *Engine) { e.sink = sink }
}

// WithSideOutputs consumes the collector's channels and closes it on stop
func WithSideOutputs(c *eterrors.SideOutputCollector) Option {
	return func(e *Engine) { e.sideOutputs = c }
}

// WithMetrics publishes engine metrics on c
func WithMetrics(c *metrics.Collector) Option {
	return func(e *Engine) { e.metrics = c }
}

// WithClock sets the clock driving the periodic loops
func WithClock(clock clockz.Clock) Option {
	return func(e *Engine) { e.clock = clock }
}

// WithLogger sets the engine logger
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// New creates an engine feeding records into aggregator
func New(cfg Config, tracker *watermark.Tracker, aggregator *window.Aggregator, opts ...Option) (*Engine, error) {
	if tracker == nil || aggregator == nil {
		return nil, fmt.Errorf("engine requires a watermark tracker and an aggregator")
	}

	defaults := DefaultConfig()
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaults.BufferSize
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = defaults.MaxConcurrency
	}
	if cfg.WatermarkInterval <= 0 {
		cfg.WatermarkInterval = defaults.WatermarkInterval
	}
	if cfg.MetricsInterval <= 0 {
		cfg.MetricsInterval = defaults.MetricsInterval
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaults.ShutdownTimeout
	}
	if cfg.ReclaimerShutdownTimeout <= 0 {
		cfg.ReclaimerShutdownTimeout = defaults.ReclaimerShutdownTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		config:     cfg,
		tracker:    tracker,
		aggregator: aggregator,
		records:    make(chan *stream.Record, cfg.BufferSize),
		ctx:        ctx,
		cancel:     cancel,
		draining:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.clock == nil {
		e.clock = clockz.RealClock
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	return e, nil
}

// AddSource registers a data source
func (e *Engine) AddSource(source stream.Source) *Engine {
	e.sources = append(e.sources, source)
	e.logger.Info("Added source", zap.String("name", source.Name()))
	return e
}

// Input returns the buffered record channel sources write to
func (e *Engine) Input() chan<- *stream.Record {
	return e.records
}

// Start launches the pipeline. Sources that fail to start stop the engine.
func (e *Engine) Start() error {
	err := errors.New("engine already started")
	e.startOnce.Do(func() {
		err = e.start()
	})
	return err
}

func (e *Engine) start() error {
	e.logger.Info("Starting event-time engine",
		zap.Int("sources", len(e.sources)),
		zap.Int("buffer_size", e.config.BufferSize),
		zap.Int("max_concurrency", e.config.MaxConcurrency),
		zap.Bool("metrics_enabled", e.metrics != nil && e.config.MetricsAddr != ""))

	if e.metrics != nil && e.config.MetricsAddr != "" {
		e.server = metrics.NewServer(e.config.MetricsAddr, e.metrics, e.logger)
		if err := e.server.Start(); err != nil {
			e.logger.Error("Failed to start metrics server", zap.Error(err))
		}
	}

	if e.sideOutputs != nil {
		e.consumeSideOutputs()
	}

	e.pipeline.Add(1)
	go e.processingLoop()

	e.loops.Add(1)
	go e.watermarkLoop()

	e.loops.Add(1)
	go e.metricsLoop()

	if e.reclaimer != nil {
		e.reclaimer.Register(e.aggregator)
		if err := e.reclaimer.Start(e.ctx); err != nil {
			e.Stop()
			return fmt.Errorf("failed to start reclaimer: %w", err)
		}
	}

	for _, source := range e.sources {
		if err := source.Start(e.ctx, e.records); err != nil {
			e.Stop()
			return fmt.Errorf("failed to start source %s: %w", source.Name(), err)
		}
	}

	return nil
}

// processingLoop dispatches buffered records to the worker pool
func (e *Engine) processingLoop() {
	defer e.pipeline.Done()

	semaphore := make(chan struct{}, e.config.MaxConcurrency)
	dispatch := func(rec *stream.Record) {
		semaphore <- struct{}{}
		e.workers.Add(1)
		go func() {
			defer e.workers.Done()
			defer func() { <-semaphore }()
			e.process(rec)
		}()
	}

	for {
		select {
		case <-e.ctx.Done():
			e.logger.Info("Processing loop shutting down")
			return

		case <-e.draining:
			for {
				select {
				case rec := <-e.records:
					dispatch(rec)
				default:
					e.logger.Info("Processing loop drained")
					return
				}
			}

		case rec := <-e.records:
			dispatch(rec)
		}
	}
}

// process runs one record through the augmenter and the aggregator
func (e *Engine) process(rec *stream.Record) {
	e.received.Inc()

	if e.augmenter != nil {
		rec = e.augmenter.Augment(e.ctx, rec)
	}

	if _, err := e.aggregator.OnRecord(e.ctx, rec); err != nil {
		e.failed.Inc()
		category := eterrors.ClassifyError(err)
		e.metrics.RecordError("engine", category.String())
		e.logger.Error("Record processing error",
			zap.String("key", rec.Key),
			zap.String("category", category.String()),
			zap.Error(err))
	}
}

// watermarkLoop publishes watermarks and fires windows they have passed
func (e *Engine) watermarkLoop() {
	defer e.loops.Done()
	ticker := e.clock.NewTicker(e.config.WatermarkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C():
			e.observeWatermarks()
		}
	}
}

func (e *Engine) observeWatermarks() {
	global := e.tracker.GlobalWatermark()
	e.metrics.ObserveWatermarks(global, e.tracker.Partitions(), e.clock.Now().UnixMilli())

	if err := e.aggregator.Evaluate(e.ctx); err != nil {
		e.logger.Error("Window evaluation error", zap.Error(err))
	}

	e.logger.Debug("Watermark observed", zap.Int64("global_watermark", global))
}

// metricsLoop periodically logs engine stats
func (e *Engine) metricsLoop() {
	defer e.loops.Done()
	ticker := e.clock.NewTicker(e.config.MetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C():
			e.logStats()
		}
	}
}

func (e *Engine) logStats() {
	stats := e.Stats()
	e.metrics.SetBufferUtilization(stats.BufferLen, stats.BufferCap)

	e.logger.Info("Engine stats",
		zap.Int64("records_received", stats.RecordsReceived),
		zap.Int64("records_failed", stats.RecordsFailed),
		zap.Int("buffer_len", stats.BufferLen),
		zap.Int("windows_open", len(e.aggregator.Windows())),
		zap.Int64("global_watermark", stats.GlobalWatermark))
}

// consumeSideOutputs logs every record routed to a side output until the
// collector is closed
func (e *Engine) consumeSideOutputs() {
	tags := []eterrors.SideOutputTag{
		eterrors.LateSideOutput,
		eterrors.DiscardedSideOutput,
		eterrors.ErrorSideOutput,
	}
	for _, tag := range tags {
		ch, ok := e.sideOutputs.GetChannel(tag)
		if !ok {
			continue
		}
		e.side.Add(1)
		go func(ch <-chan *eterrors.SideOutputRecord) {
			defer e.side.Done()
			for rec := range ch {
				fields := []zap.Field{
					zap.String("tag", string(rec.Tag)),
					zap.Int64("event_time", rec.EventTime),
					zap.Int64("watermark", rec.Watermark),
				}
				if rec.Record != nil {
					fields = append(fields, zap.String("key", rec.Record.Key))
				}
				if rec.Err != nil {
					fields = append(fields, zap.Error(rec.Err))
				}
				e.logger.Debug("Side output record", fields...)
			}
		}(ch)
	}
}

// Stop stops sources, drains the buffer, stops the reclaimer, flushes the
// aggregator and closes the sink. Safe to call more than once.
func (e *Engine) Stop() error {
	e.stopOnce.Do(func() {
		e.stopErr = e.stop()
	})
	return e.stopErr
}

func (e *Engine) stop() error {
	e.logger.Info("Stopping event-time engine")
	var err error

	for _, source := range e.sources {
		if serr := source.Stop(); serr != nil {
			e.logger.Error("Error stopping source", zap.String("source", source.Name()), zap.Error(serr))
			err = multierr.Append(err, serr)
		}
	}

	close(e.draining)
	drained := e.wait(func() {
		e.pipeline.Wait()
		e.workers.Wait()
	}, e.config.ShutdownTimeout)
	if !drained {
		e.logger.Warn("In-flight records did not finish in time",
			zap.Duration("timeout", e.config.ShutdownTimeout))
		err = multierr.Append(err, ErrShutdownTimeout)
	}
	e.cancel()
	e.loops.Wait()

	if e.reclaimer != nil {
		err = multierr.Append(err, e.reclaimer.Shutdown(e.config.ReclaimerShutdownTimeout))
	}

	ctx, cancel := context.WithTimeout(context.Background(), e.config.ShutdownTimeout)
	defer cancel()

	if aerr := e.aggregator.Close(ctx); aerr != nil {
		e.logger.Error("Error closing aggregator", zap.Error(aerr))
		err = multierr.Append(err, aerr)
	}

	if e.sink != nil {
		if serr := e.sink.Close(); serr != nil {
			e.logger.Error("Error closing sink", zap.Error(serr))
			err = multierr.Append(err, serr)
		}
	}

	// Workers may still emit side outputs after a timed out drain
	if e.sideOutputs != nil && drained {
		e.sideOutputs.Close()
		e.side.Wait()
	}

	if e.server != nil {
		if serr := e.server.Stop(ctx); serr != nil {
			err = multierr.Append(err, serr)
		}
	}

	e.logger.Info("Event-time engine stopped", zap.Int64("records_received", e.received.Load()))
	return err
}

// wait runs fn and reports whether it returned within timeout
func (e *Engine) wait(fn func(), timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		fn()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}

// Stats returns a snapshot of the engine counters
func (e *Engine) Stats() Stats {
	return Stats{
		RecordsReceived: e.received.Load(),
		RecordsFailed:   e.failed.Load(),
		BufferLen:       len(e.records),
		BufferCap:       cap(e.records),
		GlobalWatermark: e.tracker.GlobalWatermark(),
	}
}
