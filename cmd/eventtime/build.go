package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/therealutkarshpriyadarshi/eventtime/pkg/augment"
	"github.com/therealutkarshpriyadarshi/eventtime/pkg/config"
	"github.com/therealutkarshpriyadarshi/eventtime/pkg/engine"
	eterrors "github.com/therealutkarshpriyadarshi/eventtime/pkg/errors"
	"github.com/therealutkarshpriyadarshi/eventtime/pkg/ingestion"
	"github.com/therealutkarshpriyadarshi/eventtime/pkg/metrics"
	"github.com/therealutkarshpriyadarshi/eventtime/pkg/processor"
	"github.com/therealutkarshpriyadarshi/eventtime/pkg/schema"
	"github.com/therealutkarshpriyadarshi/eventtime/pkg/sink"
	"github.com/therealutkarshpriyadarshi/eventtime/pkg/stream"
	"github.com/therealutkarshpriyadarshi/eventtime/pkg/timestamp"
	"github.com/therealutkarshpriyadarshi/eventtime/pkg/tracing"
	"github.com/therealutkarshpriyadarshi/eventtime/pkg/watermark"
	"github.com/therealutkarshpriyadarshi/eventtime/pkg/window"
)

type app struct {
	engine *engine.Engine
	tracer *tracing.TracerProvider
	logger *zap.Logger
}

func (a *app) shutdownTracing() {
	ctx, cancel := context.WithTimeout(context.Background(), tracingShutdownTimeout)
	defer cancel()
	if err := a.tracer.Shutdown(ctx); err != nil {
		a.logger.Warn("Tracer shutdown error", zap.Error(err))
	}
}

// build wires every component described by cfg
func build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	tp, err := tracing.NewProvider(ctx, &cfg.Tracing, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}

	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		collector = metrics.NewCollector(logger)
	}

	decoder, err := newDecoder(cfg, logger)
	if err != nil {
		return nil, err
	}

	assigner, err := timestamp.New(timestamp.Options{
		Strategy: cfg.Timestamp.Strategy,
		Header:   cfg.Timestamp.Header,
		Path:     cfg.Timestamp.Path,
		Decoder:  decoder,
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create timestamp assigner: %w", err)
	}

	tracker := watermark.NewTracker(
		watermark.WithMaxOutOfOrderness(cfg.Watermark.MaxOutOfOrderness),
		watermark.WithAllowedLateness(cfg.Watermark.AllowedLateness),
		watermark.WithLogger(logger),
	)

	procOpts := []processor.Option{
		processor.WithMetrics(collector),
		processor.WithLogger(logger),
	}
	var sideOutputs *eterrors.SideOutputCollector
	if cfg.ErrorHandling.EnableSideOutputs {
		sideOutputs = eterrors.CreateSideOutputCollector(eterrors.SideOutputConfig{
			EnableLate:      cfg.ErrorHandling.LateSideOutput,
			EnableDiscarded: cfg.ErrorHandling.DiscardedSideOutput,
			EnableErrors:    cfg.ErrorHandling.ErrorSideOutput,
			BufferSize:      cfg.ErrorHandling.SideOutputBufferSize,
		})
		procOpts = append(procOpts, processor.WithSideOutputs(sideOutputs))
	}
	if tp.Enabled() {
		procOpts = append(procOpts, processor.WithTracer(tp.Tracer()))
	}
	proc := processor.New(assigner, tracker, procOpts...)

	reducer, err := window.ReducerByName(cfg.Window.Reducer)
	if err != nil {
		return nil, err
	}

	sinks, err := newSinks(ctx, cfg, collector, logger)
	if err != nil {
		return nil, err
	}

	aggOpts := []window.AggregatorOption{
		window.WithSink(sinks),
		window.WithReducer(reducer),
		window.WithOffset(cfg.Window.Offset),
		window.WithAggregatorMetrics(collector),
		window.WithAggregatorLogger(logger),
	}
	if tp.Enabled() {
		aggOpts = append(aggOpts, window.WithAggregatorTracer(tp.Tracer()))
	}
	agg, err := window.NewAggregator(cfg.Window.Size, proc, aggOpts...)
	if err != nil {
		sinks.Close()
		return nil, fmt.Errorf("failed to create window aggregator: %w", err)
	}

	reclaimer := window.NewReclaimer(tracker,
		window.WithAllowedLateness(cfg.Watermark.AllowedLateness),
		window.WithInterval(cfg.Reclaimer.Interval),
		window.WithIdleTimeout(cfg.Reclaimer.IdleTimeout),
		window.WithMetrics(collector),
		window.WithLogger(logger),
	)

	engOpts := []engine.Option{
		engine.WithReclaimer(reclaimer),
		engine.WithSink(sinks),
		engine.WithMetrics(collector),
		engine.WithLogger(logger),
	}
	if sideOutputs != nil {
		engOpts = append(engOpts, engine.WithSideOutputs(sideOutputs))
	}
	if len(cfg.Augment) > 0 {
		aug, err := augment.New(cfg.Augment, decoder, logger)
		if err != nil {
			sinks.Close()
			return nil, err
		}
		engOpts = append(engOpts, engine.WithAugmenter(aug))
	}

	eng, err := engine.New(engine.ConfigFrom(cfg), tracker, agg, engOpts...)
	if err != nil {
		sinks.Close()
		return nil, err
	}

	sources, err := newSources(cfg, logger)
	if err != nil {
		sinks.Close()
		return nil, err
	}
	for _, src := range sources {
		eng.AddSource(src)
	}

	return &app{engine: eng, tracer: tp, logger: logger}, nil
}

func newDecoder(cfg *config.Config, logger *zap.Logger) (schema.Decoder, error) {
	var lookup schema.SchemaLookup
	if cfg.Schema.RegistryURL != "" {
		registry, err := schema.NewRegistry(&cfg.Schema, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create schema registry client: %w", err)
		}
		lookup = registry
	}

	dm, err := schema.NewDecoderManager(&cfg.Schema, lookup, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}
	return dm, nil
}

func newSources(cfg *config.Config, logger *zap.Logger) ([]stream.Source, error) {
	var sources []stream.Source

	for _, kc := range cfg.Sources.Kafka {
		src, err := ingestion.NewKafkaSource(kc, logger)
		if err != nil {
			return nil, err
		}
		sources = append(sources, src)
	}
	for _, nc := range cfg.Sources.NATS {
		src, err := ingestion.NewNATSSource(nc, logger)
		if err != nil {
			return nil, err
		}
		sources = append(sources, src)
	}
	for _, hc := range cfg.Sources.HTTP {
		sources = append(sources, ingestion.NewHTTPSource(hc, logger))
	}
	for _, wc := range cfg.Sources.WebSocket {
		sources = append(sources, ingestion.NewWebSocketSource(wc, logger))
	}

	if len(sources) == 0 {
		logger.Warn("No sources configured, the engine will idle")
	}
	return sources, nil
}

func newSinks(ctx context.Context, cfg *config.Config, collector *metrics.Collector, logger *zap.Logger) (sink.Fanout, error) {
	var sinks sink.Fanout

	for _, kc := range cfg.Sinks.Kafka {
		s, err := sink.NewKafkaSink(kc, collector, logger)
		if err != nil {
			sinks.Close()
			return nil, err
		}
		sinks = append(sinks, s)
	}
	for _, tc := range cfg.Sinks.TimescaleDB {
		s, err := sink.NewTimescaleSink(ctx, tc, collector, logger)
		if err != nil {
			sinks.Close()
			return nil, err
		}
		sinks = append(sinks, s)
	}

	if len(sinks) == 0 {
		logger.Warn("No sinks configured, window results are only logged")
	}
	return sinks, nil
}
