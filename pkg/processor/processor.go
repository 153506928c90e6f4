// Package processor runs timestamp assignment and watermark classification
// for each record.
package processor

import (
	"context"
	"time"

	"github.com/zoobzio/clockz"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	eterrors "github.com/therealutkarshpriyadarshi/eventtime/pkg/errors"
	"github.com/therealutkarshpriyadarshi/eventtime/pkg/metrics"
	"github.com/therealutkarshpriyadarshi/eventtime/pkg/stream"
	"github.com/therealutkarshpriyadarshi/eventtime/pkg/timestamp"
	"github.com/therealutkarshpriyadarshi/eventtime/pkg/tracing"
	"github.com/therealutkarshpriyadarshi/eventtime/pkg/watermark"
)

// Decision is the outcome of processing one record
type Decision struct {
	Status    watermark.Status
	EventTime int64 // Event time used for classification (ms)
	Watermark int64 // Global watermark after the update (ms)
}

// Processor assigns an event time to each record and feeds it to the
// watermark tracker. It holds no per-record state and is safe for
// concurrent use.
type Processor struct {
	assigner    timestamp.Assigner
	tracker     *watermark.Tracker
	clock       clockz.Clock
	metrics     *metrics.Collector
	tracer      trace.Tracer
	sideOutputs *eterrors.SideOutputCollector
	logger      *zap.Logger
}

// Option configures a Processor
type Option func(*Processor)

// WithClock sets the clock used for the processing-time fallback
func WithClock(clock clockz.Clock) Option {
	return func(p *Processor) { p.clock = clock }
}

// WithMetrics records classification metrics on c
func WithMetrics(c *metrics.Collector) Option {
	return func(p *Processor) { p.metrics = c }
}

// WithTracer wraps each record in a span
func WithTracer(tracer trace.Tracer) Option {
	return func(p *Processor) { p.tracer = tracer }
}

// WithSideOutputs routes late, discarded and failed records to tagged channels
func WithSideOutputs(c *eterrors.SideOutputCollector) Option {
	return func(p *Processor) { p.sideOutputs = c }
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(p *Processor) { p.logger = logger }
}

// New creates a processor. A nil assigner selects the default assigner.
func New(assigner timestamp.Assigner, tracker *watermark.Tracker, opts ...Option) *Processor {
	p := &Processor{
		assigner: assigner,
		tracker:  tracker,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.clock == nil {
		p.clock = clockz.RealClock
	}
	if p.logger == nil {
		p.logger = zap.NewNop()
	}
	if p.assigner == nil {
		p.assigner = timestamp.NewDefaultAssigner(p.clock, p.logger)
	}
	return p
}

// Tracker returns the watermark tracker
func (p *Processor) Tracker() *watermark.Tracker {
	return p.tracker
}

// OnRecord assigns the event time of rec, updates the partition watermark and
// classifies the record. The only errors returned are configuration errors;
// the Decision is meaningless when err is non-nil.
func (p *Processor) OnRecord(ctx context.Context, rec *stream.Record) (Decision, error) {
	started := time.Now()

	var span trace.Span
	if p.tracer != nil {
		partition, _ := rec.Header(stream.PartitionHeader)
		ctx, span = tracing.StartRecordSpan(ctx, p.tracer, partition, rec.Key)
		defer span.End()
	}

	ts := p.assigner.ExtractTimestamp(rec)
	if ts == timestamp.NoTimestamp {
		ts = p.clock.Now().UnixMilli()
		p.metrics.RecordExtractionFallback("processing_time")
		p.logger.Debug("No event time, using processing time", zap.Int64("timestamp", ts))
	}

	status, err := p.tracker.UpdateWatermarks(rec.Headers, ts)
	if err != nil {
		category := eterrors.ClassifyError(err)
		p.metrics.RecordError("processor", category.String())
		p.emitSideOutput(ctx, eterrors.ErrorSideOutput, rec, ts, err)
		if span != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, category.String())
		}
		tracing.ContextLogger(ctx, p.logger).Error("Record rejected",
			zap.String("category", category.String()),
			zap.Error(err))
		return Decision{Status: status, EventTime: ts}, err
	}

	decision := Decision{
		Status:    status,
		EventTime: ts,
		Watermark: p.tracker.GlobalWatermark(),
	}

	switch status {
	case watermark.StatusLate:
		p.emitSideOutput(ctx, eterrors.LateSideOutput, rec, ts, nil)
	case watermark.StatusDiscarded:
		p.emitSideOutput(ctx, eterrors.DiscardedSideOutput, rec, ts, nil)
	}

	if span != nil {
		span.SetAttributes(
			attribute.String("record.status", status.String()),
			attribute.Int64("record.event_time", ts),
			attribute.Int64("watermark.global", decision.Watermark),
		)
	}
	p.metrics.RecordClassified(status.String(), time.Since(started))

	return decision, nil
}

func (p *Processor) emitSideOutput(ctx context.Context, tag eterrors.SideOutputTag, rec *stream.Record, ts int64, err error) {
	if p.sideOutputs == nil {
		return
	}
	if _, ok := p.sideOutputs.GetChannel(tag); !ok {
		return
	}
	delivered := p.sideOutputs.Emit(ctx, &eterrors.SideOutputRecord{
		Record:    rec,
		Tag:       tag,
		EventTime: ts,
		Watermark: p.tracker.GlobalWatermark(),
		Err:       err,
	})
	p.metrics.RecordSideOutput(string(tag), delivered)
	if !delivered {
		p.logger.Warn("Side output full, record dropped",
			zap.String("tag", string(tag)),
			zap.Int64("event_time", ts))
	}
}
