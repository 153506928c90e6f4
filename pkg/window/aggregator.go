package window

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/zoobzio/clockz"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	eterrors "github.com/therealutkarshpriyadarshi/eventtime/pkg/errors"
	"github.com/therealutkarshpriyadarshi/eventtime/pkg/metrics"
	"github.com/therealutkarshpriyadarshi/eventtime/pkg/processor"
	"github.com/therealutkarshpriyadarshi/eventtime/pkg/state"
	"github.com/therealutkarshpriyadarshi/eventtime/pkg/stream"
	"github.com/therealutkarshpriyadarshi/eventtime/pkg/tracing"
	"github.com/therealutkarshpriyadarshi/eventtime/pkg/watermark"
)

// Emission kinds used in logs and metrics
const (
	KindOnTime  = "on_time"
	KindLate    = "late"
	KindPartial = "partial"
)

// Aggregator groups records into event-time tumbling windows. A window fires
// once the global watermark reaches its end, fires again for every late
// record that lands in it, and its state is dropped once end plus the allowed
// lateness is behind the watermark.
type Aggregator struct {
	assigner  *TumblingWindowAssigner
	processor *processor.Processor
	tracker   *watermark.Tracker
	state     state.Backend
	sink      stream.Sink
	reducer   Reducer
	clock     clockz.Clock
	metrics   *metrics.Collector
	tracer    trace.Tracer
	logger    *zap.Logger

	// mu serializes window evaluation so each window fires once per trigger
	mu sync.Mutex
}

// AggregatorOption configures an Aggregator
type AggregatorOption func(*Aggregator)

// WithState replaces the in-memory state backend
func WithState(backend state.Backend) AggregatorOption {
	return func(a *Aggregator) { a.state = backend }
}

// WithSink sets where window results are written
func WithSink(sink stream.Sink) AggregatorOption {
	return func(a *Aggregator) { a.sink = sink }
}

// WithReducer sets the window reducer
func WithReducer(r Reducer) AggregatorOption {
	return func(a *Aggregator) { a.reducer = r }
}

// WithOffset shifts window boundaries
func WithOffset(offset time.Duration) AggregatorOption {
	return func(a *Aggregator) { a.assigner.WithOffset(offset) }
}

// WithAggregatorClock sets the clock used to stamp window activity
func WithAggregatorClock(clock clockz.Clock) AggregatorOption {
	return func(a *Aggregator) { a.clock = clock }
}

// WithAggregatorMetrics records window metrics on c
func WithAggregatorMetrics(c *metrics.Collector) AggregatorOption {
	return func(a *Aggregator) { a.metrics = c }
}

// WithAggregatorTracer wraps window emissions in spans
func WithAggregatorTracer(tracer trace.Tracer) AggregatorOption {
	return func(a *Aggregator) { a.tracer = tracer }
}

// WithAggregatorLogger sets the logger
func WithAggregatorLogger(logger *zap.Logger) AggregatorOption {
	return func(a *Aggregator) { a.logger = logger }
}

// NewAggregator creates a tumbling window aggregator fed by proc
func NewAggregator(size time.Duration, proc *processor.Processor, opts ...AggregatorOption) (*Aggregator, error) {
	if size.Milliseconds() <= 0 {
		return nil, eterrors.NewConfigurationError(
			fmt.Errorf("window size must be at least 1ms, got %s", size), "tumbling window")
	}
	if proc == nil {
		return nil, eterrors.NewConfigurationError(fmt.Errorf("processor is required"), "tumbling window")
	}

	a := &Aggregator{
		assigner:  NewTumblingWindow(size),
		processor: proc,
		tracker:   proc.Tracker(),
		reducer:   CountReducer,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = zap.NewNop()
	}
	if a.clock == nil {
		a.clock = clockz.RealClock
	}
	if a.state == nil {
		a.state = state.NewMemoryStateBackend(a.logger)
	}
	return a, nil
}

// Assigner returns the window assigner
func (a *Aggregator) Assigner() *TumblingWindowAssigner {
	return a.assigner
}

// OnRecord classifies rec, buffers it in its window unless discarded, and
// fires every window the watermark has passed.
func (a *Aggregator) OnRecord(ctx context.Context, rec *stream.Record) (processor.Decision, error) {
	decision, err := a.processor.OnRecord(ctx, rec)
	if err != nil {
		return decision, err
	}
	if decision.Status == watermark.StatusDiscarded {
		a.logger.Debug("Discarding record behind allowed lateness",
			zap.Int64("event_time", decision.EventTime),
			zap.Int64("watermark", decision.Watermark))
		return decision, nil
	}

	w := a.assigner.AssignWindow(decision.EventTime)

	a.mu.Lock()
	defer a.mu.Unlock()

	a.state.Append(w.Start, rec, a.clock.Now())
	if err := a.evaluate(ctx, w.Start, true); err != nil {
		return decision, err
	}
	return decision, nil
}

// Evaluate fires windows the watermark has passed without a new record.
func (a *Aggregator) Evaluate(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.evaluate(ctx, 0, false)
}

// evaluate fires every window the watermark has passed. touched is the window
// that just received a record, valid only when hasTouched is set.
func (a *Aggregator) evaluate(ctx context.Context, touched int64, hasTouched bool) error {
	wm := a.tracker.GlobalWatermark()
	lateness := a.tracker.AllowedLateness().Milliseconds()

	var firstErr error
	for _, start := range a.state.Keys() {
		w := a.assigner.WindowOf(start)
		if wm < w.End {
			continue
		}

		entry, ok := a.state.Get(start)
		if !ok {
			continue
		}

		switch {
		case !entry.Fired:
			a.state.MarkFired(start)
			if err := a.emit(ctx, w, entry, KindOnTime); err != nil && firstErr == nil {
				firstErr = err
			}
		case hasTouched && start == touched:
			if err := a.emit(ctx, w, entry, KindLate); err != nil && firstErr == nil {
				firstErr = err
			}
		}

		if expired(w.End, lateness, wm) {
			a.state.Delete(start)
			a.metrics.RecordWindowReleased("expired")
		}
	}
	a.metrics.SetWindowsOpen(a.state.Size())
	return firstErr
}

// Windows implements Holder
func (a *Aggregator) Windows() []Info {
	keys := a.state.Keys()
	infos := make([]Info, 0, len(keys))
	for _, start := range keys {
		entry, ok := a.state.Get(start)
		if !ok {
			continue
		}
		w := a.assigner.WindowOf(start)
		infos = append(infos, Info{
			Start:       w.Start,
			End:         w.End,
			LastUpdated: entry.LastUpdated,
			Fired:       entry.Fired,
		})
	}
	return infos
}

// ReleaseWindow implements Holder. Releasing an unknown window is a no-op.
// Both kinds of release drop the window state; an idle window that has not
// fired is emitted as a partial result.
func (a *Aggregator) ReleaseWindow(ctx context.Context, start int64, partial bool) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	entry, ok := a.state.Delete(start)
	if !ok {
		return false, nil
	}
	reason, kind := "reclaimed", KindOnTime
	if partial {
		reason, kind = "idle", KindPartial
	}
	a.metrics.RecordWindowReleased(reason)
	a.metrics.SetWindowsOpen(a.state.Size())
	if entry.Fired {
		return true, nil
	}
	return true, a.emit(ctx, a.assigner.WindowOf(start), entry, kind)
}

func (a *Aggregator) emit(ctx context.Context, w Window, entry state.Entry, kind string) error {
	if a.tracer != nil {
		var span trace.Span
		ctx, span = tracing.StartWindowSpan(ctx, a.tracer, kind, w.Start, w.End)
		defer span.End()
	}

	partial := kind == KindPartial
	records, err := a.reducer(w, entry, partial)
	if err != nil {
		return fmt.Errorf("failed to reduce window %s: %w", w, err)
	}

	wm := a.tracker.GlobalWatermark()
	for _, rec := range records {
		rec.SetInt64Header(stream.EventTimeHeader, w.End)
		rec.SetInt64Header(stream.WatermarkHeader, wm)
	}

	a.logger.Debug("Releasing window",
		zap.Stringer("window", w),
		zap.String("kind", kind),
		zap.Int("records", len(entry.Records)),
		zap.Int64("watermark", wm))
	a.metrics.RecordWindowFired(kind)

	if a.sink == nil {
		return nil
	}
	result := &stream.WindowResult{
		Start:     w.Start,
		End:       w.End,
		Watermark: wm,
		Partial:   partial,
		Late:      kind == KindLate,
		Records:   records,
	}
	if err := a.sink.Write(ctx, result); err != nil {
		return fmt.Errorf("failed to write window %s: %w", w, err)
	}
	return nil
}

// Close flushes the sink and drops all window state
func (a *Aggregator) Close(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.sink != nil {
		if err := a.sink.Flush(ctx); err != nil {
			return err
		}
	}
	return a.state.Close()
}

var _ Holder = (*Aggregator)(nil)
