package window

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/zoobzio/clockz"
	"go.uber.org/zap"

	"github.com/therealutkarshpriyadarshi/eventtime/pkg/metrics"
)

// ErrShutdownTimeout is returned by Shutdown when a pass does not finish in time
var ErrShutdownTimeout = errors.New("reclaimer shutdown timed out")

// ErrAlreadyStarted is returned by a second call to Start
var ErrAlreadyStarted = errors.New("reclaimer already started")

// WatermarkSource provides the global watermark
type WatermarkSource interface {
	GlobalWatermark() int64
}

// Reclaimer periodically releases window state that can no longer receive
// records. A window ending at end is released once end plus the allowed
// lateness is at or behind the global watermark.
type Reclaimer struct {
	source      WatermarkSource
	lateness    int64
	interval    time.Duration
	idleTimeout time.Duration
	clock       clockz.Clock
	metrics     *metrics.Collector
	logger      *zap.Logger

	mu      sync.Mutex
	holders []Holder

	passMu   sync.Mutex
	trigger  chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
	started  bool
	wg       sync.WaitGroup
}

// ReclaimerOption configures a Reclaimer
type ReclaimerOption func(*Reclaimer)

// WithAllowedLateness sets how long after its end a window may still receive records
func WithAllowedLateness(d time.Duration) ReclaimerOption {
	return func(r *Reclaimer) {
		if d > 0 {
			r.lateness = d.Milliseconds()
		}
	}
}

// WithInterval sets the polling interval
func WithInterval(d time.Duration) ReclaimerOption {
	return func(r *Reclaimer) {
		if d > 0 {
			r.interval = d
		}
	}
}

// WithIdleTimeout enables partial release of windows that received no record for d
func WithIdleTimeout(d time.Duration) ReclaimerOption {
	return func(r *Reclaimer) { r.idleTimeout = d }
}

// WithClock sets the clock driving the ticker and idle detection
func WithClock(clock clockz.Clock) ReclaimerOption {
	return func(r *Reclaimer) { r.clock = clock }
}

// WithMetrics records pass metrics on c
func WithMetrics(c *metrics.Collector) ReclaimerOption {
	return func(r *Reclaimer) { r.metrics = c }
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) ReclaimerOption {
	return func(r *Reclaimer) { r.logger = logger }
}

// NewReclaimer creates a reclaimer reading the watermark from source
func NewReclaimer(source WatermarkSource, opts ...ReclaimerOption) *Reclaimer {
	r := &Reclaimer{
		source:   source,
		interval: time.Second,
		trigger:  make(chan struct{}, 1),
		stop:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.clock == nil {
		r.clock = clockz.RealClock
	}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	return r
}

// Register adds a window holder whose windows the reclaimer releases
func (r *Reclaimer) Register(holder Holder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.holders = append(r.holders, holder)
}

// Start launches the background loop. It returns once the ticker is armed.
func (r *Reclaimer) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return ErrAlreadyStarted
	}
	r.started = true
	r.mu.Unlock()

	ticker := r.clock.NewTicker(r.interval)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer ticker.Stop()

		r.logger.Info("Idle window reclaimer started",
			zap.Duration("interval", r.interval),
			zap.Duration("idle_timeout", r.idleTimeout))

		for {
			select {
			case <-ctx.Done():
				return
			case <-r.stop:
				return
			case <-ticker.C():
			case <-r.trigger:
			}
			r.Reclaim(ctx)
		}
	}()
	return nil
}

// Trigger requests a pass without waiting for the next tick
func (r *Reclaimer) Trigger() {
	select {
	case r.trigger <- struct{}{}:
	default:
	}
}

// Stop asks the loop to exit after any in-flight pass. Safe to call repeatedly.
func (r *Reclaimer) Stop() {
	r.stopOnce.Do(func() {
		close(r.stop)
	})
}

// Shutdown stops the loop and waits up to timeout for it to exit
func (r *Reclaimer) Shutdown(timeout time.Duration) error {
	r.Stop()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		r.logger.Info("Idle window reclaimer stopped")
		return nil
	case <-timer.C:
		r.logger.Warn("Idle window reclaimer did not stop in time", zap.Duration("timeout", timeout))
		return ErrShutdownTimeout
	}
}

// Reclaim runs one pass over all holders and returns how many windows were
// released, counting partial releases. Failed releases and windows that were
// already gone are not counted.
func (r *Reclaimer) Reclaim(ctx context.Context) int {
	r.passMu.Lock()
	defer r.passMu.Unlock()

	started := time.Now()
	defer func() { r.metrics.ObserveReclaimPass(time.Since(started)) }()

	r.mu.Lock()
	holders := append([]Holder(nil), r.holders...)
	r.mu.Unlock()

	wm := r.source.GlobalWatermark()
	now := r.clock.Now()
	released := 0

	for _, holder := range holders {
		for _, info := range holder.Windows() {
			partial := false
			if !expired(info.End, r.lateness, wm) {
				if r.idleTimeout <= 0 || now.Sub(info.LastUpdated) < r.idleTimeout {
					continue
				}
				partial = true
			}

			ok, err := holder.ReleaseWindow(ctx, info.Start, partial)
			if err != nil {
				r.logger.Error("Failed to release window",
					zap.Int64("start", info.Start),
					zap.Bool("partial", partial),
					zap.Error(err))
				continue
			}
			if ok {
				released++
			}
		}
	}

	if released > 0 {
		r.logger.Debug("Reclaimer pass released windows",
			zap.Int("released", released),
			zap.Int64("watermark", wm))
	}
	return released
}
