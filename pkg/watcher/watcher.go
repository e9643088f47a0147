// Package watcher polls an advisor on a self-tuning interval and reports
// state transitions to a callback.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/srodi/memadvice/pkg/advisor"
	"github.com/srodi/memadvice/pkg/types"
)

var (
	// ErrAlreadyStarted is returned by Start on a running watcher.
	ErrAlreadyStarted = errors.New("watcher already started")
	// ErrStopped is returned by Start once the watcher has been stopped.
	ErrStopped = errors.New("watcher stopped")
)

// Callback receives each new state. It runs on the watcher goroutine and must
// not call Stop.
type Callback func(types.State)

// Advisor is the part of *advisor.Advisor the watcher depends on.
type Advisor interface {
	Config() advisor.Config
	GetState(ctx context.Context) types.State
	OnTrim(level int)
	Subscribe() (<-chan struct{}, func())
}

// Watcher drives repeated sampling. The zero value is not usable; see New.
type Watcher struct {
	adv    Advisor
	cb     Callback
	cfg    advisor.Config
	logger *zap.Logger
	meter  metric.MeterProvider
	inst   *instruments
	now    func() time.Time

	mu          sync.Mutex
	started     bool
	stopped     bool
	lastEmitted types.State
	cancel      context.CancelFunc
	done        chan struct{}
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(w *Watcher) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithMeterProvider records loop metrics through mp instead of the global provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(w *Watcher) {
		if mp != nil {
			w.meter = mp
		}
	}
}

// New returns a stopped watcher. Configuration problems surface here rather
// than inside the loop.
func New(adv Advisor, cb Callback, opts ...Option) (*Watcher, error) {
	if adv == nil {
		return nil, fmt.Errorf("%w: nil advisor", advisor.ErrInvalidConfig)
	}
	if cb == nil {
		return nil, fmt.Errorf("%w: nil callback", advisor.ErrInvalidConfig)
	}
	cfg := adv.Config()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	w := &Watcher{
		adv:    adv,
		cb:     cb,
		cfg:    cfg,
		logger: zap.NewNop(),
		meter:  otel.GetMeterProvider(),
		now:    time.Now,
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.inst = newInstruments(w.meter, w.logger)
	return w, nil
}

// NextInterval derives the polling interval from the cost of the last sample
// so that sampling stays within the overhead budget, clamped to the
// configured bounds.
func NextInterval(sampleDuration time.Duration, cfg advisor.Config) time.Duration {
	if sampleDuration <= 0 || cfg.OverheadBudgetFraction <= 0 {
		return cfg.PollMinInterval
	}
	target := float64(sampleDuration) / cfg.OverheadBudgetFraction
	switch {
	case target >= float64(cfg.PollMaxInterval):
		return cfg.PollMaxInterval
	case target <= float64(cfg.PollMinInterval):
		return cfg.PollMinInterval
	default:
		return time.Duration(target)
	}
}

// Start launches the polling goroutine. The first sample is taken immediately.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return ErrStopped
	}
	if w.started {
		return ErrAlreadyStarted
	}
	w.started = true

	loopCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	wake, unsubscribe := w.adv.Subscribe()

	w.logger.Info("memory watcher started",
		zap.Duration("min_interval", w.cfg.PollMinInterval),
		zap.Duration("max_interval", w.cfg.PollMaxInterval),
		zap.Float64("overhead_budget", w.cfg.OverheadBudgetFraction))

	go func() {
		defer close(w.done)
		defer unsubscribe()
		w.run(loopCtx, wake)
	}()
	return nil
}

// Stop halts the loop and waits for an in-flight cycle to finish. No callback
// is delivered after Stop returns. It is idempotent.
func (w *Watcher) Stop() {
	w.mu.Lock()
	first := !w.stopped
	w.stopped = true
	started := w.started
	cancel := w.cancel
	w.mu.Unlock()

	if !started {
		return
	}
	if first {
		cancel()
	}
	<-w.done
	if first {
		w.logger.Info("memory watcher stopped")
	}
}

// Running reports whether the loop is active.
func (w *Watcher) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.started && !w.stopped
}

// OnTrim forwards a platform trim notification; the loop re-samples at once.
func (w *Watcher) OnTrim(level int) {
	w.adv.OnTrim(level)
}

// LastEmitted returns the last state handed to the callback.
func (w *Watcher) LastEmitted() types.State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastEmitted
}

func (w *Watcher) run(ctx context.Context, wake <-chan struct{}) {
	for {
		if ctx.Err() != nil {
			return
		}
		cycleStart := w.now()
		state := w.adv.GetState(ctx)
		sampleDuration := w.now().Sub(cycleStart)

		// Probes abandoned on cancellation report defaults; that sample is not a reading.
		if ctx.Err() != nil {
			return
		}
		if !w.deliver(ctx, state) {
			return
		}

		interval := NextInterval(sampleDuration, w.cfg)
		w.inst.recordCycle(ctx, sampleDuration, interval)

		wait := interval - w.now().Sub(cycleStart)
		if wait < 0 {
			wait = 0
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-wake:
			timer.Stop()
			w.logger.Debug("trim notification, re-sampling now")
		case <-timer.C:
		}
	}
}

// deliver runs the transition check under the lock shared with Stop and
// invokes the callback outside it. It returns false once stopped.
func (w *Watcher) deliver(ctx context.Context, state types.State) bool {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return false
	}
	if state.SameAs(w.lastEmitted) {
		w.mu.Unlock()
		return true
	}
	prev := w.lastEmitted
	w.lastEmitted = state
	w.mu.Unlock()

	w.logger.Info("memory state changed",
		zap.Stringer("from", prev),
		zap.Stringer("to", state),
		zap.Int("trim_level", state.TrimLevel))
	w.inst.recordTransition(ctx, state)
	w.invoke(state)
	return true
}

func (w *Watcher) invoke(state types.State) {
	start := w.now()
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("state callback panicked", zap.Any("panic", r), zap.Stringer("state", state))
		}
		if took := w.now().Sub(start); took > w.cfg.MaxCallbackLatency {
			w.logger.Warn("slow state callback",
				zap.Duration("took", took),
				zap.Duration("limit", w.cfg.MaxCallbackLatency))
		}
	}()
	w.cb(state)
}
