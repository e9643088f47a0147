// Package advisor turns memory samples into advice and tracks the host's trim
// and foreground notifications.
package advisor

import (
	"context"
	"os"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/srodi/memadvice/pkg/collector"
	"github.com/srodi/memadvice/pkg/collector/memory"
	"github.com/srodi/memadvice/pkg/report"
	"github.com/srodi/memadvice/pkg/types"
)

// Sampler produces one memory sample per call.
type Sampler interface {
	Collect(ctx context.Context) types.MemorySample
}

// Advisor classifies fresh samples on demand. All methods are safe for
// concurrent use.
type Advisor struct {
	cfg     Config
	sampler Sampler
	logger  *zap.Logger
	pid     int
	faults  *memory.PageFaultCounter

	trimLevel    atomic.Int32
	backgrounded atomic.Bool
	last         atomic.Pointer[types.MemorySample]

	subMu sync.Mutex
	subs  atomic.Pointer[[]chan struct{}]
}

// Option configures an Advisor.
type Option func(*Advisor)

// WithSampler replaces the default probe set.
func WithSampler(s Sampler) Option {
	return func(a *Advisor) { a.sampler = s }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(a *Advisor) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithPID monitors pid instead of the current process.
func WithPID(pid int) Option {
	return func(a *Advisor) { a.pid = pid }
}

// New validates cfg and builds an advisor over the default probes unless a
// sampler is supplied.
func New(cfg Config, opts ...Option) (*Advisor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a := &Advisor{cfg: cfg, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(a)
	}
	if a.sampler == nil {
		a.sampler = a.defaultSampler()
	}
	empty := []chan struct{}{}
	a.subs.Store(&empty)
	return a, nil
}

func (a *Advisor) defaultSampler() Sampler {
	if a.pid <= 0 {
		self, err := memory.Self()
		if err != nil {
			a.pid = os.Getpid()
			a.logger.Warn("resolving monitored process via procfs failed, using getpid",
				zap.Int("pid", a.pid), zap.Error(err))
		} else {
			a.pid = self.PID
			a.logger.Info("monitoring process", zap.Int("pid", self.PID), zap.String("comm", self.Comm))
		}
	}

	probes := collector.DefaultProbes(a.pid, a.cfg.LowMemoryAvailableFraction)
	if a.cfg.PageFaults {
		counter, err := memory.NewPageFaultCounter(a.pid)
		if err != nil {
			a.logger.Warn("page fault counter unavailable", zap.Error(err))
		} else {
			a.faults = counter
			probes.PageFaults = counter
		}
	}
	return collector.NewAggregator(probes,
		collector.WithProbeTimeout(a.cfg.ProbeTimeout),
		collector.WithLogger(a.logger.Named("collector")))
}

// Config returns the advisor's configuration.
func (a *Advisor) Config() Config {
	return a.cfg
}

// Close releases optional probe resources.
func (a *Advisor) Close() error {
	if a.faults == nil {
		return nil
	}
	return a.faults.Close()
}

func (a *Advisor) collect(ctx context.Context) types.MemorySample {
	sample := a.sampler.Collect(ctx)
	if sample.Meminfo == nil {
		sample.Meminfo = map[string]int64{}
	}
	a.last.Store(&sample)
	return sample
}

func (a *Advisor) state(sev types.Severity) types.State {
	return types.State{
		Severity:     sev,
		Backgrounded: a.backgrounded.Load(),
		TrimLevel:    int(a.trimLevel.Swap(0)),
	}
}

// GetState samples and classifies. It does not touch any watcher bookkeeping.
// The trim level is the maximum since the last report by any caller, so a
// direct query consumes it before a running watcher sees it.
func (a *Advisor) GetState(ctx context.Context) types.State {
	sample := a.collect(ctx)
	return a.state(report.Classify(sample, a.cfg.OOMScoreCriticalThreshold))
}

// GetAdvice samples and returns the sample together with what was derived from it.
// Like GetState it reports and clears the shared trim level.
func (a *Advisor) GetAdvice(ctx context.Context) types.Advice {
	sample := a.collect(ctx)
	signals := report.Evaluate(sample, a.cfg.OOMScoreCriticalThreshold)
	return types.Advice{
		Sample:           sample,
		State:            a.state(signals.Severity()),
		Reasons:          signals.Reasons(),
		AvailableKb:      report.AvailableKb(sample),
		PercentAvailable: report.PercentAvailable(sample),
	}
}

// LastSample returns the most recent sample, if any.
func (a *Advisor) LastSample() (types.MemorySample, bool) {
	s := a.last.Load()
	if s == nil {
		return types.MemorySample{}, false
	}
	return *s, true
}

// OnTrim records a platform trim notification. The highest level seen since
// the last report is kept; levels at or above the background threshold mark
// the process as backgrounded. It never blocks.
func (a *Advisor) OnTrim(level int) {
	for {
		cur := a.trimLevel.Load()
		if int32(level) <= cur || a.trimLevel.CompareAndSwap(cur, int32(level)) {
			break
		}
	}
	if level >= a.cfg.BackgroundTrimLevel {
		a.backgrounded.Store(true)
	}
	a.notify()
}

// OnForeground clears the backgrounded flag.
func (a *Advisor) OnForeground() {
	a.backgrounded.Store(false)
	a.notify()
}

// Backgrounded reports the current background flag.
func (a *Advisor) Backgrounded() bool {
	return a.backgrounded.Load()
}

func (a *Advisor) notify() {
	for _, ch := range *a.subs.Load() {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Subscribe returns a channel woken on every trim or foreground notification.
// Wakeups coalesce; call the returned func to unsubscribe.
func (a *Advisor) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)

	a.subMu.Lock()
	cur := *a.subs.Load()
	next := make([]chan struct{}, 0, len(cur)+1)
	next = append(next, cur...)
	next = append(next, ch)
	a.subs.Store(&next)
	a.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			a.subMu.Lock()
			defer a.subMu.Unlock()
			cur := *a.subs.Load()
			next := make([]chan struct{}, 0, len(cur))
			for _, c := range cur {
				if c != ch {
					next = append(next, c)
				}
			}
			a.subs.Store(&next)
		})
	}
}
