package advisor

import (
	"errors"
	"fmt"
	"time"

	"github.com/srodi/memadvice/pkg/collector"
	"github.com/srodi/memadvice/pkg/report"
	"github.com/srodi/memadvice/pkg/types"
)

// ErrInvalidConfig is wrapped by every configuration validation failure.
var ErrInvalidConfig = errors.New("invalid advisor config")

// Config tunes classification and polling. It is copied into the Advisor at
// construction and never changes afterwards.
type Config struct {
	OOMScoreCriticalThreshold  int64         `yaml:"oomScoreCriticalThreshold" mapstructure:"oom-score-critical-threshold"`
	PollMinInterval            time.Duration `yaml:"pollMinInterval" mapstructure:"poll-min-interval"`
	PollMaxInterval            time.Duration `yaml:"pollMaxInterval" mapstructure:"poll-max-interval"`
	OverheadBudgetFraction     float64       `yaml:"overheadBudgetFraction" mapstructure:"overhead-budget"`
	MaxCallbackLatency         time.Duration `yaml:"maxCallbackLatency" mapstructure:"max-callback-latency"`
	ProbeTimeout               time.Duration `yaml:"probeTimeout" mapstructure:"probe-timeout"`
	LowMemoryAvailableFraction float64       `yaml:"lowMemoryAvailableFraction" mapstructure:"low-memory-fraction"`
	BackgroundTrimLevel        int           `yaml:"backgroundTrimLevel" mapstructure:"background-trim-level"`
	PageFaults                 bool          `yaml:"pageFaults" mapstructure:"page-faults"`
}

// DefaultConfig returns the stock configuration.
func DefaultConfig() Config {
	return Config{
		OOMScoreCriticalThreshold:  report.DefaultOOMScoreCriticalThreshold,
		PollMinInterval:            250 * time.Millisecond,
		PollMaxInterval:            5 * time.Second,
		OverheadBudgetFraction:     0.01,
		MaxCallbackLatency:         time.Second,
		ProbeTimeout:               collector.DefaultProbeTimeout,
		LowMemoryAvailableFraction: 0.10,
		BackgroundTrimLevel:        types.TrimUIHidden,
	}
}

// Validate reports every invalid field at once.
func (c Config) Validate() error {
	var errs []error
	if c.OOMScoreCriticalThreshold < 0 {
		errs = append(errs, fmt.Errorf("oom score threshold %d is negative", c.OOMScoreCriticalThreshold))
	}
	if c.PollMinInterval <= 0 {
		errs = append(errs, fmt.Errorf("poll min interval %v must be positive", c.PollMinInterval))
	}
	if c.PollMaxInterval < c.PollMinInterval {
		errs = append(errs, fmt.Errorf("poll min interval %v exceeds max %v", c.PollMinInterval, c.PollMaxInterval))
	}
	if c.OverheadBudgetFraction <= 0 || c.OverheadBudgetFraction > 1 {
		errs = append(errs, fmt.Errorf("overhead budget %v must be in (0, 1]", c.OverheadBudgetFraction))
	}
	if c.MaxCallbackLatency <= 0 {
		errs = append(errs, fmt.Errorf("max callback latency %v must be positive", c.MaxCallbackLatency))
	}
	if c.ProbeTimeout <= 0 {
		errs = append(errs, fmt.Errorf("probe timeout %v must be positive", c.ProbeTimeout))
	}
	if c.LowMemoryAvailableFraction < 0 || c.LowMemoryAvailableFraction > 1 {
		errs = append(errs, fmt.Errorf("low memory fraction %v must be in [0, 1]", c.LowMemoryAvailableFraction))
	}
	if c.BackgroundTrimLevel <= 0 {
		errs = append(errs, fmt.Errorf("background trim level %d must be positive", c.BackgroundTrimLevel))
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
}
