package advisor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/srodi/memadvice/pkg/report"
	"github.com/srodi/memadvice/pkg/types"
)

type staticSampler struct {
	mu     sync.Mutex
	sample types.MemorySample
	calls  int
}

func (s *staticSampler) Collect(context.Context) types.MemorySample {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	out := s.sample
	out.Timestamp = time.Now()
	return out
}

func newTestAdvisor(t *testing.T, sample types.MemorySample) (*Advisor, *staticSampler) {
	t.Helper()
	sampler := &staticSampler{sample: sample}
	adv, err := New(DefaultConfig(), WithSampler(sampler), WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	return adv, sampler
}

func TestConfigValidation(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"minAboveMax", func(c *Config) { c.PollMinInterval = 10 * time.Second; c.PollMaxInterval = time.Second }},
		{"negativeThreshold", func(c *Config) { c.OOMScoreCriticalThreshold = -1 }},
		{"zeroMin", func(c *Config) { c.PollMinInterval = 0 }},
		{"zeroBudget", func(c *Config) { c.OverheadBudgetFraction = 0 }},
		{"budgetAboveOne", func(c *Config) { c.OverheadBudgetFraction = 1.5 }},
		{"zeroLatency", func(c *Config) { c.MaxCallbackLatency = 0 }},
		{"zeroProbeTimeout", func(c *Config) { c.ProbeTimeout = 0 }},
		{"fractionAboveOne", func(c *Config) { c.LowMemoryAvailableFraction = 2 }},
		{"zeroTrimLevel", func(c *Config) { c.BackgroundTrimLevel = 0 }},
	}
	for _, tc := range cases {
		cfg := DefaultConfig()
		tc.mutate(&cfg)
		err := cfg.Validate()
		require.Error(t, err, tc.name)
		assert.True(t, errors.Is(err, ErrInvalidConfig), tc.name)

		_, err = New(cfg, WithSampler(&staticSampler{}))
		assert.ErrorIs(t, err, ErrInvalidConfig, tc.name)
	}
}

func TestConfigValidationReportsAllFields(t *testing.T) {
	cfg := DefaultConfig()
	cfg.OOMScoreCriticalThreshold = -5
	cfg.ProbeTimeout = 0
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "oom score threshold")
	assert.Contains(t, err.Error(), "probe timeout")
}

func TestGetStateClassifiesFreshSamples(t *testing.T) {
	adv, sampler := newTestAdvisor(t, types.MemorySample{
		OOMScore: 700, Meminfo: map[string]int64{"CommitLimit": 1000000}, NativeHeapAllocatedKb: 500,
	})

	state := adv.GetState(context.Background())
	assert.Equal(t, types.SeverityCritical, state.Severity)
	assert.False(t, state.Backgrounded)

	adv.GetState(context.Background())
	assert.Equal(t, 2, sampler.calls, "every call must re-sample")

	last, ok := adv.LastSample()
	require.True(t, ok)
	assert.Equal(t, int64(700), last.OOMScore)
}

func TestGetAdviceIncludesDerivedValues(t *testing.T) {
	adv, _ := newTestAdvisor(t, types.MemorySample{
		OOMScore:              10,
		LowMemory:             true,
		Meminfo:               map[string]int64{"MemTotal": 2000, "MemAvailable": 500},
		NativeHeapAllocatedKb: 2000,
	})

	advice := adv.GetAdvice(context.Background())
	assert.Equal(t, types.SeverityApproachingLimit, advice.State.Severity)
	assert.Equal(t, []string{report.ReasonLowMemory}, advice.Reasons)
	assert.Equal(t, int64(500), advice.AvailableKb)
	assert.InDelta(t, 25.0, advice.PercentAvailable, 1e-9)
	assert.Equal(t, int64(10), advice.Sample.OOMScore)
}

func TestNilMeminfoIsNormalized(t *testing.T) {
	adv, _ := newTestAdvisor(t, types.MemorySample{})
	advice := adv.GetAdvice(context.Background())
	assert.NotNil(t, advice.Sample.Meminfo)
	assert.Equal(t, types.SeverityOK, advice.State.Severity)
}

func TestOnTrimBackgroundsAndReportsMaxLevel(t *testing.T) {
	adv, _ := newTestAdvisor(t, types.MemorySample{})

	adv.OnTrim(types.TrimRunningLow)
	state := adv.GetState(context.Background())
	assert.False(t, state.Backgrounded, "low trim levels must not background")
	assert.Equal(t, types.TrimRunningLow, state.TrimLevel)
	assert.Equal(t, types.SeverityOK, state.Severity)

	// level resets after being reported
	assert.Zero(t, adv.GetState(context.Background()).TrimLevel)

	adv.OnTrim(types.TrimBackground)
	adv.OnTrim(types.TrimRunningModerate)
	state = adv.GetState(context.Background())
	assert.True(t, state.Backgrounded)
	assert.Equal(t, types.TrimBackground, state.TrimLevel)

	adv.OnForeground()
	assert.False(t, adv.GetState(context.Background()).Backgrounded)
}

func TestSubscribeWakesOnTrim(t *testing.T) {
	adv, _ := newTestAdvisor(t, types.MemorySample{})
	wake, cancel := adv.Subscribe()

	adv.OnTrim(types.TrimComplete)
	adv.OnTrim(types.TrimComplete)
	select {
	case <-wake:
	case <-time.After(time.Second):
		t.Fatal("expected wakeup after trim")
	}

	cancel()
	cancel()
	adv.OnForeground()
	select {
	case <-wake:
		t.Fatal("unsubscribed channel must not be woken")
	default:
	}
}

func TestConcurrentQueries(t *testing.T) {
	adv, _ := newTestAdvisor(t, types.MemorySample{OOMScore: 1})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				adv.OnTrim(i * 10)
				_ = adv.GetState(context.Background())
				_ = adv.GetAdvice(context.Background())
			}
		}(i)
	}
	wg.Wait()
}

func TestTrimLevelIsSharedAcrossQueries(t *testing.T) {
	adv, _ := newTestAdvisor(t, types.MemorySample{})

	adv.OnTrim(types.TrimRunningCritical)
	assert.Equal(t, types.TrimRunningCritical, adv.GetAdvice(context.Background()).State.TrimLevel)
	assert.Zero(t, adv.GetState(context.Background()).TrimLevel, "already reported to another caller")
}
