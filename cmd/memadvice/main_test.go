//go:build linux

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/srodi/memadvice/pkg/advisor"
	"github.com/srodi/memadvice/pkg/types"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	opts := newOptions()
	newRootCmd(opts)

	cfg, err := opts.loadConfig()
	require.NoError(t, err)
	assert.Equal(t, advisor.DefaultConfig(), cfg)
}

func TestLoadConfigPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memadvice.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"poll-min-interval: 500ms\npoll-max-interval: 8s\noom-score-critical-threshold: 600\n"), 0o644))
	t.Setenv("MEMADVICE_OOM_SCORE_CRITICAL_THRESHOLD", "700")
	t.Setenv("MEMADVICE_LOW_MEMORY_FRACTION", "0.2")

	opts := newOptions()
	root := newRootCmd(opts)
	require.NoError(t, root.PersistentFlags().Parse([]string{"--config", path, "--poll-max-interval", "10s"}))

	cfg, err := opts.loadConfig()
	require.NoError(t, err)
	assert.Equal(t, 500*time.Millisecond, cfg.PollMinInterval, "file")
	assert.Equal(t, 10*time.Second, cfg.PollMaxInterval, "flag beats file")
	assert.Equal(t, int64(700), cfg.OOMScoreCriticalThreshold, "env beats file")
	assert.InDelta(t, 0.2, cfg.LowMemoryAvailableFraction, 1e-9)
	assert.Equal(t, advisor.DefaultConfig().ProbeTimeout, cfg.ProbeTimeout)
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memadvice.yaml")
	require.NoError(t, os.WriteFile(path, []byte("poll-min-interval: 1m\npoll-max-interval: 1s\n"), 0o644))

	opts := newOptions()
	root := newRootCmd(opts)
	require.NoError(t, root.PersistentFlags().Parse([]string{"--config", path}))

	_, err := opts.loadConfig()
	assert.ErrorIs(t, err, advisor.ErrInvalidConfig)
}

func TestLoadConfigMissingExplicitFile(t *testing.T) {
	opts := newOptions()
	root := newRootCmd(opts)
	require.NoError(t, root.PersistentFlags().Parse([]string{"--config", filepath.Join(t.TempDir(), "nope.yaml")}))

	_, err := opts.loadConfig()
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error"} {
		logger, err := newLogger(level)
		require.NoError(t, err, level)
		assert.NotNil(t, logger)
	}
	_, err := newLogger("loud")
	assert.Error(t, err)
}

func TestWriteAdvice(t *testing.T) {
	advice := types.Advice{
		Sample: types.MemorySample{
			OOMScore: 700,
			Meminfo:  map[string]int64{"MemAvailable": 100},
			Duration: 3 * time.Millisecond,
		},
		State:       types.State{Severity: types.SeverityCritical, Backgrounded: true},
		Reasons:     []string{"oom-score"},
		AvailableKb: 100,
	}

	var buf bytes.Buffer
	require.NoError(t, writeAdvice(&buf, advice))
	assert.Contains(t, buf.String(), "severity: CRITICAL")
	assert.Contains(t, buf.String(), "duration: 3ms")

	var decoded map[string]any
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &decoded))
	state := decoded["state"].(map[string]any)
	assert.Equal(t, true, state["backgrounded"])
	assert.Equal(t, 100, decoded["availableKb"])
}

type fixedSample types.MemorySample

func (f fixedSample) LastSample() (types.MemorySample, bool) {
	return types.MemorySample(f), true
}

func TestStateViewLineMode(t *testing.T) {
	var buf bytes.Buffer
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	view := &stateView{
		out:       &buf,
		adv:       fixedSample{OOMScore: 800, Meminfo: map[string]int64{}},
		threshold: 650,
		now:       func() time.Time { return at },
	}

	view.render(types.State{Severity: types.SeverityCritical})
	line := buf.String()
	assert.Contains(t, line, "2026-01-02T03:04:05Z CRITICAL")
	assert.Contains(t, line, "oom-score")
	assert.NotContains(t, line, "\033[", "line mode stays uncolored")
}

func TestThresholdFlagDescribesStrictComparison(t *testing.T) {
	root := newRootCmd(newOptions())
	usage := root.PersistentFlags().Lookup("oom-score-critical-threshold").Usage
	assert.Contains(t, usage, "above which")
	assert.NotContains(t, usage, "at or above")
}
