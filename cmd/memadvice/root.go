//go:build linux

package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/srodi/memadvice/pkg/advisor"
)

const envPrefix = "MEMADVICE"

type options struct {
	v        *viper.Viper
	cfgFile  string
	logLevel string
	pid      int
}

func newOptions() *options {
	return &options{v: viper.New()}
}

func newRootCmd(opts *options) *cobra.Command {
	root := &cobra.Command{
		Use:   "memadvice",
		Short: "Memory pressure advisor for a single process",
		Long: `memadvice samples the OOM score, /proc/meminfo and heap usage of a process
and classifies memory pressure as OK, APPROACHING_LIMIT or CRITICAL.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	defaults := advisor.DefaultConfig()
	pf := root.PersistentFlags()
	pf.StringVar(&opts.cfgFile, "config", "", "config file (default is $HOME/.memadvice.yaml)")
	pf.StringVar(&opts.logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	pf.IntVar(&opts.pid, "pid", 0, "process to monitor (default is memadvice itself)")

	pf.Int64("oom-score-critical-threshold", defaults.OOMScoreCriticalThreshold, "oom_score above which the state is CRITICAL")
	pf.Duration("poll-min-interval", defaults.PollMinInterval, "shortest polling interval")
	pf.Duration("poll-max-interval", defaults.PollMaxInterval, "longest polling interval")
	pf.Float64("overhead-budget", defaults.OverheadBudgetFraction, "fraction of wall time sampling may use")
	pf.Duration("max-callback-latency", defaults.MaxCallbackLatency, "warn when a state callback runs longer than this")
	pf.Duration("probe-timeout", defaults.ProbeTimeout, "upper bound on a single probe read")
	pf.Float64("low-memory-fraction", defaults.LowMemoryAvailableFraction, "available/total ratio below which the host is low on memory")
	pf.Int("background-trim-level", defaults.BackgroundTrimLevel, "trim level at which the process counts as backgrounded")
	pf.Bool("page-faults", defaults.PageFaults, "count page faults with an eBPF kprobe (needs CAP_BPF)")

	// Only the advisor keys go through viper; the rest are plain flags.
	for _, name := range configKeys {
		_ = opts.v.BindPFlag(name, pf.Lookup(name))
	}

	root.AddCommand(newWatchCmd(opts))
	root.AddCommand(newAdviceCmd(opts))
	return root
}

var configKeys = []string{
	"oom-score-critical-threshold",
	"poll-min-interval",
	"poll-max-interval",
	"overhead-budget",
	"max-callback-latency",
	"probe-timeout",
	"low-memory-fraction",
	"background-trim-level",
	"page-faults",
}

// loadConfig merges flags, MEMADVICE_* environment variables and the config
// file over the defaults, in that order of precedence.
func (o *options) loadConfig() (advisor.Config, error) {
	cfg := advisor.DefaultConfig()

	if o.cfgFile != "" {
		o.v.SetConfigFile(o.cfgFile)
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			o.v.AddConfigPath(home)
		}
		o.v.AddConfigPath(".")
		o.v.SetConfigType("yaml")
		o.v.SetConfigName(".memadvice")
	}

	o.v.SetEnvPrefix(envPrefix)
	o.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	o.v.AutomaticEnv()

	if err := o.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if o.cfgFile != "" || !errors.As(err, &notFound) {
			return cfg, fmt.Errorf("reading config: %w", err)
		}
	}
	if err := o.v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("decoding config: %w", err)
	}
	return cfg, cfg.Validate()
}

func newLogger(level string) (*zap.Logger, error) {
	logConfig := zap.NewProductionConfig()
	if level == "debug" {
		logConfig = zap.NewDevelopmentConfig()
	}
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	logConfig.Level = lvl
	logConfig.OutputPaths = []string{"stderr"}
	return logConfig.Build()
}

// setup loads configuration and builds the logger and advisor shared by all
// subcommands. The returned cleanup closes the advisor and flushes the logger.
func (o *options) setup() (advisor.Config, *zap.Logger, *advisor.Advisor, func(), error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return cfg, nil, nil, nil, err
	}
	logger, err := newLogger(o.logLevel)
	if err != nil {
		return cfg, nil, nil, nil, err
	}
	if cfg.PageFaults {
		if err := raiseMemlock(); err != nil {
			logger.Warn("failed to raise rlimit memlock", zap.Error(err))
		}
	}

	adv, err := advisor.New(cfg,
		advisor.WithLogger(logger.Named("advisor")),
		advisor.WithPID(o.pid))
	if err != nil {
		_ = logger.Sync()
		return cfg, nil, nil, nil, err
	}
	cleanup := func() {
		if err := adv.Close(); err != nil {
			logger.Warn("closing advisor", zap.Error(err))
		}
		_ = logger.Sync()
	}
	return cfg, logger, adv, cleanup, nil
}
