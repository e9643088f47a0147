//go:build linux

package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/srodi/memadvice/pkg/report"
	"github.com/srodi/memadvice/pkg/types"
	"github.com/srodi/memadvice/pkg/ui"
	"github.com/srodi/memadvice/pkg/watcher"
)

func newWatchCmd(opts *options) *cobra.Command {
	var fullScreen bool
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Poll memory pressure and print every state change",
		Long: `watch polls on a self-tuning interval and prints each state transition.

Send SIGUSR1 to report a background trim and SIGUSR2 to return to the
foreground; both trigger an immediate re-sample.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWatch(cmd.Context(), opts, fullScreen)
		},
	}
	cmd.Flags().BoolVar(&fullScreen, "view", true, "full-screen view when stdout is a terminal")
	return cmd
}

// lastSampler is the part of the advisor the view reads after each transition.
type lastSampler interface {
	LastSample() (types.MemorySample, bool)
}

type stateView struct {
	out        io.Writer
	adv        lastSampler
	threshold  int64
	fullScreen bool
	now        func() time.Time
}

func (v *stateView) render(state types.State) {
	sample, _ := v.adv.LastSample()
	reasons := report.Evaluate(sample, v.threshold).Reasons()

	if !v.fullScreen {
		fmt.Fprintf(v.out, "%s %s\n", v.now().Format(time.RFC3339), report.Summary(state, sample, reasons))
		return
	}

	var buf bytes.Buffer
	buf.WriteString(ui.Banner())
	fmt.Fprintf(&buf, "memadvice (press Ctrl+C to exit, SIGUSR1 trim, SIGUSR2 foreground)\n")
	fmt.Fprintf(&buf, "Updated: %s | Sample took: %v\n\n", v.now().Format(time.RFC3339), sample.Duration)
	fmt.Fprintf(&buf, "%s\n\n", ui.StateLine(state, strings.Join(reasons, ", ")))

	tw := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SIGNAL\tVALUE")
	fmt.Fprintf(tw, "oom_score\t%d (critical at %d)\n", sample.OOMScore, v.threshold)
	fmt.Fprintf(tw, "native heap\t%d kB\n", sample.NativeHeapAllocatedKb)
	fmt.Fprintf(tw, "low memory\t%t\n", sample.LowMemory)
	for _, label := range []string{"MemTotal", "MemAvailable", "CommitLimit", "Committed_AS"} {
		if value, ok := sample.MeminfoValue(label); ok {
			fmt.Fprintf(tw, "%s\t%d kB\n", label, value)
		}
	}
	if sample.PageFaults > 0 {
		fmt.Fprintf(tw, "page faults\t%d\n", sample.PageFaults)
	}
	tw.Flush()

	if len(sample.Unavailable) > 0 {
		fmt.Fprintf(&buf, "\n[unavailable: %s]\n", strings.Join(sample.Unavailable, ", "))
	}

	clearScreen()
	_, _ = v.out.Write(buf.Bytes())
}

func runWatch(ctx context.Context, opts *options, fullScreen bool) error {
	cfg, logger, adv, cleanup, err := opts.setup()
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	view := &stateView{out: os.Stdout, adv: adv, threshold: cfg.OOMScoreCriticalThreshold, now: time.Now}
	if fullScreen {
		restore, ok := enableSingleView(logger)
		defer restore()
		view.fullScreen = ok
	}

	w, err := watcher.New(adv, view.render, watcher.WithLogger(logger.Named("watcher")))
	if err != nil {
		return err
	}
	if err := w.Start(ctx); err != nil {
		return err
	}
	defer w.Stop()

	notifications := make(chan os.Signal, 4)
	signal.Notify(notifications, syscall.SIGUSR1, syscall.SIGUSR2)
	defer signal.Stop(notifications)

	for {
		select {
		case <-ctx.Done():
			return nil
		case sig := <-notifications:
			switch sig {
			case syscall.SIGUSR1:
				logger.Info("trim notification", zap.Int("level", cfg.BackgroundTrimLevel))
				w.OnTrim(cfg.BackgroundTrimLevel)
			case syscall.SIGUSR2:
				logger.Info("foreground notification")
				adv.OnForeground()
			}
		}
	}
}
