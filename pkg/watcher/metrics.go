package watcher

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"

	"github.com/srodi/memadvice/pkg/types"
)

const meterName = "github.com/srodi/memadvice/pkg/watcher"

type instruments struct {
	sampleDuration metric.Float64Histogram
	interval       metric.Float64Gauge
	transitions    metric.Int64Counter
}

func newInstruments(mp metric.MeterProvider, logger *zap.Logger) *instruments {
	inst, err := buildInstruments(mp.Meter(meterName))
	if err != nil {
		logger.Warn("watcher metrics disabled", zap.Error(err))
		inst, _ = buildInstruments(noop.NewMeterProvider().Meter(meterName))
	}
	return inst
}

func buildInstruments(meter metric.Meter) (*instruments, error) {
	sampleDuration, err := meter.Float64Histogram("memadvice.sample.duration",
		metric.WithDescription("Time spent collecting and classifying one memory sample"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}
	interval, err := meter.Float64Gauge("memadvice.poll.interval",
		metric.WithDescription("Polling interval chosen after the last sample"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}
	transitions, err := meter.Int64Counter("memadvice.state.transitions",
		metric.WithDescription("State changes delivered to the callback"))
	if err != nil {
		return nil, err
	}
	return &instruments{sampleDuration: sampleDuration, interval: interval, transitions: transitions}, nil
}

func (i *instruments) recordCycle(ctx context.Context, sample, next time.Duration) {
	i.sampleDuration.Record(ctx, float64(sample)/float64(time.Millisecond))
	i.interval.Record(ctx, float64(next)/float64(time.Millisecond))
}

func (i *instruments) recordTransition(ctx context.Context, state types.State) {
	i.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("severity", state.Severity.String()),
		attribute.Bool("backgrounded", state.Backgrounded)))
}
