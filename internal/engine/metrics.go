package engine

import (
	"context"
	"log/slog"

	"github.com/loqalabs/loqa-ime/internal/command"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const meterName = "github.com/loqalabs/loqa-ime/engine"

type metrics struct {
	linesCommitted metric.Int64Counter
	linesDropped   metric.Int64Counter
	commandsSent   metric.Int64Counter
	commandsFailed metric.Int64Counter
	readErrors     metric.Int64Counter
}

func newMetrics(log *slog.Logger) *metrics {
	m, err := buildMetrics(otel.Meter(meterName))
	if err != nil {
		log.Warn("failed to initialize metrics", slogError(err))
		m, _ = buildMetrics(noop.NewMeterProvider().Meter(meterName))
	}
	return m
}

func buildMetrics(meter metric.Meter) (*metrics, error) {
	var (
		m   metrics
		err error
	)
	if m.linesCommitted, err = meter.Int64Counter("loqa.ime.lines.committed",
		metric.WithDescription("Recognized lines committed to a focused target")); err != nil {
		return nil, err
	}
	if m.linesDropped, err = meter.Int64Counter("loqa.ime.lines.dropped",
		metric.WithDescription("Recognized lines discarded because nothing had focus")); err != nil {
		return nil, err
	}
	if m.commandsSent, err = meter.Int64Counter("loqa.ime.commands.sent",
		metric.WithDescription("Commands written to the daemon")); err != nil {
		return nil, err
	}
	if m.commandsFailed, err = meter.Int64Counter("loqa.ime.commands.failed",
		metric.WithDescription("Commands the daemon channel did not accept")); err != nil {
		return nil, err
	}
	if m.readErrors, err = meter.Int64Counter("loqa.ime.read.errors",
		metric.WithDescription("Commit channel read failures")); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *metrics) committed() { m.linesCommitted.Add(context.Background(), 1) }

func (m *metrics) dropped() { m.linesDropped.Add(context.Background(), 1) }

func (m *metrics) readError() { m.readErrors.Add(context.Background(), 1) }

func (m *metrics) command(c command.Command, delivered bool) {
	attrs := metric.WithAttributes(attribute.String("command", string(c)))
	if delivered {
		m.commandsSent.Add(context.Background(), 1, attrs)
		return
	}
	m.commandsFailed.Add(context.Background(), 1, attrs)
}
