package payment

import (
	"context"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/GaryWong163/Online-shop/pkg/retry"
)

const instrumentationName = "github.com/GaryWong163/Online-shop/internal/domain/payment"

type metrics struct {
	notifications   metric.Int64Counter
	reconciliations metric.Int64Counter
}

func newMetrics(mp metric.MeterProvider) *metrics {
	meter := mp.Meter(instrumentationName)
	m := &metrics{}

	var err error
	m.notifications, err = meter.Int64Counter("shop.payment.notifications",
		metric.WithDescription("Payment notifications by channel and outcome"),
	)
	if err != nil {
		m.notifications = metricnoop.Int64Counter{}
	}
	m.reconciliations, err = meter.Int64Counter("shop.payment.reconciliations",
		metric.WithDescription("Return-redirect reconciliations by result"),
	)
	if err != nil {
		m.reconciliations = metricnoop.Int64Counter{}
	}
	return m
}

func (m *metrics) notification(ctx context.Context, ch Channel, outcome Outcome, err error) {
	label := string(outcome)
	if err != nil {
		label = errorKind(err)
	}
	m.notifications.Add(ctx, 1, metric.WithAttributes(
		attribute.String("channel", string(ch)),
		attribute.String("outcome", label),
	))
}

func (m *metrics) reconciliation(ctx context.Context, result string) {
	m.reconciliations.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, ErrInFlight):
		return "in_flight"
	case errors.Is(err, ErrOrderNotFound):
		return "order_not_found"
	case errors.Is(err, ErrIntegrity):
		return "integrity_failure"
	case retry.IsTransient(err):
		return "transient"
	default:
		return "error"
	}
}

type telemetry struct {
	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider
}

func defaultTelemetry() telemetry {
	return telemetry{
		meterProvider:  metricnoop.NewMeterProvider(),
		tracerProvider: tracenoop.NewTracerProvider(),
	}
}
