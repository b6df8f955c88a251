package order

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const instrumentationName = "github.com/xenking/pointshop/internal/domain/order"

type serviceMetrics struct {
	created     metric.Int64Counter
	transitions metric.Int64Counter
	points      metric.Int64Counter
}

func newServiceMetrics(mp metric.MeterProvider) (*serviceMetrics, error) {
	if mp == nil {
		mp = metricnoop.NewMeterProvider()
	}
	meter := mp.Meter(instrumentationName)

	var (
		m   serviceMetrics
		err error
	)
	if m.created, err = meter.Int64Counter("orders.created",
		metric.WithDescription("Orders created, by type and payment method"),
	); err != nil {
		return nil, err
	}
	if m.transitions, err = meter.Int64Counter("orders.transitions",
		metric.WithDescription("Order status transitions"),
	); err != nil {
		return nil, err
	}
	if m.points, err = meter.Int64Counter("orders.points",
		metric.WithDescription("Points moved by order side effects"),
	); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *serviceMetrics) orderCreated(ctx context.Context, o *Order) {
	m.created.Add(ctx, 1, metric.WithAttributes(
		attribute.String("type", string(o.Type)),
		attribute.String("payment_method", string(o.PaymentMethod)),
	))
}

func (m *serviceMetrics) transition(ctx context.Context, from, to Status) {
	m.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", string(from)),
		attribute.String("to", string(to)),
	))
}

func (m *serviceMetrics) pointsMoved(ctx context.Context, reason string, amount int64) {
	m.points.Add(ctx, amount, metric.WithAttributes(attribute.String("reason", reason)))
}

func tracerOrNoop(tp trace.TracerProvider) trace.Tracer {
	if tp == nil {
		tp = tracenoop.NewTracerProvider()
	}
	return tp.Tracer(instrumentationName)
}
