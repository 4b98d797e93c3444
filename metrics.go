package normcache

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/goliatone/go-normcache"

// cacheMetrics holds the instruments of one cache.
type cacheMetrics struct {
	writes           metric.Int64Counter
	reads            metric.Int64Counter
	broadcasts       metric.Int64Counter
	notifications    metric.Int64Counter
	callbackFailures metric.Int64Counter
	diffLatency      metric.Float64Histogram
}

func newCacheMetrics(provider metric.MeterProvider) (*cacheMetrics, error) {
	if provider == nil {
		provider = otel.GetMeterProvider()
	}
	meter := provider.Meter(instrumentationName)
	m := &cacheMetrics{}
	var err error

	m.writes, err = meter.Int64Counter(
		"normcache_writes_total",
		metric.WithDescription("Total number of committed cache writes"),
	)
	if err != nil {
		return nil, err
	}

	m.reads, err = meter.Int64Counter(
		"normcache_reads_total",
		metric.WithDescription("Total number of cache reads by completeness"),
	)
	if err != nil {
		return nil, err
	}

	m.broadcasts, err = meter.Int64Counter(
		"normcache_broadcasts_total",
		metric.WithDescription("Total number of watch notification passes"),
	)
	if err != nil {
		return nil, err
	}

	m.notifications, err = meter.Int64Counter(
		"normcache_watch_notifications_total",
		metric.WithDescription("Total number of watch callbacks invoked"),
	)
	if err != nil {
		return nil, err
	}

	m.callbackFailures, err = meter.Int64Counter(
		"normcache_callback_failures_total",
		metric.WithDescription("Total number of watch callbacks that panicked"),
	)
	if err != nil {
		return nil, err
	}

	m.diffLatency, err = meter.Float64Histogram(
		"normcache_diff_duration_seconds",
		metric.WithDescription("Duration of cache diffs"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// noopCacheMetrics is used when instrument creation fails.
func noopCacheMetrics() *cacheMetrics {
	m, _ := newCacheMetrics(noop.NewMeterProvider())
	return m
}

func (m *cacheMetrics) recordWrite(ctx context.Context, optimistic bool) {
	m.writes.Add(ctx, 1, metric.WithAttributes(attribute.Bool("optimistic", optimistic)))
}

func (m *cacheMetrics) recordRead(ctx context.Context, complete bool, duration time.Duration) {
	attrs := metric.WithAttributes(attribute.Bool("complete", complete))
	m.reads.Add(ctx, 1, attrs)
	m.diffLatency.Record(ctx, duration.Seconds(), attrs)
}

func (m *cacheMetrics) recordBroadcast(ctx context.Context) {
	m.broadcasts.Add(ctx, 1)
}

func (m *cacheMetrics) recordNotification(ctx context.Context) {
	m.notifications.Add(ctx, 1)
}

func (m *cacheMetrics) recordCallbackFailure(ctx context.Context) {
	m.callbackFailures.Add(ctx, 1)
}

func newTracer(provider trace.TracerProvider) trace.Tracer {
	if provider == nil {
		provider = otel.GetTracerProvider()
	}
	return provider.Tracer(instrumentationName)
}
