package channel

import (
	"context"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/crewdeck/crewdeck/channel"

// Metrics holds the channel's monotonic counters. The hot path uses atomics
// so producers never contend on a lock; the same increments are mirrored
// into OTel instruments when a meter provider is configured. All methods
// are nil-safe on the OTel side so disabled telemetry costs nothing.
type Metrics struct {
	processed      atomic.Int64
	dropped        atomic.Int64
	errors         atomic.Int64
	latencyTotalUs atomic.Int64
	latencyCount   atomic.Int64

	otelProcessed metric.Int64Counter
	otelDropped   metric.Int64Counter
	otelErrors    metric.Int64Counter
	otelLatency   metric.Float64Histogram
}

// NewMetrics creates a metrics set with OTel instruments registered against
// the global MeterProvider. Instrument creation failures leave the atomic
// counters working and the OTel side inert.
func NewMetrics() *Metrics {
	m := &Metrics{}
	meter := otel.GetMeterProvider().Meter(meterName)

	m.otelProcessed, _ = meter.Int64Counter("crewdeck.channel.processed.total",
		metric.WithDescription("Total requests dispatched by the command channel"))
	m.otelDropped, _ = meter.Int64Counter("crewdeck.channel.dropped.total",
		metric.WithDescription("Total requests dropped or rejected by backpressure"))
	m.otelErrors, _ = meter.Int64Counter("crewdeck.channel.errors.total",
		metric.WithDescription("Total error responses produced by the dispatch loop"))
	m.otelLatency, _ = meter.Float64Histogram("crewdeck.channel.latency.ms",
		metric.WithDescription("End-to-end request latency in milliseconds"))

	return m
}

// observe records one dispatched request with its end-to-end latency.
func (m *Metrics) observe(latency time.Duration, isError bool) {
	m.processed.Add(1)
	m.latencyTotalUs.Add(latency.Microseconds())
	m.latencyCount.Add(1)
	if isError {
		m.errors.Add(1)
	}

	ctx := context.Background()
	if m.otelProcessed != nil {
		m.otelProcessed.Add(ctx, 1)
	}
	if m.otelLatency != nil {
		m.otelLatency.Record(ctx, float64(latency.Microseconds())/1000.0)
	}
	if isError && m.otelErrors != nil {
		m.otelErrors.Add(ctx, 1)
	}
}

// addDropped records n dropped/rejected requests.
func (m *Metrics) addDropped(n int) {
	if n <= 0 {
		return
	}
	m.dropped.Add(int64(n))
	if m.otelDropped != nil {
		m.otelDropped.Add(context.Background(), int64(n))
	}
}

// Snapshot is a point-in-time read of the counters, plus the sampled queue
// depth supplied by the channel.
type Snapshot struct {
	ProcessedRequests int64
	DroppedRequests   int64
	ErrorCount        int64
	QueueLength       int
	AverageLatencyMs  float64
}

// snapshot assembles a Snapshot with the given sampled queue length.
func (m *Metrics) snapshot(queueLen int) Snapshot {
	s := Snapshot{
		ProcessedRequests: m.processed.Load(),
		DroppedRequests:   m.dropped.Load(),
		ErrorCount:        m.errors.Load(),
		QueueLength:       queueLen,
	}
	if n := m.latencyCount.Load(); n > 0 {
		s.AverageLatencyMs = float64(m.latencyTotalUs.Load()) / float64(n) / 1000.0
	}
	return s
}
