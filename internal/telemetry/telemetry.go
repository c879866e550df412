// Package telemetry initializes the OpenTelemetry metric provider for the
// console's channel and worker instruments, exported over OTLP HTTP.
//
// Enabled by setting:
//
//	DECK_OTEL_METRICS_URL  (default: http://localhost:8428/opentelemetry/api/v1/push)
//
// Telemetry is best-effort: initialization errors are returned but do not
// affect normal operation — callers should log and continue.
//
// Init is idempotent: multiple calls return the same provider. Call it
// before constructing channel metrics so instruments bind to the exporting
// meter provider rather than the no-op default.
package telemetry

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const (
	// EnvMetricsURL is the env var for the OTLP metrics endpoint. Set to
	// "default" to use DefaultMetricsURL.
	EnvMetricsURL = "DECK_OTEL_METRICS_URL"

	// DefaultMetricsURL is VictoriaMetrics' OTLP push endpoint.
	DefaultMetricsURL = "http://localhost:8428/opentelemetry/api/v1/push"

	// ExportInterval is how often metrics are pushed.
	ExportInterval = 30 * time.Second
)

// package-level state for idempotent Init.
var (
	initMu         sync.Mutex
	initDone       bool
	globalProvider *Provider
)

// Provider wraps the OTel SDK meter provider and its shutdown function.
type Provider struct {
	shutdowns    []func(context.Context) error
	shutdownMu   sync.Mutex
	shutdownDone bool
}

// Shutdown flushes pending data and stops the OTel provider. Idempotent.
// Should be called with a deadline context (e.g. 5s timeout) on exit.
func (p *Provider) Shutdown(ctx context.Context) error {
	p.shutdownMu.Lock()
	defer p.shutdownMu.Unlock()
	if p.shutdownDone {
		return nil
	}
	p.shutdownDone = true

	var errs []error
	for _, fn := range p.shutdowns {
		if err := fn(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("telemetry shutdown errors: %v", errs)
	}
	return nil
}

// Init initializes the OTel metric provider.
//
// Returns (nil, nil) if DECK_OTEL_METRICS_URL is unset, so telemetry is
// strictly opt-in. Subsequent calls return the provider created on the
// first call; the first caller's service identity wins.
func Init(ctx context.Context, serviceName, serviceVersion string) (*Provider, error) {
	initMu.Lock()
	defer initMu.Unlock()
	if initDone {
		return globalProvider, nil
	}

	metricsURL := os.Getenv(EnvMetricsURL)
	if metricsURL == "" {
		initDone = true
		globalProvider = nil
		return nil, nil
	}
	if metricsURL == "default" {
		metricsURL = DefaultMetricsURL
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(serviceVersion),
		),
		resource.WithHost(),
		resource.WithOS(),
	)
	if err != nil {
		return nil, fmt.Errorf("creating OTel resource: %w", err)
	}

	metricExp, err := otlpmetrichttp.New(ctx,
		otlpmetrichttp.WithEndpointURL(metricsURL),
	)
	if err != nil {
		return nil, fmt.Errorf("creating OTLP metric exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(metricExp,
				sdkmetric.WithInterval(ExportInterval),
			),
		),
	)
	otel.SetMeterProvider(mp)

	p := &Provider{shutdowns: []func(context.Context) error{mp.Shutdown}}
	initDone = true
	globalProvider = p
	return p, nil
}
