package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
)

// MetricConfig holds configuration for the metrics.
type MetricConfig struct {
	// ServiceName is the name of the service.
	ServiceName string

	// ServiceVersion is the version of the service.
	ServiceVersion string

	// Environment is the deployment environment.
	Environment string

	// OTLPEndpoint is the OTLP gRPC endpoint. Optional; the Prometheus
	// exposition is always available.
	OTLPEndpoint string
}

// MeterProvider is an initialized OpenTelemetry meter provider that is also
// scrapeable by Prometheus.
type MeterProvider struct {
	provider *metric.MeterProvider
	registry *promclient.Registry
}

// InitMetrics initializes the OpenTelemetry meter provider and installs it globally.
func InitMetrics(ctx context.Context, config MetricConfig) (*MeterProvider, error) {
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
			semconv.DeploymentEnvironmentName(config.Environment),
		),
	)
	if err != nil && !errors.Is(err, resource.ErrSchemaURLConflict) {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	registry := promclient.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	promExporter, err := prometheus.New(prometheus.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	opts := []metric.Option{
		metric.WithResource(res),
		metric.WithReader(promExporter),
	}

	if config.OTLPEndpoint != "" {
		exporter, err := otlpmetricgrpc.New(ctx,
			otlpmetricgrpc.WithEndpoint(config.OTLPEndpoint),
			otlpmetricgrpc.WithInsecure(), // Assuming internal communication
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP metric exporter: %w", err)
		}
		opts = append(opts, metric.WithReader(metric.NewPeriodicReader(exporter, metric.WithInterval(15*time.Second))))
	}

	meterProvider := metric.NewMeterProvider(opts...)
	otel.SetMeterProvider(meterProvider)

	return &MeterProvider{
		provider: meterProvider,
		registry: registry,
	}, nil
}

// Handler serves the Prometheus exposition (mounted at /metrics).
func (p *MeterProvider) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// Shutdown flushes and stops all readers.
func (p *MeterProvider) Shutdown(ctx context.Context) error {
	return p.provider.Shutdown(ctx)
}
