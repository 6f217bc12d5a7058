// Package telemetry exports the bridge's metrics and log events over OTLP
// HTTP, and hands the same endpoints to the agent process.
//
// Each signal is exported only when its endpoint is set:
//
//	BRIDGE_OTEL_METRICS_URL  metrics, pushed every ExportInterval
//	BRIDGE_OTEL_LOGS_URL     log events, batched
//
// With neither set Init installs nothing and the recorders stay no-ops.
// Telemetry is best-effort: the bridge behaves the same without it.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/log/global"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const (
	EnvMetricsURL = "BRIDGE_OTEL_METRICS_URL"
	EnvLogsURL    = "BRIDGE_OTEL_LOGS_URL"

	// ExportInterval is how often metrics are pushed.
	ExportInterval = 30 * time.Second
)

// Endpoints are the OTLP HTTP URLs telemetry is sent to. An empty URL
// turns that signal off.
type Endpoints struct {
	Metrics string
	Logs    string
}

// EndpointsFromEnv reads the endpoint variables.
func EndpointsFromEnv() Endpoints {
	return Endpoints{
		Metrics: os.Getenv(EnvMetricsURL),
		Logs:    os.Getenv(EnvLogsURL),
	}
}

// Enabled reports whether any signal is exported.
func (e Endpoints) Enabled() bool {
	return e.Metrics != "" || e.Logs != ""
}

// Provider owns the installed SDK providers.
type Provider struct {
	meters *sdkmetric.MeterProvider
	logs   *sdklog.LoggerProvider

	once sync.Once
	err  error
}

// Shutdown flushes and stops whatever Init installed. Repeat calls return
// the first result; a nil Provider is a no-op.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	p.once.Do(func() {
		var errs []error
		if p.meters != nil {
			errs = append(errs, p.meters.Shutdown(ctx))
		}
		if p.logs != nil {
			errs = append(errs, p.logs.Shutdown(ctx))
		}
		if err := errors.Join(errs...); err != nil {
			p.err = fmt.Errorf("telemetry shutdown: %w", err)
		}
	})
	return p.err
}

// Init installs global meter and logger providers for the endpoints found
// in the environment. It returns (nil, nil) when none are set.
func Init(ctx context.Context, service, version string) (*Provider, error) {
	ep := EndpointsFromEnv()
	if !ep.Enabled() {
		return nil, nil
	}

	res := resource.NewWithAttributes(semconv.SchemaURL,
		semconv.ServiceName(service),
		semconv.ServiceVersion(version),
	)

	p := &Provider{}
	if ep.Metrics != "" {
		exp, err := otlpmetrichttp.New(ctx, otlpmetrichttp.WithEndpointURL(ep.Metrics))
		if err != nil {
			return nil, fmt.Errorf("metric exporter for %s: %w", ep.Metrics, err)
		}
		p.meters = sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(ExportInterval))),
		)
		otel.SetMeterProvider(p.meters)
		initInstruments()
	}
	if ep.Logs != "" {
		exp, err := otlploghttp.New(ctx, otlploghttp.WithEndpointURL(ep.Logs))
		if err != nil {
			_ = p.Shutdown(ctx)
			return nil, fmt.Errorf("log exporter for %s: %w", ep.Logs, err)
		}
		p.logs = sdklog.NewLoggerProvider(
			sdklog.WithResource(res),
			sdklog.WithProcessor(sdklog.NewBatchProcessor(exp)),
		)
		global.SetLoggerProvider(p.logs)
	}
	return p, nil
}
