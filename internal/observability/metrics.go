// Package observability exposes broker metrics through the OpenTelemetry
// metric API with a Prometheus exporter. The scrape endpoint binds loopback
// only; nothing here ever touches the host stdio channel.
package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"roughcut/internal/logging"
)

// MetricsCollector manages all broker metrics. The zero value (disabled
// config) is a no-op collector; every Record method tolerates it.
type MetricsCollector struct {
	meter  metric.Meter
	logger logging.Logger

	toolExecutions  metric.Int64Counter
	toolDuration    metric.Float64Histogram
	studioLaunches  metric.Int64Counter
	transformChunks metric.Int64Counter
	transformPauses metric.Int64Counter
	contextWeight   metric.Int64UpDownCounter
	portProbes      metric.Int64Counter

	prometheusServer *http.Server
}

// MetricsConfig configures the collector.
type MetricsConfig struct {
	Enabled bool
	Port    int // 0 disables the scrape listener
}

// NewMetricsCollector creates a collector, registering the meter provider
// globally so downstream packages can record through otel directly.
func NewMetricsCollector(config MetricsConfig, logger logging.Logger) (*MetricsCollector, error) {
	logger = logging.OrNop(logger)
	if !config.Enabled {
		return &MetricsCollector{logger: logger}, nil
	}

	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("create prometheus exporter: %w", err)
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)
	meter := provider.Meter("roughcut")

	m := &MetricsCollector{meter: meter, logger: logger}

	if m.toolExecutions, err = meter.Int64Counter(
		"roughcut.tool.executions.total",
		metric.WithDescription("Total tool calls handled by the broker"),
		metric.WithUnit("{execution}"),
	); err != nil {
		return nil, fmt.Errorf("create tool executions counter: %w", err)
	}
	if m.toolDuration, err = meter.Float64Histogram(
		"roughcut.tool.duration",
		metric.WithDescription("Tool execution duration in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, fmt.Errorf("create tool duration histogram: %w", err)
	}
	if m.studioLaunches, err = meter.Int64Counter(
		"roughcut.studio.launches.total",
		metric.WithDescription("Studio launch attempts by outcome"),
		metric.WithUnit("{launch}"),
	); err != nil {
		return nil, fmt.Errorf("create studio launches counter: %w", err)
	}
	if m.transformChunks, err = meter.Int64Counter(
		"roughcut.transform.chunks.total",
		metric.WithDescription("Source chunks processed by the transform pipeline"),
		metric.WithUnit("{chunk}"),
	); err != nil {
		return nil, fmt.Errorf("create transform chunks counter: %w", err)
	}
	if m.transformPauses, err = meter.Int64Counter(
		"roughcut.transform.pauses.total",
		metric.WithDescription("Transform operations paused on the stage budget"),
		metric.WithUnit("{pause}"),
	); err != nil {
		return nil, fmt.Errorf("create transform pauses counter: %w", err)
	}
	if m.contextWeight, err = meter.Int64UpDownCounter(
		"roughcut.context.weight",
		metric.WithDescription("Current total context weight of active items"),
		metric.WithUnit("{token}"),
	); err != nil {
		return nil, fmt.Errorf("create context weight gauge: %w", err)
	}
	if m.portProbes, err = meter.Int64Counter(
		"roughcut.ports.probes.total",
		metric.WithDescription("Port availability probes by result"),
		metric.WithUnit("{probe}"),
	); err != nil {
		return nil, fmt.Errorf("create port probes counter: %w", err)
	}

	if config.Port > 0 {
		if err := m.startPrometheusServer(config.Port); err != nil {
			return nil, fmt.Errorf("start prometheus server: %w", err)
		}
	}
	return m, nil
}

// startPrometheusServer serves /metrics on loopback only.
func (m *MetricsCollector) startPrometheusServer(port int) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promclient.Handler())

	m.prometheusServer = &http.Server{
		Addr:    fmt.Sprintf("127.0.0.1:%d", port),
		Handler: mux,
	}

	go func() {
		m.logger.Info("prometheus metrics listening on %s", m.prometheusServer.Addr)
		if err := m.prometheusServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			m.logger.Error("prometheus server error: %v", err)
		}
	}()
	return nil
}

// Shutdown stops the scrape listener.
func (m *MetricsCollector) Shutdown(ctx context.Context) error {
	if m == nil || m.prometheusServer == nil {
		return nil
	}
	return m.prometheusServer.Shutdown(ctx)
}

// RecordToolExecution records one tool call.
func (m *MetricsCollector) RecordToolExecution(ctx context.Context, toolName, status string, duration time.Duration) {
	if m == nil || m.toolExecutions == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("tool_name", toolName),
		attribute.String("status", status),
	}
	m.toolExecutions.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.toolDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attribute.String("tool_name", toolName)))
}

// RecordStudioLaunch records a launch attempt outcome (launched, reused,
// failed).
func (m *MetricsCollector) RecordStudioLaunch(ctx context.Context, outcome string) {
	if m == nil || m.studioLaunches == nil {
		return
	}
	m.studioLaunches.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordTransformChunks records processed chunks for one invocation.
func (m *MetricsCollector) RecordTransformChunks(ctx context.Context, count int) {
	if m == nil || m.transformChunks == nil {
		return
	}
	m.transformChunks.Add(ctx, int64(count))
}

// RecordTransformPause records one budget pause.
func (m *MetricsCollector) RecordTransformPause(ctx context.Context, stage string) {
	if m == nil || m.transformPauses == nil {
		return
	}
	m.transformPauses.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", stage)))
}

// AddContextWeight tracks the context window level; pass negative deltas on
// eviction.
func (m *MetricsCollector) AddContextWeight(ctx context.Context, delta int) {
	if m == nil || m.contextWeight == nil {
		return
	}
	m.contextWeight.Add(ctx, int64(delta))
}

// RecordPortProbe records one availability probe (available, busy, denied).
func (m *MetricsCollector) RecordPortProbe(ctx context.Context, result string) {
	if m == nil || m.portProbes == nil {
		return
	}
	m.portProbes.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}
