// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package observability is the observability surface (C8): a root
// "workflow.execute" span per run with a child "agent.execute" span per
// dispatched node, Prometheus counters/histograms for run and agent
// outcomes, and the /metrics scrape endpoint.
package observability

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	otelprometheus "go.opentelemetry.io/otel/exporters/prometheus"
	stdouttrace "go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Config configures the tracing/metrics provider. It mirrors
// internal/config.ObservabilityConfig field-for-field rather than
// importing that package, so observability has no dependency on the
// rest of the service's configuration surface.
type Config struct {
	ServiceName  string
	OTLPEndpoint string
	SampleRatio  float64
}

// Provider owns the process's tracer and meter providers and the
// Prometheus registry they feed.
type Provider struct {
	tp       *sdktrace.TracerProvider
	mp       *metric.MeterProvider
	tracer   trace.Tracer
	registry *prometheus.Registry
	Metrics  *Metrics
}

// New builds a Provider. With cfg.OTLPEndpoint set, spans export over
// OTLP/gRPC to a collector; left empty, spans print to stdout, which is
// the right default for local runs and tests where no collector exists.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "orchestrator"
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			"",
			semconv.ServiceName(cfg.ServiceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("build resource: %w", err)
	}

	spanExporter, err := newSpanExporter(ctx, cfg.OTLPEndpoint)
	if err != nil {
		return nil, fmt.Errorf("build span exporter: %w", err)
	}

	sampler := sdktrace.AlwaysSample()
	if cfg.SampleRatio > 0 && cfg.SampleRatio < 1 {
		sampler = sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
		sdktrace.WithBatcher(spanExporter),
	)
	otel.SetTracerProvider(tp)

	registry := prometheus.NewRegistry()
	promExporter, err := otelprometheus.New(otelprometheus.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("build prometheus exporter: %w", err)
	}
	mp := metric.NewMeterProvider(
		metric.WithResource(res),
		metric.WithReader(promExporter),
	)

	m, err := newMetrics(mp.Meter(cfg.ServiceName))
	if err != nil {
		return nil, fmt.Errorf("build metrics: %w", err)
	}

	return &Provider{
		tp:       tp,
		mp:       mp,
		tracer:   tp.Tracer(cfg.ServiceName),
		registry: registry,
		Metrics:  m,
	}, nil
}

func newSpanExporter(ctx context.Context, otlpEndpoint string) (sdktrace.SpanExporter, error) {
	if otlpEndpoint == "" {
		return stdouttrace.New(stdouttrace.WithoutTimestamps())
	}
	return otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(otlpEndpoint),
		otlptracegrpc.WithInsecure(),
	)
}

// StartRunSpan opens the root span for one workflow run execution.
func (p *Provider) StartRunSpan(ctx context.Context, runID, workflowID, workflowName string) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "workflow.execute", trace.WithAttributes(
		attrString("run_id", runID),
		attrString("workflow_id", workflowID),
		attrString("workflow_name", workflowName),
	))
}

// StartAgentSpan opens a child span for one node dispatch.
func (p *Provider) StartAgentSpan(ctx context.Context, runID, nodeID, agentName string) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "agent.execute", trace.WithAttributes(
		attrString("run_id", runID),
		attrString("node_id", nodeID),
		attrString("agent_name", agentName),
	))
}

// Shutdown flushes pending spans and releases exporter resources.
func (p *Provider) Shutdown(ctx context.Context) error {
	if err := p.tp.Shutdown(ctx); err != nil {
		return err
	}
	return p.mp.Shutdown(ctx)
}
