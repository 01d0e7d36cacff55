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

package observability

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds every counter, histogram, and gauge the scheduler and
// HTTP layer report through (§4.8).
type Metrics struct {
	workflowRunsTotal  metric.Int64Counter
	agentRunsTotal     metric.Int64Counter
	agentErrorsTotal   metric.Int64Counter
	agentRetryCount    metric.Int64Counter
	workflowDuration   metric.Float64Histogram
	agentDuration      metric.Float64Histogram
	workflowsActive    metric.Int64UpDownCounter
}

func newMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.workflowRunsTotal, err = meter.Int64Counter(
		"workflow_runs_total",
		metric.WithDescription("Total workflow runs by terminal status"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, err
	}

	m.agentRunsTotal, err = meter.Int64Counter(
		"agent_runs_total",
		metric.WithDescription("Total agent invocations by agent and status"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, err
	}

	m.agentErrorsTotal, err = meter.Int64Counter(
		"agent_errors_total",
		metric.WithDescription("Total agent invocation failures by agent and failure kind"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	m.agentRetryCount, err = meter.Int64Counter(
		"agent_retry_count",
		metric.WithDescription("Total agent invocation retries by agent"),
		metric.WithUnit("{retry}"),
	)
	if err != nil {
		return nil, err
	}

	m.workflowDuration, err = meter.Float64Histogram(
		"workflow_duration_ms",
		metric.WithDescription("Workflow run duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	m.agentDuration, err = meter.Float64Histogram(
		"agent_duration_ms",
		metric.WithDescription("Agent invocation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	m.workflowsActive, err = meter.Int64UpDownCounter(
		"workflows_active",
		metric.WithDescription("Number of workflow runs currently executing"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// RunStarted records a run entering RUNNING. Pair with RunFinished.
func (m *Metrics) RunStarted(ctx context.Context) {
	m.workflowsActive.Add(ctx, 1)
}

// RunFinished records a run reaching a terminal status and its total
// wall-clock duration.
func (m *Metrics) RunFinished(ctx context.Context, status string, duration time.Duration) {
	m.workflowsActive.Add(ctx, -1)
	attrs := metric.WithAttributes(attribute.String("status", status))
	m.workflowRunsTotal.Add(ctx, 1, attrs)
	m.workflowDuration.Record(ctx, float64(duration.Milliseconds()), attrs)
}

// AgentFinished records one node dispatch's outcome.
func (m *Metrics) AgentFinished(ctx context.Context, agentName, status string, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("agent", agentName),
		attribute.String("status", status),
	)
	m.agentRunsTotal.Add(ctx, 1, attrs)
	m.agentDuration.Record(ctx, float64(duration.Milliseconds()), attrs)
}

// AgentFailed records a node dispatch failure's kind, in addition to the
// AgentFinished(status="failed") call already covering it.
func (m *Metrics) AgentFailed(ctx context.Context, agentName, kind string) {
	m.agentErrorsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("agent", agentName),
		attribute.String("kind", kind),
	))
}

// AgentRetried records a retry attempt for agentName.
func (m *Metrics) AgentRetried(ctx context.Context, agentName string) {
	m.agentRetryCount.Add(ctx, 1, metric.WithAttributes(attribute.String("agent", agentName)))
}

// Handler serves this Provider's Prometheus scrape endpoint. Each
// Provider owns its own registry rather than the global default one, so
// that constructing more than one Provider in a process (as the test
// suite does) never collides on duplicate collector registration.
func (p *Provider) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

func attrString(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}
