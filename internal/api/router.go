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

package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/flowforge/orchestrator/internal/approval"
	"github.com/flowforge/orchestrator/internal/backend"
	orclog "github.com/flowforge/orchestrator/internal/log"
	"github.com/flowforge/orchestrator/internal/safety"
	"github.com/flowforge/orchestrator/internal/scheduler"
	"github.com/flowforge/orchestrator/internal/tracing"
	"github.com/flowforge/orchestrator/internal/webhook"
)

// runExecutor is the subset of *scheduler.Scheduler the HTTP layer needs
// to fire a run without blocking the request on a full DAG execution.
type runExecutor interface {
	ExecuteRun(ctx context.Context, runID string) error
}

// MetricsHandler serves a Prometheus scrape endpoint (C8).
type MetricsHandler interface {
	http.Handler
}

// Deps collects every component the API surface dispatches onto.
type Deps struct {
	Store     backend.Backend
	Scheduler runExecutor
	Approvals *approval.Coordinator
	Mapper    *webhook.Mapper

	Alertmanager       webhook.Handler
	Grafana            webhook.Handler
	AlertmanagerSecret string
	GrafanaSecret      string

	Metrics     MetricsHandler
	RateLimiter *safety.RateLimiter

	// DatabaseHealthy and EventBusHealthy back the booleans GET /health
	// reports. Nil means "assume healthy" (e.g. the in-memory backend,
	// which has no connection to lose).
	DatabaseHealthy func(ctx context.Context) bool
	EventBusHealthy func(ctx context.Context) bool

	Logger *slog.Logger
}

// NewRouter builds the full HTTP surface (§6.1) over deps.
func NewRouter(deps Deps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(tracing.HTTPMiddleware)
	r.Use(tracing.CorrelationMiddleware)
	r.Use(orclog.HTTPMiddleware(logger))
	if deps.RateLimiter != nil {
		r.Use(rateLimitMiddleware(deps.RateLimiter))
	}

	h := &handler{deps: deps, logger: logger}

	r.Get("/health", h.handleHealth)
	if deps.Metrics != nil {
		r.Get("/metrics", deps.Metrics.ServeHTTP)
	}

	r.Route("/api", func(r chi.Router) {
		r.Route("/agents", func(r chi.Router) {
			r.Post("/", h.createAgent)
			r.Get("/", h.listAgents)
			r.Get("/{id}", h.getAgent)
			r.Put("/{id}", h.updateAgent)
			r.Delete("/{id}", h.deleteAgent)
		})

		r.Route("/workflows", func(r chi.Router) {
			r.Post("/", h.createWorkflow)
			r.Get("/", h.listWorkflows)
			r.Get("/{id}", h.getWorkflow)
			r.Put("/{id}", h.updateWorkflow)
			r.Delete("/{id}", h.deleteWorkflow)
			r.Post("/{id}/trigger", h.triggerWorkflow)
			r.Get("/{id}/runs", h.listWorkflowRuns)
			r.Get("/{wfId}/runs/{runId}", h.getRunDetail)
			r.Get("/runs/{runId}/agent-runs", h.listAgentRuns)
			r.Post("/runs/{runId}/retry", h.retryRun)
		})

		r.Route("/approvals", func(r chi.Router) {
			r.Get("/", h.listApprovals)
			r.Post("/{id}/decision", h.decideApproval)
		})

		r.Route("/webhooks", func(r chi.Router) {
			r.Post("/alertmanager", h.handleAlertmanagerWebhook)
			r.Post("/grafana", h.handleGrafanaWebhook)
		})
	})

	return r
}

// handler holds the deps every route method closes over.
type handler struct {
	deps   Deps
	logger *slog.Logger
}
