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

package webhook

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/flowforge/orchestrator/internal/backend"
	orcherrors "github.com/flowforge/orchestrator/pkg/errors"
	"github.com/flowforge/orchestrator/pkg/model"
)

// alertWorkflowName is the well-known workflow the mapper creates on
// first use and reuses afterward (§4.7).
const alertWorkflowName = "alert-notification"

// notifierAgentName is the agent the alert workflow's single node
// invokes. Its absence is a configuration error, surfaced as a 500 by
// the HTTP layer per §6.1's "notifier agent missing" contract.
const notifierAgentName = "notifier"

// runExecutor is the subset of the scheduler the mapper needs: enough to
// fire scheduling asynchronously without importing the scheduler package
// (and without blocking the HTTP caller on a full DAG run).
type runExecutor interface {
	ExecuteRun(ctx context.Context, runID string) error
}

// Mapper turns alert envelopes into runs of the alert-notification
// workflow.
type Mapper struct {
	store     backend.Backend
	scheduler runExecutor
	projectID int64
	logger    *slog.Logger
}

func NewMapper(store backend.Backend, scheduler runExecutor, projectID int64, logger *slog.Logger) *Mapper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mapper{store: store, scheduler: scheduler, projectID: projectID, logger: logger}
}

// MapAlertmanager creates one run per alert in the envelope's "alerts"
// batch and returns every run created.
func (m *Mapper) MapAlertmanager(ctx context.Context, payload map[string]any) ([]*model.WorkflowRun, error) {
	alerts := alertmanagerAlerts(payload)
	if len(alerts) == 0 {
		// No per-alert entries: treat the whole envelope as one alert so a
		// hand-crafted test payload without an "alerts" array still maps.
		alerts = []map[string]any{payload}
	}

	wf, err := m.ensureAlertWorkflow(ctx)
	if err != nil {
		return nil, err
	}

	runs := make([]*model.WorkflowRun, 0, len(alerts))
	for _, alert := range alerts {
		runCtx := alertContext(alert)
		run, err := m.store.CreateRun(ctx, wf, string(model.TriggerWebhook), runCtx)
		if err != nil {
			return nil, fmt.Errorf("create run for alert: %w", err)
		}
		m.fireAsync(run.ID)
		runs = append(runs, run)
	}
	return runs, nil
}

// MapGrafana creates a single run from a Grafana contact-point envelope.
func (m *Mapper) MapGrafana(ctx context.Context, payload map[string]any) (*model.WorkflowRun, error) {
	wf, err := m.ensureAlertWorkflow(ctx)
	if err != nil {
		return nil, err
	}

	run, err := m.store.CreateRun(ctx, wf, string(model.TriggerWebhook), alertContext(payload))
	if err != nil {
		return nil, fmt.Errorf("create run for alert: %w", err)
	}
	m.fireAsync(run.ID)
	return run, nil
}

// fireAsync schedules runID without blocking the caller, per §4.7's "MUST
// NOT block on scheduler execution" contract.
func (m *Mapper) fireAsync(runID string) {
	go func() {
		if err := m.scheduler.ExecuteRun(context.Background(), runID); err != nil {
			m.logger.Error("failed to schedule alert-notification run", "run_id", runID, "error", err)
		}
	}()
}

// ensureAlertWorkflow returns the alert-notification workflow, creating
// it against the registered notifier agent on first use.
func (m *Mapper) ensureAlertWorkflow(ctx context.Context) (*model.Workflow, error) {
	existing, err := m.store.ListWorkflows(ctx, backend.WorkflowFilter{ProjectID: m.projectID})
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	for _, wf := range existing {
		if wf.Name == alertWorkflowName {
			return wf, nil
		}
	}

	agents, err := m.store.ListAgents(ctx, m.projectID)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	var notifier *model.Agent
	for _, a := range agents {
		if a.Name == notifierAgentName {
			notifier = a
			break
		}
	}
	if notifier == nil {
		return nil, &orcherrors.NotFoundError{Resource: "agent", ID: notifierAgentName}
	}

	wf := &model.Workflow{
		ProjectID:   m.projectID,
		Name:        alertWorkflowName,
		Description: "Routes alert webhooks to the notification channel router.",
		Trigger:     model.TriggerWebhook,
		Status:      model.WorkflowActive,
		Nodes: []model.WorkflowNode{
			{
				ID:      "notify",
				AgentID: notifier.ID,
				Action:  "notify",
				InputTemplate: map[string]interface{}{
					"channel":       "{{context.channel}}",
					"status":        "{{context.status}}",
					"severity":      "{{context.severity}}",
					"alert_name":    "{{context.alert_name}}",
					"component":     "{{context.component}}",
					"summary":       "{{context.summary}}",
					"description":   "{{context.description}}",
					"runbook_url":   "{{context.runbook_url}}",
					"dashboard_url": "{{context.dashboard_url}}",
				},
			},
		},
	}
	if err := m.store.CreateWorkflow(ctx, wf); err != nil {
		return nil, fmt.Errorf("create alert-notification workflow: %w", err)
	}
	return wf, nil
}

// alertContext flattens one alert's labels/annotations into a run
// context per §6.4's alert envelope mapping, deriving the notification
// channel from severity: critical routes to Slack, everything else to
// the console logger.
func alertContext(alert map[string]any) map[string]interface{} {
	labels := stringMap(alert["labels"])
	annotations := stringMap(alert["annotations"])

	status, _ := alert["status"].(string)
	if status == "" {
		status = "firing"
	}

	severity := labels["severity"]
	switch severity {
	case "critical", "warning", "info":
	default:
		severity = "info"
	}

	channel := "console"
	if severity == "critical" {
		channel = "slack"
	}

	return map[string]interface{}{
		"status":        status,
		"severity":      severity,
		"alert_name":    labels["alertname"],
		"component":     labels["component"],
		"summary":       annotations["summary"],
		"description":   annotations["description"],
		"runbook_url":   annotations["runbook_url"],
		"dashboard_url": annotations["dashboard_url"],
		"labels":        labels,
		"annotations":   annotations,
		"channel":       channel,
	}
}

// stringMap coerces a decoded JSON object's string-valued fields. Non-
// string values are dropped: alert labels/annotations are defined as
// string maps by both Alertmanager and Grafana.
func stringMap(v any) map[string]string {
	m, _ := v.(map[string]any)
	out := make(map[string]string, len(m))
	for k, val := range m {
		if s, ok := val.(string); ok {
			out[k] = s
		}
	}
	return out
}
