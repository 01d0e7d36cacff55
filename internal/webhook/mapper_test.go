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
	"sync"
	"testing"
	"time"

	"github.com/flowforge/orchestrator/internal/backend"
	"github.com/flowforge/orchestrator/internal/backend/memory"
	orcherrors "github.com/flowforge/orchestrator/pkg/errors"
	"github.com/flowforge/orchestrator/pkg/model"
)

// recordingScheduler satisfies runExecutor and records which run ids
// were asked to execute, without doing any real scheduling.
type recordingScheduler struct {
	mu  sync.Mutex
	ran []string
}

func (r *recordingScheduler) ExecuteRun(_ context.Context, runID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ran = append(r.ran, runID)
	return nil
}

func (r *recordingScheduler) runCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ran)
}

func waitForRan(t *testing.T, s *recordingScheduler, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s.runCount() >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("scheduler was not invoked (want >= %d calls, got %d)", n, s.runCount())
}

func TestMapAlertmanager_CreatesWorkflowOnFirstUseAndOneRunPerAlert(t *testing.T) {
	be := memory.New()
	ctx := context.Background()

	if err := be.CreateAgent(ctx, &model.Agent{Name: "notifier", Kind: model.AgentKindScript, EntryPath: "/notify.sh"}); err != nil {
		t.Fatalf("CreateAgent: %v", err)
	}

	sched := &recordingScheduler{}
	m := NewMapper(be, sched, 0, nil)

	payload := map[string]any{
		"status": "firing",
		"alerts": []any{
			map[string]any{
				"status":      "firing",
				"labels":      map[string]any{"alertname": "HighCPU", "severity": "critical", "component": "api"},
				"annotations": map[string]any{"summary": "CPU is high", "runbook_url": "https://runbooks/cpu"},
			},
			map[string]any{
				"status":      "firing",
				"labels":      map[string]any{"alertname": "DiskSpace", "severity": "warning"},
				"annotations": map[string]any{"summary": "Disk almost full"},
			},
		},
	}

	runs, err := m.MapAlertmanager(ctx, payload)
	if err != nil {
		t.Fatalf("MapAlertmanager: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("got %d runs, want 2", len(runs))
	}

	if runs[0].Context["severity"] != "critical" || runs[0].Context["channel"] != "slack" {
		t.Errorf("first alert context = %#v, want severity=critical channel=slack", runs[0].Context)
	}
	if runs[1].Context["severity"] != "warning" || runs[1].Context["channel"] != "console" {
		t.Errorf("second alert context = %#v, want severity=warning channel=console", runs[1].Context)
	}
	if runs[0].Context["alert_name"] != "HighCPU" {
		t.Errorf("first alert_name = %v, want HighCPU", runs[0].Context["alert_name"])
	}

	waitForRan(t, sched, 2)
}

func TestMapAlertmanager_SecondCallReusesExistingWorkflow(t *testing.T) {
	be := memory.New()
	ctx := context.Background()

	if err := be.CreateAgent(ctx, &model.Agent{Name: "notifier", Kind: model.AgentKindScript, EntryPath: "/notify.sh"}); err != nil {
		t.Fatalf("CreateAgent: %v", err)
	}
	sched := &recordingScheduler{}
	m := NewMapper(be, sched, 0, nil)

	payload := map[string]any{
		"alerts": []any{
			map[string]any{"status": "firing", "labels": map[string]any{"alertname": "A", "severity": "info"}, "annotations": map[string]any{}},
		},
	}

	if _, err := m.MapAlertmanager(ctx, payload); err != nil {
		t.Fatalf("first MapAlertmanager: %v", err)
	}
	if _, err := m.MapAlertmanager(ctx, payload); err != nil {
		t.Fatalf("second MapAlertmanager: %v", err)
	}

	all, err := be.ListWorkflows(ctx, backend.WorkflowFilter{})
	if err != nil {
		t.Fatalf("ListWorkflows: %v", err)
	}
	count := 0
	for _, wf := range all {
		if wf.Name == alertWorkflowName {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("got %d alert-notification workflows, want exactly 1", count)
	}
}

func TestMapAlertmanager_MissingNotifierAgentFails(t *testing.T) {
	be := memory.New()
	ctx := context.Background()

	sched := &recordingScheduler{}
	m := NewMapper(be, sched, 0, nil)

	_, err := m.MapAlertmanager(ctx, map[string]any{"alerts": []any{map[string]any{"labels": map[string]any{}}}})
	var notFound *orcherrors.NotFoundError
	if !orcherrors.As(err, &notFound) {
		t.Fatalf("expected *NotFoundError for missing notifier agent, got %T: %v", err, err)
	}
}

func TestMapGrafana_CreatesSingleRun(t *testing.T) {
	be := memory.New()
	ctx := context.Background()

	if err := be.CreateAgent(ctx, &model.Agent{Name: "notifier", Kind: model.AgentKindScript, EntryPath: "/notify.sh"}); err != nil {
		t.Fatalf("CreateAgent: %v", err)
	}
	sched := &recordingScheduler{}
	m := NewMapper(be, sched, 0, nil)

	payload := map[string]any{
		"status":      "firing",
		"labels":      map[string]any{"alertname": "PodCrashLooping", "severity": "critical"},
		"annotations": map[string]any{"summary": "pod is crash looping"},
	}

	run, err := m.MapGrafana(ctx, payload)
	if err != nil {
		t.Fatalf("MapGrafana: %v", err)
	}
	if run.Context["alert_name"] != "PodCrashLooping" {
		t.Errorf("alert_name = %v, want PodCrashLooping", run.Context["alert_name"])
	}
	if run.Context["channel"] != "slack" {
		t.Errorf("channel = %v, want slack", run.Context["channel"])
	}

	waitForRan(t, sched, 1)
}
