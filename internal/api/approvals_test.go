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
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/flowforge/orchestrator/pkg/model"
)

func seedPendingApproval(t *testing.T, router http.Handler, be interface {
	CreateWorkflow(ctx context.Context, wf *model.Workflow) error
	CreateRun(ctx context.Context, wf *model.Workflow, trigger string, runCtx map[string]interface{}) (*model.WorkflowRun, error)
	RequestApproval(ctx context.Context, runID, nodeID string) (*model.WorkflowApproval, error)
}) *model.WorkflowApproval {
	t.Helper()
	wf := &model.Workflow{ProjectID: 1, Name: "gated", Status: model.WorkflowActive}
	if err := be.CreateWorkflow(context.Background(), wf); err != nil {
		t.Fatalf("seed workflow: %v", err)
	}
	run, err := be.CreateRun(context.Background(), wf, string(model.TriggerManual), nil)
	if err != nil {
		t.Fatalf("seed run: %v", err)
	}
	ap, err := be.RequestApproval(context.Background(), run.ID, "deploy")
	if err != nil {
		t.Fatalf("seed approval: %v", err)
	}
	return ap
}

func TestApprovals_DecideApproves(t *testing.T) {
	router, be, _ := newTestRouter(t)
	ap := seedPendingApproval(t, router, be)

	body := `{"decision":"approved","respondedBy":"alice","notes":"looks fine"}`
	req := httptest.NewRequest(http.MethodPost, "/api/approvals/"+ap.ID+"/decision", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body = %s", rec.Code, rec.Body.String())
	}
	var resolved model.WorkflowApproval
	if err := json.Unmarshal(rec.Body.Bytes(), &resolved); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resolved.Status != model.ApprovalApproved {
		t.Errorf("status = %q, want %q", resolved.Status, model.ApprovalApproved)
	}
	if resolved.RespondedBy != "alice" {
		t.Errorf("respondedBy = %q, want %q", resolved.RespondedBy, "alice")
	}
}

func TestApprovals_DecideTwiceIsBadRequest(t *testing.T) {
	router, be, _ := newTestRouter(t)
	ap := seedPendingApproval(t, router, be)

	decide := func() int {
		req := httptest.NewRequest(http.MethodPost, "/api/approvals/"+ap.ID+"/decision", strings.NewReader(`{"decision":"rejected","respondedBy":"bob"}`))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec.Code
	}

	if got := decide(); got != http.StatusOK {
		t.Fatalf("first decision: status = %d, want 200", got)
	}
	if got := decide(); got != http.StatusBadRequest {
		t.Fatalf("second decision: status = %d, want 400 (already resolved)", got)
	}
}

func TestApprovals_DecideRejectsUnknownDecisionValue(t *testing.T) {
	router, be, _ := newTestRouter(t)
	ap := seedPendingApproval(t, router, be)

	req := httptest.NewRequest(http.MethodPost, "/api/approvals/"+ap.ID+"/decision", strings.NewReader(`{"decision":"maybe","respondedBy":"bob"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400, body = %s", rec.Code, rec.Body.String())
	}
}

func TestApprovals_ListFiltersByWorkflowRunID(t *testing.T) {
	router, be, _ := newTestRouter(t)
	ap := seedPendingApproval(t, router, be)

	req := httptest.NewRequest(http.MethodGet, "/api/approvals?workflowRunId="+ap.WorkflowRunID, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body = %s", rec.Code, rec.Body.String())
	}
	var approvals []*model.WorkflowApproval
	if err := json.Unmarshal(rec.Body.Bytes(), &approvals); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(approvals) != 1 || approvals[0].ID != ap.ID {
		t.Fatalf("approvals = %+v, want exactly [%s]", approvals, ap.ID)
	}
}
