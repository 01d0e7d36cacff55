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
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/flowforge/orchestrator/internal/backend"
	"github.com/flowforge/orchestrator/internal/daemon/httputil"
	orcherrors "github.com/flowforge/orchestrator/pkg/errors"
	"github.com/flowforge/orchestrator/pkg/model"
)

// runsListLimit bounds GET /api/workflows/:id/runs per §6.1 ("≤50,
// newest first").
const runsListLimit = 50

func (h *handler) createWorkflow(w http.ResponseWriter, r *http.Request) {
	var wf model.Workflow
	if err := json.NewDecoder(r.Body).Decode(&wf); err != nil {
		badRequest(w, "body", "invalid JSON")
		return
	}
	if wf.ProjectID == 0 {
		badRequest(w, "projectId", "projectId is required")
		return
	}
	if wf.Name == "" {
		badRequest(w, "name", "name is required")
		return
	}
	if wf.Status == "" {
		wf.Status = model.WorkflowDraft
	}

	if err := h.deps.Store.CreateWorkflow(r.Context(), &wf); err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, &wf)
}

func (h *handler) listWorkflows(w http.ResponseWriter, r *http.Request) {
	projectIDParam := r.URL.Query().Get("projectId")
	if projectIDParam == "" {
		badRequest(w, "projectId", "projectId is required")
		return
	}
	projectID, err := strconv.ParseInt(projectIDParam, 10, 64)
	if err != nil {
		badRequest(w, "projectId", "projectId must be an integer")
		return
	}

	filter := backend.WorkflowFilter{ProjectID: projectID}
	if status := r.URL.Query().Get("status"); status != "" {
		filter.Status = model.WorkflowStatus(status)
	}

	workflows, err := h.deps.Store.ListWorkflows(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, workflows)
}

func (h *handler) getWorkflow(w http.ResponseWriter, r *http.Request) {
	wf, err := h.deps.Store.GetWorkflow(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, wf)
}

func (h *handler) updateWorkflow(w http.ResponseWriter, r *http.Request) {
	var wf model.Workflow
	if err := json.NewDecoder(r.Body).Decode(&wf); err != nil {
		badRequest(w, "body", "invalid JSON")
		return
	}
	wf.ID = chi.URLParam(r, "id")
	if err := h.deps.Store.UpdateWorkflow(r.Context(), &wf); err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, &wf)
}

func (h *handler) deleteWorkflow(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.Store.DeleteWorkflow(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// triggerWorkflow creates a PENDING run against an ACTIVE workflow and
// hands it to the scheduler without waiting for it to finish (§6.1: 202
// Accepted, the scheduler progresses the run asynchronously).
func (h *handler) triggerWorkflow(w http.ResponseWriter, r *http.Request) {
	wf, err := h.deps.Store.GetWorkflow(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if wf.Status != model.WorkflowActive {
		badRequest(w, "status", "workflow must be ACTIVE to trigger a run")
		return
	}

	var body struct {
		Context map[string]interface{} `json:"context"`
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}

	run, err := h.deps.Store.CreateRun(r.Context(), wf, string(model.TriggerManual), body.Context)
	if err != nil {
		writeError(w, err)
		return
	}
	h.fireAsync(run.ID)

	httputil.WriteJSON(w, http.StatusAccepted, map[string]string{
		"runId":  run.ID,
		"status": string(run.Status),
	})
}

func (h *handler) listWorkflowRuns(w http.ResponseWriter, r *http.Request) {
	workflowID := chi.URLParam(r, "id")
	if _, err := h.deps.Store.GetWorkflow(r.Context(), workflowID); err != nil {
		writeError(w, err)
		return
	}

	runs, err := h.deps.Store.ListRunsByWorkflow(r.Context(), workflowID, runsListLimit)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, runs)
}

// runDetail is the §6.1 "run detail" shape: the run plus every node's
// agent-run history and any approvals raised against it.
type runDetail struct {
	*model.WorkflowRun
	Nodes      []model.WorkflowNode       `json:"nodes"`
	AgentRuns  []*model.AgentRun          `json:"agentRuns"`
	Approvals  []*model.WorkflowApproval  `json:"approvals"`
}

func (h *handler) getRunDetail(w http.ResponseWriter, r *http.Request) {
	workflowID := chi.URLParam(r, "wfId")
	runID := chi.URLParam(r, "runId")

	wf, err := h.deps.Store.GetWorkflow(r.Context(), workflowID)
	if err != nil {
		writeError(w, err)
		return
	}
	run, err := h.deps.Store.GetRun(r.Context(), runID)
	if err != nil {
		writeError(w, err)
		return
	}
	if run.WorkflowID != workflowID {
		badRequest(w, "wfId", "run does not belong to this workflow")
		return
	}

	agentRuns, err := h.deps.Store.ListAgentRunsByRun(r.Context(), runID)
	if err != nil {
		writeError(w, err)
		return
	}
	approvals, err := h.deps.Store.ListApprovals(r.Context(), backend.ApprovalFilter{WorkflowRunID: runID})
	if err != nil {
		writeError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, runDetail{
		WorkflowRun: run,
		Nodes:       wf.Nodes,
		AgentRuns:   agentRuns,
		Approvals:   approvals,
	})
}

func (h *handler) listAgentRuns(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runId")
	if _, err := h.deps.Store.GetRun(r.Context(), runID); err != nil {
		writeError(w, err)
		return
	}
	agentRuns, err := h.deps.Store.ListAgentRunsByRun(r.Context(), runID)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, agentRuns)
}

// retryRun creates a fresh run of a FAILED run's workflow, carrying the
// original run's context forward, and schedules it the same way trigger
// does.
func (h *handler) retryRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runId")
	run, err := h.deps.Store.GetRun(r.Context(), runID)
	if err != nil {
		writeError(w, err)
		return
	}
	if run.Status != model.RunFailed {
		badRequest(w, "status", "only a FAILED run may be retried")
		return
	}
	wf, err := h.deps.Store.GetWorkflow(r.Context(), run.WorkflowID)
	if err != nil {
		writeError(w, err)
		return
	}

	newRun, err := h.deps.Store.CreateRun(r.Context(), wf, string(model.TriggerManual), run.Context)
	if err != nil {
		writeError(w, err)
		return
	}
	h.fireAsync(newRun.ID)

	httputil.WriteJSON(w, http.StatusAccepted, map[string]string{
		"runId":  newRun.ID,
		"status": string(newRun.Status),
	})
}

// fireAsync schedules runID without blocking the HTTP response on the
// run's full execution, mirroring the webhook mapper's own fire-and-
// forget dispatch (C7).
func (h *handler) fireAsync(runID string) {
	go func() {
		if err := h.deps.Scheduler.ExecuteRun(context.Background(), runID); err != nil {
			h.logger.Error("scheduling run failed", "run_id", runID, "error", err)
		}
	}()
}
