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
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/flowforge/orchestrator/internal/backend"
	"github.com/flowforge/orchestrator/internal/daemon/httputil"
	"github.com/flowforge/orchestrator/pkg/model"
)

func (h *handler) listApprovals(w http.ResponseWriter, r *http.Request) {
	filter := backend.ApprovalFilter{
		WorkflowRunID: r.URL.Query().Get("workflowRunId"),
	}
	if status := r.URL.Query().Get("status"); status != "" {
		filter.Status = model.ApprovalStatus(status)
	}

	approvals, err := h.deps.Store.ListApprovals(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, approvals)
}

type decisionRequest struct {
	Decision    string `json:"decision"`
	RespondedBy string `json:"respondedBy"`
	Notes       string `json:"notes"`
}

// decideApproval resolves a PENDING approval. decision must be "approved"
// or "rejected"; anything else is a 400, matching the validation every
// other handler in this package applies to its own required fields.
func (h *handler) decideApproval(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var body decisionRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		badRequest(w, "body", "invalid JSON")
		return
	}
	if body.RespondedBy == "" {
		badRequest(w, "respondedBy", "respondedBy is required")
		return
	}

	var approved bool
	switch body.Decision {
	case "approved":
		approved = true
	case "rejected":
		approved = false
	default:
		badRequest(w, "decision", `decision must be "approved" or "rejected"`)
		return
	}

	resolved, err := h.deps.Approvals.Decide(r.Context(), id, approved, body.RespondedBy, body.Notes)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, resolved)
}
