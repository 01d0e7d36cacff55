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
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/flowforge/orchestrator/internal/daemon/httputil"
	"github.com/flowforge/orchestrator/pkg/model"
)

func (h *handler) createAgent(w http.ResponseWriter, r *http.Request) {
	var a model.Agent
	if err := json.NewDecoder(r.Body).Decode(&a); err != nil {
		badRequest(w, "body", "invalid JSON")
		return
	}
	if a.ProjectID == 0 {
		badRequest(w, "projectId", "projectId is required")
		return
	}
	if a.Name == "" {
		badRequest(w, "name", "name is required")
		return
	}
	if a.EntryPath == "" {
		badRequest(w, "entryPath", "entryPath is required")
		return
	}
	if a.RiskLevel == "" {
		a.RiskLevel = model.RiskAuto
	}

	if err := h.deps.Store.CreateAgent(r.Context(), &a); err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, &a)
}

func (h *handler) listAgents(w http.ResponseWriter, r *http.Request) {
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

	agents, err := h.deps.Store.ListAgents(r.Context(), projectID)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, agents)
}

func (h *handler) getAgent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	a, err := h.deps.Store.GetAgent(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, a)
}

func (h *handler) updateAgent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var a model.Agent
	if err := json.NewDecoder(r.Body).Decode(&a); err != nil {
		badRequest(w, "body", "invalid JSON")
		return
	}
	a.ID = id
	if err := h.deps.Store.UpdateAgent(r.Context(), &a); err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, &a)
}

func (h *handler) deleteAgent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.deps.Store.DeleteAgent(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
