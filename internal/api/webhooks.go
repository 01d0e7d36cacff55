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
	"io"
	"net/http"

	"github.com/flowforge/orchestrator/internal/daemon/httputil"
	"github.com/flowforge/orchestrator/internal/webhook"
	orcherrors "github.com/flowforge/orchestrator/pkg/errors"
)

func (h *handler) handleAlertmanagerWebhook(w http.ResponseWriter, r *http.Request) {
	h.handleAlertWebhook(w, r, h.deps.Alertmanager, h.deps.AlertmanagerSecret, func(payload map[string]any) (any, error) {
		runs, err := h.deps.Mapper.MapAlertmanager(r.Context(), payload)
		if err != nil {
			return nil, err
		}
		return map[string]any{"workflowRuns": runs}, nil
	})
}

func (h *handler) handleGrafanaWebhook(w http.ResponseWriter, r *http.Request) {
	h.handleAlertWebhook(w, r, h.deps.Grafana, h.deps.GrafanaSecret, func(payload map[string]any) (any, error) {
		run, err := h.deps.Mapper.MapGrafana(r.Context(), payload)
		if err != nil {
			return nil, err
		}
		return map[string]any{"workflowRunId": run.ID}, nil
	})
}

// handleAlertWebhook carries the verification/decoding steps common to
// both alert sources; only the envelope's shape and how it maps to runs
// differs between them.
func (h *handler) handleAlertWebhook(w http.ResponseWriter, r *http.Request, source webhook.Handler, secret string, mapFn func(map[string]any) (any, error)) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		badRequest(w, "body", "failed to read request body")
		return
	}

	if err := source.Verify(r, body, secret); err != nil {
		writeError(w, &orcherrors.BadRequestError{Field: "authorization", Message: err.Error()})
		return
	}

	payload, err := source.ExtractPayload(body)
	if err != nil {
		badRequest(w, "body", "invalid JSON")
		return
	}

	result, err := mapFn(payload)
	if err != nil {
		// The alert-notification workflow's notifier agent is operator
		// configuration, not caller input: its absence is a 500 (§6.1),
		// not the 404 writeError would otherwise give a not_found error.
		var notFound *orcherrors.NotFoundError
		if orcherrors.As(err, &notFound) {
			httputil.WriteError(w, http.StatusInternalServerError, "alert-notification workflow is not configured: "+err.Error())
			return
		}
		writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}
