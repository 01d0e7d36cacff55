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
	"net/http"

	"github.com/flowforge/orchestrator/internal/daemon/httputil"
)

// handleHealth reports readiness per §6.1: 200 when every dependency
// checks out, 503 otherwise, always with the per-dependency booleans.
func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	database := h.deps.DatabaseHealthy == nil || h.deps.DatabaseHealthy(r.Context())
	eventBus := h.deps.EventBusHealthy == nil || h.deps.EventBusHealthy(r.Context())

	status := http.StatusOK
	if !database || !eventBus {
		status = http.StatusServiceUnavailable
	}
	httputil.WriteJSON(w, status, map[string]bool{
		"database": database,
		"nats":     eventBus,
	})
}
