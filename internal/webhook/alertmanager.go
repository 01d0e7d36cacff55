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

import "net/http"

// AlertmanagerHandler handles Prometheus Alertmanager webhook receivers.
// Alertmanager batches one or more alerts per delivery under "alerts".
type AlertmanagerHandler struct{}

func (h *AlertmanagerHandler) Verify(r *http.Request, body []byte, secret string) error {
	return verifyBearer(r, secret)
}

func (h *AlertmanagerHandler) ParseEvent(r *http.Request) string {
	return "alertmanager.webhook"
}

func (h *AlertmanagerHandler) ExtractPayload(body []byte) (map[string]any, error) {
	return decodeJSONObject(body)
}

// alertmanagerAlerts pulls the per-alert list out of a decoded
// Alertmanager envelope. Each entry carries its own status/labels/
// annotations, independent of the envelope's group-level fields.
func alertmanagerAlerts(payload map[string]any) []map[string]any {
	raw, _ := payload["alerts"].([]any)
	alerts := make([]map[string]any, 0, len(raw))
	for _, a := range raw {
		if m, ok := a.(map[string]any); ok {
			alerts = append(alerts, m)
		}
	}
	return alerts
}
