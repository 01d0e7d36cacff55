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

// GrafanaHandler handles Grafana unified-alerting contact-point
// webhooks, which deliver exactly one alert state change per request at
// the envelope's top level rather than Alertmanager's "alerts" batch.
type GrafanaHandler struct{}

func (h *GrafanaHandler) Verify(r *http.Request, body []byte, secret string) error {
	return verifyBearer(r, secret)
}

func (h *GrafanaHandler) ParseEvent(r *http.Request) string {
	return "grafana.webhook"
}

func (h *GrafanaHandler) ExtractPayload(body []byte) (map[string]any, error) {
	return decodeJSONObject(body)
}
