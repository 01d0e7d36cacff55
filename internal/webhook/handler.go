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

// Package webhook is the webhook-to-workflow mapper (C7): it turns an
// inbound Alertmanager or Grafana alert envelope into a run of the
// "alert-notification" workflow, without ever blocking its HTTP caller
// on scheduling.
package webhook

import (
	"crypto/hmac"
	"encoding/json"
	"fmt"
	"net/http"
)

// Handler adapts one alert source's webhook conventions: signature
// verification, event classification, and payload extraction. Mirrors
// the shape the router in the ambient webhook stack already uses for
// GitHub/Slack sources, generalized to alerting sources.
type Handler interface {
	// Verify checks the request's signature/bearer token against secret.
	// An empty secret means verification is skipped (dev/test wiring).
	Verify(r *http.Request, body []byte, secret string) error

	// ParseEvent classifies the webhook (used for logging/metrics only;
	// alert webhooks are not filtered by event type the way GitHub's are).
	ParseEvent(r *http.Request) string

	// ExtractPayload decodes the JSON body into a generic map for the
	// mapper to pull the alert envelope fields out of.
	ExtractPayload(body []byte) (map[string]any, error)
}

func verifyBearer(r *http.Request, secret string) error {
	if secret == "" {
		return nil
	}
	got := r.Header.Get("Authorization")
	want := "Bearer " + secret
	if !hmac.Equal([]byte(got), []byte(want)) {
		return fmt.Errorf("missing or invalid bearer token")
	}
	return nil
}

func decodeJSONObject(body []byte) (map[string]any, error) {
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode webhook payload: %w", err)
	}
	return payload, nil
}
