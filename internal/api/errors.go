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

// Package api is the HTTP surface (A4): chi-routed handlers over the
// persistence gateway (C1), DAG scheduler (C6), approval coordinator
// (C5), and webhook mapper (C7), per §6.1.
package api

import (
	"net/http"
	"strconv"

	"github.com/flowforge/orchestrator/internal/daemon/httputil"
	orcherrors "github.com/flowforge/orchestrator/pkg/errors"
)

// errorTypeStatus maps the ErrorType() string every typed error in
// pkg/errors reports to the HTTP status §7 assigns that category.
var errorTypeStatus = map[string]int{
	"bad_request":       http.StatusBadRequest,
	"not_found":         http.StatusNotFound,
	"conflict":          http.StatusConflict,
	"rate_limited":      http.StatusTooManyRequests,
	"state_conflict":    http.StatusBadRequest,
	"already_claimed":   http.StatusConflict,
	"already_resolved":  http.StatusBadRequest,
	"cyclic_graph":      http.StatusInternalServerError,
}

// writeError classifies err via orcherrors.ErrorClassifier where
// possible and writes the matching HTTP status and JSON error body.
// Errors this package doesn't recognize become a 500 — they are bugs
// or persistence-layer faults, never a caller's fault.
func writeError(w http.ResponseWriter, err error) {
	var classifier orcherrors.ErrorClassifier
	if orcherrors.As(err, &classifier) {
		status, ok := errorTypeStatus[classifier.ErrorType()]
		if !ok {
			status = http.StatusInternalServerError
		}
		var rle *orcherrors.RateLimitedError
		if orcherrors.As(err, &rle) {
			w.Header().Set("Retry-After", strconv.Itoa(int(rle.RetryAfter.Seconds())+1))
		}
		httputil.WriteError(w, status, classifier.Error())
		return
	}
	httputil.WriteError(w, http.StatusInternalServerError, err.Error())
}

func badRequest(w http.ResponseWriter, field, message string) {
	writeError(w, &orcherrors.BadRequestError{Field: field, Message: message})
}
