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

/*
Package tracing provides HTTP-layer correlation for the API surface (A4):
a per-request CorrelationID propagated via context and the W3C traceparent
header, and the middleware that attaches both to every request. Span and
metric emission for run/agent execution itself lives in
internal/observability, which owns the OpenTelemetry SDK wiring.

# Correlation IDs

	handler = tracing.CorrelationMiddleware(handler)
	handler = tracing.HTTPMiddleware(handler)

	correlationID := tracing.FromContext(ctx)
*/
package tracing
