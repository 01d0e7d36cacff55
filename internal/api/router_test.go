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
	"net/http"
	"testing"

	"github.com/flowforge/orchestrator/internal/approval"
	"github.com/flowforge/orchestrator/internal/backend"
	"github.com/flowforge/orchestrator/internal/backend/memory"
	"github.com/flowforge/orchestrator/internal/events"
	"github.com/flowforge/orchestrator/internal/webhook"
)

// fakeScheduler stands in for *scheduler.Scheduler: it records which run
// IDs it was asked to execute without doing anything resembling DAG
// dispatch, since these tests exercise the HTTP layer only.
type fakeScheduler struct {
	executed []string
	err      error
}

func (f *fakeScheduler) ExecuteRun(_ context.Context, runID string) error {
	f.executed = append(f.executed, runID)
	return f.err
}

func newTestRouter(t *testing.T) (http.Handler, backend.Backend, *fakeScheduler) {
	t.Helper()

	be := memory.New()
	bus := events.New(events.Config{})
	t.Cleanup(func() { _ = bus.Close() })
	sched := &fakeScheduler{}
	coord := approval.New(be, be, bus, nil)

	deps := Deps{
		Store:        be,
		Scheduler:    sched,
		Approvals:    coord,
		Mapper:       webhook.NewMapper(be, sched, 1, nil),
		Alertmanager: &webhook.AlertmanagerHandler{},
		Grafana:      &webhook.GrafanaHandler{},
	}
	return NewRouter(deps), be, sched
}
