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

package model_test

import (
	"testing"

	"github.com/flowforge/orchestrator/pkg/model"
)

func TestRunStatus_IsTerminal(t *testing.T) {
	terminal := []model.RunStatus{model.RunSuccess, model.RunFailed, model.RunCancelled}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Errorf("%s should be terminal", s)
		}
	}

	nonTerminal := []model.RunStatus{model.RunPending, model.RunRunning, model.RunWaitingApproval}
	for _, s := range nonTerminal {
		if s.IsTerminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestAgent_HasCapability(t *testing.T) {
	a := &model.Agent{
		Capabilities: []model.Capability{{Name: "scan"}, {Name: "notify"}},
	}

	if !a.HasCapability("scan") {
		t.Error("expected HasCapability(scan) to be true")
	}
	if a.HasCapability("patch") {
		t.Error("expected HasCapability(patch) to be false")
	}
}

func TestWorkflow_NodeByID(t *testing.T) {
	w := &model.Workflow{
		Nodes: []model.WorkflowNode{{ID: "scan"}, {ID: "notify"}},
	}

	if got := w.NodeByID("notify"); got == nil || got.ID != "notify" {
		t.Fatalf("NodeByID(notify) = %v, want node with id notify", got)
	}
	if got := w.NodeByID("missing"); got != nil {
		t.Errorf("NodeByID(missing) = %v, want nil", got)
	}
}
