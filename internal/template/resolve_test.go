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

package template

import (
	"reflect"
	"testing"

	orcherrors "github.com/flowforge/orchestrator/pkg/errors"
)

func testEnv() Env {
	return Env{
		Context: map[string]interface{}{
			"repo":  "flowforge/orchestrator",
			"count": float64(3),
		},
		Nodes: map[string]map[string]interface{}{
			"scan": {
				"output": map[string]interface{}{
					"findings": []interface{}{
						map[string]interface{}{"severity": "high", "id": "F-1"},
						map[string]interface{}{"severity": "low", "id": "F-2"},
					},
					"summary":  "2 findings",
					"critical": float64(7),
				},
			},
		},
	}
}

func TestResolve_PurePlaceholderPreservesType(t *testing.T) {
	got, err := Resolve("{{context.count}}", testEnv())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != float64(3) {
		t.Errorf("expected native float64(3), got %T(%v)", got, got)
	}
}

func TestResolve_MixedTextStringifies(t *testing.T) {
	got, err := Resolve("repo={{context.repo}} count={{context.count}}", testEnv())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	want := "repo=flowforge/orchestrator count=3"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestResolve_ArrayIndexAndField(t *testing.T) {
	got, err := Resolve("{{scan.output.findings[0].severity}}", testEnv())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != "high" {
		t.Errorf("got %v, want high", got)
	}
}

func TestResolve_CrossNodeOutputInterpolation(t *testing.T) {
	got, err := Resolve("Found {{scan.output.critical}} issues", testEnv())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != "Found 7 issues" {
		t.Errorf("got %q, want %q", got, "Found 7 issues")
	}
}

func TestResolve_NestedStructure(t *testing.T) {
	tmpl := map[string]interface{}{
		"title": "alert for {{context.repo}}",
		"tags":  []interface{}{"{{scan.output.findings[1].id}}"},
	}
	got, err := Resolve(tmpl, testEnv())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	want := map[string]interface{}{
		"title": "alert for flowforge/orchestrator",
		"tags":  []interface{}{"F-2"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %#v, want %#v", got, want)
	}
}

func TestResolve_UnknownReference(t *testing.T) {
	_, err := Resolve("{{deploy.output}}", testEnv())
	assertTemplateErrKind(t, err, orcherrors.TemplateUnknownReference)
}

func TestResolve_MissingField(t *testing.T) {
	_, err := Resolve("{{scan.output.nonexistent}}", testEnv())
	assertTemplateErrKind(t, err, orcherrors.TemplateMissingField)
}

func TestResolve_OutOfRange(t *testing.T) {
	_, err := Resolve("{{scan.output.findings[9].id}}", testEnv())
	assertTemplateErrKind(t, err, orcherrors.TemplateOutOfRange)
}

func TestResolve_TypeMismatchIndexingScalar(t *testing.T) {
	_, err := Resolve("{{scan.output.summary[0]}}", testEnv())
	assertTemplateErrKind(t, err, orcherrors.TemplateTypeMismatch)
}

func TestResolve_MissingFieldNeverYieldsEmptyString(t *testing.T) {
	got, err := Resolve("{{scan.output.missing}}", testEnv())
	if err == nil {
		t.Fatalf("expected error, got value %v", got)
	}
}

func TestResolve_NonStringLeafPassesThrough(t *testing.T) {
	got, err := Resolve(float64(42), testEnv())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != float64(42) {
		t.Errorf("got %v, want 42", got)
	}
}

func assertTemplateErrKind(t *testing.T, err error, kind orcherrors.TemplateErrorKind) {
	t.Helper()
	var tmplErr *orcherrors.TemplateError
	if !orcherrors.As(err, &tmplErr) {
		t.Fatalf("expected *TemplateError, got %T: %v", err, err)
	}
	if tmplErr.Kind != kind {
		t.Errorf("expected kind %s, got %s", kind, tmplErr.Kind)
	}
}
