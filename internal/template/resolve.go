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

// Package template resolves `{{path}}` placeholders in a node's input
// template (C4). It is a purpose-built recursive-descent scanner, not
// text/template: resolution failures must surface as one of the typed
// *errors.TemplateError kinds rather than degrade silently, and a path
// root must resolve against the run's context or a prerequisite node's
// output, never an arbitrary Go value.
package template

import (
	"fmt"
	"strconv"
	"strings"

	orcherrors "github.com/flowforge/orchestrator/pkg/errors"
)

// Env is the data a template may reference: the run's context under
// "context", and one entry per prerequisite node id that completed with
// AgentRunSuccess, holding that node's output nested under an "output"
// key so `{{node.output.path}}` resolves the way the workflow file
// spells it.
type Env struct {
	Context map[string]interface{}
	Nodes   map[string]map[string]interface{}
}

// Resolve walks template, replacing every `{{path}}` string leaf found
// anywhere in it (recursing into maps and slices) with the value the
// path resolves to in env. A leaf that is exactly one placeholder is
// replaced by the referenced value's native type; a leaf containing
// text around one or more placeholders is replaced by their
// stringified concatenation. Non-string leaves pass through unchanged.
func Resolve(tmpl interface{}, env Env) (interface{}, error) {
	switch v := tmpl.(type) {
	case string:
		return resolveString(v, env)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, val := range v {
			resolved, err := Resolve(val, env)
			if err != nil {
				return nil, err
			}
			out[k] = resolved
		}
		return out, nil
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, val := range v {
			resolved, err := Resolve(val, env)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	default:
		return v, nil
	}
}

// placeholders finds every `{{...}}` span in s, in order.
func placeholders(s string) (spans [][2]int) {
	for i := 0; i < len(s)-1; i++ {
		if s[i] != '{' || s[i+1] != '{' {
			continue
		}
		end := strings.Index(s[i+2:], "}}")
		if end < 0 {
			return spans
		}
		end += i + 2
		spans = append(spans, [2]int{i, end + 2})
		i = end + 1
	}
	return spans
}

func resolveString(s string, env Env) (interface{}, error) {
	spans := placeholders(s)
	if len(spans) == 0 {
		return s, nil
	}

	// A pure reference - the whole string is exactly one placeholder -
	// preserves the referenced value's native type.
	if len(spans) == 1 && spans[0][0] == 0 && spans[0][1] == len(s) {
		path := strings.TrimSpace(s[2 : len(s)-2])
		return resolvePath(path, env)
	}

	var b strings.Builder
	pos := 0
	for _, span := range spans {
		b.WriteString(s[pos:span[0]])
		path := strings.TrimSpace(s[span[0]+2 : span[1]-2])
		val, err := resolvePath(path, env)
		if err != nil {
			return nil, err
		}
		b.WriteString(stringify(val))
		pos = span[1]
	}
	b.WriteString(s[pos:])
	return b.String(), nil
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprintf("%v", t)
	}
}

// resolvePath navigates a dotted, `[i]`-indexed path against env,
// starting from "context" or a prerequisite node id.
func resolvePath(path string, env Env) (interface{}, error) {
	segments, err := splitPath(path)
	if err != nil {
		return nil, err
	}
	if len(segments) == 0 {
		return nil, &orcherrors.TemplateError{Kind: orcherrors.TemplateUnknownReference, Path: path, Message: "empty path"}
	}

	root := segments[0]
	var current interface{}
	switch {
	case root == "context":
		current = env.Context
	default:
		node, ok := env.Nodes[root]
		if !ok {
			return nil, &orcherrors.TemplateError{
				Kind: orcherrors.TemplateUnknownReference, Path: path,
				Message: fmt.Sprintf("%q is not \"context\" or a successful prerequisite", root),
			}
		}
		current = node
	}

	for _, seg := range segments[1:] {
		next, err := step(current, seg, path)
		if err != nil {
			return nil, err
		}
		current = next
	}
	return current, nil
}

// step descends one path segment (a field name or an `[i]` index) into current.
func step(current interface{}, seg string, path string) (interface{}, error) {
	if idx, isIndex := asIndex(seg); isIndex {
		slice, ok := current.([]interface{})
		if !ok {
			return nil, &orcherrors.TemplateError{Kind: orcherrors.TemplateTypeMismatch, Path: path, Message: fmt.Sprintf("%q is not an array", seg)}
		}
		if idx < 0 || idx >= len(slice) {
			return nil, &orcherrors.TemplateError{Kind: orcherrors.TemplateOutOfRange, Path: path, Message: fmt.Sprintf("index %d out of range (len %d)", idx, len(slice))}
		}
		return slice[idx], nil
	}

	obj, ok := current.(map[string]interface{})
	if !ok {
		return nil, &orcherrors.TemplateError{Kind: orcherrors.TemplateTypeMismatch, Path: path, Message: fmt.Sprintf("cannot index field %q into a scalar", seg)}
	}
	val, ok := obj[seg]
	if !ok {
		return nil, &orcherrors.TemplateError{Kind: orcherrors.TemplateMissingField, Path: path, Message: fmt.Sprintf("field %q does not exist", seg)}
	}
	return val, nil
}

// asIndex reports whether seg is a `[i]` array index segment.
func asIndex(seg string) (int, bool) {
	if len(seg) < 3 || seg[0] != '[' || seg[len(seg)-1] != ']' {
		return 0, false
	}
	n, err := strconv.Atoi(seg[1 : len(seg)-1])
	if err != nil {
		return 0, false
	}
	return n, true
}

// splitPath splits "node.output[0].field" into ["node", "output", "[0]", "field"].
func splitPath(path string) ([]string, error) {
	var segments []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			segments = append(segments, cur.String())
			cur.Reset()
		}
	}

	for i := 0; i < len(path); i++ {
		switch c := path[i]; c {
		case '.':
			flush()
		case '[':
			flush()
			end := strings.IndexByte(path[i:], ']')
			if end < 0 {
				return nil, &orcherrors.TemplateError{Kind: orcherrors.TemplateUnknownReference, Path: path, Message: "unterminated array index"}
			}
			segments = append(segments, path[i:i+end+1])
			i += end
		default:
			cur.WriteByte(c)
		}
	}
	flush()
	return segments, nil
}
