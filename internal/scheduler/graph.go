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

package scheduler

import (
	"sort"

	"github.com/flowforge/orchestrator/pkg/model"
)

// verifyAcyclic runs a Kahn-style topological traversal over wf's nodes,
// reporting whether they form a DAG.
func verifyAcyclic(wf *model.Workflow) bool {
	indegree := make(map[string]int, len(wf.Nodes))
	dependents := make(map[string][]string, len(wf.Nodes))
	for _, n := range wf.Nodes {
		if _, ok := indegree[n.ID]; !ok {
			indegree[n.ID] = 0
		}
		for _, dep := range n.DependsOn {
			indegree[n.ID]++
			dependents[dep] = append(dependents[dep], n.ID)
		}
	}

	var queue []string
	for id, deg := range indegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}

	visited := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		visited++
		for _, next := range dependents[id] {
			indegree[next]--
			if indegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}
	return visited == len(indegree)
}

// readyNodes returns the nodes of wf that are ready to dispatch: every
// prerequisite is in completed, and the node is not already in completed,
// failed, skipped, or running. Nodes are returned in lexicographic id
// order so dispatch ordering is deterministic for testing (§4.6.4).
func readyNodes(wf *model.Workflow, completed, failed, skipped, running map[string]bool) []*model.WorkflowNode {
	var ready []*model.WorkflowNode
	for i := range wf.Nodes {
		n := &wf.Nodes[i]
		if completed[n.ID] || failed[n.ID] || skipped[n.ID] || running[n.ID] {
			continue
		}
		allSatisfied := true
		for _, dep := range n.DependsOn {
			if !completed[dep] {
				allSatisfied = false
				break
			}
		}
		if allSatisfied {
			ready = append(ready, n)
		}
	}
	sort.Slice(ready, func(i, j int) bool { return ready[i].ID < ready[j].ID })
	return ready
}

// descendantsOfFailed returns, in lexicographic order, every node that is
// not yet completed/failed/skipped and has a failed node as a transitive
// ancestor. These nodes are never dispatched; they are recorded SKIPPED.
func descendantsOfFailed(wf *model.Workflow, completed, failed, skipped map[string]bool) []*model.WorkflowNode {
	dependents := make(map[string][]string, len(wf.Nodes))
	for _, n := range wf.Nodes {
		for _, dep := range n.DependsOn {
			dependents[dep] = append(dependents[dep], n.ID)
		}
	}

	tainted := make(map[string]bool)
	var frontier []string
	for id := range failed {
		frontier = append(frontier, id)
	}
	for len(frontier) > 0 {
		id := frontier[0]
		frontier = frontier[1:]
		for _, next := range dependents[id] {
			if tainted[next] {
				continue
			}
			tainted[next] = true
			frontier = append(frontier, next)
		}
	}

	var out []*model.WorkflowNode
	for i := range wf.Nodes {
		n := &wf.Nodes[i]
		if tainted[n.ID] && !completed[n.ID] && !failed[n.ID] && !skipped[n.ID] {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// remainingNodes returns every node not yet completed, failed, or
// skipped, in lexicographic order. Used to finalise a run whose approval
// was rejected: everything still outstanding is skipped.
func remainingNodes(wf *model.Workflow, completed, failed, skipped map[string]bool) []*model.WorkflowNode {
	var out []*model.WorkflowNode
	for i := range wf.Nodes {
		n := &wf.Nodes[i]
		if !completed[n.ID] && !failed[n.ID] && !skipped[n.ID] {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
