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

// Package events provides the event bus client (C2): at-least-once
// publication of lifecycle events over Redis Pub/Sub. Persistence, not
// the bus, is the source of truth, so a dropped event never corrupts
// run state — it only degrades an external subscriber's view.
package events

import "time"

// Subject names the event channels the orchestrator publishes on.
type Subject string

const (
	SubjectRunStarted        Subject = "workflow.run.started"
	SubjectRunFinished       Subject = "workflow.run.finished"
	SubjectAgentStarted      Subject = "workflow.agent.started"
	SubjectAgentFinished     Subject = "workflow.agent.finished"
	SubjectApprovalRequested Subject = "workflow.approval.requested"
	SubjectApprovalResolved  Subject = "workflow.approval.resolved"
)

// channelPrefix namespaces orchestrator subjects on the shared Redis
// Pub/Sub keyspace.
const channelPrefix = "events."

// channel returns the Redis channel a subject publishes to.
func (s Subject) channel() string {
	return channelPrefix + string(s)
}

// Envelope is the canonical JSON payload published for every event.
type Envelope struct {
	Subject       Subject   `json:"subject"`
	RunID         string    `json:"runId"`
	NodeID        string    `json:"nodeId,omitempty"`
	AgentID       string    `json:"agentId,omitempty"`
	ApprovalID    string    `json:"approvalId,omitempty"`
	Status        string    `json:"status"`
	CorrelationID string    `json:"correlationId"`
	Timestamp     time.Time `json:"timestamp"`
}
