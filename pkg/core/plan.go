// SPDX-License-Identifier: Apache-2.0

package core

// Plan is the ordered list of subtasks produced by the planning model.
type Plan struct {
	Subtasks []Subtask `json:"plan"`
}

// Subtask assigns one step of a plan to an agent, identified by its remote agent id.
type Subtask struct {
	Description string `json:"subtask"`
	AgentID     string `json:"agent_id"`
	Reasoning   string `json:"reasoning"`
}
