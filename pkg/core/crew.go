// SPDX-License-Identifier: Apache-2.0

package core

import "time"

// Agent is a remotely hosted conversational service that can join crews.
type Agent struct {
	ID            string         `json:"id" yaml:"id"`
	Name          string         `json:"name" yaml:"name"`
	Description   string         `json:"description,omitempty" yaml:"description"`
	RemoteAgentID string         `json:"remote_agent_id" yaml:"remote_agent_id"`
	Secret        string         `json:"-" yaml:"secret"`
	Capabilities  map[string]any `json:"capabilities,omitempty" yaml:"capabilities"`
	Active        bool           `json:"is_active" yaml:"active"`
}

// Crew is a named group of agents owned by a user.
type Crew struct {
	ID          string    `json:"id" yaml:"id"`
	Name        string    `json:"name" yaml:"name"`
	Description string    `json:"description,omitempty" yaml:"description"`
	OwnerID     string    `json:"owner_id,omitempty" yaml:"owner_id"`
	Active      bool      `json:"is_active" yaml:"active"`
	CreatedAt   time.Time `json:"created_at" yaml:"-"`
}

// Membership places an agent in a crew with a role.
type Membership struct {
	CrewID  string `json:"crew_id" yaml:"crew_id"`
	AgentID string `json:"agent_id" yaml:"agent_id"`
	Role    string `json:"role" yaml:"role"`
}

// Member is a membership resolved to its agent record.
type Member struct {
	Agent Agent  `json:"agent"`
	Role  string `json:"role"`
}
