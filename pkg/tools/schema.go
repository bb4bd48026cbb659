// SPDX-License-Identifier: Apache-2.0

package tools

import (
	"encoding/json"
	"sync"

	"github.com/invopop/jsonschema"
)

// AskArgs are the arguments every agent tool accepts.
type AskArgs struct {
	Message        string `json:"message" jsonschema:"description=The message to send to the agent"`
	ConversationID string `json:"conversation_id,omitempty" jsonschema:"description=Optional conversation ID for maintaining context"`
}

// Parameter describes one tool argument for introspection.
type Parameter struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
	Required    bool   `json:"required"`
}

var (
	schemaOnce sync.Once
	askSchema  *jsonschema.Schema
	askParams  []Parameter
	askRaw     json.RawMessage
)

func loadSchema() {
	schemaOnce.Do(func() {
		r := &jsonschema.Reflector{DoNotReference: true, ExpandedStruct: true}
		s := r.Reflect(&AskArgs{})
		s.Version = ""
		s.ID = ""
		askSchema = s

		required := make(map[string]bool, len(s.Required))
		for _, name := range s.Required {
			required[name] = true
		}
		for pair := s.Properties.Oldest(); pair != nil; pair = pair.Next() {
			askParams = append(askParams, Parameter{
				Name:        pair.Key,
				Type:        pair.Value.Type,
				Description: pair.Value.Description,
				Required:    required[pair.Key],
			})
		}
		askRaw, _ = json.Marshal(s)
	})
}

// ArgsSchema returns the JSON schema of AskArgs.
func ArgsSchema() *jsonschema.Schema {
	loadSchema()
	return askSchema
}

// ArgsSchemaJSON returns the JSON schema of AskArgs as raw JSON.
func ArgsSchemaJSON() json.RawMessage {
	loadSchema()
	return append(json.RawMessage(nil), askRaw...)
}

// ArgsParameters lists the AskArgs parameters in declaration order.
func ArgsParameters() []Parameter {
	loadSchema()
	return append([]Parameter(nil), askParams...)
}
