// SPDX-License-Identifier: Apache-2.0

// Package tools turns crew members into named, described tools that a
// planning model can pick from and the orchestrator can invoke.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jllopis/crewkernel/pkg/core"
	"github.com/jllopis/crewkernel/pkg/errors"
	"github.com/jllopis/crewkernel/pkg/llm"
	"github.com/jllopis/crewkernel/pkg/telemetry"
)

// Sender delivers a message to a remote agent and returns its reply.
// *directline.Client implements it.
type Sender interface {
	Send(ctx context.Context, agentID, message, conversationKey string) (string, error)
}

// SenderFactory returns the Sender used to reach agent.
type SenderFactory func(agent core.Agent) Sender

// Scope selects how conversation keys are derived inside a task.
type Scope string

const (
	// ScopeTask shares one conversation per agent across a task.
	ScopeTask Scope = "task"
	// ScopeSubtask opens a conversation per plan step.
	ScopeSubtask Scope = "subtask"
)

// ParseScope validates a scope name. Empty means ScopeTask.
func ParseScope(s string) (Scope, error) {
	switch Scope(strings.ToLower(s)) {
	case "", ScopeTask:
		return ScopeTask, nil
	case ScopeSubtask:
		return ScopeSubtask, nil
	}
	return "", errors.New(errors.CodeInvalidInput, "unknown conversation scope: "+s, nil)
}

// Invocation is one call of a tool.
type Invocation struct {
	Message        string
	ConversationID string
	// TaskID overrides the task the binding was built for.
	TaskID string
	// Subtask is the one-based plan step; ScopeSubtask uses it in the key.
	Subtask int
}

// Binding is one agent exposed as a tool.
type Binding struct {
	Name          string
	Description   string
	AgentID       string
	RemoteAgentID string
	AgentName     string
	Role          string
	Capabilities  map[string]any

	sender    Sender
	scope     Scope
	taskID    string
	collector telemetry.Collector
	logger    *slog.Logger
}

// ConversationKey returns the key an invocation is sent on. Without an
// explicit id or a task it is empty and the client starts a new conversation.
func (b *Binding) ConversationKey(inv Invocation) string {
	if inv.ConversationID != "" {
		return inv.ConversationID
	}
	taskID := b.task(inv)
	if taskID == "" {
		return ""
	}
	if b.scope == ScopeSubtask && inv.Subtask > 0 {
		return fmt.Sprintf("task_%s_subtask_%d", taskID, inv.Subtask)
	}
	return "task_" + taskID
}

func (b *Binding) task(inv Invocation) string {
	if inv.TaskID != "" {
		return inv.TaskID
	}
	return b.taskID
}

// Invoke sends the message to the agent. Calls made for a task are tracked
// as agent calls.
func (b *Binding) Invoke(ctx context.Context, inv Invocation) (reply string, err error) {
	if strings.TrimSpace(inv.Message) == "" {
		return "", errors.New(errors.CodeInvalidInput, "message is required", nil).
			WithContext("tool", b.Name)
	}
	key := b.ConversationKey(inv)
	if b.task(inv) != "" {
		var call *telemetry.Call
		ctx, call = b.collector.StartAgentCall(ctx, b.RemoteAgentID, b.AgentName, inv.Message)
		defer func() {
			if err != nil {
				call.End(err)
				return
			}
			call.EndWithResponse(reply, telemetry.TokenUsage{})
		}()
	}

	b.logger.DebugContext(ctx, "tools.invoke", slog.String("tool", b.Name), slog.String("conversation_key", key))
	reply, err = b.sender.Send(ctx, b.RemoteAgentID, inv.Message, key)
	if err != nil {
		return "", err
	}
	return reply, nil
}

// Definition returns the tool in the shape model APIs expect.
func (b *Binding) Definition() llm.Tool {
	return llm.Tool{
		Type: llm.ToolTypeFunction,
		Function: llm.FunctionDef{
			Name:        b.Name,
			Description: b.Description,
			Parameters:  ArgsSchema(),
		},
	}
}

// Parameters lists the tool's arguments.
func (b *Binding) Parameters() []Parameter {
	return ArgsParameters()
}

// Set is the immutable result of a build, in membership order.
type Set struct {
	bindings []*Binding
	byName   map[string]*Binding
	byAgent  map[string]*Binding
}

// Len returns the number of tools.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.bindings)
}

// All returns the tools in membership order.
func (s *Set) All() []*Binding {
	if s == nil {
		return nil
	}
	return append([]*Binding(nil), s.bindings...)
}

// Get returns the tool with the given name.
func (s *Set) Get(name string) (*Binding, bool) {
	if s == nil {
		return nil, false
	}
	b, ok := s.byName[name]
	return b, ok
}

// ForAgent resolves the tool for an agent referenced by a plan, by remote
// agent id first and by internal agent id second.
func (s *Set) ForAgent(agentID string) (*Binding, bool) {
	if s == nil {
		return nil, false
	}
	b, ok := s.byAgent[agentID]
	return b, ok
}

// Definitions returns every tool definition.
func (s *Set) Definitions() []llm.Tool {
	defs := make([]llm.Tool, 0, s.Len())
	for _, b := range s.All() {
		defs = append(defs, b.Definition())
	}
	return defs
}

// Factory builds tool sets from crew members. It does not cache.
type Factory struct {
	senders   SenderFactory
	scope     Scope
	collector telemetry.Collector
	logger    *slog.Logger
}

// Option configures a Factory.
type Option func(*Factory)

// WithScope sets the conversation scope of built tools.
func WithScope(scope Scope) Option {
	return func(f *Factory) {
		if scope != "" {
			f.scope = scope
		}
	}
}

// WithCollector sets the telemetry collector for agent calls.
func WithCollector(c telemetry.Collector) Option {
	return func(f *Factory) {
		if c != nil {
			f.collector = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(f *Factory) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// NewFactory creates a factory that reaches agents through senders.
func NewFactory(senders SenderFactory, opts ...Option) *Factory {
	f := &Factory{
		senders:   senders,
		scope:     ScopeTask,
		collector: telemetry.Noop,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return f
}

// Build returns one tool per active member. taskID may be empty; when set it
// becomes the default task of every invocation. Two agents whose names map
// to the same tool name make the build fail.
func (f *Factory) Build(members []core.Member, taskID string) (*Set, error) {
	set := &Set{
		byName:  make(map[string]*Binding, len(members)),
		byAgent: make(map[string]*Binding, len(members)*2),
	}
	remotes := make(map[string]*Binding, len(members))
	for _, m := range members {
		agent := m.Agent
		if !agent.Active {
			f.logger.Debug("tools.skip.inactive", slog.String("agent_id", agent.ID))
			continue
		}
		if agent.RemoteAgentID == "" {
			return nil, errors.New(errors.CodeInvalidInput,
				fmt.Sprintf("agent %s has no remote agent id", agent.ID), nil).
				WithContext("agent_id", agent.ID)
		}
		if prev, dup := remotes[agent.RemoteAgentID]; dup {
			return nil, errors.New(errors.CodeInvalidInput,
				fmt.Sprintf("agents %q and %q share remote agent id %s", prev.AgentName, agent.Name, agent.RemoteAgentID), nil).
				WithContext("remote_agent_id", agent.RemoteAgentID)
		}
		name, err := ToolName(agent.Name, agent.ID)
		if err != nil {
			return nil, err
		}
		if prev, exists := set.byName[name]; exists {
			return nil, errors.New(errors.CodeInvalidInput,
				fmt.Sprintf("agents %q and %q both map to tool %s", prev.AgentName, agent.Name, name), nil).
				WithContext("tool", name)
		}
		desc, err := Describe(agent.Name, m.Role, agent.Capabilities)
		if err != nil {
			return nil, err
		}
		b := &Binding{
			Name:          name,
			Description:   desc,
			AgentID:       agent.ID,
			RemoteAgentID: agent.RemoteAgentID,
			AgentName:     agent.Name,
			Role:          m.Role,
			Capabilities:  agent.Capabilities,
			sender:        f.senders(agent),
			scope:         f.scope,
			taskID:        taskID,
			collector:     f.collector,
			logger:        f.logger,
		}
		set.bindings = append(set.bindings, b)
		set.byName[name] = b
		remotes[agent.RemoteAgentID] = b
		set.byAgent[agent.RemoteAgentID] = b
		if _, taken := set.byAgent[agent.ID]; !taken {
			set.byAgent[agent.ID] = b
		}
	}
	f.logger.Debug("tools.build", slog.Int("tools", len(set.bindings)), slog.String("task_id", taskID))
	return set, nil
}

// Describe renders the description a planner reads for an agent tool.
func Describe(name, role string, capabilities map[string]any) (string, error) {
	caps, err := json.Marshal(capabilities)
	if err != nil {
		return "", errors.New(errors.CodeInvalidInput, "encode capabilities of "+name, err)
	}
	return fmt.Sprintf("Ask the %s agent a question or give it a task. This agent has the role: %s. "+
		"It has the following capabilities: %s", name, role, caps), nil
}

// ToolName derives the tool name for an agent: "ask_" followed by the
// sanitized, lower-cased agent name with spaces turned into underscores.
// Names with no usable characters fall back to "ask_agent_" and the
// sanitized agent id.
func ToolName(agentName, agentID string) (string, error) {
	if ident := identFrom(agentName); ident != "" {
		return "ask_" + ident, nil
	}
	if ident := identFrom(agentID); ident != "" {
		return "ask_agent_" + strings.TrimLeft(ident, "_"), nil
	}
	return "", errors.New(errors.CodeInvalidInput,
		fmt.Sprintf("agent %q (%s) yields no usable tool name", agentName, agentID), nil)
}

func identFrom(s string) string {
	ident := SanitizeIdentifier(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), " ", "_"))
	if strings.Trim(ident, "_") == "" {
		return ""
	}
	return ident
}

// SanitizeIdentifier keeps ASCII letters, digits and underscores and
// prefixes an underscore when the result starts with a digit.
func SanitizeIdentifier(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		}
	}
	out := b.String()
	if out != "" && out[0] >= '0' && out[0] <= '9' {
		out = "_" + out
	}
	return out
}
