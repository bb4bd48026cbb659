// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/jllopis/crewkernel/pkg/core"
	"github.com/jllopis/crewkernel/pkg/errors"
)

// Manifest declares agents and crews to seed a store with.
type Manifest struct {
	Agents []ManifestAgent `yaml:"agents" toml:"agents"`
	Crews  []ManifestCrew  `yaml:"crews" toml:"crews"`
}

// ManifestAgent declares one agent. Secret is expanded against the
// environment, so "${DIRECT_LINE_SECRET}" keeps credentials out of the file.
type ManifestAgent struct {
	ID            string         `yaml:"id" toml:"id"`
	Name          string         `yaml:"name" toml:"name"`
	Description   string         `yaml:"description" toml:"description"`
	RemoteAgentID string         `yaml:"remote_agent_id" toml:"remote_agent_id"`
	Secret        string         `yaml:"secret" toml:"secret"`
	Capabilities  map[string]any `yaml:"capabilities" toml:"capabilities"`
	Active        *bool          `yaml:"active" toml:"active"`
}

// ManifestCrew declares one crew and its members.
type ManifestCrew struct {
	ID          string           `yaml:"id" toml:"id"`
	Name        string           `yaml:"name" toml:"name"`
	Description string           `yaml:"description" toml:"description"`
	OwnerID     string           `yaml:"owner_id" toml:"owner_id"`
	Active      *bool            `yaml:"active" toml:"active"`
	Members     []ManifestMember `yaml:"members" toml:"members"`
}

// ManifestMember places an agent in the enclosing crew.
type ManifestMember struct {
	AgentID string `yaml:"agent_id" toml:"agent_id"`
	Role    string `yaml:"role" toml:"role"`
}

// LoadManifest reads a YAML (.yaml, .yml) or TOML (.toml) manifest.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest %s: %w", path, err)
	}
	m, err := ParseManifest(data, strings.TrimPrefix(filepath.Ext(path), "."))
	if err != nil {
		return nil, fmt.Errorf("manifest %s: %w", path, err)
	}
	return m, nil
}

// LoadManifests loads every file matching a doublestar pattern, such as
// "crews/**/*.yaml", in lexical order and merges them.
func LoadManifests(pattern string) (*Manifest, error) {
	matches, err := doublestar.FilepathGlob(pattern)
	if err != nil {
		return nil, fmt.Errorf("expand manifest pattern %q: %w", pattern, err)
	}
	if len(matches) == 0 {
		return nil, errors.New(errors.CodeNotFound, "no manifest matches "+pattern, nil)
	}
	sort.Strings(matches)
	merged := &Manifest{}
	for _, path := range matches {
		m, err := LoadManifest(path)
		if err != nil {
			return nil, err
		}
		merged.Agents = append(merged.Agents, m.Agents...)
		merged.Crews = append(merged.Crews, m.Crews...)
	}
	if err := merged.Validate(); err != nil {
		return nil, err
	}
	return merged, nil
}

// ParseManifest decodes data in the given format: yaml, yml or toml.
func ParseManifest(data []byte, format string) (*Manifest, error) {
	var m Manifest
	switch strings.ToLower(format) {
	case "yaml", "yml", "":
		if err := yaml.Unmarshal(data, &m); err != nil {
			return nil, errors.New(errors.CodeInvalidInput, "invalid yaml manifest", err)
		}
	case "toml":
		if err := toml.Unmarshal(data, &m); err != nil {
			return nil, errors.New(errors.CodeInvalidInput, "invalid toml manifest", err)
		}
	default:
		return nil, invalid("unsupported manifest format: " + format)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks ids are present and unique and that members reference
// declared agents.
func (m *Manifest) Validate() error {
	agents := make(map[string]bool, len(m.Agents))
	for _, a := range m.Agents {
		if a.ID == "" || a.Name == "" {
			return invalid("manifest agent requires id and name")
		}
		if agents[a.ID] {
			return invalid("duplicate agent id in manifest: " + a.ID)
		}
		agents[a.ID] = true
	}
	crews := make(map[string]bool, len(m.Crews))
	for _, c := range m.Crews {
		if c.ID == "" {
			return invalid("manifest crew requires an id")
		}
		if crews[c.ID] {
			return invalid("duplicate crew id in manifest: " + c.ID)
		}
		crews[c.ID] = true
		for _, member := range c.Members {
			if !agents[member.AgentID] {
				return invalid(fmt.Sprintf("crew %s references unknown agent %s", c.ID, member.AgentID))
			}
		}
	}
	return nil
}

// Apply writes every agent, crew and membership to s.
func (m *Manifest) Apply(ctx context.Context, s CrewStore) error {
	for _, a := range m.Agents {
		if err := s.PutAgent(ctx, a.agent()); err != nil {
			return fmt.Errorf("seed agent %s: %w", a.ID, err)
		}
	}
	for _, c := range m.Crews {
		crew := core.Crew{
			ID:          c.ID,
			Name:        c.Name,
			Description: c.Description,
			OwnerID:     c.OwnerID,
			Active:      c.Active == nil || *c.Active,
		}
		if err := s.PutCrew(ctx, crew); err != nil {
			return fmt.Errorf("seed crew %s: %w", c.ID, err)
		}
		for _, member := range c.Members {
			if err := s.AddMember(ctx, core.Membership{CrewID: c.ID, AgentID: member.AgentID, Role: member.Role}); err != nil {
				return fmt.Errorf("seed member %s/%s: %w", c.ID, member.AgentID, err)
			}
		}
	}
	return nil
}

func (a ManifestAgent) agent() core.Agent {
	return core.Agent{
		ID:            a.ID,
		Name:          a.Name,
		Description:   a.Description,
		RemoteAgentID: a.RemoteAgentID,
		Secret:        os.ExpandEnv(a.Secret),
		Capabilities:  a.Capabilities,
		Active:        a.Active == nil || *a.Active,
	}
}
