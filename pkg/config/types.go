// Package config loads, merges, and validates the settings that
// describe cluster templates, their agents, and engine-wide defaults.
package config

import (
	"time"

	"github.com/meshrun/meshrun/pkg/models"
)

// ClusterTemplate is the raw, config-sourced description of a cluster:
// a named set of agents, optionally built on a base template. Template
// resolution (base + params, one level, acyclic) is performed by
// pkg/template against the templates loaded here.
type ClusterTemplate struct {
	ID     string                              `yaml:"id" validate:"required"`
	Base   string                              `yaml:"base,omitempty"`
	Params map[string]any                      `yaml:"params,omitempty"`
	Agents map[string]models.AgentDefinition `yaml:"agents" validate:"required,min=1,dive"`
}

// Defaults holds engine-wide fallbacks applied when a template or
// agent does not specify a value itself.
type Defaults struct {
	StateDir              string        `yaml:"state_dir" validate:"required"`
	MaxConcurrentClusters int           `yaml:"max_concurrent_clusters" validate:"min=1"`
	MaxConcurrentAgents   int           `yaml:"max_concurrent_agents" validate:"min=1"`
	TriggerBudget         time.Duration `yaml:"trigger_budget" validate:"required"`
	StaleAfter            time.Duration `yaml:"stale_after" validate:"required"`
	RetentionPeriod       time.Duration `yaml:"retention_period"`
	ModelCeiling          string        `yaml:"model_ceiling,omitempty"`
	ModelFloor            string        `yaml:"model_floor,omitempty"`
}

// Settings is the fully loaded, merged, validated configuration
// document: built-in defaults overridden by a user settings file, whose
// raw text has its environment variables expanded before it is parsed
// and merged.
type Settings struct {
	Defaults  Defaults                   `yaml:"defaults" validate:"required"`
	Templates map[string]ClusterTemplate `yaml:"templates" validate:"dive"`
}

// Template looks up a cluster template by ID.
func (s *Settings) Template(id string) (ClusterTemplate, bool) {
	t, ok := s.Templates[id]
	return t, ok
}
