// Package prompt implements the per-model prompt profile registry. Profiles
// are loaded once at startup from a declarative YAML file and resolved per
// request into a concrete system prompt, generation parameters, and a stable
// fingerprint used for telemetry and cache discrimination.
package prompt

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/saptiva-ai/copilotos/pkg/config"
)

var (
	// ErrInvalidConfig indicates the registry file is empty or unusable.
	ErrInvalidConfig = errors.New("invalid prompt registry")

	// ErrModelNotConfigured indicates neither the model nor a default entry exists.
	ErrModelNotConfigured = errors.New("model not configured in prompt registry")
)

// DefaultModelKey is the required fallback entry.
const DefaultModelKey = "default"

// ModelParams are the generation parameters declared per model.
type ModelParams struct {
	Temperature      float64 `yaml:"temperature" json:"temperature"`
	TopP             float64 `yaml:"top_p" json:"top_p"`
	PresencePenalty  float64 `yaml:"presence_penalty" json:"presence_penalty"`
	FrequencyPenalty float64 `yaml:"frequency_penalty" json:"frequency_penalty"`
	MaxTokens        int     `yaml:"max_tokens,omitempty" json:"max_tokens"`
}

// Validate enforces the upstream API's parameter ranges.
func (p ModelParams) Validate() error {
	if p.Temperature < 0 || p.Temperature > 2 {
		return fmt.Errorf("temperature %v out of range [0,2]", p.Temperature)
	}
	if p.TopP < 0 || p.TopP > 1 {
		return fmt.Errorf("top_p %v out of range [0,1]", p.TopP)
	}
	if p.PresencePenalty < -2 || p.PresencePenalty > 2 {
		return fmt.Errorf("presence_penalty %v out of range [-2,2]", p.PresencePenalty)
	}
	if p.FrequencyPenalty < -2 || p.FrequencyPenalty > 2 {
		return fmt.Errorf("frequency_penalty %v out of range [-2,2]", p.FrequencyPenalty)
	}
	if p.MaxTokens != 0 && p.MaxTokens < 1 {
		return fmt.Errorf("max_tokens %d must be >= 1", p.MaxTokens)
	}
	return nil
}

// Entry is one model's prompt profile.
type Entry struct {
	SystemBase string      `yaml:"system_base"`
	Addendum   string      `yaml:"addendum,omitempty"`
	Params     ModelParams `yaml:"params"`
}

// Registry holds all loaded prompt profiles. Immutable after Load.
type Registry struct {
	Version     string
	CopilotName string
	OrgName     string

	models map[string]*Entry
}

// registryFile mirrors the YAML layout of the prompt registry file.
type registryFile struct {
	Version     string            `yaml:"version"`
	CopilotName string            `yaml:"copilot_name"`
	OrgName     string            `yaml:"org_name"`
	Models      map[string]*Entry `yaml:"models"`
}

// Load parses the registry file. Entries without a system_base are skipped
// with a warning; a file yielding no usable entries fails.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return Parse(data)
}

// Parse builds a Registry from raw YAML. Environment references in the file
// are expanded before parsing.
func Parse(data []byte) (*Registry, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: file is empty", ErrInvalidConfig)
	}

	var file registryFile
	if err := yaml.Unmarshal(config.ExpandEnv(data), &file); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	r := &Registry{
		Version:     file.Version,
		CopilotName: file.CopilotName,
		OrgName:     file.OrgName,
		models:      make(map[string]*Entry, len(file.Models)),
	}

	for name, entry := range file.Models {
		if entry == nil || entry.SystemBase == "" {
			slog.Warn("Skipping prompt entry without system_base", "model", name)
			continue
		}
		if err := entry.Params.Validate(); err != nil {
			slog.Warn("Skipping prompt entry with invalid params", "model", name, "error", err)
			continue
		}
		r.models[name] = entry
	}

	if len(r.models) == 0 {
		return nil, fmt.Errorf("%w: no usable model entries", ErrInvalidConfig)
	}

	if err := r.Validate(); err != nil {
		return nil, err
	}

	slog.Info("Prompt registry loaded",
		"version", r.Version,
		"models", len(r.models),
		"copilot_name", r.CopilotName)
	return r, nil
}

// Validate enforces registry-level invariants: a default entry must exist.
func (r *Registry) Validate() error {
	if _, ok := r.models[DefaultModelKey]; !ok {
		return fmt.Errorf("%w: missing %q entry", ErrInvalidConfig, DefaultModelKey)
	}
	return nil
}

// Models returns the configured model names (including "default").
func (r *Registry) Models() []string {
	names := make([]string, 0, len(r.models))
	for name := range r.models {
		names = append(names, name)
	}
	return names
}

// HasModel reports whether a dedicated (non-default) entry exists for model.
func (r *Registry) HasModel(model string) bool {
	_, ok := r.models[model]
	return ok
}
