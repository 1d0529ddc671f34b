package mcp

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/Masterminds/semver/v3"
)

// Registry holds tools by name and version and resolves version requests.
// Resolution accepts an exact version, a semver range ("^1.0.0", "~1.2.0"),
// or an empty/"latest" request for the newest registered version.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]map[string]Tool
	latest map[string]string
}

func NewRegistry() *Registry {
	return &Registry{
		tools:  make(map[string]map[string]Tool),
		latest: make(map[string]string),
	}
}

// Register adds a tool version. The newest version by semver ordering
// becomes the latest.
func (r *Registry) Register(tool Tool) error {
	spec := tool.Spec()
	version, err := semver.NewVersion(spec.Version)
	if err != nil {
		return fmt.Errorf("tool %s has invalid version %q: %w", spec.Name, spec.Version, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.tools[spec.Name] == nil {
		r.tools[spec.Name] = make(map[string]Tool)
	}
	r.tools[spec.Name][spec.Version] = tool

	if current, ok := r.latest[spec.Name]; ok {
		if cv, err := semver.NewVersion(current); err == nil && version.LessThan(cv) {
			return nil
		}
	}
	r.latest[spec.Name] = spec.Version
	return nil
}

// Resolve returns the tool matching (name, versionReq).
func (r *Registry) Resolve(name, versionReq string) (Tool, *ToolError) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	versions, ok := r.tools[name]
	if !ok {
		return nil, newToolError(CodeToolNotFound, fmt.Sprintf("tool %q is not registered", name)).
			withDetail("available_tools", r.namesLocked())
	}

	if versionReq == "" || versionReq == "latest" {
		return versions[r.latest[name]], nil
	}

	if tool, ok := versions[versionReq]; ok {
		return tool, nil
	}

	constraint, err := semver.NewConstraint(versionReq)
	if err != nil {
		return nil, r.notFoundLocked(name, versionReq, versions)
	}

	var best *semver.Version
	for v := range versions {
		parsed, err := semver.NewVersion(v)
		if err != nil {
			continue
		}
		if constraint.Check(parsed) && (best == nil || parsed.GreaterThan(best)) {
			best = parsed
		}
	}
	if best == nil {
		return nil, r.notFoundLocked(name, versionReq, versions)
	}
	return versions[best.Original()], nil
}

func (r *Registry) notFoundLocked(name, versionReq string, versions map[string]Tool) *ToolError {
	available := make([]string, 0, len(versions))
	for v := range versions {
		available = append(available, v)
	}
	sort.Strings(available)
	return newToolError(CodeToolNotFound,
		fmt.Sprintf("tool %q has no version matching %q", name, versionReq)).
		withDetail("available_versions", available)
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.namesLocked()
}

func (r *Registry) namesLocked() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Versions returns the registered versions of a tool, sorted.
func (r *Registry) Versions(name string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	versions := make([]string, 0, len(r.tools[name]))
	for v := range r.tools[name] {
		versions = append(versions, v)
	}
	sort.Strings(versions)
	return versions
}

// Specs returns the latest-version spec of every registered tool.
func (r *Registry) Specs() []ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()

	specs := make([]ToolSpec, 0, len(r.tools))
	for name, versions := range r.tools {
		specs = append(specs, versions[r.latest[name]].Spec())
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs
}

// ToolsMarkdown renders the registered tools as the bullet list embedded in
// system prompts.
func (r *Registry) ToolsMarkdown(enabled map[string]bool) string {
	var b strings.Builder
	for _, spec := range r.Specs() {
		if enabled != nil && !enabled[spec.Name] {
			continue
		}
		fmt.Fprintf(&b, "- %s: %s\n", spec.Name, spec.Description)
	}
	return strings.TrimRight(b.String(), "\n")
}
