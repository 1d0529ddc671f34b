package mcp

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ToolFactory constructs a tool on first use.
type ToolFactory func() (Tool, error)

// ToolInfo is the minimal metadata discovery returns without constructing
// the tool.
type ToolInfo struct {
	Name        string `json:"name"`
	Category    string `json:"category"`
	Description string `json:"description"`
	Loaded      bool   `json:"loaded"`
}

// RegistryStats reports how much of the catalog is materialized.
type RegistryStats struct {
	ToolsDiscovered  int     `json:"tools_discovered"`
	ToolsLoaded      int     `json:"tools_loaded"`
	MemoryEfficiency float64 `json:"memory_efficiency"`
}

type lazyEntry struct {
	info    ToolInfo
	factory ToolFactory
}

// LazyRegistry defers tool construction until a tool is actually needed.
// Discovery and stats never force a load; invocation and spec reads do.
type LazyRegistry struct {
	mu      sync.Mutex
	entries map[string]*lazyEntry
	loaded  map[string]Tool
}

func NewLazyRegistry() *LazyRegistry {
	return &LazyRegistry{
		entries: make(map[string]*lazyEntry),
		loaded:  make(map[string]Tool),
	}
}

// Announce registers a tool factory with its discovery metadata.
func (r *LazyRegistry) Announce(name, category, description string, factory ToolFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[name] = &lazyEntry{
		info:    ToolInfo{Name: name, Category: category, Description: description},
		factory: factory,
	}
}

// Discover lists announced tools, optionally filtered by category and a
// case-insensitive search over name and description.
func (r *LazyRegistry) Discover(category, search string) []ToolInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	search = strings.ToLower(search)
	var out []ToolInfo
	for name, e := range r.entries {
		if category != "" && e.info.Category != category {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(e.info.Name), search) &&
			!strings.Contains(strings.ToLower(e.info.Description), search) {
			continue
		}
		info := e.info
		_, info.Loaded = r.loaded[name]
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Load returns the materialized tool, constructing it on first use.
func (r *LazyRegistry) Load(name string) (Tool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if tool, ok := r.loaded[name]; ok {
		return tool, nil
	}
	entry, ok := r.entries[name]
	if !ok {
		return nil, newToolError(CodeToolNotFound, fmt.Sprintf("tool %q is not announced", name))
	}
	tool, err := entry.factory()
	if err != nil {
		return nil, fmt.Errorf("failed to load tool %s: %w", name, err)
	}
	r.loaded[name] = tool
	return tool, nil
}

// GetToolSpec forces a load and returns the spec.
func (r *LazyRegistry) GetToolSpec(name string) (ToolSpec, error) {
	tool, err := r.Load(name)
	if err != nil {
		return ToolSpec{}, err
	}
	return tool.Spec(), nil
}

// Unload frees a cached tool instance. The factory rebuilds it on demand.
func (r *LazyRegistry) Unload(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.loaded[name]; !ok {
		return false
	}
	delete(r.loaded, name)
	return true
}

// Stats reports discovery/load counts and the share of the catalog that was
// never materialized.
func (r *LazyRegistry) Stats() RegistryStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := RegistryStats{
		ToolsDiscovered: len(r.entries),
		ToolsLoaded:     len(r.loaded),
	}
	if stats.ToolsDiscovered > 0 {
		stats.MemoryEfficiency = float64(stats.ToolsDiscovered-stats.ToolsLoaded) / float64(stats.ToolsDiscovered)
	}
	return stats
}
