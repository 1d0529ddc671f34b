package mcp

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubTool struct {
	spec   ToolSpec
	invoke func(ctx context.Context, payload map[string]any, ic *InvocationContext) (any, error)
}

func (s *stubTool) Spec() ToolSpec { return s.spec }

func (s *stubTool) Invoke(ctx context.Context, payload map[string]any, ic *InvocationContext) (any, error) {
	if s.invoke == nil {
		return map[string]any{"ok": true}, nil
	}
	return s.invoke(ctx, payload, ic)
}

func tool(name, version string) *stubTool {
	return &stubTool{spec: ToolSpec{Name: name, Version: version, TimeoutMs: 5000}}
}

func TestRegistryResolve(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(tool("audit_file", "1.0.0")))
	require.NoError(t, r.Register(tool("audit_file", "1.2.0")))
	require.NoError(t, r.Register(tool("audit_file", "2.0.0")))
	require.NoError(t, r.Register(tool("excel_analyzer", "1.0.0")))

	t.Run("empty version resolves latest", func(t *testing.T) {
		got, toolErr := r.Resolve("audit_file", "")
		require.Nil(t, toolErr)
		assert.Equal(t, "2.0.0", got.Spec().Version)
	})

	t.Run("latest keyword", func(t *testing.T) {
		got, toolErr := r.Resolve("audit_file", "latest")
		require.Nil(t, toolErr)
		assert.Equal(t, "2.0.0", got.Spec().Version)
	})

	t.Run("exact version", func(t *testing.T) {
		got, toolErr := r.Resolve("audit_file", "1.0.0")
		require.Nil(t, toolErr)
		assert.Equal(t, "1.0.0", got.Spec().Version)
	})

	t.Run("caret range picks highest compatible", func(t *testing.T) {
		got, toolErr := r.Resolve("audit_file", "^1.0.0")
		require.Nil(t, toolErr)
		assert.Equal(t, "1.2.0", got.Spec().Version)
	})

	t.Run("tilde range", func(t *testing.T) {
		got, toolErr := r.Resolve("audit_file", "~1.2.0")
		require.Nil(t, toolErr)
		assert.Equal(t, "1.2.0", got.Spec().Version)
	})

	t.Run("unsatisfiable range lists available versions", func(t *testing.T) {
		_, toolErr := r.Resolve("audit_file", "^3.0.0")
		require.NotNil(t, toolErr)
		assert.Equal(t, CodeToolNotFound, toolErr.Code)
		assert.Equal(t, []string{"1.0.0", "1.2.0", "2.0.0"}, toolErr.Details["available_versions"])
	})

	t.Run("unknown tool", func(t *testing.T) {
		_, toolErr := r.Resolve("desconocida", "")
		require.NotNil(t, toolErr)
		assert.Equal(t, CodeToolNotFound, toolErr.Code)
	})

	t.Run("registering an older version keeps latest", func(t *testing.T) {
		require.NoError(t, r.Register(tool("audit_file", "1.1.0")))
		got, toolErr := r.Resolve("audit_file", "")
		require.Nil(t, toolErr)
		assert.Equal(t, "2.0.0", got.Spec().Version)
	})
}

func TestToolsMarkdown(t *testing.T) {
	r := NewRegistry()
	a := tool("audit_file", "1.0.0")
	a.spec.Description = "audita documentos"
	b := tool("excel_analyzer", "1.0.0")
	b.spec.Description = "analiza hojas de cálculo"
	require.NoError(t, r.Register(a))
	require.NoError(t, r.Register(b))

	t.Run("all tools", func(t *testing.T) {
		md := r.ToolsMarkdown(nil)
		assert.Equal(t, "- audit_file: audita documentos\n- excel_analyzer: analiza hojas de cálculo", md)
	})

	t.Run("filtered by enabled set", func(t *testing.T) {
		md := r.ToolsMarkdown(map[string]bool{"excel_analyzer": true})
		assert.Equal(t, "- excel_analyzer: analiza hojas de cálculo", md)
	})
}

func TestLazyRegistry(t *testing.T) {
	lazy := NewLazyRegistry()
	built := 0
	lazy.Announce("audit_file", "documents", "audita documentos", func() (Tool, error) {
		built++
		return tool("audit_file", "1.0.0"), nil
	})
	lazy.Announce("excel_analyzer", "documents", "analiza hojas", func() (Tool, error) {
		built++
		return tool("excel_analyzer", "1.0.0"), nil
	})

	t.Run("discover does not construct tools", func(t *testing.T) {
		infos := lazy.Discover("", "")
		require.Len(t, infos, 2)
		assert.Zero(t, built)
		assert.False(t, infos[0].Loaded)
	})

	t.Run("discover filters by search", func(t *testing.T) {
		infos := lazy.Discover("", "hojas")
		require.Len(t, infos, 1)
		assert.Equal(t, "excel_analyzer", infos[0].Name)
	})

	t.Run("spec read forces a single load", func(t *testing.T) {
		spec, err := lazy.GetToolSpec("audit_file")
		require.NoError(t, err)
		assert.Equal(t, "audit_file", spec.Name)
		assert.Equal(t, 1, built)

		_, err = lazy.GetToolSpec("audit_file")
		require.NoError(t, err)
		assert.Equal(t, 1, built, "second read reuses the instance")
	})

	t.Run("stats report memory efficiency", func(t *testing.T) {
		stats := lazy.Stats()
		assert.Equal(t, 2, stats.ToolsDiscovered)
		assert.Equal(t, 1, stats.ToolsLoaded)
		assert.InDelta(t, 0.5, stats.MemoryEfficiency, 1e-9)
	})

	t.Run("unload frees the instance", func(t *testing.T) {
		assert.True(t, lazy.Unload("audit_file"))
		assert.False(t, lazy.Unload("audit_file"), "second unload is a no-op")

		_, err := lazy.GetToolSpec("audit_file")
		require.NoError(t, err)
		assert.Equal(t, 2, built, "factory rebuilds after unload")
	})

	t.Run("unknown tool", func(t *testing.T) {
		_, err := lazy.Load("fantasma")
		assert.Error(t, err)
	})
}
