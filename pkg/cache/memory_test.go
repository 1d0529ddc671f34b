package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCache(t *testing.T) {
	ctx := context.Background()
	c := NewMemory()
	t.Cleanup(func() { _ = c.Close() })

	t.Run("set and get", func(t *testing.T) {
		require.NoError(t, c.Set(ctx, "k1", "v1", 0))

		value, ok, err := c.Get(ctx, "k1")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "v1", value)
	})

	t.Run("missing key is not an error", func(t *testing.T) {
		_, ok, err := c.Get(ctx, "missing")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("expired entry is dropped on read", func(t *testing.T) {
		require.NoError(t, c.Set(ctx, "short", "v", time.Millisecond))
		time.Sleep(5 * time.Millisecond)

		_, ok, err := c.Get(ctx, "short")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("delete removes keys", func(t *testing.T) {
		require.NoError(t, c.Set(ctx, "d1", "v", 0))
		require.NoError(t, c.Set(ctx, "d2", "v", 0))
		require.NoError(t, c.Delete(ctx, "d1", "d2", "never-existed"))

		_, ok, _ := c.Get(ctx, "d1")
		assert.False(t, ok)
	})

	t.Run("keys matches glob patterns", func(t *testing.T) {
		require.NoError(t, c.Set(ctx, "mcp:tool:audit_file:doc1:aaaa", "v", 0))
		require.NoError(t, c.Set(ctx, "mcp:tool:excel_analyzer:doc1:bbbb", "v", 0))
		require.NoError(t, c.Set(ctx, "mcp:tool:audit_file:doc2:cccc", "v", 0))

		keys, err := c.Keys(ctx, "mcp:tool:*:doc1:*")
		require.NoError(t, err)
		assert.Len(t, keys, 2)

		keys, err = c.Keys(ctx, "mcp:tool:audit_file:*")
		require.NoError(t, err)
		assert.Len(t, keys, 2)
	})
}
