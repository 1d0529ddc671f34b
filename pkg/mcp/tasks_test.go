package mcp

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saptiva-ai/copilotos/pkg/cache"
	"github.com/saptiva-ai/copilotos/pkg/models"
)

func waitTerminal(t *testing.T, tm *TaskManager, taskID, userID string) *models.Task {
	t.Helper()
	require.Eventually(t, func() bool {
		got, err := tm.Get(taskID, userID)
		return err == nil && got.Status.IsTerminal()
	}, 2*time.Second, 5*time.Millisecond)
	got, err := tm.Get(taskID, userID)
	require.NoError(t, err)
	return got
}

func TestTaskLifecycle(t *testing.T) {
	t.Run("success path", func(t *testing.T) {
		tm := NewTaskManager(time.Hour, time.Hour, nil)

		task := tm.Enqueue(tool("audit_file", "1.0.0"), map[string]any{"document_id": "d1"},
			models.TaskPriorityNormal, userContext(),
			func(context.Context, *models.Task, *InvocationContext) (any, error) {
				return "resultado", nil
			})
		assert.Equal(t, models.TaskStatusPending, task.Status)

		got := waitTerminal(t, tm, task.ID, "user-1")
		assert.Equal(t, models.TaskStatusCompleted, got.Status)
		assert.Equal(t, "resultado", got.Result)
		assert.Equal(t, 1.0, got.Progress)
		assert.NotNil(t, got.StartedAt)
		assert.NotNil(t, got.CompletedAt)
	})

	t.Run("failure path", func(t *testing.T) {
		tm := NewTaskManager(time.Hour, time.Hour, nil)

		task := tm.Enqueue(tool("audit_file", "1.0.0"), nil,
			models.TaskPriorityNormal, userContext(),
			func(context.Context, *models.Task, *InvocationContext) (any, error) {
				return nil, &InvalidInputError{Reason: "documento vacío"}
			})

		got := waitTerminal(t, tm, task.ID, "user-1")
		assert.Equal(t, models.TaskStatusFailed, got.Status)
		assert.Contains(t, got.Error, "documento vacío")
	})

	t.Run("owner check", func(t *testing.T) {
		tm := NewTaskManager(time.Hour, time.Hour, nil)
		task := tm.Enqueue(tool("audit_file", "1.0.0"), nil,
			models.TaskPriorityNormal, userContext(),
			func(context.Context, *models.Task, *InvocationContext) (any, error) {
				return nil, nil
			})

		_, err := tm.Get(task.ID, "otro-usuario")
		assert.ErrorIs(t, err, ErrTaskNotFound)
		_, err = tm.Cancel(task.ID, "otro-usuario")
		assert.ErrorIs(t, err, ErrTaskNotFound)
	})
}

func TestTaskCancellation(t *testing.T) {
	t.Run("checkpoint observes cancellation", func(t *testing.T) {
		tm := NewTaskManager(time.Hour, time.Hour, nil)
		started := make(chan string)
		release := make(chan struct{})

		task := tm.Enqueue(tool("audit_file", "1.0.0"), nil,
			models.TaskPriorityNormal, userContext(),
			func(ctx context.Context, task *models.Task, ic *InvocationContext) (any, error) {
				started <- task.ID
				<-release
				if err := ic.CheckCancelled(); err != nil {
					return nil, err
				}
				return "nunca", nil
			})

		taskID := <-started
		_, err := tm.Cancel(taskID, "user-1")
		require.NoError(t, err)
		close(release)

		got := waitTerminal(t, tm, task.ID, "user-1")
		assert.Equal(t, models.TaskStatusCancelled, got.Status)
	})

	t.Run("cancel is idempotent", func(t *testing.T) {
		tm := NewTaskManager(time.Hour, time.Hour, nil)
		task := tm.Enqueue(tool("audit_file", "1.0.0"), nil,
			models.TaskPriorityNormal, userContext(),
			func(context.Context, *models.Task, *InvocationContext) (any, error) {
				return "ok", nil
			})

		got := waitTerminal(t, tm, task.ID, "user-1")
		require.Equal(t, models.TaskStatusCompleted, got.Status)

		// Cancelling a terminal task changes nothing and does not error.
		snap, err := tm.Cancel(task.ID, "user-1")
		require.NoError(t, err)
		assert.Equal(t, models.TaskStatusCompleted, snap.Status)

		again, err := tm.Cancel(task.ID, "user-1")
		require.NoError(t, err)
		assert.Equal(t, snap.Status, again.Status)
	})

	t.Run("progress never regresses", func(t *testing.T) {
		tm := NewTaskManager(time.Hour, time.Hour, nil)
		release := make(chan struct{})
		task := tm.Enqueue(tool("audit_file", "1.0.0"), nil,
			models.TaskPriorityNormal, userContext(),
			func(ctx context.Context, task *models.Task, ic *InvocationContext) (any, error) {
				<-release
				return "ok", nil
			})

		tm.SetProgress(task.ID, 0.6, "a mitad")
		tm.SetProgress(task.ID, 0.4, "")

		got, err := tm.Get(task.ID, "user-1")
		require.NoError(t, err)
		assert.Equal(t, 0.6, got.Progress)
		assert.Equal(t, "a mitad", got.ProgressMessage)
		close(release)
		waitTerminal(t, tm, task.ID, "user-1")
	})
}

func TestTaskCleanup(t *testing.T) {
	tm := NewTaskManager(time.Hour, time.Hour, nil)

	task := tm.Enqueue(tool("audit_file", "1.0.0"), nil,
		models.TaskPriorityNormal, userContext(),
		func(context.Context, *models.Task, *InvocationContext) (any, error) {
			return "ok", nil
		})
	waitTerminal(t, tm, task.ID, "user-1")

	t.Run("fresh terminal tasks survive", func(t *testing.T) {
		assert.Zero(t, tm.Cleanup(time.Now()))
		_, err := tm.Get(task.ID, "user-1")
		assert.NoError(t, err)
	})

	t.Run("expired terminal tasks are removed", func(t *testing.T) {
		assert.Equal(t, 1, tm.Cleanup(time.Now().Add(25*time.Hour)))
		_, err := tm.Get(task.ID, "user-1")
		assert.ErrorIs(t, err, ErrTaskNotFound)
	})
}

func TestEstimateDuration(t *testing.T) {
	assert.Equal(t, 5*time.Second, EstimateDuration(ToolSpec{Name: "audit_file"}))
	assert.Equal(t, 3*time.Second, EstimateDuration(ToolSpec{Name: "data_visualization"}))
	assert.Equal(t, 14*time.Second, EstimateDuration(ToolSpec{
		Name: "excel_analyzer", Operations: []string{"summary", "statistics"},
	}))
	assert.Equal(t, 5*time.Second, EstimateDuration(ToolSpec{Name: "otra"}))
}

func TestResultCacheKeys(t *testing.T) {
	t.Run("key format and param order independence", func(t *testing.T) {
		a := CacheKey("audit_file", "doc1", map[string]any{"a": 1, "b": "x"})
		b := CacheKey("audit_file", "doc1", map[string]any{"b": "x", "a": 1})
		assert.Equal(t, a, b)
		assert.Regexp(t, `^mcp:tool:audit_file:doc1:[0-9a-f]{8}$`, a)
	})

	t.Run("distinct params produce distinct keys", func(t *testing.T) {
		a := CacheKey("audit_file", "doc1", map[string]any{"a": 1})
		b := CacheKey("audit_file", "doc1", map[string]any{"a": 2})
		assert.NotEqual(t, a, b)
	})
}

func TestResultCacheInvalidation(t *testing.T) {
	ctx := context.Background()
	c := cache.NewMemory()
	t.Cleanup(func() { _ = c.Close() })
	rc := NewResultCache(c)

	params := map[string]any{"a": 1}
	rc.Set(ctx, "audit_file", "doc1", params, "r1")
	rc.Set(ctx, "excel_analyzer", "doc1", nil, "r2")
	rc.Set(ctx, "audit_file", "doc2", params, "r3")

	t.Run("stats by tool and document", func(t *testing.T) {
		stats, err := rc.Stats(ctx, "")
		require.NoError(t, err)
		assert.Equal(t, 3, stats.TotalEntries)
		assert.Equal(t, 2, stats.ByTool["audit_file"])
		assert.Equal(t, 2, stats.ByDocument["doc1"])
	})

	t.Run("document-scoped invalidation", func(t *testing.T) {
		removed, err := rc.InvalidateDocumentToolCache(ctx, "doc1", "")
		require.NoError(t, err)
		assert.Equal(t, 2, removed)

		_, found := rc.Get(ctx, "audit_file", "doc1", params)
		assert.False(t, found)
		_, found = rc.Get(ctx, "audit_file", "doc2", params)
		assert.True(t, found)
	})

	t.Run("global invalidation", func(t *testing.T) {
		removed, err := rc.InvalidateAllToolCaches(ctx, "")
		require.NoError(t, err)
		assert.Equal(t, 1, removed)
	})
}
