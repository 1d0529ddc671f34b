package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/saptiva-ai/copilotos/pkg/models"
)

var (
	// ErrTaskNotFound covers unknown ids and tasks owned by someone else.
	ErrTaskNotFound = errors.New("task not found")

	// ErrTaskCancelled is returned by cancellation checkpoints.
	ErrTaskCancelled = errors.New("task cancelled")
)

// DefaultTaskTTL is how long terminal tasks stay queryable.
const DefaultTaskTTL = 24 * time.Hour

// DefaultCleanupInterval is how often the reaper runs.
const DefaultCleanupInterval = time.Hour

// TaskRunner executes the queued invocation. The ic carries a Checkpoint
// wired to the task's cancellation flag.
type TaskRunner func(ctx context.Context, task *models.Task, ic *InvocationContext) (any, error)

// TaskManager tracks long-running tool invocations. It is a process-wide
// singleton; for a given task only the executor goroutine mutates lifecycle
// fields, readers get snapshots.
type TaskManager struct {
	mu    sync.RWMutex
	tasks map[string]*models.Task

	ttl             time.Duration
	cleanupInterval time.Duration
	metrics         *Metrics
	logger          *slog.Logger

	stopCh chan struct{}
	done   chan struct{}
	wg     sync.WaitGroup
}

func NewTaskManager(ttl, cleanupInterval time.Duration, metrics *Metrics) *TaskManager {
	if ttl <= 0 {
		ttl = DefaultTaskTTL
	}
	if cleanupInterval <= 0 {
		cleanupInterval = DefaultCleanupInterval
	}
	return &TaskManager{
		tasks:           make(map[string]*models.Task),
		ttl:             ttl,
		cleanupInterval: cleanupInterval,
		metrics:         metrics,
		logger:          slog.With("component", "task_manager"),
		stopCh:          make(chan struct{}),
		done:            make(chan struct{}),
	}
}

// Start launches the periodic terminal-task reaper.
func (tm *TaskManager) Start() {
	go func() {
		defer close(tm.done)
		ticker := time.NewTicker(tm.cleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				removed := tm.Cleanup(time.Now())
				if removed > 0 {
					tm.logger.Info("Expired terminal tasks removed", "count", removed)
				}
			case <-tm.stopCh:
				return
			}
		}
	}()
}

// Stop halts the reaper and waits for in-flight executors.
func (tm *TaskManager) Stop() {
	close(tm.stopCh)
	<-tm.done
	tm.wg.Wait()
}

// Enqueue registers a pending task and launches its executor.
func (tm *TaskManager) Enqueue(tool Tool, payload map[string]any, priority models.TaskPriority, ic *InvocationContext, run TaskRunner) *models.Task {
	if priority == "" {
		priority = models.TaskPriorityNormal
	}
	task := &models.Task{
		ID:        uuid.New().String(),
		Tool:      tool.Spec().Name,
		Payload:   payload,
		Status:    models.TaskStatusPending,
		Priority:  priority,
		UserID:    ic.UserID,
		CreatedAt: time.Now().UTC(),
	}

	tm.mu.Lock()
	tm.tasks[task.ID] = task
	tm.mu.Unlock()

	if tm.metrics != nil {
		tm.metrics.TasksCreated.WithLabelValues(task.Tool).Inc()
	}

	tm.wg.Add(1)
	go tm.execute(task.ID, tool, ic, run)

	return task.Clone()
}

func (tm *TaskManager) execute(taskID string, tool Tool, ic *InvocationContext, run TaskRunner) {
	defer tm.wg.Done()

	task := tm.markRunning(taskID)
	if task == nil {
		return
	}

	execIC := *ic
	execIC.TaskID = taskID
	execIC.Checkpoint = func() error {
		if tm.IsCancellationRequested(taskID) {
			return ErrTaskCancelled
		}
		return nil
	}

	timeout := time.Duration(tool.Spec().TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	result, err := run(ctx, task, &execIC)
	switch {
	case errors.Is(err, ErrTaskCancelled):
		tm.markCancelled(taskID)
	case err != nil:
		tm.markFailed(taskID, err)
	default:
		tm.markCompleted(taskID, result)
	}
}

func (tm *TaskManager) markRunning(taskID string) *models.Task {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	task, ok := tm.tasks[taskID]
	if !ok {
		return nil
	}
	if task.CancellationRequested {
		tm.transitionLocked(task, models.TaskStatusCancelled)
		return nil
	}
	now := time.Now().UTC()
	task.Status = models.TaskStatusRunning
	task.StartedAt = &now
	return task.Clone()
}

func (tm *TaskManager) markCompleted(taskID string, result any) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	if task, ok := tm.tasks[taskID]; ok && !task.Status.IsTerminal() {
		task.Result = result
		task.Progress = 1.0
		tm.transitionLocked(task, models.TaskStatusCompleted)
	}
}

func (tm *TaskManager) markFailed(taskID string, err error) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	if task, ok := tm.tasks[taskID]; ok && !task.Status.IsTerminal() {
		task.Error = err.Error()
		tm.transitionLocked(task, models.TaskStatusFailed)
	}
}

func (tm *TaskManager) markCancelled(taskID string) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	if task, ok := tm.tasks[taskID]; ok && !task.Status.IsTerminal() {
		tm.transitionLocked(task, models.TaskStatusCancelled)
	}
}

func (tm *TaskManager) transitionLocked(task *models.Task, status models.TaskStatus) {
	now := time.Now().UTC()
	task.Status = status
	task.CompletedAt = &now
	if tm.metrics != nil {
		tm.metrics.TasksFinished.WithLabelValues(task.Tool, string(status)).Inc()
	}
}

// SetProgress updates a running task's progress; values never regress.
func (tm *TaskManager) SetProgress(taskID string, progress float64, message string) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	task, ok := tm.tasks[taskID]
	if !ok || task.Status.IsTerminal() {
		return
	}
	if progress > task.Progress {
		task.Progress = progress
	}
	if message != "" {
		task.ProgressMessage = message
	}
}

// Get returns an owner-checked snapshot of a task.
func (tm *TaskManager) Get(taskID, userID string) (*models.Task, error) {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	task, ok := tm.tasks[taskID]
	if !ok || task.UserID != userID {
		return nil, ErrTaskNotFound
	}
	return task.Clone(), nil
}

// List returns snapshots of the user's tasks, newest first, optionally
// filtered by status and tool.
func (tm *TaskManager) List(userID string, status models.TaskStatus, tool string) []*models.Task {
	tm.mu.RLock()
	defer tm.mu.RUnlock()

	var out []*models.Task
	for _, task := range tm.tasks {
		if task.UserID != userID {
			continue
		}
		if status != "" && task.Status != status {
			continue
		}
		if tool != "" && task.Tool != tool {
			continue
		}
		out = append(out, task.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// Cancel requests cancellation. Terminal tasks are left untouched; the call
// is idempotent either way.
func (tm *TaskManager) Cancel(taskID, userID string) (*models.Task, error) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	task, ok := tm.tasks[taskID]
	if !ok || task.UserID != userID {
		return nil, ErrTaskNotFound
	}
	if !task.Status.IsTerminal() && !task.CancellationRequested {
		task.CancellationRequested = true
		if tm.metrics != nil {
			tm.metrics.TasksCancelRequested.WithLabelValues(task.Tool).Inc()
		}
	}
	return task.Clone(), nil
}

// IsCancellationRequested is polled by executors at checkpoints.
func (tm *TaskManager) IsCancellationRequested(taskID string) bool {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	task, ok := tm.tasks[taskID]
	return ok && task.CancellationRequested
}

// Cleanup removes terminal tasks whose completion is older than the TTL.
func (tm *TaskManager) Cleanup(now time.Time) int {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	removed := 0
	for id, task := range tm.tasks {
		if task.Status.IsTerminal() && task.CompletedAt != nil && now.Sub(*task.CompletedAt) > tm.ttl {
			delete(tm.tasks, id)
			removed++
		}
	}
	return removed
}

// EstimateDuration is the heuristic advertised on enqueue responses.
func EstimateDuration(spec ToolSpec) time.Duration {
	switch spec.Name {
	case "audit_file":
		return 5 * time.Second
	case "excel_analyzer", "bank_analytics":
		return 10*time.Second + time.Duration(len(spec.Operations))*2*time.Second
	case "data_visualization":
		return 3 * time.Second
	default:
		return 5 * time.Second
	}
}

// PollURL and CancelURL are the task endpoints advertised on enqueue.
func PollURL(taskID string) string   { return fmt.Sprintf("/api/mcp/tasks/%s", taskID) }
func CancelURL(taskID string) string { return fmt.Sprintf("/api/mcp/tasks/%s", taskID) }
