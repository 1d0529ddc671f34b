package models

import "time"

// TaskStatus is the lifecycle state of a long-running tool invocation.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"
)

// IsTerminal reports whether the status accepts no further transitions.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	}
	return false
}

// TaskPriority orders pending tasks for execution.
type TaskPriority string

const (
	TaskPriorityLow    TaskPriority = "low"
	TaskPriorityNormal TaskPriority = "normal"
	TaskPriorityHigh   TaskPriority = "high"
)

// Task is a long-running tool invocation governed by the task manager.
// Lifecycle: pending → running → {completed, failed, cancelled}.
// Only the background executor mutates lifecycle fields of a given task.
type Task struct {
	ID                    string         `json:"task_id"`
	Tool                  string         `json:"tool"`
	Payload               map[string]any `json:"payload"`
	Status                TaskStatus     `json:"status"`
	Priority              TaskPriority   `json:"priority"`
	UserID                string         `json:"user_id"`
	CreatedAt             time.Time      `json:"created_at"`
	StartedAt             *time.Time     `json:"started_at,omitempty"`
	CompletedAt           *time.Time     `json:"completed_at,omitempty"`
	Progress              float64        `json:"progress"`
	ProgressMessage       string         `json:"progress_message,omitempty"`
	Result                any            `json:"result,omitempty"`
	Error                 string         `json:"error,omitempty"`
	CancellationRequested bool           `json:"cancellation_requested"`
}

// Clone returns a snapshot safe to hand out while the executor keeps mutating
// the original.
func (t *Task) Clone() *Task {
	cp := *t
	return &cp
}
