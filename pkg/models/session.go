package models

import "time"

// ChatSession is a stored conversation container owned by a user.
type ChatSession struct {
	ID          string         `json:"id" bson:"_id"`
	UserID      string         `json:"user_id" bson:"user_id"`
	Title       string         `json:"title" bson:"title"`
	Model       string         `json:"model,omitempty" bson:"model,omitempty"`
	Pinned      bool           `json:"pinned" bson:"pinned"`
	CanvasState map[string]any `json:"canvas_state,omitempty" bson:"canvas_state,omitempty"`
	CreatedAt   time.Time      `json:"created_at" bson:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at" bson:"updated_at"`
}

// ChatMessage is a stored message inside a session.
type ChatMessage struct {
	ID        string         `json:"id" bson:"_id"`
	ChatID    string         `json:"chat_id" bson:"chat_id"`
	UserID    string         `json:"user_id" bson:"user_id"`
	Role      string         `json:"role" bson:"role"`
	Content   string         `json:"content" bson:"content"`
	Model     string         `json:"model,omitempty" bson:"model,omitempty"`
	TaskID    string         `json:"task_id,omitempty" bson:"task_id,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty" bson:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at" bson:"created_at"`
}

// SessionPage is a paginated slice of sessions.
type SessionPage struct {
	Sessions   []*ChatSession `json:"sessions"`
	TotalCount int            `json:"total_count"`
	HasMore    bool           `json:"has_more"`
}

// MessagePage is a paginated, newest-first slice of messages. Messages that
// reference a research task carry its latest snapshot.
type MessagePage struct {
	Messages   []*EnrichedMessage `json:"messages"`
	TotalCount int                `json:"total_count"`
	HasMore    bool               `json:"has_more"`
}

// EnrichedMessage is a stored message plus its optional research task snapshot.
type EnrichedMessage struct {
	*ChatMessage
	ResearchTask *Task `json:"research_task,omitempty"`
}

// UpdateSessionRequest carries the mutable session fields for PATCH.
type UpdateSessionRequest struct {
	Title  *string `json:"title,omitempty"`
	Pinned *bool   `json:"pinned,omitempty"`
}

// SessionFilter narrows session listings.
type SessionFilter struct {
	Search    string
	StartDate *time.Time
	EndDate   *time.Time
}
