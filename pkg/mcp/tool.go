// Package mcp implements the tool layer: a versioned tool registry, the
// gated invocation pipeline, long-running task management, result caching,
// and the safety rails (scopes, rate limits, PII scrubbing) around them.
package mcp

import (
	"context"
	"encoding/json"
	"time"
)

// ToolSpec describes a registered tool version.
type ToolSpec struct {
	Name         string          `json:"name"`
	Version      string          `json:"version"`
	DisplayName  string          `json:"display_name,omitempty"`
	Category     string          `json:"category"`
	Description  string          `json:"description"`
	Capabilities []string        `json:"capabilities,omitempty"`
	Tags         []string        `json:"tags,omitempty"`
	Owner        string          `json:"owner,omitempty"`
	InputSchema  json.RawMessage `json:"input_schema,omitempty"`
	OutputSchema json.RawMessage `json:"output_schema,omitempty"`

	// TimeoutMs bounds a single execution.
	TimeoutMs int `json:"timeout_ms"`

	// RateLimit overrides the dispatcher-wide per-minute window when > 0.
	RateLimit int `json:"rate_limit,omitempty"`

	// MaxPayloadKB tightens the dispatcher-wide payload cap when > 0.
	MaxPayloadKB int `json:"max_payload_size_kb,omitempty"`

	// RequiresAuth rejects invocations without an authenticated caller.
	RequiresAuth bool `json:"requires_auth"`

	// CacheTTL bounds how long results stay cached; zero disables caching.
	CacheTTL time.Duration `json:"-"`

	// Operations are the named sub-operations the tool declares; used for
	// duration estimation of queued tasks.
	Operations []string `json:"operations,omitempty"`
}

// InvocationContext identifies the caller of a tool.
type InvocationContext struct {
	UserID   string
	Username string
	IsAdmin  bool
	Scopes   []string

	// TaskID is set when the invocation runs inside a queued task.
	TaskID string

	// Checkpoint returns a non-nil error when the surrounding task was
	// cancelled. Long-running tools poll it between phases; nil-safe.
	Checkpoint func() error
}

// CheckCancelled is the nil-safe form of Checkpoint.
func (ic *InvocationContext) CheckCancelled() error {
	if ic == nil || ic.Checkpoint == nil {
		return nil
	}
	return ic.Checkpoint()
}

// Tool is one executable tool version.
type Tool interface {
	Spec() ToolSpec
	Invoke(ctx context.Context, payload map[string]any, ic *InvocationContext) (any, error)
}
