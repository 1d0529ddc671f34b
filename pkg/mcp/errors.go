package mcp

import "fmt"

// Error codes carried in tool error responses.
const (
	CodeValidationError  = "VALIDATION_ERROR"
	CodeInvalidInput     = "INVALID_INPUT"
	CodePermissionDenied = "PERMISSION_DENIED"
	CodeRateLimit        = "RATE_LIMIT"
	CodeToolNotFound     = "TOOL_NOT_FOUND"
	CodeTimeout          = "TIMEOUT"
	CodeExecutionError   = "EXECUTION_ERROR"
)

// ToolError is the structured failure every pipeline gate emits. Gates never
// leak raw errors to callers.
type ToolError struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Retriable bool           `json:"retriable"`
	Details   map[string]any `json:"details,omitempty"`
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func newToolError(code, message string) *ToolError {
	return &ToolError{Code: code, Message: message}
}

func (e *ToolError) withDetail(key string, value any) *ToolError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// InvalidInputError marks tool-internal validation failures so the executor
// maps them to INVALID_INPUT instead of EXECUTION_ERROR.
type InvalidInputError struct {
	Reason string
}

func (e *InvalidInputError) Error() string { return e.Reason }

// PermissionError marks permission failures surfaced inside a tool.
type PermissionError struct {
	Reason string
}

func (e *PermissionError) Error() string { return e.Reason }
