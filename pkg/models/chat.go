// Package models contains request/response models and business domain types.
package models

import "time"

// ChatContext is the immutable per-request context for a chat message.
// Derivations (e.g. after session resolution) must go through With* methods,
// which return a new value instead of mutating the receiver.
type ChatContext struct {
	UserID       string         `json:"user_id"`
	RequestID    string         `json:"request_id"`
	Timestamp    time.Time      `json:"timestamp"`
	ChatID       string         `json:"chat_id,omitempty"`
	SessionID    string         `json:"session_id,omitempty"`
	Message      string         `json:"message"`
	PriorContext []LLMMessage   `json:"prior_context,omitempty"`
	Model        string         `json:"model"`
	Channel      string         `json:"channel,omitempty"`
	ToolsEnabled map[string]bool `json:"tools_enabled,omitempty"`
	Stream       bool           `json:"stream"`
	DocumentIDs  []string       `json:"document_ids,omitempty"`
	ToolResults  map[string]any `json:"tool_results,omitempty"`

	Temperature *float64 `json:"temperature,omitempty"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`

	KillSwitchActive bool `json:"kill_switch_active"`
}

// WithSessionID returns a copy of the context with the session id resolved.
func (c ChatContext) WithSessionID(sessionID string) ChatContext {
	c.SessionID = sessionID
	return c
}

// WithChatID returns a copy of the context bound to a chat.
func (c ChatContext) WithChatID(chatID string) ChatContext {
	c.ChatID = chatID
	return c
}

// WithToolResult returns a copy of the context carrying an additional tool result.
func (c ChatContext) WithToolResult(name string, result any) ChatContext {
	merged := make(map[string]any, len(c.ToolResults)+1)
	for k, v := range c.ToolResults {
		merged[k] = v
	}
	merged[name] = result
	c.ToolResults = merged
	return c
}

// LLMMessage is a single turn in the upstream conversation array.
type LLMMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// TokenUsage is the prompt/completion/total token breakdown from the upstream API.
type TokenUsage struct {
	Prompt     int `json:"prompt"`
	Completion int `json:"completion"`
	Total      int `json:"total"`
}

// MessageMetadata carries identifiers and accounting for a processed message.
type MessageMetadata struct {
	MessageID          string         `json:"message_id"`
	ChatID             string         `json:"chat_id"`
	UserMessageID      string         `json:"user_message_id,omitempty"`
	AssistantMessageID string         `json:"assistant_message_id,omitempty"`
	ModelUsed          string         `json:"model_used"`
	TokensUsed         *TokenUsage    `json:"tokens_used,omitempty"`
	LatencyMs          float64        `json:"latency_ms,omitempty"`
	DecisionMetadata   map[string]any `json:"decision_metadata,omitempty"`
}

// ChatProcessingResult is the outcome of running a message through the handler chain.
type ChatProcessingResult struct {
	Content          string          `json:"content"`
	SanitizedContent string          `json:"sanitized_content"`
	Metadata         MessageMetadata `json:"metadata"`
	ProcessingTimeMs float64         `json:"processing_time_ms"`
	StrategyUsed     string          `json:"strategy_used"`
	ResearchTriggered bool           `json:"research_triggered"`
	TaskID           string          `json:"task_id,omitempty"`
	SessionTitle     string          `json:"session_title,omitempty"`
	SessionUpdated   bool            `json:"session_updated"`
}

// SendMessageRequest is the HTTP request body for POST /api/chat.
type SendMessageRequest struct {
	Message      string          `json:"message"`
	Model        string          `json:"model"`
	Channel      string          `json:"channel,omitempty"`
	ToolsEnabled map[string]bool `json:"tools_enabled,omitempty"`
	DocumentIDs  []string        `json:"document_ids,omitempty"`
	ChatID       string          `json:"chat_id,omitempty"`
	Stream       bool            `json:"stream,omitempty"`
	Temperature  *float64        `json:"temperature,omitempty"`
	MaxTokens    *int            `json:"max_tokens,omitempty"`
}
