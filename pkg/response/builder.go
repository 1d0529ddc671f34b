// Package response assembles the chat API response body. The builder is a
// fluent accumulator so handlers compose responses field by field and the
// envelope stays uniform across endpoints.
package response

import (
	"math"

	"github.com/saptiva-ai/copilotos/pkg/models"
)

// artifactSummarySentence replaces a bulky artifact body in the chat content.
const artifactSummarySentence = "He generado el informe de auditoría; puedes consultarlo en el panel de artefactos."

// artifactInlineLimit is the sanitized-content length under which the
// original content is kept alongside the artifact.
const artifactInlineLimit = 300

// Builder accumulates the response payload.
type Builder struct {
	body map[string]any
}

func NewBuilder() *Builder {
	return &Builder{body: make(map[string]any)}
}

func (b *Builder) ChatID(id string) *Builder {
	b.body["chat_id"] = id
	return b
}

func (b *Builder) Content(content string) *Builder {
	b.body["content"] = content
	return b
}

func (b *Builder) MessageID(id string) *Builder {
	b.body["message_id"] = id
	return b
}

func (b *Builder) Model(model string) *Builder {
	b.body["model"] = model
	return b
}

func (b *Builder) Tokens(usage *models.TokenUsage) *Builder {
	if usage != nil {
		b.body["tokens"] = map[string]int{
			"prompt":     usage.Prompt,
			"completion": usage.Completion,
			"total":      usage.Total,
		}
	}
	return b
}

// Latency stores the latency rounded to two decimals.
func (b *Builder) Latency(ms float64) *Builder {
	b.body["latency_ms"] = math.Round(ms*100) / 100
	return b
}

func (b *Builder) DecisionMetadata(meta map[string]any) *Builder {
	if len(meta) > 0 {
		b.body["decision_metadata"] = meta
	}
	return b
}

func (b *Builder) Artifact(artifact any) *Builder {
	if artifact != nil {
		b.body["artifact"] = artifact
	}
	return b
}

func (b *Builder) ResearchTaskID(taskID string) *Builder {
	if taskID != "" {
		b.body["research_task_id"] = taskID
	}
	return b
}

func (b *Builder) SessionTitle(title string) *Builder {
	if title != "" {
		b.body["session_title"] = title
	}
	return b
}

func (b *Builder) Meta(key string, value any) *Builder {
	b.body[key] = value
	return b
}

func (b *Builder) Error(message string) *Builder {
	b.body["error"] = message
	return b
}

// FromProcessingResult maps a handler-chain result into the response. When
// the result carries an audit artifact, the bulky markdown body is replaced
// with a short sentence unless the sanitized content is already brief.
func (b *Builder) FromProcessingResult(result *models.ChatProcessingResult) *Builder {
	content := result.SanitizedContent

	artifact := result.Metadata.DecisionMetadata["audit_artifact"]
	if artifact != nil {
		if len([]rune(content)) >= artifactInlineLimit {
			content = artifactSummarySentence
		}
		b.Artifact(artifact)
	}

	b.Content(content).
		ChatID(result.Metadata.ChatID).
		MessageID(result.Metadata.MessageID).
		Model(result.Metadata.ModelUsed).
		Tokens(result.Metadata.TokensUsed).
		Latency(result.Metadata.LatencyMs).
		DecisionMetadata(result.Metadata.DecisionMetadata).
		ResearchTaskID(result.TaskID).
		SessionTitle(result.SessionTitle)
	return b
}

// Build returns the accumulated payload.
func (b *Builder) Build() map[string]any {
	return b.body
}

// NoStoreHeaders are forced onto every API response so intermediaries never
// cache conversation data.
func NoStoreHeaders() map[string]string {
	return map[string]string{
		"Cache-Control": "no-store, no-cache, must-revalidate, max-age=0",
		"Pragma":        "no-cache",
		"Expires":       "0",
	}
}
