package response

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/saptiva-ai/copilotos/pkg/models"
)

func TestBuilder(t *testing.T) {
	t.Run("fluent accumulation", func(t *testing.T) {
		body := NewBuilder().
			ChatID("chat-1").
			Content("hola").
			Model("Saptiva Turbo").
			Tokens(&models.TokenUsage{Prompt: 10, Completion: 5, Total: 15}).
			Latency(123.456).
			Build()

		assert.Equal(t, "chat-1", body["chat_id"])
		assert.Equal(t, "hola", body["content"])
		assert.Equal(t, 123.46, body["latency_ms"], "latency rounded to two decimals")
		assert.Equal(t, map[string]int{"prompt": 10, "completion": 5, "total": 15}, body["tokens"])
	})

	t.Run("empty optionals omitted", func(t *testing.T) {
		body := NewBuilder().ResearchTaskID("").SessionTitle("").Tokens(nil).Build()
		assert.NotContains(t, body, "research_task_id")
		assert.NotContains(t, body, "session_title")
		assert.NotContains(t, body, "tokens")
	})
}

func TestFromProcessingResult(t *testing.T) {
	t.Run("long content with artifact replaced by summary sentence", func(t *testing.T) {
		result := &models.ChatProcessingResult{
			SanitizedContent: strings.Repeat("hallazgo ", 50),
			Metadata: models.MessageMetadata{
				ChatID: "chat-1",
				DecisionMetadata: map[string]any{
					"audit_artifact": map[string]any{"findings": 3},
				},
			},
		}
		body := NewBuilder().FromProcessingResult(result).Build()

		assert.Equal(t, artifactSummarySentence, body["content"])
		assert.NotNil(t, body["artifact"])
	})

	t.Run("short content with artifact kept inline", func(t *testing.T) {
		result := &models.ChatProcessingResult{
			SanitizedContent: "Auditoría completada sin hallazgos.",
			Metadata: models.MessageMetadata{
				DecisionMetadata: map[string]any{"audit_artifact": map[string]any{}},
			},
		}
		body := NewBuilder().FromProcessingResult(result).Build()

		assert.Equal(t, "Auditoría completada sin hallazgos.", body["content"])
		assert.NotNil(t, body["artifact"])
	})

	t.Run("no artifact passes content through", func(t *testing.T) {
		result := &models.ChatProcessingResult{
			SanitizedContent: "respuesta normal",
			Metadata:         models.MessageMetadata{ModelUsed: "default"},
		}
		body := NewBuilder().FromProcessingResult(result).Build()

		assert.Equal(t, "respuesta normal", body["content"])
		assert.NotContains(t, body, "artifact")
	})
}

func TestNoStoreHeaders(t *testing.T) {
	headers := NoStoreHeaders()
	assert.Equal(t, "no-store, no-cache, must-revalidate, max-age=0", headers["Cache-Control"])
	assert.Equal(t, "no-cache", headers["Pragma"])
	assert.Equal(t, "0", headers["Expires"])
}
