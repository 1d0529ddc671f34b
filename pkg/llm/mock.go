package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/saptiva-ai/copilotos/pkg/models"
)

// MockClient produces deterministic canned completions for local development
// and tests. Selected with SAPTIVA_FORCE_MOCK=true.
type MockClient struct{}

func NewMock() *MockClient { return &MockClient{} }

func (m *MockClient) ChatCompletionOrStream(ctx context.Context, req Request) (<-chan Event, error) {
	content := m.reply(req)

	events := make(chan Event, len(content)+1)
	go func() {
		defer close(events)

		if req.Stream {
			for _, word := range strings.SplitAfter(content, " ") {
				select {
				case events <- Event{Type: EventChunk, Content: word}:
				case <-ctx.Done():
					return
				}
			}
		}
		events <- Event{
			Type:    EventFinal,
			Content: content,
			Usage: &models.TokenUsage{
				Prompt:     estimateTokens(req.Messages),
				Completion: len(strings.Fields(content)),
				Total:      estimateTokens(req.Messages) + len(strings.Fields(content)),
			},
		}
	}()
	return events, nil
}

func (m *MockClient) reply(req Request) string {
	var last string
	for _, msg := range req.Messages {
		if msg.Role == "user" {
			last = msg.Content
		}
	}
	return fmt.Sprintf("[respuesta simulada de %s] He recibido tu mensaje: %q", req.Model, truncate(last, 120))
}

func estimateTokens(messages []models.LLMMessage) int {
	total := 0
	for _, m := range messages {
		total += len(strings.Fields(m.Content))
	}
	return total
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
