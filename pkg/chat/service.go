// Package chat runs user messages through the handler chain, resolves
// prompts, calls the upstream model, and persists the conversation.
package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/saptiva-ai/copilotos/pkg/doccache"
	"github.com/saptiva-ai/copilotos/pkg/llm"
	"github.com/saptiva-ai/copilotos/pkg/models"
	"github.com/saptiva-ai/copilotos/pkg/prompt"
	"github.com/saptiva-ai/copilotos/pkg/store"
)

// priorContextLimit bounds how many stored turns are replayed to the model.
const priorContextLimit = 20

// maxContextSegments bounds how many retrieved segments feed one turn.
const maxContextSegments = 12

// ToolCatalog renders the enabled tools as prompt markdown.
type ToolCatalog interface {
	ToolsMarkdown(enabled map[string]bool) string
}

// Retriever narrows attached documents to the segments relevant to the
// message.
type Retriever interface {
	RetrieveContext(ctx context.Context, query, sessionID string, docs []*doccache.Extraction, maxSegments int) (*models.RetrievalResult, error)
}

// HistoryInvalidator drops cached history pages after a turn is persisted.
type HistoryInvalidator interface {
	InvalidateHistory(ctx context.Context, chatID string)
}

// StreamSink receives chunks while a streaming completion is in flight.
type StreamSink func(chunk string) error

// Service orchestrates one chat turn end to end.
type Service struct {
	prompts      *prompt.Registry
	client       llm.Client
	store        store.Store
	docs         *doccache.Service
	tools        ToolCatalog
	retriever    Retriever
	history      HistoryInvalidator
	systemPrompt bool
	logger       *slog.Logger
}

func NewService(prompts *prompt.Registry, client llm.Client, st store.Store, docs *doccache.Service, tools ToolCatalog) *Service {
	return &Service{
		prompts:      prompts,
		client:       client,
		store:        st,
		docs:         docs,
		tools:        tools,
		systemPrompt: true,
		logger:       slog.With("component", "chat"),
	}
}

// SetRetriever enables retrieval-narrowed document context.
func (s *Service) SetRetriever(r Retriever) { s.retriever = r }

// SetHistoryInvalidator registers the hook that drops cached history pages
// when a turn is persisted.
func (s *Service) SetHistoryInvalidator(h HistoryInvalidator) { s.history = h }

// SetSystemPromptEnabled toggles whether the resolved system prompt is sent
// upstream. Some fine-tuned models carry their instructions in the weights.
func (s *Service) SetSystemPromptEnabled(enabled bool) { s.systemPrompt = enabled }

// EnsureSession resolves or creates the session for a turn and returns the
// context bound to it. A new session takes its title from the message.
func (s *Service) EnsureSession(ctx context.Context, cctx models.ChatContext) (models.ChatContext, bool, error) {
	if cctx.ChatID != "" {
		session, err := s.store.GetSession(ctx, cctx.ChatID)
		if err != nil {
			return cctx, false, fmt.Errorf("failed to load session: %w", err)
		}
		if session.UserID != cctx.UserID {
			return cctx, false, ErrNotSessionOwner
		}
		return cctx.WithSessionID(session.ID), false, nil
	}

	now := time.Now().UTC()
	session := &models.ChatSession{
		ID:        uuid.New().String(),
		UserID:    cctx.UserID,
		Title:     sessionTitle(cctx.Message),
		Model:     cctx.Model,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateSession(ctx, session); err != nil {
		return cctx, false, fmt.Errorf("failed to create session: %w", err)
	}
	return cctx.WithChatID(session.ID).WithSessionID(session.ID), true, nil
}

// ProcessWithSaptiva resolves the prompt, assembles the message array, calls
// the upstream model, sanitizes the reply, and persists both turns in order.
// When sink is non-nil the upstream call streams and chunks flow to it.
func (s *Service) ProcessWithSaptiva(ctx context.Context, cctx models.ChatContext, documentContext string, sink StreamSink) (*models.ChatProcessingResult, error) {
	start := time.Now()

	toolsMarkdown := ""
	if s.tools != nil && len(cctx.ToolsEnabled) > 0 {
		toolsMarkdown = s.tools.ToolsMarkdown(cctx.ToolsEnabled)
	}

	channel := cctx.Channel
	if channel == "" {
		channel = prompt.ChannelChat
	}
	resolved, err := s.prompts.Resolve(cctx.Model, toolsMarkdown, channel)
	if err != nil {
		return nil, err
	}

	userContent := cctx.Message
	if documentContext != "" {
		userContent = cctx.Message + "\n\n" + documentContext
	}

	messages := make([]models.LLMMessage, 0, len(cctx.PriorContext)+2)
	if s.systemPrompt {
		messages = append(messages, models.LLMMessage{Role: "system", Content: resolved.System})
	}
	messages = append(messages, cctx.PriorContext...)
	messages = append(messages, models.LLMMessage{Role: "user", Content: userContent})

	req := llm.Request{
		Messages:    messages,
		Model:       cctx.Model,
		Temperature: resolved.Params.Temperature,
		TopP:        resolved.Params.TopP,
		MaxTokens:   resolved.Params.MaxTokens,
		Stream:      cctx.Stream && sink != nil,
	}
	if cctx.Temperature != nil {
		req.Temperature = *cctx.Temperature
	}
	if cctx.MaxTokens != nil {
		req.MaxTokens = *cctx.MaxTokens
	}

	events, err := s.client.ChatCompletionOrStream(ctx, req)
	if err != nil {
		return nil, err
	}

	var content string
	var usage *models.TokenUsage
	for ev := range events {
		switch ev.Type {
		case llm.EventChunk:
			if sink != nil {
				if sinkErr := sink(ev.Content); sinkErr != nil {
					return nil, fmt.Errorf("stream aborted: %w", sinkErr)
				}
			}
		case llm.EventFinal:
			if ev.Err != nil {
				return nil, ev.Err
			}
			content = ev.Content
			usage = ev.Usage
		}
	}

	sanitized := Sanitize(content)
	latency := float64(time.Since(start).Microseconds()) / 1000

	userMsgID, assistantMsgID, err := s.persistTurn(ctx, cctx, sanitized)
	if err != nil {
		return nil, err
	}

	result := &models.ChatProcessingResult{
		Content:          content,
		SanitizedContent: sanitized,
		StrategyUsed:     "simple",
		ProcessingTimeMs: latency,
		Metadata: models.MessageMetadata{
			MessageID:          assistantMsgID,
			ChatID:             cctx.ChatID,
			UserMessageID:      userMsgID,
			AssistantMessageID: assistantMsgID,
			ModelUsed:          cctx.Model,
			TokensUsed:         usage,
			LatencyMs:          latency,
			DecisionMetadata: map[string]any{
				"prompt_version": resolved.Metadata.PromptVersion,
				"system_hash":    resolved.Metadata.SystemHash,
				"has_tools":      resolved.Metadata.HasTools,
			},
		},
	}
	return result, nil
}

// persistTurn writes the user message, then the assistant message. Ordering
// within a session is guaranteed by this sequencing.
func (s *Service) persistTurn(ctx context.Context, cctx models.ChatContext, assistantContent string) (string, string, error) {
	now := time.Now().UTC()
	userMsg := &models.ChatMessage{
		ID:        uuid.New().String(),
		ChatID:    cctx.ChatID,
		UserID:    cctx.UserID,
		Role:      "user",
		Content:   cctx.Message,
		CreatedAt: now,
	}
	if err := s.store.CreateMessage(ctx, userMsg); err != nil {
		return "", "", fmt.Errorf("failed to persist user message: %w", err)
	}

	assistantMsg := &models.ChatMessage{
		ID:        uuid.New().String(),
		ChatID:    cctx.ChatID,
		UserID:    cctx.UserID,
		Role:      "assistant",
		Content:   assistantContent,
		Model:     cctx.Model,
		CreatedAt: now.Add(time.Millisecond),
	}
	if err := s.store.CreateMessage(ctx, assistantMsg); err != nil {
		return "", "", fmt.Errorf("failed to persist assistant message: %w", err)
	}

	if session, err := s.store.GetSession(ctx, cctx.ChatID); err == nil {
		session.UpdatedAt = time.Now().UTC()
		if err := s.store.UpdateSession(ctx, session); err != nil {
			s.logger.Warn("Failed to bump session timestamp", "chat_id", cctx.ChatID, "error", err)
		}
	}
	if s.history != nil {
		s.history.InvalidateHistory(ctx, cctx.ChatID)
	}
	return userMsg.ID, assistantMsg.ID, nil
}

// buildDocumentContext assembles the document context for a turn. With a
// retriever configured it narrows the attached documents to the segments
// relevant to the message; without one, or when retrieval fails or comes
// back empty, the full budgeted extraction context is used instead.
func (s *Service) buildDocumentContext(ctx context.Context, cctx models.ChatContext) (string, error) {
	docs, err := s.docs.GetDocuments(ctx, cctx.DocumentIDs, cctx.UserID)
	if err != nil {
		return "", fmt.Errorf("failed to build document context: %w", err)
	}

	if s.retriever != nil && len(docs) > 0 {
		result, err := s.retriever.RetrieveContext(ctx, cctx.Message, cctx.ChatID, docs, maxContextSegments)
		switch {
		case err != nil:
			s.logger.Warn("Retrieval failed, using full document context",
				"chat_id", cctx.ChatID, "error", err)
		case len(result.Segments) > 0:
			s.logger.Debug("Document context narrowed by retrieval",
				"chat_id", cctx.ChatID, "strategy", result.StrategyUsed, "segments", len(result.Segments))
			return segmentContext(result.Segments), nil
		}
	}

	rag := s.docs.ExtractForRAG(docs, cctx.DocumentIDs, doccache.ExtractOptions{})
	return rag.Context, nil
}

// segmentContext renders retrieved segments under their source file headers,
// in the same shape the full extraction context uses.
func segmentContext(segments []models.Segment) string {
	var b strings.Builder
	for _, seg := range segments {
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "[Archivo: %s]\n%s", seg.DocName, seg.Text)
	}
	return b.String()
}

// LoadPriorContext fetches the recent turns of a session, oldest first, for
// the upstream message array.
func (s *Service) LoadPriorContext(ctx context.Context, chatID string) ([]models.LLMMessage, error) {
	msgs, _, err := s.store.ListMessages(ctx, chatID, priorContextLimit, 0, false, "")
	if err != nil {
		return nil, fmt.Errorf("failed to load prior context: %w", err)
	}
	// Stored newest first; the model wants chronological order.
	out := make([]models.LLMMessage, 0, len(msgs))
	for i := len(msgs) - 1; i >= 0; i-- {
		out = append(out, models.LLMMessage{Role: msgs[i].Role, Content: msgs[i].Content})
	}
	return out, nil
}

// sessionTitle derives a session title from the opening message.
func sessionTitle(message string) string {
	title := strings.Join(strings.Fields(message), " ")
	if runes := []rune(title); len(runes) > 60 {
		title = string(runes[:60])
	}
	if title == "" {
		title = "Nueva conversación"
	}
	return title
}
