package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/saptiva-ai/copilotos/pkg/mcp"
	"github.com/saptiva-ai/copilotos/pkg/models"
)

// ErrNotSessionOwner is returned when a user addresses someone else's chat.
var ErrNotSessionOwner = errors.New("session belongs to another user")

// Handler is one link in the chain of responsibility. The first handler
// whose CanHandle answers true owns the message.
type Handler interface {
	Name() string
	CanHandle(cctx *models.ChatContext) bool
	Process(ctx context.Context, cctx models.ChatContext, sink StreamSink) (*models.ChatProcessingResult, error)
}

// Chain dispatches a message to the first matching handler. Construction
// guarantees a terminal handler, so dispatch never falls through.
type Chain struct {
	handlers []Handler
	logger   *slog.Logger
}

// NewChain builds the chain: specialized handlers first, the standard
// handler as the terminal. Specialized handlers register only when their
// dependencies are available.
func NewChain(service *Service, dispatcher *mcp.Dispatcher) *Chain {
	c := &Chain{logger: slog.With("component", "chat_chain")}
	if dispatcher != nil {
		c.handlers = append(c.handlers, &AuditCommandHandler{service: service, dispatcher: dispatcher})
	}
	c.handlers = append(c.handlers, &StandardHandler{service: service})
	return c
}

// Process runs the message through the chain.
func (c *Chain) Process(ctx context.Context, cctx models.ChatContext, sink StreamSink) (*models.ChatProcessingResult, error) {
	for _, h := range c.handlers {
		if !h.CanHandle(&cctx) {
			continue
		}
		c.logger.Debug("Handler selected", "handler", h.Name(), "chat_id", cctx.ChatID)
		return h.Process(ctx, cctx, sink)
	}
	// Unreachable: the standard handler accepts everything.
	return nil, errors.New("no handler accepted the message")
}

// auditCommandPrefix triggers the audit shortcut handler.
const auditCommandPrefix = "/audit "

// AuditCommandHandler intercepts "/audit <document_id>" messages and runs
// the audit tool directly instead of a model completion.
type AuditCommandHandler struct {
	service    *Service
	dispatcher *mcp.Dispatcher
}

func (h *AuditCommandHandler) Name() string { return "audit_command" }

func (h *AuditCommandHandler) CanHandle(cctx *models.ChatContext) bool {
	return strings.HasPrefix(strings.TrimSpace(cctx.Message), auditCommandPrefix)
}

func (h *AuditCommandHandler) Process(ctx context.Context, cctx models.ChatContext, _ StreamSink) (*models.ChatProcessingResult, error) {
	docID := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(cctx.Message), auditCommandPrefix))
	if docID == "" {
		return nil, &mcp.InvalidInputError{Reason: "el comando /audit requiere un identificador de documento"}
	}

	ic := &mcp.InvocationContext{
		UserID: cctx.UserID,
		Scopes: mcp.DefaultUserScopes(false),
	}
	resp := h.dispatcher.Invoke(ctx, mcp.InvokeRequest{
		Tool:    "audit_file",
		Payload: map[string]any{"document_id": docID},
	}, ic)

	content := fmt.Sprintf("Auditoría del documento %s completada.", docID)
	if resp.Error != nil {
		content = fmt.Sprintf("La auditoría del documento %s falló: %s", docID, resp.Error.Message)
	}

	if _, _, err := h.service.persistTurn(ctx, cctx, content); err != nil {
		return nil, err
	}

	return &models.ChatProcessingResult{
		Content:          content,
		SanitizedContent: content,
		StrategyUsed:     "audit_command",
		Metadata: models.MessageMetadata{
			ChatID:    cctx.ChatID,
			ModelUsed: cctx.Model,
			DecisionMetadata: map[string]any{
				"audit_artifact": resp.Result,
				"invocation_id":  resp.InvocationID,
				"cached":         resp.Cached,
			},
		},
	}, nil
}

// StandardHandler is the terminal handler; it always accepts and delegates
// to the simple chat strategy.
type StandardHandler struct {
	service *Service
}

func (h *StandardHandler) Name() string { return "standard" }

func (h *StandardHandler) CanHandle(*models.ChatContext) bool { return true }

func (h *StandardHandler) Process(ctx context.Context, cctx models.ChatContext, sink StreamSink) (*models.ChatProcessingResult, error) {
	strategy := &SimpleChatStrategy{service: h.service}
	return strategy.Process(ctx, cctx, sink)
}

// SimpleChatStrategy builds document context when requested and runs one
// upstream completion.
type SimpleChatStrategy struct {
	service *Service
}

func (s *SimpleChatStrategy) Process(ctx context.Context, cctx models.ChatContext, sink StreamSink) (*models.ChatProcessingResult, error) {
	documentContext := ""
	if len(cctx.DocumentIDs) > 0 && s.service.docs != nil {
		dc, err := s.service.buildDocumentContext(ctx, cctx)
		if err != nil {
			return nil, err
		}
		documentContext = dc
	}
	return s.service.ProcessWithSaptiva(ctx, cctx, documentContext, sink)
}
