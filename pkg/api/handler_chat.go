package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	echo "github.com/labstack/echo/v5"

	"github.com/saptiva-ai/copilotos/pkg/models"
	"github.com/saptiva-ai/copilotos/pkg/response"
)

// chatHandler handles POST /api/chat, both JSON and SSE streaming replies.
func (s *Server) chatHandler(c *echo.Context) error {
	var req models.SendMessageRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Message == "" {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, "message is required")
	}
	if req.Model == "" {
		req.Model = "default"
	}

	cctx := models.ChatContext{
		UserID:           userID(c),
		RequestID:        uuid.New().String(),
		Timestamp:        time.Now().UTC(),
		ChatID:           req.ChatID,
		Message:          req.Message,
		Model:            req.Model,
		Channel:          req.Channel,
		ToolsEnabled:     req.ToolsEnabled,
		DocumentIDs:      req.DocumentIDs,
		Stream:           req.Stream,
		Temperature:      req.Temperature,
		MaxTokens:        req.MaxTokens,
		KillSwitchActive: s.cfg.DeepResearchKillSwitch,
	}

	cctx, created, err := s.chatSvc.EnsureSession(c.Request().Context(), cctx)
	if err != nil {
		return err
	}
	if !created {
		prior, err := s.chatSvc.LoadPriorContext(c.Request().Context(), cctx.ChatID)
		if err != nil {
			return err
		}
		cctx.PriorContext = prior
	}

	if req.Stream {
		return s.streamChat(c, cctx, created)
	}

	result, err := s.chain.Process(c.Request().Context(), cctx, nil)
	if err != nil {
		return err
	}

	builder := response.NewBuilder().FromProcessingResult(result)
	if created {
		builder.SessionTitle(sessionTitleOf(result, cctx))
	}
	return c.JSON(http.StatusOK, builder.Build())
}

// streamChat replays chunks over SSE and closes with the full builder body.
func (s *Server) streamChat(c *echo.Context, cctx models.ChatContext, created bool) error {
	h := c.Response().Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Connection", "keep-alive")
	c.Response().WriteHeader(http.StatusOK)

	sink := func(chunk string) error {
		return writeSSE(c, "chunk", map[string]string{"delta": chunk})
	}

	result, err := s.chain.Process(c.Request().Context(), cctx, sink)
	if err != nil {
		// Headers are already on the wire; surface the failure in-stream.
		problem := mapError(err)
		return writeSSE(c, "error", problem)
	}

	builder := response.NewBuilder().FromProcessingResult(result)
	if created {
		builder.SessionTitle(sessionTitleOf(result, cctx))
	}
	return writeSSE(c, "final", builder.Build())
}

func writeSSE(c *echo.Context, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(c.Response(), "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	if f, ok := c.Response().(http.Flusher); ok {
		f.Flush()
	}
	return nil
}

// sessionTitleOf prefers the title the processing reported, falling back to
// the derived one.
func sessionTitleOf(result *models.ChatProcessingResult, cctx models.ChatContext) string {
	if result.SessionTitle != "" {
		return result.SessionTitle
	}
	title := cctx.Message
	if runes := []rune(title); len(runes) > 60 {
		title = string(runes[:60])
	}
	return title
}
