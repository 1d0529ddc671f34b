// Package llm wraps the Saptiva OpenAI-compatible API behind a unified
// completion interface. Streaming and non-streaming calls share one entry
// point and one event shape, so callers never branch on transport mode.
package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/saptiva-ai/copilotos/pkg/config"
	"github.com/saptiva-ai/copilotos/pkg/models"
)

// Event types emitted on the completion channel.
const (
	EventFinal = "final"
	EventChunk = "chunk"
)

// Event is one item of a completion. Non-streaming calls emit exactly one
// final event; streaming calls emit chunks followed by a final event whose
// Content is the full accumulated text.
type Event struct {
	Type    string
	Content string
	Usage   *models.TokenUsage
	Err     error
}

// Request is a unified completion request.
type Request struct {
	Messages    []models.LLMMessage
	Model       string
	Temperature float64
	TopP        float64
	MaxTokens   int
	Stream      bool
	Tools       []openai.Tool
}

// ErrUpstreamTimeout marks a Saptiva call that exceeded its deadline; the
// HTTP surface maps it to 504.
type ErrUpstreamTimeout struct {
	After time.Duration
}

func (e *ErrUpstreamTimeout) Error() string {
	return fmt.Sprintf("Saptiva API timed out after %ds", int(e.After.Seconds()))
}

// Client is the completion interface the chat strategies consume.
type Client interface {
	// ChatCompletionOrStream issues the request and returns the event
	// channel. The channel is closed after the final event (or an error
	// event).
	ChatCompletionOrStream(ctx context.Context, req Request) (<-chan Event, error)
}

// SaptivaClient talks to the Saptiva API. When a fallback client is
// configured, upstream failures that produced no output are answered by the
// fallback instead of an error.
type SaptivaClient struct {
	api          *openai.Client
	totalTimeout time.Duration
	readTimeout  time.Duration
	fallback     Client
	logger       *slog.Logger
}

// New builds the production client, or the mock when forced by settings.
func New(settings *config.Settings) Client {
	if settings.SaptivaForceMock {
		slog.Warn("Saptiva mock mode forced; no upstream calls will be made")
		return NewMock()
	}

	cfg := openai.DefaultConfig(settings.SaptivaAPIKey)
	cfg.BaseURL = settings.SaptivaBaseURL
	cfg.HTTPClient = &http.Client{
		Transport: &http.Transport{
			DialContext:           (&net.Dialer{Timeout: settings.SaptivaConnectTimeout}).DialContext,
			ResponseHeaderTimeout: settings.SaptivaReadTimeout,
			MaxIdleConnsPerHost:   8,
		},
	}

	client := &SaptivaClient{
		api:          openai.NewClientWithConfig(cfg),
		totalTimeout: settings.SaptivaTotalTimeout,
		readTimeout:  settings.SaptivaReadTimeout,
		logger:       slog.With("component", "llm"),
	}
	if settings.SaptivaAllowMockFallback {
		client.fallback = NewMock()
	}
	return client
}

func (c *SaptivaClient) ChatCompletionOrStream(ctx context.Context, req Request) (<-chan Event, error) {
	if req.Stream {
		return c.stream(ctx, req)
	}
	return c.complete(ctx, req)
}

func (c *SaptivaClient) complete(ctx context.Context, req Request) (<-chan Event, error) {
	events := make(chan Event, 1)

	go func() {
		defer close(events)

		callCtx, cancel := context.WithTimeout(ctx, c.totalTimeout)
		defer cancel()

		resp, err := c.api.CreateChatCompletion(callCtx, c.toOpenAI(req))
		if err != nil {
			mapped := c.mapError(callCtx, err, c.totalTimeout)
			if c.fallback != nil && ctx.Err() == nil {
				c.logger.Warn("Saptiva call failed, serving fallback completion", "error", mapped)
				c.relayFallback(ctx, req, events)
				return
			}
			events <- Event{Type: EventFinal, Err: mapped}
			return
		}

		var content string
		if len(resp.Choices) > 0 {
			content = resp.Choices[0].Message.Content
		}
		events <- Event{
			Type:    EventFinal,
			Content: content,
			Usage: &models.TokenUsage{
				Prompt:     resp.Usage.PromptTokens,
				Completion: resp.Usage.CompletionTokens,
				Total:      resp.Usage.TotalTokens,
			},
		}
	}()

	return events, nil
}

func (c *SaptivaClient) stream(ctx context.Context, req Request) (<-chan Event, error) {
	// The read timeout bounds the whole streaming loop, not a single chunk.
	callCtx, cancel := context.WithTimeout(ctx, c.readTimeout)

	stream, err := c.api.CreateChatCompletionStream(callCtx, c.toOpenAI(req))
	if err != nil {
		mapped := c.mapError(callCtx, err, c.readTimeout)
		cancel()
		if c.fallback != nil && ctx.Err() == nil {
			c.logger.Warn("Saptiva stream failed to open, serving fallback completion", "error", mapped)
			return c.fallback.ChatCompletionOrStream(ctx, req)
		}
		return nil, mapped
	}

	events := make(chan Event)
	go func() {
		defer close(events)
		defer cancel()
		defer stream.Close()

		var full []byte
		for {
			chunk, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				events <- Event{Type: EventFinal, Content: string(full)}
				return
			}
			if err != nil {
				mapped := c.mapError(callCtx, err, c.readTimeout)
				// The fallback only steps in before any chunk reached the
				// caller; a half-delivered answer cannot be restarted.
				if c.fallback != nil && len(full) == 0 && ctx.Err() == nil {
					c.logger.Warn("Saptiva stream failed before first chunk, serving fallback completion", "error", mapped)
					c.relayFallback(ctx, req, events)
					return
				}
				events <- Event{Type: EventFinal, Err: mapped}
				return
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			delta := chunk.Choices[0].Delta.Content
			if delta == "" {
				continue
			}
			full = append(full, delta...)
			select {
			case events <- Event{Type: EventChunk, Content: delta}:
			case <-ctx.Done():
				// Client disconnect; stop reading at the chunk boundary.
				return
			}
		}
	}()

	return events, nil
}

// relayFallback forwards the fallback client's events onto an already-open
// channel.
func (c *SaptivaClient) relayFallback(ctx context.Context, req Request, out chan<- Event) {
	events, err := c.fallback.ChatCompletionOrStream(ctx, req)
	if err != nil {
		out <- Event{Type: EventFinal, Err: err}
		return
	}
	for ev := range events {
		out <- ev
	}
}

func (c *SaptivaClient) toOpenAI(req Request) openai.ChatCompletionRequest {
	msgs := make([]openai.ChatCompletionMessage, len(req.Messages))
	for i, m := range req.Messages {
		msgs[i] = openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}
	return openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    msgs,
		Temperature: float32(req.Temperature),
		TopP:        float32(req.TopP),
		MaxTokens:   req.MaxTokens,
		Stream:      req.Stream,
		Tools:       req.Tools,
	}
}

func (c *SaptivaClient) mapError(ctx context.Context, err error, deadline time.Duration) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		c.logger.Warn("Saptiva call timed out", "after", deadline)
		return &ErrUpstreamTimeout{After: deadline}
	}
	return fmt.Errorf("saptiva request failed: %w", err)
}
