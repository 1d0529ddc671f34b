package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saptiva-ai/copilotos/pkg/cache"
)

func newTestDispatcher(t *testing.T, tools ...Tool) *Dispatcher {
	t.Helper()
	registry := NewRegistry()
	for _, tool := range tools {
		require.NoError(t, registry.Register(tool))
	}
	c := cache.NewMemory()
	t.Cleanup(func() { _ = c.Close() })
	return NewDispatcher(
		registry,
		NewRateLimiter(60, 600, nil),
		NewResultCache(c),
		NewScrubber(),
		nil,
		DefaultMaxPayloadKB,
	)
}

func userContext() *InvocationContext {
	return &InvocationContext{UserID: "user-1", Scopes: DefaultUserScopes(false)}
}

func TestInvokePipeline(t *testing.T) {
	ctx := context.Background()

	t.Run("success envelope", func(t *testing.T) {
		d := newTestDispatcher(t, tool("audit_file", "1.0.0"))
		resp := d.Invoke(ctx, InvokeRequest{Tool: "audit_file", Payload: map[string]any{"document_id": "d1"}}, userContext())

		assert.True(t, resp.Success)
		assert.Equal(t, "audit_file", resp.Tool)
		assert.Equal(t, "1.0.0", resp.Version)
		assert.NotEmpty(t, resp.InvocationID)
		assert.False(t, resp.Cached)
		assert.Nil(t, resp.Error)
	})

	t.Run("oversized payload", func(t *testing.T) {
		d := newTestDispatcher(t, tool("audit_file", "1.0.0"))
		d.maxPayloadKB = 1
		resp := d.Invoke(ctx, InvokeRequest{
			Tool:    "audit_file",
			Payload: map[string]any{"blob": strings.Repeat("x", 2048)},
		}, userContext())

		require.NotNil(t, resp.Error)
		assert.Equal(t, CodeValidationError, resp.Error.Code)
	})

	t.Run("nesting depth limit", func(t *testing.T) {
		deep := map[string]any{}
		cursor := deep
		for i := 0; i < 12; i++ {
			next := map[string]any{}
			cursor["nested"] = next
			cursor = next
		}
		d := newTestDispatcher(t, tool("audit_file", "1.0.0"))
		resp := d.Invoke(ctx, InvokeRequest{Tool: "audit_file", Payload: deep}, userContext())

		require.NotNil(t, resp.Error)
		assert.Equal(t, CodeValidationError, resp.Error.Code)
	})

	t.Run("missing scope", func(t *testing.T) {
		d := newTestDispatcher(t, tool("audit_file", "1.0.0"))
		resp := d.Invoke(ctx, InvokeRequest{Tool: "audit_file"}, &InvocationContext{UserID: "user-1", Scopes: []string{"mcp:tools.excel"}})

		require.NotNil(t, resp.Error)
		assert.Equal(t, CodePermissionDenied, resp.Error.Code)
		assert.Equal(t, "mcp:tools.audit", resp.Error.Details["required_scope"])
	})

	t.Run("wildcard scope grants everything", func(t *testing.T) {
		d := newTestDispatcher(t, tool("audit_file", "1.0.0"))
		resp := d.Invoke(ctx, InvokeRequest{Tool: "audit_file"}, &InvocationContext{UserID: "admin", Scopes: []string{ScopeWildcard}})
		assert.True(t, resp.Success)
	})

	t.Run("unknown tool", func(t *testing.T) {
		d := newTestDispatcher(t)
		resp := d.Invoke(ctx, InvokeRequest{Tool: "fantasma"}, &InvocationContext{UserID: "u", Scopes: []string{"mcp:tools.execute"}})

		require.NotNil(t, resp.Error)
		assert.Equal(t, CodeToolNotFound, resp.Error.Code)
	})

	t.Run("schema validation failure", func(t *testing.T) {
		strict := tool("audit_file", "1.0.0")
		strict.spec.InputSchema = json.RawMessage(`{
			"type": "object",
			"properties": {"document_id": {"type": "string"}},
			"required": ["document_id"]
		}`)
		d := newTestDispatcher(t, strict)
		resp := d.Invoke(ctx, InvokeRequest{Tool: "audit_file", Payload: map[string]any{}}, userContext())

		require.NotNil(t, resp.Error)
		assert.Equal(t, CodeValidationError, resp.Error.Code)
	})

	t.Run("user id injection", func(t *testing.T) {
		var seen map[string]any
		injectable := tool("audit_file", "1.0.0")
		injectable.spec.InputSchema = json.RawMessage(`{
			"type": "object",
			"properties": {"document_id": {"type": "string"}, "user_id": {"type": "string"}},
			"required": ["document_id", "user_id"]
		}`)
		injectable.invoke = func(_ context.Context, payload map[string]any, _ *InvocationContext) (any, error) {
			seen = payload
			return "ok", nil
		}
		d := newTestDispatcher(t, injectable)
		resp := d.Invoke(ctx, InvokeRequest{Tool: "audit_file", Payload: map[string]any{"document_id": "d1"}}, userContext())

		require.True(t, resp.Success)
		assert.Equal(t, "user-1", seen["user_id"])
	})

	t.Run("invalid input mapping", func(t *testing.T) {
		failing := tool("audit_file", "1.0.0")
		failing.invoke = func(context.Context, map[string]any, *InvocationContext) (any, error) {
			return nil, &InvalidInputError{Reason: "el documento está vacío"}
		}
		d := newTestDispatcher(t, failing)
		resp := d.Invoke(ctx, InvokeRequest{Tool: "audit_file"}, userContext())

		require.NotNil(t, resp.Error)
		assert.Equal(t, CodeInvalidInput, resp.Error.Code)
	})

	t.Run("execution error carries exception type and scrubbed message", func(t *testing.T) {
		failing := tool("audit_file", "1.0.0")
		failing.invoke = func(context.Context, map[string]any, *InvocationContext) (any, error) {
			return nil, fmt.Errorf("upstream rejected user ana@example.com")
		}
		d := newTestDispatcher(t, failing)
		resp := d.Invoke(ctx, InvokeRequest{Tool: "audit_file"}, userContext())

		require.NotNil(t, resp.Error)
		assert.Equal(t, CodeExecutionError, resp.Error.Code)
		assert.NotContains(t, resp.Error.Message, "ana@example.com")
		assert.Contains(t, resp.Error.Message, "[EMAIL_REDACTED]")
		assert.NotEmpty(t, resp.Error.Details["exc_type"])
	})

	t.Run("requires auth rejects anonymous callers", func(t *testing.T) {
		guarded := tool("audit_file", "1.0.0")
		guarded.spec.RequiresAuth = true
		d := newTestDispatcher(t, guarded)
		resp := d.Invoke(ctx, InvokeRequest{Tool: "audit_file"}, &InvocationContext{Scopes: []string{ScopeWildcard}})

		require.NotNil(t, resp.Error)
		assert.Equal(t, CodePermissionDenied, resp.Error.Code)
	})

	t.Run("per-tool rate limit overrides the minute window", func(t *testing.T) {
		limited := tool("audit_file", "1.0.0")
		limited.spec.RateLimit = 1
		d := newTestDispatcher(t, limited)

		first := d.Invoke(ctx, InvokeRequest{Tool: "audit_file"}, userContext())
		assert.True(t, first.Success)

		second := d.Invoke(ctx, InvokeRequest{Tool: "audit_file"}, userContext())
		require.NotNil(t, second.Error)
		assert.Equal(t, CodeRateLimit, second.Error.Code)
	})

	t.Run("per-tool payload cap tightens the global one", func(t *testing.T) {
		small := tool("audit_file", "1.0.0")
		small.spec.MaxPayloadKB = 1
		d := newTestDispatcher(t, small)
		resp := d.Invoke(ctx, InvokeRequest{
			Tool:    "audit_file",
			Payload: map[string]any{"blob": strings.Repeat("x", 2048)},
		}, userContext())

		require.NotNil(t, resp.Error)
		assert.Equal(t, CodeValidationError, resp.Error.Code)
	})

	t.Run("timeout is retriable", func(t *testing.T) {
		slow := tool("audit_file", "1.0.0")
		slow.spec.TimeoutMs = 20
		slow.invoke = func(ctx context.Context, _ map[string]any, _ *InvocationContext) (any, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		d := newTestDispatcher(t, slow)
		resp := d.Invoke(ctx, InvokeRequest{Tool: "audit_file"}, userContext())

		require.NotNil(t, resp.Error)
		assert.Equal(t, CodeTimeout, resp.Error.Code)
		assert.True(t, resp.Error.Retriable)
	})
}

func TestInvokeResultCaching(t *testing.T) {
	ctx := context.Background()

	calls := 0
	cached := tool("audit_file", "1.0.0")
	cached.spec.CacheTTL = time.Hour
	cached.invoke = func(context.Context, map[string]any, *InvocationContext) (any, error) {
		calls++
		return map[string]any{"finding": "ok"}, nil
	}
	d := newTestDispatcher(t, cached)

	payload := map[string]any{"document_id": "d1", "options": map[string]any{"depth": float64(2)}}

	first := d.Invoke(ctx, InvokeRequest{Tool: "audit_file", Payload: payload}, userContext())
	require.True(t, first.Success)
	assert.False(t, first.Cached)

	second := d.Invoke(ctx, InvokeRequest{Tool: "audit_file", Payload: payload}, userContext())
	require.True(t, second.Success)
	assert.True(t, second.Cached)
	assert.Equal(t, 1, calls, "second invocation served from cache")

	t.Run("different params miss", func(t *testing.T) {
		third := d.Invoke(ctx, InvokeRequest{Tool: "audit_file", Payload: map[string]any{"document_id": "d2"}}, userContext())
		require.True(t, third.Success)
		assert.False(t, third.Cached)
		assert.Equal(t, 2, calls)
	})
}

func TestRateLimiter(t *testing.T) {
	ctx := context.Background()

	t.Run("61st call within a minute is rejected", func(t *testing.T) {
		rl := NewRateLimiter(60, 600, nil)
		for i := 0; i < 60; i++ {
			require.Nil(t, rl.Allow(ctx, "user-1", "audit_file"))
		}

		toolErr := rl.Allow(ctx, "user-1", "audit_file")
		require.NotNil(t, toolErr)
		assert.Equal(t, CodeRateLimit, toolErr.Code)

		retryAfter, ok := toolErr.Details["retry_after_ms"].(int64)
		require.True(t, ok)
		assert.Greater(t, retryAfter, int64(0))
		assert.LessOrEqual(t, retryAfter, int64(60_000))
	})

	t.Run("limits are per user and per tool", func(t *testing.T) {
		rl := NewRateLimiter(1, 10, nil)
		require.Nil(t, rl.Allow(ctx, "user-1", "audit_file"))
		require.NotNil(t, rl.Allow(ctx, "user-1", "audit_file"))

		assert.Nil(t, rl.Allow(ctx, "user-2", "audit_file"), "other user unaffected")
		assert.Nil(t, rl.Allow(ctx, "user-1", "excel_analyzer"), "other tool unaffected")
	})

	t.Run("hour window rejects even when minute window allows", func(t *testing.T) {
		rl := NewRateLimiter(100, 2, nil)
		require.Nil(t, rl.Allow(ctx, "user-1", "audit_file"))
		require.Nil(t, rl.Allow(ctx, "user-1", "audit_file"))

		toolErr := rl.Allow(ctx, "user-1", "audit_file")
		require.NotNil(t, toolErr)
		assert.Contains(t, toolErr.Message, "per hour")
	})
}

func TestScrubber(t *testing.T) {
	s := NewScrubber()

	t.Run("patterns", func(t *testing.T) {
		tests := []struct {
			name string
			in   string
			want string
		}{
			{"email", "contacto: ana@example.com", "contacto: [EMAIL_REDACTED]"},
			{"phone", "llámame al 555-123-4567", "llámame al [PHONE_REDACTED]"},
			{"ssn", "ssn 123-45-6789", "ssn [SSN_REDACTED]"},
			{"card", "tarjeta 4111 1111 1111 1111", "tarjeta [CARD_REDACTED]"},
			{"ipv4", "host 10.0.12.34", "host [IP_REDACTED]"},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				assert.Equal(t, tt.want, s.ScrubString(tt.in, ""))
			})
		}
	})

	t.Run("tokens redacted only in key context", func(t *testing.T) {
		secret := "c2VjcmV0LXRva2VuLWxhcmdvLTEyMzQ1Njc4OTA"
		assert.Equal(t, "[TOKEN_REDACTED]", s.ScrubString(secret, "api_key"))
		assert.Equal(t, secret, s.ScrubString(secret, "description"))
	})

	t.Run("recursive over maps and lists", func(t *testing.T) {
		in := map[string]any{
			"user":  "ana@example.com",
			"items": []any{"tel 555-123-4567", map[string]any{"token": "YWJjZGVmZ2hpamtsbW5vcHFyc3R1dnd4eXo0Mg"}},
		}
		out := s.Scrub(in).(map[string]any)
		assert.Equal(t, "[EMAIL_REDACTED]", out["user"])
		items := out["items"].([]any)
		assert.Equal(t, "tel [PHONE_REDACTED]", items[0])
		assert.Equal(t, "[TOKEN_REDACTED]", items[1].(map[string]any)["token"])
	})
}
