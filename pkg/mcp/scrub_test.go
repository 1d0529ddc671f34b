package mcp

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScrubHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewScrubHandler(slog.NewTextHandler(&buf, nil), NewScrubber()))

	t.Run("message and string attrs", func(t *testing.T) {
		buf.Reset()
		logger.Info("login for ana@saptiva.com", "contact", "otro@saptiva.com")

		out := buf.String()
		assert.NotContains(t, out, "saptiva.com")
		assert.Contains(t, out, "[EMAIL_REDACTED]")
	})

	t.Run("token attrs by key", func(t *testing.T) {
		buf.Reset()
		logger.Info("upstream call", "api_key", "c2VjcmV0LXRva2VuLWxhcmdvLTEyMzQ1Njc4OTA")

		assert.Contains(t, buf.String(), "[TOKEN_REDACTED]")
	})

	t.Run("nested payload attrs", func(t *testing.T) {
		buf.Reset()
		logger.Info("tool payload", "payload", map[string]any{"email": "ana@saptiva.com"})

		out := buf.String()
		assert.NotContains(t, out, "ana@saptiva.com")
		assert.Contains(t, out, "[EMAIL_REDACTED]")
	})

	t.Run("preserves WithAttrs and groups", func(t *testing.T) {
		buf.Reset()
		logger.With("caller", "ana@saptiva.com").WithGroup("req").Info("hola", "ip", "10.0.12.34")

		out := buf.String()
		assert.Contains(t, out, "[EMAIL_REDACTED]")
		assert.Contains(t, out, "[IP_REDACTED]")
	})
}
