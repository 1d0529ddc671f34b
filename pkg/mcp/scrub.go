package mcp

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
)

// Scrubber redacts personally identifiable information from strings before
// they reach logs or error responses. Scrubbing is applied recursively to
// map and slice values.
type Scrubber struct {
	patterns []scrubPattern
	token    *regexp.Regexp
}

type scrubPattern struct {
	re          *regexp.Regexp
	replacement string
}

// keyHints mark field names whose values get token redaction.
var keyHints = []string{"key", "token"}

func NewScrubber() *Scrubber {
	return &Scrubber{
		patterns: []scrubPattern{
			{regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`), "[EMAIL_REDACTED]"},
			{regexp.MustCompile(`\b(\+?1[-.\s]?)?\(?\d{3}\)?[-.\s]?\d{3}[-.\s]?\d{4}\b`), "[PHONE_REDACTED]"},
			{regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`), "[SSN_REDACTED]"},
			{regexp.MustCompile(`\b\d{4}[-\s]?\d{4}[-\s]?\d{4}[-\s]?\d{4}\b`), "[CARD_REDACTED]"},
			{regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`), "[IP_REDACTED]"},
		},
		token: regexp.MustCompile(`\b[A-Za-z0-9+/_=-]{24,}\b`),
	}
}

// ScrubString redacts PII from a single string. keyContext is the field name
// the string lives under; when it hints at credentials, long opaque tokens
// are redacted too.
func (s *Scrubber) ScrubString(value, keyContext string) string {
	for _, p := range s.patterns {
		value = p.re.ReplaceAllString(value, p.replacement)
	}
	if s.keyIsSensitive(keyContext) || s.keyIsSensitive(value) {
		value = s.token.ReplaceAllString(value, "[TOKEN_REDACTED]")
	}
	return value
}

// Scrub redacts PII from an arbitrary value tree.
func (s *Scrubber) Scrub(value any) any {
	return s.scrubValue(value, "")
}

func (s *Scrubber) scrubValue(value any, keyContext string) any {
	switch v := value.(type) {
	case string:
		return s.ScrubString(v, keyContext)
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, inner := range v {
			out[k] = s.scrubValue(inner, k)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, inner := range v {
			out[i] = s.scrubValue(inner, keyContext)
		}
		return out
	default:
		return value
	}
}

func (s *Scrubber) keyIsSensitive(text string) bool {
	lower := strings.ToLower(text)
	for _, hint := range keyHints {
		if strings.Contains(lower, hint) {
			return true
		}
	}
	return false
}

// ScrubHandler is a slog.Handler that scrubs attribute values before the
// inner handler renders them.
type ScrubHandler struct {
	inner    slog.Handler
	scrubber *Scrubber
}

func NewScrubHandler(inner slog.Handler, scrubber *Scrubber) *ScrubHandler {
	return &ScrubHandler{inner: inner, scrubber: scrubber}
}

func (h *ScrubHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *ScrubHandler) Handle(ctx context.Context, record slog.Record) error {
	scrubbed := slog.NewRecord(record.Time, record.Level,
		h.scrubber.ScrubString(record.Message, ""), record.PC)
	record.Attrs(func(attr slog.Attr) bool {
		scrubbed.AddAttrs(h.scrubAttr(attr))
		return true
	})
	return h.inner.Handle(ctx, scrubbed)
}

func (h *ScrubHandler) scrubAttr(attr slog.Attr) slog.Attr {
	switch attr.Value.Kind() {
	case slog.KindString:
		attr.Value = slog.StringValue(h.scrubber.ScrubString(attr.Value.String(), attr.Key))
	case slog.KindGroup:
		group := attr.Value.Group()
		out := make([]slog.Attr, len(group))
		for i, inner := range group {
			out[i] = h.scrubAttr(inner)
		}
		attr.Value = slog.GroupValue(out...)
	case slog.KindAny:
		attr.Value = slog.AnyValue(h.scrubber.scrubValue(attr.Value.Any(), attr.Key))
	}
	return attr
}

func (h *ScrubHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make([]slog.Attr, len(attrs))
	for i, attr := range attrs {
		out[i] = h.scrubAttr(attr)
	}
	return &ScrubHandler{inner: h.inner.WithAttrs(out), scrubber: h.scrubber}
}

func (h *ScrubHandler) WithGroup(name string) slog.Handler {
	return &ScrubHandler{inner: h.inner.WithGroup(name), scrubber: h.scrubber}
}
