// Package doccache retrieves previously extracted document text for RAG
// context assembly. Extractions live in the shared cache keyed by file id;
// every read is ownership-checked against the requesting user.
package doccache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"
)

// Default budgets for RAG context assembly.
const (
	DefaultMaxCharsPerDoc = 8000
	DefaultMaxTotalChars  = 16000
	DefaultMaxDocs        = 3
)

const extractionKeyPrefix = "doccache:extraction:"

// DefaultExtractionTTL bounds how long extracted text stays in the cache.
const DefaultExtractionTTL = 24 * time.Hour

// Extraction is the cached result of document text extraction.
type Extraction struct {
	FileID      string         `json:"file_id"`
	UserID      string         `json:"user_id"`
	Filename    string         `json:"filename"`
	ContentType string         `json:"content_type"`
	Pages       int            `json:"pages,omitempty"`
	Text        string         `json:"text"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// RAGContext is the assembled context handed to the chat strategy.
type RAGContext struct {
	Context       string   `json:"context"`
	IncludedDocs  int      `json:"included_docs"`
	Warnings      []string `json:"warnings,omitempty"`
	TruncatedDocs []string `json:"truncated_docs,omitempty"`
}

// kvCache is the subset of the shared cache the service consumes.
type kvCache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

// Service reads and writes document extractions.
type Service struct {
	cache  kvCache
	logger *slog.Logger
}

func NewService(cache kvCache) *Service {
	return &Service{cache: cache, logger: slog.With("component", "doccache")}
}

// Put stores an extraction. Callers do this once after upload processing.
func (s *Service) Put(ctx context.Context, ext *Extraction) error {
	data, err := json.Marshal(ext)
	if err != nil {
		return fmt.Errorf("failed to marshal extraction: %w", err)
	}
	if err := s.cache.Set(ctx, extractionKey(ext.FileID), string(data), DefaultExtractionTTL); err != nil {
		return fmt.Errorf("failed to cache extraction: %w", err)
	}
	return nil
}

// GetDocuments returns cached extractions for documentIDs, in request order.
// Entries missing from the cache are skipped; entries owned by another user
// are dropped with a warning and never surfaced to the caller.
func (s *Service) GetDocuments(ctx context.Context, documentIDs []string, userID string) ([]*Extraction, error) {
	out := make([]*Extraction, 0, len(documentIDs))
	for _, id := range documentIDs {
		raw, found, err := s.cache.Get(ctx, extractionKey(id))
		if err != nil {
			return nil, fmt.Errorf("failed to read extraction cache: %w", err)
		}
		if !found {
			continue
		}

		var ext Extraction
		if err := json.Unmarshal([]byte(raw), &ext); err != nil {
			s.logger.Warn("Dropping malformed extraction entry", "file_id", id)
			continue
		}
		if ext.UserID != userID {
			s.logger.Warn("Dropping extraction not owned by requester",
				"file_id", id, "user_id", userID)
			continue
		}
		out = append(out, &ext)
	}
	return out, nil
}

// ExtractOptions override the assembly budgets; zero values take defaults.
type ExtractOptions struct {
	MaxCharsPerDoc int
	MaxTotalChars  int
	MaxDocs        int
}

func (o ExtractOptions) withDefaults() ExtractOptions {
	if o.MaxCharsPerDoc <= 0 {
		o.MaxCharsPerDoc = DefaultMaxCharsPerDoc
	}
	if o.MaxTotalChars <= 0 {
		o.MaxTotalChars = DefaultMaxTotalChars
	}
	if o.MaxDocs <= 0 {
		o.MaxDocs = DefaultMaxDocs
	}
	return o
}

// ExtractForRAG assembles document texts into a single context string under
// the per-doc and global character budgets. Each included document is
// prefixed with "[Archivo: <name>]". requestedIDs lets the assembler warn
// about ids that never made it out of the cache.
func (s *Service) ExtractForRAG(docs []*Extraction, requestedIDs []string, opts ExtractOptions) *RAGContext {
	opts = opts.withDefaults()
	result := &RAGContext{}

	present := make(map[string]bool, len(docs))
	for _, d := range docs {
		present[d.FileID] = true
	}
	for _, id := range requestedIDs {
		if !present[id] {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("documento %s no encontrado en caché", id))
		}
	}

	var b strings.Builder
	remaining := opts.MaxTotalChars
	for _, doc := range docs {
		if result.IncludedDocs >= opts.MaxDocs {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("se omitió %s: límite de %d documentos", doc.Filename, opts.MaxDocs))
			continue
		}
		if remaining <= 0 {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("se omitió %s: presupuesto de contexto agotado", doc.Filename))
			continue
		}

		text := doc.Text
		truncated := false
		if len(text) > opts.MaxCharsPerDoc {
			text = cutAtRuneBoundary(text, opts.MaxCharsPerDoc)
			truncated = true
		}
		if len(text) > remaining {
			text = cutAtRuneBoundary(text, remaining)
			truncated = true
		}
		if truncated {
			result.TruncatedDocs = append(result.TruncatedDocs, doc.Filename)
		}

		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "[Archivo: %s]\n%s", doc.Filename, text)
		remaining -= len(text)
		result.IncludedDocs++
	}

	result.Context = b.String()
	return result
}

// BuildContext looks up the requested documents for the user and assembles
// the full RAG context in one call.
func (s *Service) BuildContext(ctx context.Context, documentIDs []string, userID string) (*RAGContext, error) {
	docs, err := s.GetDocuments(ctx, documentIDs, userID)
	if err != nil {
		return nil, err
	}
	return s.ExtractForRAG(docs, documentIDs, ExtractOptions{}), nil
}

func extractionKey(fileID string) string {
	return extractionKeyPrefix + fileID
}

// cutAtRuneBoundary truncates s to at most limit bytes without splitting a
// UTF-8 sequence.
func cutAtRuneBoundary(s string, limit int) string {
	if limit >= len(s) {
		return s
	}
	for limit > 0 && !utf8.RuneStart(s[limit]) {
		limit--
	}
	return s[:limit]
}
