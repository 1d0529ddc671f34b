package mcp

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/saptiva-ai/copilotos/pkg/cache"
)

const resultKeyPrefix = "mcp:tool:"

// Per-tool result TTLs in the shared cache.
var toolCacheTTLs = map[string]time.Duration{
	"audit_file":     time.Hour,
	"excel_analyzer": 30 * time.Minute,
	"deep_research":  24 * time.Hour,
	"extract":        time.Hour,
}

const defaultCacheTTL = time.Hour

// CacheStats summarizes cached tool results.
type CacheStats struct {
	TotalEntries int            `json:"total_entries"`
	ByTool       map[string]int `json:"by_tool"`
	ByDocument   map[string]int `json:"by_document"`
}

// ResultCache stores tool results keyed by (tool, document, params).
// Writers do not coordinate; the inputs define the key, so the last writer
// wins harmlessly.
type ResultCache struct {
	cache  cache.Cache
	logger *slog.Logger
}

func NewResultCache(c cache.Cache) *ResultCache {
	return &ResultCache{cache: c, logger: slog.With("component", "mcp_cache")}
}

// CacheKey builds "mcp:tool:<tool>:<doc>:<8-hex md5 of sorted params>".
func CacheKey(tool, docID string, params map[string]any) string {
	return fmt.Sprintf("%s%s:%s:%s", resultKeyPrefix, tool, docID, paramsHash(params))
}

// paramsHash hashes the params with keys in sorted order so logically equal
// payloads share a key.
func paramsHash(params map[string]any) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		v, _ := json.Marshal(params[k])
		fmt.Fprintf(&b, "%s=%s;", k, v)
	}
	sum := md5.Sum([]byte(b.String()))
	return hex.EncodeToString(sum[:])[:8]
}

// Get returns a cached result, unmarshalled, or (nil, false).
func (rc *ResultCache) Get(ctx context.Context, tool, docID string, params map[string]any) (any, bool) {
	raw, found, err := rc.cache.Get(ctx, CacheKey(tool, docID, params))
	if err != nil || !found {
		return nil, false
	}
	var result any
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return nil, false
	}
	return result, true
}

// Set stores a result under the tool's TTL. Cache failures are logged, not
// surfaced; the invocation already succeeded.
func (rc *ResultCache) Set(ctx context.Context, tool, docID string, params map[string]any, result any) {
	data, err := json.Marshal(result)
	if err != nil {
		rc.logger.Warn("Tool result is not cacheable", "tool", tool, "error", err)
		return
	}
	ttl, ok := toolCacheTTLs[tool]
	if !ok {
		ttl = defaultCacheTTL
	}
	if err := rc.cache.Set(ctx, CacheKey(tool, docID, params), string(data), ttl); err != nil {
		rc.logger.Warn("Failed to cache tool result", "tool", tool, "error", err)
	}
}

// InvalidateToolCache deletes the single entry for (tool, doc, params).
func (rc *ResultCache) InvalidateToolCache(ctx context.Context, tool, docID string, params map[string]any) error {
	return rc.cache.Delete(ctx, CacheKey(tool, docID, params))
}

// InvalidateDocumentToolCache deletes every entry for a document, optionally
// restricted to one tool.
func (rc *ResultCache) InvalidateDocumentToolCache(ctx context.Context, docID, tool string) (int, error) {
	keys, err := rc.cache.Keys(ctx, fmt.Sprintf("%s*:%s:*", resultKeyPrefix, docID))
	if err != nil {
		return 0, fmt.Errorf("failed to scan cache keys: %w", err)
	}
	keys = filterByTool(keys, tool)
	if len(keys) == 0 {
		return 0, nil
	}
	if err := rc.cache.Delete(ctx, keys...); err != nil {
		return 0, fmt.Errorf("failed to delete cache keys: %w", err)
	}
	return len(keys), nil
}

// InvalidateAllToolCaches wipes every cached result, optionally for one
// tool. The API surface gates this behind an explicit confirmation flag.
func (rc *ResultCache) InvalidateAllToolCaches(ctx context.Context, tool string) (int, error) {
	pattern := resultKeyPrefix + "*"
	if tool != "" {
		pattern = fmt.Sprintf("%s%s:*", resultKeyPrefix, tool)
	}
	keys, err := rc.cache.Keys(ctx, pattern)
	if err != nil {
		return 0, fmt.Errorf("failed to scan cache keys: %w", err)
	}
	if len(keys) == 0 {
		return 0, nil
	}
	if err := rc.cache.Delete(ctx, keys...); err != nil {
		return 0, fmt.Errorf("failed to delete cache keys: %w", err)
	}
	rc.logger.Info("Tool caches invalidated", "tool", tool, "entries", len(keys))
	return len(keys), nil
}

// Stats counts cached entries by tool and by document, optionally filtered
// to one document.
func (rc *ResultCache) Stats(ctx context.Context, docID string) (*CacheStats, error) {
	pattern := resultKeyPrefix + "*"
	if docID != "" {
		pattern = fmt.Sprintf("%s*:%s:*", resultKeyPrefix, docID)
	}
	keys, err := rc.cache.Keys(ctx, pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to scan cache keys: %w", err)
	}

	stats := &CacheStats{
		TotalEntries: len(keys),
		ByTool:       make(map[string]int),
		ByDocument:   make(map[string]int),
	}
	for _, key := range keys {
		parts := strings.Split(strings.TrimPrefix(key, resultKeyPrefix), ":")
		if len(parts) < 3 {
			continue
		}
		stats.ByTool[parts[0]]++
		stats.ByDocument[parts[1]]++
	}
	return stats, nil
}

// WarmupInvoker runs one tool invocation during warmup.
type WarmupInvoker func(ctx context.Context, tool, docID, userID string) error

// Warmup pre-populates the cache for a tool across documents. Per-document
// failures are tolerated and reported.
func (rc *ResultCache) Warmup(ctx context.Context, tool string, docIDs []string, userID string, invoke WarmupInvoker) (warmed int, failures []string) {
	for _, docID := range docIDs {
		if err := invoke(ctx, tool, docID, userID); err != nil {
			rc.logger.Warn("Cache warmup failed for document",
				"tool", tool, "doc_id", docID, "error", err)
			failures = append(failures, docID)
			continue
		}
		warmed++
	}
	return warmed, failures
}

func filterByTool(keys []string, tool string) []string {
	if tool == "" {
		return keys
	}
	prefix := resultKeyPrefix + tool + ":"
	out := keys[:0]
	for _, k := range keys {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	return out
}
