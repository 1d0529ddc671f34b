package retrieval

import (
	"context"
	"log/slog"

	"github.com/saptiva-ai/copilotos/pkg/doccache"
	"github.com/saptiva-ai/copilotos/pkg/models"
)

// DocumentRetriever ties the orchestrator to a session-scoped memory index
// fed from cached document extractions. It is the retrieval entry point the
// chat strategy consumes.
type DocumentRetriever struct {
	orchestrator *Orchestrator
	index        *MemoryIndex
	embedder     Embedder
	logger       *slog.Logger
}

func NewDocumentRetriever(analyzer QueryAnalyzer, embedder Embedder) *DocumentRetriever {
	index := NewMemoryIndex()
	cached := NewCachedEmbedder(embedder, DefaultQueryCacheSize)
	return &DocumentRetriever{
		orchestrator: NewOrchestrator(analyzer, index, cached),
		index:        index,
		embedder:     cached,
		logger:       slog.With("component", "retrieval"),
	}
}

// RetrieveContext indexes the given extractions (a no-op for documents
// already indexed unchanged) and retrieves the segments relevant to the
// query.
func (r *DocumentRetriever) RetrieveContext(ctx context.Context, query, sessionID string, docs []*doccache.Extraction, maxSegments int) (*models.RetrievalResult, error) {
	ids := make([]string, 0, len(docs))
	for _, doc := range docs {
		if err := r.index.EnsureDocument(ctx, sessionID, doc.FileID, doc.Filename, doc.Text, r.embedder); err != nil {
			return nil, err
		}
		ids = append(ids, doc.FileID)
	}
	return r.orchestrator.Retrieve(ctx, query, sessionID, ids, maxSegments, nil)
}
