package retrieval

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/saptiva-ai/copilotos/pkg/models"
)

// Request is everything a strategy needs to fetch segments.
type Request struct {
	Query         string
	ExpandedQuery string
	SessionID     string
	Documents     []string
	MaxSegments   int
}

// Strategy fetches segments for a query. Name is recorded on the result as
// strategy_used.
type Strategy interface {
	Name() string
	Retrieve(ctx context.Context, req Request) ([]models.Segment, error)
}

// VectorIndex is the session-scoped segment index.
type VectorIndex interface {
	// Search returns segments whose similarity to the vector is >= threshold,
	// best first, at most limit.
	Search(ctx context.Context, sessionID string, vector []float32, limit int, threshold float64) ([]models.Segment, error)

	// FirstChunks returns the first n chunks of a document in reading order.
	FirstChunks(ctx context.Context, sessionID, docID string, n int) ([]models.Segment, error)
}

// OverviewStrategy returns the leading chunks of every document. Scores are
// a uniform 1.0 because the result is unranked.
type OverviewStrategy struct {
	Index        VectorIndex
	ChunksPerDoc int
}

func (s *OverviewStrategy) Name() string { return "OverviewStrategy" }

func (s *OverviewStrategy) Retrieve(ctx context.Context, req Request) ([]models.Segment, error) {
	var out []models.Segment
	for _, docID := range req.Documents {
		chunks, err := s.Index.FirstChunks(ctx, req.SessionID, docID, s.ChunksPerDoc)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch leading chunks for %s: %w", docID, err)
		}
		for _, c := range chunks {
			c.Score = 1.0
			out = append(out, c)
		}
	}
	return out, nil
}

// SemanticSearchStrategy embeds the expanded query and searches the vector
// index with an adaptive threshold.
type SemanticSearchStrategy struct {
	Index         VectorIndex
	Embedder      Embedder
	BaseThreshold float64

	// FixedThreshold disables the adaptive adjustment; used by the
	// last-resort fallback that searches with threshold 0.
	FixedThreshold bool
}

func (s *SemanticSearchStrategy) Name() string { return "SemanticSearchStrategy" }

func (s *SemanticSearchStrategy) Retrieve(ctx context.Context, req Request) ([]models.Segment, error) {
	query := req.ExpandedQuery
	if query == "" {
		query = req.Query
	}

	vector, err := s.Embedder.Encode(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	threshold := s.BaseThreshold
	if !s.FixedThreshold {
		threshold = adaptiveThreshold(s.BaseThreshold, req.Query, len(req.Documents))
	}

	// Over-fetch so post-filtering still fills the requested k.
	segments, err := s.Index.Search(ctx, req.SessionID, vector, 2*req.MaxSegments, threshold)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	sort.SliceStable(segments, func(i, j int) bool { return segments[i].Score > segments[j].Score })
	if len(segments) > req.MaxSegments {
		segments = segments[:req.MaxSegments]
	}
	return segments, nil
}

// adaptiveThreshold tunes the base similarity cutoff to the query shape.
// Short queries loosen it, long queries and many documents tighten it.
func adaptiveThreshold(base float64, query string, documents int) float64 {
	threshold := base

	wordCount := len(strings.Fields(query))
	if wordCount < 5 {
		threshold -= 0.15
	}
	if wordCount > 15 {
		threshold += 0.05
	}
	if documents > 5 {
		threshold += 0.05
	}

	if threshold < 0 {
		threshold = 0
	}
	if threshold > 0.8 {
		threshold = 0.8
	}
	return threshold
}
