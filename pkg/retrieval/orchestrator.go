// Package retrieval selects and executes a retrieval strategy per query.
// Query understanding is an injected capability; the orchestrator maps its
// (intent, complexity) verdict to a strategy and applies empty-result
// fallbacks.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/saptiva-ai/copilotos/pkg/models"
)

// QueryAnalyzer classifies a query. Implementations may be heuristic or an
// LLM call.
type QueryAnalyzer interface {
	AnalyzeQuery(ctx context.Context, query string, prior *models.QueryAnalysis) (*models.QueryAnalysis, error)
}

type strategyKey struct {
	intent     models.QueryIntent
	complexity models.QueryComplexity
}

// Orchestrator routes queries to strategies.
type Orchestrator struct {
	analyzer   QueryAnalyzer
	index      VectorIndex
	embedder   Embedder
	strategies map[strategyKey]Strategy
	fallback   Strategy
	logger     *slog.Logger
}

func NewOrchestrator(analyzer QueryAnalyzer, index VectorIndex, embedder Embedder) *Orchestrator {
	o := &Orchestrator{
		analyzer:   analyzer,
		index:      index,
		embedder:   embedder,
		strategies: make(map[strategyKey]Strategy),
		fallback:   &SemanticSearchStrategy{Index: index, Embedder: embedder, BaseThreshold: 0.3},
		logger:     slog.With("component", "retrieval"),
	}

	overview := &OverviewStrategy{Index: index, ChunksPerDoc: 3}
	precise := &SemanticSearchStrategy{Index: index, Embedder: embedder, BaseThreshold: 0.4}
	broad := &SemanticSearchStrategy{Index: index, Embedder: embedder, BaseThreshold: 0.25}

	for _, c := range []models.QueryComplexity{models.ComplexityVague, models.ComplexitySimple, models.ComplexityComplex} {
		o.Register(models.IntentOverview, c, overview)
		o.Register(models.IntentSpecificFact, c, precise)
		o.Register(models.IntentQuantitative, c, precise)
		o.Register(models.IntentAnalytical, c, broad)
		o.Register(models.IntentComparison, c, broad)
	}
	// Vague definitional and procedural queries read like overviews.
	o.Register(models.IntentDefinitional, models.ComplexityVague, overview)
	o.Register(models.IntentProcedural, models.ComplexityVague, overview)

	return o
}

// Register binds a strategy to an (intent, complexity) pair.
func (o *Orchestrator) Register(intent models.QueryIntent, complexity models.QueryComplexity, s Strategy) {
	o.strategies[strategyKey{intent, complexity}] = s
}

func (o *Orchestrator) strategyFor(analysis *models.QueryAnalysis) Strategy {
	if s, ok := o.strategies[strategyKey{analysis.Intent, analysis.Complexity}]; ok {
		return s
	}
	return o.fallback
}

// Retrieve analyzes the query, runs the selected strategy, and applies
// empty-result fallbacks before giving up.
func (o *Orchestrator) Retrieve(ctx context.Context, query, sessionID string, documents []string, maxSegments int, prior *models.QueryAnalysis) (*models.RetrievalResult, error) {
	analysis, err := o.analyzer.AnalyzeQuery(ctx, query, prior)
	if err != nil {
		return nil, fmt.Errorf("query analysis failed: %w", err)
	}

	req := Request{
		Query:         query,
		ExpandedQuery: analysis.ExpandedQuery,
		SessionID:     sessionID,
		Documents:     documents,
		MaxSegments:   maxSegments,
	}

	strategy := o.strategyFor(analysis)
	segments, err := strategy.Retrieve(ctx, req)
	if err != nil {
		return nil, err
	}

	if len(segments) == 0 {
		if fallback := o.fallbackFor(analysis); fallback != nil {
			o.logger.Info("Primary strategy returned nothing, applying fallback",
				"intent", analysis.Intent, "primary", strategy.Name(), "fallback", fallback.Name())
			segments, err = fallback.Retrieve(ctx, req)
			if err != nil {
				return nil, err
			}
			strategy = fallback
		}
	}

	// Strategies may over-deliver (overview returns chunks per document);
	// the requested cap applies to the combined result.
	if maxSegments > 0 && len(segments) > maxSegments {
		segments = segments[:maxSegments]
	}

	result := &models.RetrievalResult{
		Segments:      segments,
		StrategyUsed:  strategy.Name(),
		QueryAnalysis: analysis,
		Confidence:    analysis.Confidence,
	}
	for _, s := range segments {
		if s.Score > result.MaxScore {
			result.MaxScore = s.Score
		}
		result.AvgScore += s.Score
	}
	if len(segments) > 0 {
		result.AvgScore /= float64(len(segments))
	}
	return result, nil
}

// fallbackFor returns the second-chance strategy for an empty primary result.
func (o *Orchestrator) fallbackFor(analysis *models.QueryAnalysis) Strategy {
	switch analysis.Intent {
	case models.IntentOverview:
		return &OverviewStrategy{Index: o.index, ChunksPerDoc: 2}
	case models.IntentSpecificFact:
		return &SemanticSearchStrategy{Index: o.index, Embedder: o.embedder, BaseThreshold: 0, FixedThreshold: true}
	default:
		return nil
	}
}
