package models

// Segment is a retrieved document chunk with a relevance score in [0,1].
type Segment struct {
	DocID    string         `json:"doc_id"`
	DocName  string         `json:"doc_name"`
	ChunkID  string         `json:"chunk_id"`
	Text     string         `json:"text"`
	Score    float64        `json:"score"`
	Page     int            `json:"page,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// QueryIntent classifies what the user is asking for.
type QueryIntent string

const (
	IntentOverview     QueryIntent = "overview"
	IntentDefinitional QueryIntent = "definitional"
	IntentSpecificFact QueryIntent = "specific_fact"
	IntentQuantitative QueryIntent = "quantitative"
	IntentProcedural   QueryIntent = "procedural"
	IntentAnalytical   QueryIntent = "analytical"
	IntentComparison   QueryIntent = "comparison"
)

// QueryComplexity grades how much work a query needs.
type QueryComplexity string

const (
	ComplexityVague   QueryComplexity = "vague"
	ComplexitySimple  QueryComplexity = "simple"
	ComplexityComplex QueryComplexity = "complex"
)

// QueryAnalysis is the output of the query understanding capability.
type QueryAnalysis struct {
	Intent        QueryIntent     `json:"intent"`
	Complexity    QueryComplexity `json:"complexity"`
	ExpandedQuery string          `json:"expanded_query"`
	Confidence    float64         `json:"confidence"`
	Reasoning     string          `json:"reasoning,omitempty"`
}

// RetrievalResult carries the retrieved segments plus how they were found.
type RetrievalResult struct {
	Segments     []Segment      `json:"segments"`
	StrategyUsed string         `json:"strategy_used"`
	QueryAnalysis *QueryAnalysis `json:"query_analysis,omitempty"`
	Confidence   float64        `json:"confidence"`
	MaxScore     float64        `json:"max_score"`
	AvgScore     float64        `json:"avg_score"`
}
