package retrieval

import (
	"context"
	"strings"

	"github.com/saptiva-ai/copilotos/pkg/models"
)

// intentRules map trigger phrases to an intent. Matching is substring-based
// over the normalized query; first hit wins in declaration order.
var intentRules = []struct {
	intent   models.QueryIntent
	keywords []string
}{
	{models.IntentComparison, []string{"compara", "diferencia", "versus", " vs "}},
	{models.IntentQuantitative, []string{"cuánto", "cuanto", "cuánta", "cuanta", "total", "monto", "promedio", "porcentaje", "suma"}},
	{models.IntentOverview, []string{"resumen", "resume", "de qué trata", "de que trata", "en general", "panorama"}},
	{models.IntentDefinitional, []string{"qué es", "que es", "qué significa", "que significa", "define", "definición"}},
	{models.IntentProcedural, []string{"cómo ", "como ", "pasos", "procedimiento"}},
	{models.IntentAnalytical, []string{"por qué", "por que", "analiza", "explica", "evalúa", "implica"}},
}

// HeuristicAnalyzer classifies queries with keyword rules, with no model
// call. Very short follow-up queries inherit the intent of the previous
// analysis.
type HeuristicAnalyzer struct{}

func (HeuristicAnalyzer) AnalyzeQuery(_ context.Context, query string, prior *models.QueryAnalysis) (*models.QueryAnalysis, error) {
	normalized := " " + strings.ToLower(strings.Join(strings.Fields(query), " ")) + " "
	words := len(strings.Fields(query))

	analysis := &models.QueryAnalysis{
		Intent:        models.IntentSpecificFact,
		Complexity:    models.ComplexitySimple,
		ExpandedQuery: query,
		Confidence:    0.5,
	}
	switch {
	case words <= 3:
		analysis.Complexity = models.ComplexityVague
	case words > 12:
		analysis.Complexity = models.ComplexityComplex
	}

	for _, rule := range intentRules {
		for _, kw := range rule.keywords {
			if strings.Contains(normalized, kw) {
				analysis.Intent = rule.intent
				analysis.Confidence = 0.9
				analysis.Reasoning = "palabra clave: " + strings.TrimSpace(kw)
				return analysis, nil
			}
		}
	}

	if prior != nil && analysis.Complexity == models.ComplexityVague {
		analysis.Intent = prior.Intent
		analysis.Confidence = 0.6
		analysis.Reasoning = "seguimiento de la consulta anterior"
	}
	return analysis, nil
}
