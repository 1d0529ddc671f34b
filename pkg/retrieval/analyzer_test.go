package retrieval

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saptiva-ai/copilotos/pkg/models"
)

func TestHeuristicAnalyzer(t *testing.T) {
	ctx := context.Background()
	analyzer := HeuristicAnalyzer{}

	tests := []struct {
		name       string
		query      string
		intent     models.QueryIntent
		complexity models.QueryComplexity
	}{
		{"overview by keyword", "dame un resumen del contrato", models.IntentOverview, models.ComplexitySimple},
		{"quantitative by keyword", "cuál es el monto total facturado", models.IntentQuantitative, models.ComplexitySimple},
		{"comparison by keyword", "compara los dos estados de cuenta", models.IntentComparison, models.ComplexitySimple},
		{"definitional by keyword", "qué es el margen operativo", models.IntentDefinitional, models.ComplexitySimple},
		{"procedural by keyword", "cómo se calcula la retención", models.IntentProcedural, models.ComplexitySimple},
		{"analytical by keyword", "por qué bajaron los ingresos respecto al año anterior", models.IntentAnalytical, models.ComplexitySimple},
		{"default is specific fact", "fecha de firma del contrato principal", models.IntentSpecificFact, models.ComplexitySimple},
		{"short query is vague", "el contrato", models.IntentSpecificFact, models.ComplexityVague},
		{"long query is complex", "necesito la fecha exacta en la que se firmó el contrato principal con el proveedor del norte", models.IntentSpecificFact, models.ComplexityComplex},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := analyzer.AnalyzeQuery(ctx, tt.query, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.intent, got.Intent)
			assert.Equal(t, tt.complexity, got.Complexity)
			assert.Equal(t, tt.query, got.ExpandedQuery)
		})
	}

	t.Run("vague follow-up inherits the prior intent", func(t *testing.T) {
		prior := &models.QueryAnalysis{Intent: models.IntentQuantitative}
		got, err := analyzer.AnalyzeQuery(ctx, "y el neto", prior)
		require.NoError(t, err)
		assert.Equal(t, models.IntentQuantitative, got.Intent)
		assert.Equal(t, models.ComplexityVague, got.Complexity)
	})

	t.Run("keyword beats prior on follow-ups", func(t *testing.T) {
		prior := &models.QueryAnalysis{Intent: models.IntentOverview}
		got, err := analyzer.AnalyzeQuery(ctx, "cuánto suma", prior)
		require.NoError(t, err)
		assert.Equal(t, models.IntentQuantitative, got.Intent)
	})
}
