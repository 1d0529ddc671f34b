package retrieval

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saptiva-ai/copilotos/pkg/doccache"
	"github.com/saptiva-ai/copilotos/pkg/llm"
)

func TestChunkText(t *testing.T) {
	t.Run("splits on word boundaries", func(t *testing.T) {
		chunks := chunkText("uno dos tres cuatro cinco seis", 10)
		require.Len(t, chunks, 4)
		assert.Equal(t, "uno dos", chunks[0])
		assert.Equal(t, "cinco seis", chunks[3])
		for _, c := range chunks {
			assert.LessOrEqual(t, len(c), 10)
		}
	})

	t.Run("short text is a single chunk", func(t *testing.T) {
		assert.Equal(t, []string{"hola mundo"}, chunkText("  hola   mundo  ", 100))
	})

	t.Run("empty text yields no chunks", func(t *testing.T) {
		assert.Empty(t, chunkText("   ", 100))
	})
}

func TestMemoryIndex(t *testing.T) {
	ctx := context.Background()

	t.Run("unchanged document embeds once", func(t *testing.T) {
		index := NewMemoryIndex()
		embedder := &fakeEmbedder{}

		require.NoError(t, index.EnsureDocument(ctx, "sess-1", "doc-1", "informe.pdf", "contenido breve", embedder))
		calls := embedder.calls
		require.NoError(t, index.EnsureDocument(ctx, "sess-1", "doc-1", "informe.pdf", "contenido breve", embedder))
		assert.Equal(t, calls, embedder.calls)

		require.NoError(t, index.EnsureDocument(ctx, "sess-1", "doc-1", "informe.pdf", "contenido distinto", embedder))
		assert.Greater(t, embedder.calls, calls, "changed text re-embeds")
	})

	t.Run("first chunks keep reading order", func(t *testing.T) {
		index := NewMemoryIndex()
		text := strings.Repeat("palabra ", 500)
		require.NoError(t, index.EnsureDocument(ctx, "sess-1", "doc-1", "largo.pdf", text, &fakeEmbedder{}))

		chunks, err := index.FirstChunks(ctx, "sess-1", "doc-1", 2)
		require.NoError(t, err)
		require.Len(t, chunks, 2)
		assert.Equal(t, "doc-1:0", chunks[0].ChunkID)
		assert.Equal(t, "doc-1:1", chunks[1].ChunkID)
		assert.Equal(t, "largo.pdf", chunks[0].DocName)
	})

	t.Run("unknown document yields no chunks", func(t *testing.T) {
		index := NewMemoryIndex()
		chunks, err := index.FirstChunks(ctx, "sess-1", "nadie", 3)
		require.NoError(t, err)
		assert.Empty(t, chunks)
	})

	t.Run("sessions are isolated", func(t *testing.T) {
		index := NewMemoryIndex()
		embedder := llm.NewMockEmbedder()
		require.NoError(t, index.EnsureDocument(ctx, "sess-1", "doc-1", "a.pdf", "ingresos totales del periodo", embedder))

		vector, err := embedder.Encode(ctx, "ingresos totales")
		require.NoError(t, err)

		hits, err := index.Search(ctx, "sess-2", vector, 5, 0)
		require.NoError(t, err)
		assert.Empty(t, hits)
	})
}

func TestDocumentRetriever(t *testing.T) {
	ctx := context.Background()
	retriever := NewDocumentRetriever(HeuristicAnalyzer{}, llm.NewMockEmbedder())

	docs := []*doccache.Extraction{
		{FileID: "fin-1", Filename: "finanzas.pdf",
			Text: "el monto total facturado del periodo fue quinientos mil pesos con impuestos incluidos"},
		{FileID: "rh-1", Filename: "personal.pdf",
			Text: "la plantilla de personal creció durante el año con nuevas contrataciones en sistemas"},
	}

	t.Run("quantitative query lands on the financial document", func(t *testing.T) {
		result, err := retriever.RetrieveContext(ctx, "cuál fue el monto total facturado", "sess-1", docs, 5)
		require.NoError(t, err)

		assert.Equal(t, "SemanticSearchStrategy", result.StrategyUsed)
		require.NotEmpty(t, result.Segments)
		assert.Equal(t, "fin-1", result.Segments[0].DocID)
		assert.Equal(t, "finanzas.pdf", result.Segments[0].DocName)
	})

	t.Run("overview query returns leading chunks of every document", func(t *testing.T) {
		result, err := retriever.RetrieveContext(ctx, "dame un resumen", "sess-1", docs, 10)
		require.NoError(t, err)

		assert.Equal(t, "OverviewStrategy", result.StrategyUsed)
		seen := map[string]bool{}
		for _, s := range result.Segments {
			seen[s.DocID] = true
		}
		assert.True(t, seen["fin-1"] && seen["rh-1"])
	})

	t.Run("cap applies to the combined result", func(t *testing.T) {
		result, err := retriever.RetrieveContext(ctx, "dame un resumen", "sess-1", docs, 1)
		require.NoError(t, err)
		assert.Len(t, result.Segments, 1)
	})
}
