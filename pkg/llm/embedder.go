package llm

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"math"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/saptiva-ai/copilotos/pkg/config"
)

// Encoder turns text into an embedding vector.
type Encoder interface {
	Encode(ctx context.Context, text string) ([]float32, error)
}

// NewEmbedder builds the production embedder against the Saptiva embeddings
// endpoint, or the deterministic mock when mock mode is forced.
func NewEmbedder(settings *config.Settings) Encoder {
	if settings.SaptivaForceMock {
		return NewMockEmbedder()
	}

	cfg := openai.DefaultConfig(settings.SaptivaAPIKey)
	cfg.BaseURL = settings.SaptivaBaseURL
	return &SaptivaEmbedder{
		api:   openai.NewClientWithConfig(cfg),
		model: openai.SmallEmbedding3,
	}
}

// SaptivaEmbedder calls the Saptiva embeddings endpoint.
type SaptivaEmbedder struct {
	api   *openai.Client
	model openai.EmbeddingModel
}

func (e *SaptivaEmbedder) Encode(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.api.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: e.model,
	})
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, errors.New("embedding response carried no vectors")
	}
	return resp.Data[0].Embedding, nil
}

const mockEmbeddingDims = 64

// MockEmbedder produces deterministic bag-of-words vectors: texts sharing
// words get similar vectors, which is enough signal for retrieval in mock
// mode.
type MockEmbedder struct{}

func NewMockEmbedder() *MockEmbedder { return &MockEmbedder{} }

func (MockEmbedder) Encode(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, mockEmbeddingDims)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		sum := sha256.Sum256([]byte(word))
		vec[int(sum[0])%mockEmbeddingDims]++
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= scale
		}
	}
	return vec, nil
}
