package retrieval

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/saptiva-ai/copilotos/pkg/models"
)

// chunkSize is the target chunk length in bytes. Chunks break on word
// boundaries, so a multibyte rune never splits.
const chunkSize = 1200

// MemoryIndex is a process-local VectorIndex over per-session document
// chunks. It backs retrieval when no external vector store is deployed;
// entries live as long as the process.
type MemoryIndex struct {
	mu       sync.RWMutex
	sessions map[string]map[string]*indexedDoc
}

type indexedDoc struct {
	fingerprint string
	segments    []models.Segment
	vectors     [][]float32
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{sessions: make(map[string]map[string]*indexedDoc)}
}

// EnsureDocument chunks and embeds a document into the session's index.
// Re-ensuring an unchanged document is a no-op, so repeated turns over the
// same attachment pay the embedding cost once.
func (m *MemoryIndex) EnsureDocument(ctx context.Context, sessionID, docID, docName, text string, embedder Embedder) error {
	fingerprint := textFingerprint(text)

	m.mu.RLock()
	doc, ok := m.sessions[sessionID][docID]
	m.mu.RUnlock()
	if ok && doc.fingerprint == fingerprint {
		return nil
	}

	chunks := chunkText(text, chunkSize)
	segments := make([]models.Segment, 0, len(chunks))
	vectors := make([][]float32, 0, len(chunks))
	for i, chunk := range chunks {
		vector, err := embedder.Encode(ctx, chunk)
		if err != nil {
			return fmt.Errorf("failed to embed chunk %d of %s: %w", i, docID, err)
		}
		segments = append(segments, models.Segment{
			DocID:   docID,
			DocName: docName,
			ChunkID: fmt.Sprintf("%s:%d", docID, i),
			Text:    chunk,
		})
		vectors = append(vectors, vector)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sessions[sessionID] == nil {
		m.sessions[sessionID] = make(map[string]*indexedDoc)
	}
	m.sessions[sessionID][docID] = &indexedDoc{
		fingerprint: fingerprint,
		segments:    segments,
		vectors:     vectors,
	}
	return nil
}

func (m *MemoryIndex) Search(_ context.Context, sessionID string, vector []float32, limit int, threshold float64) ([]models.Segment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.Segment
	for _, doc := range m.sessions[sessionID] {
		for i, v := range doc.vectors {
			score := cosine(vector, v)
			if score < threshold {
				continue
			}
			seg := doc.segments[i]
			seg.Score = score
			out = append(out, seg)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryIndex) FirstChunks(_ context.Context, sessionID, docID string, n int) ([]models.Segment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	doc, ok := m.sessions[sessionID][docID]
	if !ok {
		return nil, nil
	}
	if n > len(doc.segments) {
		n = len(doc.segments)
	}
	return append([]models.Segment(nil), doc.segments[:n]...), nil
}

func chunkText(text string, size int) []string {
	var chunks []string
	var b strings.Builder
	for _, word := range strings.Fields(text) {
		if b.Len() > 0 && b.Len()+1+len(word) > size {
			chunks = append(chunks, b.String())
			b.Reset()
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(word)
	}
	if b.Len() > 0 {
		chunks = append(chunks, b.String())
	}
	return chunks
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func textFingerprint(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
