package testutils

import (
	"context"
	"math"
	"slices"
	"sync"

	"github.com/papercomputeco/reverie/pkg/vector"
)

// MockVectorDriver is a test vector driver ranking by cosine similarity.
type MockVectorDriver struct {
	mu        sync.Mutex
	documents map[string]vector.Document

	// FailQuery causes Query to return vector.ErrConnection.
	FailQuery bool

	// FailAdd causes Add to return vector.ErrConnection.
	FailAdd bool
}

func NewMockVectorDriver() *MockVectorDriver {
	return &MockVectorDriver{
		documents: make(map[string]vector.Document),
	}
}

func (m *MockVectorDriver) Add(_ context.Context, docs []vector.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailAdd {
		return vector.ErrConnection
	}
	for _, d := range docs {
		m.documents[d.ID] = d
	}
	return nil
}

func (m *MockVectorDriver) Query(_ context.Context, agentID string, embedding []float32, topK int) ([]vector.QueryResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailQuery {
		return nil, vector.ErrConnection
	}

	var results []vector.QueryResult
	for _, d := range m.documents {
		if d.AgentID != agentID {
			continue
		}
		results = append(results, vector.QueryResult{Document: d, Score: cosine(d.Embedding, embedding)})
	}

	slices.SortFunc(results, func(a, b vector.QueryResult) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		default:
			return 0
		}
	})

	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

func (m *MockVectorDriver) Get(_ context.Context, ids []string) ([]vector.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var docs []vector.Document
	for _, id := range ids {
		if d, ok := m.documents[id]; ok {
			docs = append(docs, d)
		}
	}
	return docs, nil
}

func (m *MockVectorDriver) Delete(_ context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range ids {
		delete(m.documents, id)
	}
	return nil
}

// Len returns the number of indexed documents.
func (m *MockVectorDriver) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.documents)
}

func (m *MockVectorDriver) Close() error {
	return nil
}

func cosine(a, b []float32) float32 {
	if len(a) != len(b) {
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
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

var _ vector.VectorDriver = (*MockVectorDriver)(nil)
