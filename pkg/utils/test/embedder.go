// Package testutils holds in-memory fakes shared by package test suites.
package testutils

import (
	"context"
	"errors"
	"strings"
)

// ErrMockEmbedding is returned by MockEmbedder for text containing FailOn.
var ErrMockEmbedding = errors.New("mock embedding failure")

// MockEmbedder maps text onto one dimension per keyword: 1 when the keyword
// occurs in the text (ignoring case), 0 otherwise. Texts that share keywords
// are therefore close under cosine similarity.
type MockEmbedder struct {
	Keywords []string

	// FailOn, when set, makes Embed fail for any text containing it.
	FailOn string
}

func NewMockEmbedder(keywords ...string) *MockEmbedder {
	return &MockEmbedder{Keywords: keywords}
}

func (m *MockEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if m.FailOn != "" && strings.Contains(text, m.FailOn) {
		return nil, ErrMockEmbedding
	}

	lower := strings.ToLower(text)
	emb := make([]float32, len(m.Keywords))
	for i, k := range m.Keywords {
		if strings.Contains(lower, strings.ToLower(k)) {
			emb[i] = 1
		}
	}
	return emb, nil
}

func (m *MockEmbedder) Close() error {
	return nil
}
