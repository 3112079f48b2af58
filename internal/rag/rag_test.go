package rag

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docmind/docmind/internal/helper"
	"github.com/docmind/docmind/internal/models"
	"github.com/docmind/docmind/internal/vectorstore"
)

type mapEmbedder map[string][]float32

func (m mapEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	if v, ok := m[text]; ok {
		return v, nil
	}
	return nil, errors.New("no vector for " + text)
}

func newStore(t *testing.T) *vectorstore.ChromemStore {
	t.Helper()
	s, err := vectorstore.NewChromemStore("", true, false, vectorstore.CollectionConfig{Name: "docs", Dimension: 3, Metric: vectorstore.MetricCosine})
	require.NoError(t, err)
	return s
}

func seed(t *testing.T, s vectorstore.Store, source string, texts []string, vecs [][]float32) {
	t.Helper()
	pls := make([]models.Payload, len(texts))
	for i, text := range texts {
		pls[i] = models.Payload{Source: source, Text: text, ChunkIndex: i}
	}
	require.NoError(t, s.Upsert(context.Background(), helper.ChunkIDs(source, len(texts)), vecs, pls))
}

func TestNewScope(t *testing.T) {
	s := NewScope(nil)
	assert.Equal(t, ModeSingle, s.Mode)
	assert.Empty(t, s.Sources)

	s = NewScope([]string{"a.pdf"})
	assert.Equal(t, ModeSingle, s.Mode)
	assert.Equal(t, []string{"a.pdf"}, s.Sources)

	s = NewScope([]string{"a.pdf", "", "a.pdf"})
	assert.Equal(t, ModeSingle, s.Mode)
	assert.Equal(t, []string{"a.pdf"}, s.Sources)

	s = NewScope([]string{"a.pdf", "b.pdf", "a.pdf"})
	assert.Equal(t, ModeCompare, s.Mode)
	assert.Equal(t, []string{"a.pdf", "b.pdf"}, s.Sources)
}

func TestBuildPromptSingle(t *testing.T) {
	p := BuildPrompt("how?", []string{"ctx one", "ctx two"}, []string{"a.pdf", ""}, ModeSingle)

	assert.Contains(t, p, "\n--- SOURCE: a.pdf ---\nctx one\n")
	assert.Contains(t, p, "\n--- SOURCE: unknown ---\nctx two\n")
	assert.Contains(t, p, "Question: how?")
	assert.Contains(t, p, "Do not hallucinate")
	assert.NotContains(t, p, "COMPARE")
	assert.Less(t, strings.Index(p, "ctx one"), strings.Index(p, "ctx two"))
}

func TestBuildPromptCompare(t *testing.T) {
	p := BuildPrompt("diff?", []string{"x"}, []string{"a.pdf"}, ModeCompare)
	assert.Contains(t, p, "COMPARE and CONTRAST")
	assert.Contains(t, p, "Explicitly mention which document each fact comes from")
	assert.Contains(t, p, "Markdown table")
	assert.Contains(t, p, "Question: diff?")
}

func TestBuildPromptNoContexts(t *testing.T) {
	p := BuildPrompt("anything?", nil, nil, ModeSingle)
	assert.Contains(t, p, "Context:\n\n\nQuestion: anything?")
}

func TestRetrieveEmptyCollection(t *testing.T) {
	r := NewRetriever(mapEmbedder{"q": {1, 0, 0}}, newStore(t))
	res, err := r.Retrieve(context.Background(), "q", 5, NewScope(nil))
	require.NoError(t, err)
	assert.Empty(t, res.Contexts)
	assert.Empty(t, res.Sources)
	assert.NotNil(t, res.Contexts)
	assert.NotNil(t, res.Sources)
}

func TestRetrieveFilterCorrectness(t *testing.T) {
	s := newStore(t)
	seed(t, s, "A", []string{"a0", "a1", "a2"}, [][]float32{{1, 0, 0}, {0.9, 0.1, 0}, {0.8, 0.2, 0}})
	seed(t, s, "B", []string{"b0", "b1"}, [][]float32{{1, 0, 0}, {1, 0.01, 0}})

	r := NewRetriever(mapEmbedder{"q": {1, 0, 0}}, s)
	res, err := r.Retrieve(context.Background(), "q", 10, NewScope([]string{"A"}))
	require.NoError(t, err)
	assert.Len(t, res.Contexts, 3)
	assert.Equal(t, []string{"A"}, res.Sources)
	for _, src := range res.ContextSources {
		assert.Equal(t, "A", src)
	}
}

func TestRetrieveContextSourceConsistency(t *testing.T) {
	s := newStore(t)
	seed(t, s, "A", []string{"a0", ""}, [][]float32{{1, 0, 0}, {1, 0, 0}})
	seed(t, s, "B", []string{"b0"}, [][]float32{{0.9, 0.1, 0}})

	r := NewRetriever(mapEmbedder{"q": {1, 0, 0}}, s)
	res, err := r.Retrieve(context.Background(), "q", 3, NewScope([]string{"A", "B"}))
	require.NoError(t, err)

	// the empty-text chunk is dropped
	assert.Len(t, res.Contexts, 2)
	require.Len(t, res.ContextSources, len(res.Contexts))
	for _, src := range res.Sources {
		assert.Contains(t, res.ContextSources, src)
	}
	assert.ElementsMatch(t, []string{"A", "B"}, res.Sources)
}

func TestRetrieveTopKBound(t *testing.T) {
	s := newStore(t)
	seed(t, s, "A", []string{"a0", "a1", "a2"}, [][]float32{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}})

	r := NewRetriever(mapEmbedder{"q": {1, 0, 0}}, s)
	res, err := r.Retrieve(context.Background(), "q", 2, NewScope(nil))
	require.NoError(t, err)
	assert.Len(t, res.Contexts, 2)
	assert.Equal(t, "a0", res.Contexts[0])

	_, err = r.Retrieve(context.Background(), "q", 0, NewScope(nil))
	assert.Error(t, err)
}

func TestRetrievePropagatesFailures(t *testing.T) {
	r := NewRetriever(mapEmbedder{}, newStore(t))
	_, err := r.Retrieve(context.Background(), "unknown question", 1, NewScope(nil))
	assert.Error(t, err)

	r = NewRetriever(mapEmbedder{"q": {1, 0}}, newStore(t))
	_, err = r.Retrieve(context.Background(), "q", 1, NewScope(nil))
	assert.ErrorIs(t, err, vectorstore.ErrDimensionMismatch)
}
