package embedding

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/embeddings"

	"github.com/docmind/docmind/internal/config"
)

// lengthClient embeds a text as [len(text), 1].
func lengthClient(calls *int) embeddings.EmbedderClientFunc {
	return func(_ context.Context, texts []string) ([][]float32, error) {
		*calls++
		out := make([][]float32, len(texts))
		for i, t := range texts {
			out[i] = []float32{float32(len(t)), 1}
		}
		return out, nil
	}
}

func TestEmbedTextsKeepsOrderInOneBatch(t *testing.T) {
	calls := 0
	e, err := embeddings.NewEmbedder(lengthClient(&calls))
	require.NoError(t, err)
	c := NewClient(e)

	texts := []string{"a", "bbb", "line\nbreak"}
	vecs, err := c.EmbedTexts(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	assert.Equal(t, float32(1), vecs[0][0])
	assert.Equal(t, float32(3), vecs[1][0])
	assert.Equal(t, 1, calls)
	// caller's slice is untouched
	assert.Equal(t, "line\nbreak", texts[2])
}

func TestEmbedTextsEmpty(t *testing.T) {
	calls := 0
	e, _ := embeddings.NewEmbedder(lengthClient(&calls))
	vecs, err := NewClient(e).EmbedTexts(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, vecs)
	assert.Zero(t, calls)
}

func TestEmbedFailuresAreWrapped(t *testing.T) {
	failing := embeddings.EmbedderClientFunc(func(context.Context, []string) ([][]float32, error) {
		return nil, errors.New("rate limited")
	})
	e, _ := embeddings.NewEmbedder(failing)
	c := NewClient(e)

	_, err := c.EmbedTexts(context.Background(), []string{"x"})
	assert.ErrorIs(t, err, ErrEmbeddingFailure)
	assert.True(t, strings.Contains(err.Error(), "rate limited"))

	_, err = c.EmbedQuery(context.Background(), "x")
	assert.ErrorIs(t, err, ErrEmbeddingFailure)
}

func TestEmbedTextsRejectsShortResponse(t *testing.T) {
	short := embeddings.EmbedderClientFunc(func(_ context.Context, texts []string) ([][]float32, error) {
		return [][]float32{{1}}, nil
	})
	e, _ := embeddings.NewEmbedder(short)
	_, err := NewClient(e).EmbedTexts(context.Background(), []string{"a", "b"})
	assert.ErrorIs(t, err, ErrEmbeddingFailure)
}

func TestNewEmbedderProviders(t *testing.T) {
	_, err := NewEmbedder(config.LLMConfig{Provider: config.ProviderOpenAI, Key: "sk-test", Model: "text-embedding-3-small"})
	assert.NoError(t, err)

	_, err = NewEmbedder(config.LLMConfig{Provider: config.ProviderOllama, BaseURL: "http://localhost:11434", Model: "nomic-embed-text"})
	assert.NoError(t, err)

	_, err = NewEmbedder(config.LLMConfig{Provider: "cohere"})
	assert.Error(t, err)
}
