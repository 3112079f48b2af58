package rag

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/docmind/docmind/internal/models"
	"github.com/docmind/docmind/internal/vectorstore"
)

// QueryEmbedder turns a question into a vector.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Retriever finds the contexts for a question inside a scope.
type Retriever struct {
	embedder QueryEmbedder
	store    vectorstore.Store
}

func NewRetriever(embedder QueryEmbedder, store vectorstore.Store) *Retriever {
	return &Retriever{embedder: embedder, store: store}
}

// Retrieve embeds question, searches the store restricted to scope.Sources
// and returns the non-empty hits in ranking order. An empty store yields an
// empty result, not an error.
func (r *Retriever) Retrieve(ctx context.Context, question string, topK int, scope Scope) (models.RetrievalResult, error) {
	if topK < 1 {
		return models.RetrievalResult{}, fmt.Errorf("top_k must be >= 1, got %d", topK)
	}
	vec, err := r.embedder.EmbedQuery(ctx, question)
	if err != nil {
		return models.RetrievalResult{}, err
	}

	hits, err := r.store.Search(ctx, vec, topK, vectorstore.SourceFilter(scope.Sources))
	if err != nil {
		return models.RetrievalResult{}, err
	}

	res := models.RetrievalResult{
		Contexts:       []string{},
		ContextSources: []string{},
		Sources:        []string{},
	}
	seen := make(map[string]struct{})
	for _, h := range hits {
		if h.Text == "" {
			continue
		}
		source := h.Source
		if source == "" {
			source = models.UnknownSource
		}
		res.Contexts = append(res.Contexts, h.Text)
		res.ContextSources = append(res.ContextSources, source)
		if _, ok := seen[source]; !ok {
			seen[source] = struct{}{}
			res.Sources = append(res.Sources, source)
		}
	}

	log.Debug().Int("hits", len(hits)).Int("contexts", len(res.Contexts)).Strs("sources", res.Sources).
		Str("mode", scope.Mode.String()).Msg("Retrieved contexts")
	return res, nil
}
