package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/docmind/docmind/internal/metrics"
	"github.com/docmind/docmind/internal/models"
	"github.com/docmind/docmind/internal/rag"
)

const (
	QueryWorkflowName = "query_pdf_ai"

	StepEmbedAndSearch = "embed-and-search"
	StepLLMAnswer      = "llm-answer"
)

// Completer answers a rendered prompt.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// QueryWorkflow retrieves contexts for a question and asks the model to answer from them.
type QueryWorkflow struct {
	retriever *rag.Retriever
	completer Completer
}

func NewQueryWorkflow(retriever *rag.Retriever, completer Completer) *QueryWorkflow {
	return &QueryWorkflow{retriever: retriever, completer: completer}
}

func (w *QueryWorkflow) Run(ctx context.Context, run *Run, event models.QueryEvent) (res models.AnswerResult, err error) {
	question := strings.TrimSpace(event.Question)
	if question == "" {
		return models.AnswerResult{}, fmt.Errorf("%w: question is required", ErrInvalidEvent)
	}
	topK := event.Limit()
	if topK < 1 {
		return models.AnswerResult{}, fmt.Errorf("%w: top_k must be >= 1, got %d", ErrInvalidEvent, event.TopK)
	}
	scope := rag.NewScope(event.SourceIDs)

	start := time.Now()
	defer func() {
		status := "ok"
		if err != nil {
			status = "error"
		}
		metrics.QueryDuration.WithLabelValues(scope.Mode.String(), status).Observe(time.Since(start).Seconds())
	}()

	found, err := Step(ctx, run, StepEmbedAndSearch, func(ctx context.Context) (models.RetrievalResult, error) {
		return w.retriever.Retrieve(ctx, question, topK, scope)
	})
	if err != nil {
		return models.AnswerResult{}, err
	}
	metrics.RetrievedContexts.Observe(float64(len(found.Contexts)))

	prompt := rag.BuildPrompt(question, found.Contexts, found.ContextSources, scope.Mode)
	return Step(ctx, run, StepLLMAnswer, func(ctx context.Context) (models.AnswerResult, error) {
		answer, err := w.completer.Complete(ctx, prompt)
		if err != nil {
			return models.AnswerResult{}, err
		}
		return models.AnswerResult{
			Answer:      answer,
			Sources:     found.Sources,
			NumContexts: len(found.Contexts),
		}, nil
	})
}
