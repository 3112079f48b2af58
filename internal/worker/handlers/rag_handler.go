package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog/log"

	"github.com/docmind/docmind/internal/models"
	"github.com/docmind/docmind/internal/parser"
	"github.com/docmind/docmind/internal/vectorstore"
	"github.com/docmind/docmind/internal/workflow"
)

// IngestRunner runs the ingest workflow; QueryRunner runs the query workflow.
type IngestRunner interface {
	Run(ctx context.Context, run *workflow.Run, event models.IngestEvent) (models.IngestResult, error)
}

type QueryRunner interface {
	Run(ctx context.Context, run *workflow.Run, event models.QueryEvent) (models.AnswerResult, error)
}

type RAGHandler struct {
	ingest IngestRunner
	query  QueryRunner
	memo   workflow.Memo
}

func NewRAGHandler(ingest IngestRunner, query QueryRunner, memo workflow.Memo) *RAGHandler {
	return &RAGHandler{ingest: ingest, query: query, memo: memo}
}

func (h *RAGHandler) HandleIngestPDF(ctx context.Context, t *asynq.Task) error {
	var event models.IngestEvent
	if err := json.Unmarshal(t.Payload(), &event); err != nil {
		return fmt.Errorf("json unmarshal failed: %v: %w", err, asynq.SkipRetry)
	}

	run := workflow.NewRun(workflow.IngestWorkflowName, runID(ctx), h.memo)
	logger := log.With().Str("run_id", run.ID).Str("source", event.Source()).Logger()
	logger.Info().Str("path", event.PDFPath).Msg("Starting ingest run")

	res, err := h.ingest.Run(ctx, run, event)
	if err != nil {
		logger.Error().Err(err).Msg("Ingest run failed")
		return classify(err)
	}

	logger.Info().Int("ingested", res.Ingested).Msg("Ingest run completed")
	return h.finish(ctx, t, run, res)
}

func (h *RAGHandler) HandleQueryPDFAI(ctx context.Context, t *asynq.Task) error {
	var event models.QueryEvent
	if err := json.Unmarshal(t.Payload(), &event); err != nil {
		return fmt.Errorf("json unmarshal failed: %v: %w", err, asynq.SkipRetry)
	}

	run := workflow.NewRun(workflow.QueryWorkflowName, runID(ctx), h.memo)
	logger := log.With().Str("run_id", run.ID).Strs("sources", event.SourceIDs).Logger()
	logger.Info().Str("question", event.Question).Msg("Starting query run")

	res, err := h.query.Run(ctx, run, event)
	if err != nil {
		logger.Error().Err(err).Msg("Query run failed")
		return classify(err)
	}

	logger.Info().Int("contexts", res.NumContexts).Strs("answer_sources", res.Sources).Msg("Query run completed")
	return h.finish(ctx, t, run, res)
}

// finish stores the run result on the task and drops the run's step memo.
func (h *RAGHandler) finish(ctx context.Context, t *asynq.Task, run *workflow.Run, result any) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode run result: %w", err)
	}
	if w := t.ResultWriter(); w != nil {
		if _, err := w.Write(data); err != nil {
			return fmt.Errorf("failed to write run result: %w", err)
		}
	}
	if err := h.memo.Forget(ctx, run.ID); err != nil {
		log.Warn().Err(err).Str("run_id", run.ID).Msg("Failed to clear step memo")
	}
	return nil
}

// runID is the task id, which asynq keeps across retries. Tasks executed
// outside a server get a fresh id.
func runID(ctx context.Context) string {
	if id, ok := asynq.GetTaskID(ctx); ok && id != "" {
		return id
	}
	return uuid.NewString()
}

// classify marks failures that no retry can fix so asynq archives the task at once.
func classify(err error) error {
	permanent := []error{
		workflow.ErrInvalidEvent,
		vectorstore.ErrConfigMismatch,
		vectorstore.ErrArityMismatch,
		vectorstore.ErrDimensionMismatch,
		parser.ErrUnsupportedFormat,
		os.ErrNotExist,
	}
	for _, target := range permanent {
		if errors.Is(err, target) {
			return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
		}
	}
	return err
}
