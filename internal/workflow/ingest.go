package workflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/docmind/docmind/internal/helper"
	"github.com/docmind/docmind/internal/metrics"
	"github.com/docmind/docmind/internal/models"
	"github.com/docmind/docmind/internal/vectorstore"
)

const (
	IngestWorkflowName = "ingest_pdf"

	StepLoadAndChunk   = "load-and-chunk"
	StepEmbedAndUpsert = "embed-and-upsert"
)

// Loader reads a document and returns its chunks in order.
type Loader func(path string) ([]string, error)

// TextEmbedder embeds a batch of texts, one vector per text.
type TextEmbedder interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// IngestWorkflow chunks a document, embeds the chunks and upserts them under
// ids derived from (source id, chunk index), so re-ingesting a source
// overwrites its records instead of duplicating them.
type IngestWorkflow struct {
	load     Loader
	embedder TextEmbedder
	store    vectorstore.Store
}

func NewIngestWorkflow(load Loader, embedder TextEmbedder, store vectorstore.Store) *IngestWorkflow {
	return &IngestWorkflow{load: load, embedder: embedder, store: store}
}

func (w *IngestWorkflow) Run(ctx context.Context, run *Run, event models.IngestEvent) (models.IngestResult, error) {
	if strings.TrimSpace(event.PDFPath) == "" {
		return models.IngestResult{}, fmt.Errorf("%w: pdf_path is required", ErrInvalidEvent)
	}

	batch, err := Step(ctx, run, StepLoadAndChunk, func(ctx context.Context) (models.ChunkBatch, error) {
		chunks, err := w.load(event.PDFPath)
		if err != nil {
			return models.ChunkBatch{}, err
		}
		return models.ChunkBatch{Chunks: chunks, SourceID: event.Source()}, nil
	})
	if err != nil {
		return models.IngestResult{}, err
	}

	return Step(ctx, run, StepEmbedAndUpsert, func(ctx context.Context) (models.IngestResult, error) {
		return w.embedAndUpsert(ctx, batch)
	})
}

func (w *IngestWorkflow) embedAndUpsert(ctx context.Context, batch models.ChunkBatch) (models.IngestResult, error) {
	if len(batch.Chunks) == 0 {
		log.Warn().Str("source", batch.SourceID).Msg("Document produced no chunks")
		return models.IngestResult{Ingested: 0}, nil
	}

	vectors, err := w.embedder.EmbedTexts(ctx, batch.Chunks)
	if err != nil {
		return models.IngestResult{}, err
	}

	if len(vectors) != len(batch.Chunks) {
		return models.IngestResult{}, fmt.Errorf("%w: %d vectors for %d chunks", vectorstore.ErrArityMismatch, len(vectors), len(batch.Chunks))
	}

	records := make([]models.ChunkRecord, 0, len(batch.Chunks))
	for i, text := range batch.Chunks {
		chunk := models.Chunk{SourceID: batch.SourceID, Index: i, Text: text}
		records = append(records, chunk.Record(helper.ChunkID(chunk.SourceID, chunk.Index), vectors[i]))
	}
	ids, vecs, payloads := models.SplitRecords(records)
	if err := w.store.Upsert(ctx, ids, vecs, payloads); err != nil {
		return models.IngestResult{}, err
	}

	metrics.ChunksIngestedTotal.WithLabelValues(w.store.Config().Name).Add(float64(len(ids)))
	log.Info().Str("source", batch.SourceID).Int("chunks", len(ids)).Msg("Ingested document")
	return models.IngestResult{Ingested: len(ids)}, nil
}
