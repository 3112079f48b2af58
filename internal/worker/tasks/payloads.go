package tasks

import (
	"encoding/json"

	"github.com/hibiken/asynq"

	"github.com/docmind/docmind/internal/models"
)

// Task Types
const (
	TypeIngestPDF  = "rag:ingest_pdf"
	TypeQueryPDFAI = "rag:query_pdf_ai"
)

// QueueRAG is the queue both pipelines are served from.
const QueueRAG = "rag"

// NewIngestTask wraps an ingest event as a task payload.
func NewIngestTask(event models.IngestEvent, opts ...asynq.Option) (*asynq.Task, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeIngestPDF, data, opts...), nil
}

// NewQueryTask wraps a query event as a task payload.
func NewQueryTask(event models.QueryEvent, opts ...asynq.Option) (*asynq.Task, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeQueryPDFAI, data, opts...), nil
}
