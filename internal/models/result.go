package models

// ChunkBatch is the output of the load-and-chunk step.
type ChunkBatch struct {
	Chunks   []string `json:"chunks"`
	SourceID string   `json:"source_id"`
}

// IngestResult is the output of the embed-and-upsert step and of the ingest workflow.
type IngestResult struct {
	Ingested int `json:"ingested"`
}

// RetrievalResult holds the contexts found for a question.
// ContextSources[i] is the source label of Contexts[i]; Sources is deduplicated.
type RetrievalResult struct {
	Contexts       []string `json:"contexts"`
	ContextSources []string `json:"context_sources"`
	Sources        []string `json:"sources"`
}

// AnswerResult is the output of the query workflow.
type AnswerResult struct {
	Answer      string   `json:"answer"`
	Sources     []string `json:"sources"`
	NumContexts int      `json:"num_contexts"`
}
