package models

const DefaultTopK = 5

// IngestEvent asks for a document to be chunked, embedded and stored.
type IngestEvent struct {
	PDFPath  string `json:"pdf_path"`
	SourceID string `json:"source_id,omitempty"`
}

// Source returns the source id of the event, defaulting to the document path.
func (e IngestEvent) Source() string {
	if e.SourceID != "" {
		return e.SourceID
	}
	return e.PDFPath
}

// QueryEvent asks a question, optionally scoped to a set of sources.
type QueryEvent struct {
	Question  string   `json:"question"`
	SourceIDs []string `json:"source_ids,omitempty"`
	TopK      int      `json:"top_k,omitempty"`
}

// Limit returns the requested top_k, defaulting to DefaultTopK when unset.
func (e QueryEvent) Limit() int {
	if e.TopK == 0 {
		return DefaultTopK
	}
	return e.TopK
}
