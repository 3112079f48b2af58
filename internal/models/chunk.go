package models

// Chunk is one ordered piece of a source document as produced by the parser.
type Chunk struct {
	SourceID string `json:"source_id"`
	Index    int    `json:"index"`
	Text     string `json:"text"`
}

// Payload is the typed record body stored next to every vector.
type Payload struct {
	Source     string `json:"source"`
	Text       string `json:"text"`
	ChunkIndex int    `json:"chunk_index"`
}

// ChunkRecord is a single point in a vector collection.
type ChunkRecord struct {
	ID      string    `json:"id"`
	Vector  []float32 `json:"vector"`
	Payload Payload   `json:"payload"`
}

// Record pairs the chunk with its point id and vector.
func (c Chunk) Record(id string, vector []float32) ChunkRecord {
	return ChunkRecord{
		ID:      id,
		Vector:  vector,
		Payload: Payload{Source: c.SourceID, Text: c.Text, ChunkIndex: c.Index},
	}
}

// SplitRecords returns the parallel id, vector and payload slices a store upsert takes.
func SplitRecords(records []ChunkRecord) (ids []string, vectors [][]float32, payloads []Payload) {
	ids = make([]string, len(records))
	vectors = make([][]float32, len(records))
	payloads = make([]Payload, len(records))
	for i, r := range records {
		ids[i] = r.ID
		vectors[i] = r.Vector
		payloads[i] = r.Payload
	}
	return ids, vectors, payloads
}

// SearchHit is a ranked match returned by a vector store.
type SearchHit struct {
	ID         string  `json:"id"`
	Text       string  `json:"text"`
	Source     string  `json:"source"`
	ChunkIndex int     `json:"chunk_index"`
	Score      float64 `json:"score"`
}
