package vectorstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/docmind/docmind/internal/models"
)

// QdrantOptions configures the Qdrant REST client.
type QdrantOptions struct {
	Endpoint   string
	APIKey     string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// QdrantStore talks to a Qdrant server over its HTTP API.
type QdrantStore struct {
	client  *http.Client
	baseURL string
	apiKey  string
	cfg     CollectionConfig
	ready   readyOnce
}

// qdrantError is a non-2xx answer from the server.
type qdrantError struct {
	Code   int
	Status string
}

func (e *qdrantError) Error() string {
	return fmt.Sprintf("qdrant API error: %s (%d)", e.Status, e.Code)
}

func NewQdrantStore(opts QdrantOptions, cfg CollectionConfig) (*QdrantStore, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	baseURL := strings.TrimSuffix(strings.TrimSpace(opts.Endpoint), "/")
	if baseURL == "" {
		return nil, errors.New("qdrant endpoint is required")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	return &QdrantStore{
		client:  client,
		baseURL: baseURL,
		apiKey:  opts.APIKey,
		cfg:     cfg,
	}, nil
}

func (s *QdrantStore) Config() CollectionConfig { return s.cfg }

func (s *QdrantStore) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

func (s *QdrantStore) EnsureCollection(ctx context.Context, cfg CollectionConfig) error {
	if err := cfg.validate(); err != nil {
		return err
	}
	path := collectionPath(cfg.Name, "")

	var info collectionInfoResponse
	err := s.doRequest(ctx, http.MethodGet, path, nil, &info)
	if err == nil {
		params := info.Result.Config.Params.Vectors
		if params.Size != cfg.Dimension || !strings.EqualFold(params.Distance, qdrantDistance(cfg.Metric)) {
			return fmt.Errorf("%w: collection %s has %d/%s, requested %d/%s",
				ErrConfigMismatch, cfg.Name, params.Size, params.Distance, cfg.Dimension, qdrantDistance(cfg.Metric))
		}
		return nil
	}
	var qe *qdrantError
	if !errors.As(err, &qe) || qe.Code != http.StatusNotFound {
		return err
	}

	req := createCollectionRequest{Vectors: qdrantVectorParams{Size: cfg.Dimension, Distance: qdrantDistance(cfg.Metric)}}
	var resp qdrantOperationResponse
	if err := s.doRequest(ctx, http.MethodPut, path, req, &resp); err != nil {
		return err
	}
	if resp.Status != "ok" {
		return fmt.Errorf("failed to create qdrant collection: %s", resp.Error)
	}
	log.Info().Str("collection", cfg.Name).Int("dimension", cfg.Dimension).Msg("Created qdrant collection")
	return nil
}

func (s *QdrantStore) ensure(ctx context.Context) error {
	return s.ready.Do(func() error { return s.EnsureCollection(ctx, s.cfg) })
}

func (s *QdrantStore) Upsert(ctx context.Context, ids []string, vectors [][]float32, payloads []models.Payload) error {
	if err := validateUpsert(s.cfg.Dimension, ids, vectors, payloads); err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	if err := s.ensure(ctx); err != nil {
		return err
	}

	// a repeated id in one batch keeps its last occurrence
	pos := make(map[string]int, len(ids))
	points := make([]qdrantPoint, 0, len(ids))
	for i, id := range ids {
		p := qdrantPoint{ID: id, Vector: vectors[i], Payload: payloads[i]}
		if j, ok := pos[id]; ok {
			points[j] = p
			continue
		}
		pos[id] = len(points)
		points = append(points, p)
	}

	var resp qdrantOperationResponse
	if err := s.doRequest(ctx, http.MethodPut, collectionPath(s.cfg.Name, "/points?wait=true"), upsertPointsRequest{Points: points}, &resp); err != nil {
		return err
	}
	if resp.Status != "ok" {
		return fmt.Errorf("qdrant upsert failed: %s", resp.Error)
	}
	return nil
}

func (s *QdrantStore) Search(ctx context.Context, query []float32, topK int, filter *Filter) ([]models.SearchHit, error) {
	if err := validateQuery(s.cfg.Dimension, query, topK); err != nil {
		return nil, err
	}
	if err := s.ensure(ctx); err != nil {
		return nil, err
	}

	req := searchRequest{
		Vector:      query,
		Limit:       topK,
		WithPayload: true,
		Filter:      sourceMatchFilter(filter),
	}
	var resp searchResponse
	if err := s.doRequest(ctx, http.MethodPost, collectionPath(s.cfg.Name, "/points/search"), req, &resp); err != nil {
		return nil, err
	}
	if resp.Status != "ok" {
		return nil, fmt.Errorf("qdrant search failed: %s", resp.Error)
	}

	hits := make([]models.SearchHit, 0, len(resp.Result))
	for _, item := range resp.Result {
		score := item.Score
		if s.cfg.Metric == MetricEuclid {
			// qdrant reports the raw distance for Euclid collections
			score = 1 / (1 + score)
		}
		hits = append(hits, models.SearchHit{
			ID:         fmt.Sprint(item.ID),
			Text:       item.Payload.Text,
			Source:     item.Payload.Source,
			ChunkIndex: item.Payload.ChunkIndex,
			Score:      score,
		})
	}
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

func (s *QdrantStore) Count(ctx context.Context, filter *Filter) (int, error) {
	if err := s.ensure(ctx); err != nil {
		return 0, err
	}
	var resp countResponse
	req := countRequest{Filter: sourceMatchFilter(filter), Exact: true}
	if err := s.doRequest(ctx, http.MethodPost, collectionPath(s.cfg.Name, "/points/count"), req, &resp); err != nil {
		return 0, err
	}
	if resp.Status != "ok" {
		return 0, fmt.Errorf("qdrant count failed: %s", resp.Error)
	}
	return resp.Result.Count, nil
}

func (s *QdrantStore) DeleteSource(ctx context.Context, source string) error {
	if source == "" {
		return errors.New("source is required")
	}
	if err := s.ensure(ctx); err != nil {
		return err
	}
	req := deletePointsRequest{Filter: sourceMatchFilter(&Filter{Sources: []string{source}})}
	var resp qdrantOperationResponse
	if err := s.doRequest(ctx, http.MethodPost, collectionPath(s.cfg.Name, "/points/delete?wait=true"), req, &resp); err != nil {
		return err
	}
	if resp.Status != "ok" {
		return fmt.Errorf("qdrant delete failed: %s", resp.Error)
	}
	return nil
}

func collectionPath(name, path string) string {
	return fmt.Sprintf("/collections/%s%s", url.PathEscape(name), path)
}

func qdrantDistance(m Metric) string {
	switch m {
	case MetricDot:
		return "Dot"
	case MetricEuclid:
		return "Euclid"
	default:
		return "Cosine"
	}
}

func sourceMatchFilter(f *Filter) *qdrantFilter {
	if f.empty() {
		return nil
	}
	return &qdrantFilter{Must: []fieldCondition{{
		Key:   "source",
		Match: fieldMatch{Any: dedupe(f.Sources)},
	}}}
}

func (s *QdrantStore) doRequest(ctx context.Context, method, path string, payload any, dest any) error {
	body := bytes.NewReader(nil)
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errBody struct {
			Status any `json:"status"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errBody)
		qe := &qdrantError{Code: resp.StatusCode, Status: fmt.Sprint(errBody.Status)}
		if resp.StatusCode >= 500 {
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, qe)
		}
		return qe
	}
	if dest == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("failed to decode qdrant response: %w", err)
	}
	return nil
}

type qdrantVectorParams struct {
	Size     int    `json:"size"`
	Distance string `json:"distance"`
}

type createCollectionRequest struct {
	Vectors qdrantVectorParams `json:"vectors"`
}

type collectionInfoResponse struct {
	Status string `json:"status"`
	Result struct {
		Config struct {
			Params struct {
				Vectors qdrantVectorParams `json:"vectors"`
			} `json:"params"`
		} `json:"config"`
	} `json:"result"`
}

type qdrantPoint struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector"`
	Payload models.Payload `json:"payload"`
}

type upsertPointsRequest struct {
	Points []qdrantPoint `json:"points"`
}

type qdrantOperationResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type fieldMatch struct {
	Any []string `json:"any"`
}

type fieldCondition struct {
	Key   string     `json:"key"`
	Match fieldMatch `json:"match"`
}

type qdrantFilter struct {
	Must []fieldCondition `json:"must"`
}

type searchRequest struct {
	Vector      []float32     `json:"vector"`
	Limit       int           `json:"limit"`
	WithPayload bool          `json:"with_payload"`
	Filter      *qdrantFilter `json:"filter,omitempty"`
}

type searchResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
	Result []struct {
		ID      any            `json:"id"`
		Score   float64        `json:"score"`
		Payload models.Payload `json:"payload"`
	} `json:"result"`
}

type countRequest struct {
	Filter *qdrantFilter `json:"filter,omitempty"`
	Exact  bool          `json:"exact"`
}

type countResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
	Result struct {
		Count int `json:"count"`
	} `json:"result"`
}

type deletePointsRequest struct {
	Filter *qdrantFilter `json:"filter,omitempty"`
}
