// Package vectorstore persists chunk vectors in a named collection and answers
// filtered top-k similarity queries over them.
//
// Three backends share the Store contract: chromem (embedded, default), Qdrant
// (REST) and Postgres with pgvector (bun). Point identity is the record id, so
// writing an existing id replaces its vector and payload.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/docmind/docmind/internal/config"
	"github.com/docmind/docmind/internal/models"
)

var (
	ErrConfigMismatch    = errors.New("collection config mismatch")
	ErrArityMismatch     = errors.New("ids, vectors and payloads length mismatch")
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	ErrStoreUnavailable  = errors.New("vector store unavailable")
)

// Metric is the similarity function of a collection.
type Metric string

const (
	MetricCosine Metric = "cosine"
	MetricDot    Metric = "dot"
	MetricEuclid Metric = "euclid"
)

// ParseMetric normalizes a configured metric name.
func ParseMetric(s string) (Metric, error) {
	switch m := Metric(strings.ToLower(strings.TrimSpace(s))); m {
	case MetricCosine, MetricDot, MetricEuclid:
		return m, nil
	case "":
		return MetricCosine, nil
	default:
		return "", fmt.Errorf("unsupported similarity metric: %s", s)
	}
}

// CollectionConfig fixes the name, vector width and metric of a collection.
type CollectionConfig struct {
	Name      string
	Dimension int
	Metric    Metric
}

func (c CollectionConfig) validate() error {
	if c.Name == "" {
		return errors.New("collection name is required")
	}
	if c.Dimension <= 0 {
		return fmt.Errorf("collection dimension must be positive, got %d", c.Dimension)
	}
	if _, err := ParseMetric(string(c.Metric)); err != nil {
		return err
	}
	return nil
}

// Filter restricts a search to records whose payload source is one of Sources.
// A nil filter or one with no sources matches the whole collection.
type Filter struct {
	Sources []string
}

// SourceFilter builds a Filter for the given sources, or nil when there are none.
func SourceFilter(sources []string) *Filter {
	uniq := dedupe(sources)
	if len(uniq) == 0 {
		return nil
	}
	return &Filter{Sources: uniq}
}

func (f *Filter) empty() bool {
	return f == nil || len(f.Sources) == 0
}

// Store is the vector collection contract shared by all backends.
type Store interface {
	// EnsureCollection creates the collection if absent; an existing collection
	// must have the same dimension and metric or ErrConfigMismatch is returned.
	EnsureCollection(ctx context.Context, cfg CollectionConfig) error
	Upsert(ctx context.Context, ids []string, vectors [][]float32, payloads []models.Payload) error
	Search(ctx context.Context, query []float32, topK int, filter *Filter) ([]models.SearchHit, error)
	Count(ctx context.Context, filter *Filter) (int, error)
	DeleteSource(ctx context.Context, source string) error
	Config() CollectionConfig
	Close() error
}

func validateUpsert(dim int, ids []string, vectors [][]float32, payloads []models.Payload) error {
	if len(ids) != len(vectors) || len(ids) != len(payloads) {
		return fmt.Errorf("%w: %d ids, %d vectors, %d payloads", ErrArityMismatch, len(ids), len(vectors), len(payloads))
	}
	for i, v := range vectors {
		if len(v) != dim {
			return fmt.Errorf("%w: vector %d (id %s) has %d dimensions, collection expects %d", ErrDimensionMismatch, i, ids[i], len(v), dim)
		}
	}
	return nil
}

func validateQuery(dim int, query []float32, topK int) error {
	if len(query) != dim {
		return fmt.Errorf("%w: query has %d dimensions, collection expects %d", ErrDimensionMismatch, len(query), dim)
	}
	if topK < 1 {
		return fmt.Errorf("top_k must be >= 1, got %d", topK)
	}
	return nil
}

func dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// readyOnce runs an initializer until it first succeeds. Unlike sync.Once a
// failed attempt (e.g. the store was briefly unreachable) is retried on next use.
type readyOnce struct {
	mu   sync.Mutex
	done bool
}

func (r *readyOnce) Do(fn func() error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done {
		return nil
	}
	if err := fn(); err != nil {
		return err
	}
	r.done = true
	return nil
}

// CollectionFromConfig converts the configured collection settings.
func CollectionFromConfig(cfg config.VectorStoreConfig) (CollectionConfig, error) {
	metric, err := ParseMetric(cfg.Metric)
	if err != nil {
		return CollectionConfig{}, err
	}
	cc := CollectionConfig{Name: cfg.Collection, Dimension: cfg.Dimension, Metric: metric}
	return cc, cc.validate()
}

// New builds the backend selected by cfg.Type. The collection is created lazily on first use.
func New(cfg config.VectorStoreConfig) (Store, error) {
	cc, err := CollectionFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	switch cfg.Type {
	case config.StoreChromem, "":
		return NewChromemStore(cfg.Chromem.Path, cfg.Chromem.InMemory, cfg.Chromem.Compress, cc)
	case config.StoreQdrant:
		return NewQdrantStore(QdrantOptions{
			Endpoint: cfg.Qdrant.URL,
			APIKey:   cfg.Qdrant.APIKey,
			Timeout:  cfg.Qdrant.Timeout(),
		}, cc)
	case config.StorePGVector:
		return NewPGVectorStore(cfg.PGVector.DSN, cfg.PGVector.Debug, cc)
	default:
		return nil, fmt.Errorf("unsupported vector store type: %s", cfg.Type)
	}
}

var shared struct {
	once  readyOnce
	store Store
}

// Shared returns the process-wide store, building it on first call.
// Concurrent first callers block until a single initialization finishes.
func Shared(cfg config.VectorStoreConfig) (Store, error) {
	err := shared.once.Do(func() error {
		s, err := New(cfg)
		if err != nil {
			return err
		}
		shared.store = s
		return nil
	})
	if err != nil {
		return nil, err
	}
	return shared.store, nil
}
