package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"sync"

	"github.com/gofrs/flock"
	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/docmind/docmind/internal/models"
)

const (
	metaSource     = "source"
	metaChunkIndex = "chunk_index"

	lockFile = ".docmind.lock"
)

// collectionManifest records the fixed settings of a chromem collection, which
// chromem itself does not expose once a collection is created.
type collectionManifest struct {
	Name      string `yaml:"name"`
	Dimension int    `yaml:"dimension"`
	Metric    Metric `yaml:"metric"`
}

// ChromemStore is the embedded backend built on chromem-go.
type ChromemStore struct {
	db         *chromem.DB
	collection *chromem.Collection
	cfg        CollectionConfig
	dbPath     string
	compress   bool
	inMemory   bool
	ready      readyOnce
	lock       *flock.Flock

	// mu guards collection and memManifests. Deletes and imports take it
	// exclusively so a search never sees the document count shrink mid-query.
	mu sync.RWMutex
	// manifests of collections created in memory, keyed by name
	memManifests map[string]collectionManifest
}

// NewChromemStore opens (or creates) a chromem database at dbPath.
// With inMemory set nothing is written to disk.
//
// chromem keeps the whole database in memory, so two processes sharing one
// folder would each serve a stale view of the other's writes. A persistent
// store therefore holds an exclusive lock on the folder until Close, and a
// second opener fails with ErrStoreUnavailable.
func NewChromemStore(dbPath string, inMemory, compress bool, cfg CollectionConfig) (*ChromemStore, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	var (
		db   *chromem.DB
		lock *flock.Flock
	)
	if inMemory {
		db = chromem.NewDB()
	} else {
		if err := os.MkdirAll(dbPath, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database folder: %w", err)
		}
		lock = flock.New(filepath.Join(dbPath, lockFile))
		locked, err := lock.TryLock()
		if err != nil {
			return nil, fmt.Errorf("%w: failed to lock chromem database %s: %v", ErrStoreUnavailable, dbPath, err)
		}
		if !locked {
			return nil, fmt.Errorf("%w: chromem database %s is in use by another process", ErrStoreUnavailable, dbPath)
		}
		db, err = chromem.NewPersistentDB(dbPath, compress)
		if err != nil {
			_ = lock.Unlock()
			return nil, fmt.Errorf("%w: failed to open chromem database: %v", ErrStoreUnavailable, err)
		}
	}
	return &ChromemStore{
		db:           db,
		cfg:          cfg,
		dbPath:       dbPath,
		compress:     compress,
		inMemory:     inMemory,
		lock:         lock,
		memManifests: make(map[string]collectionManifest),
	}, nil
}

func (m *ChromemStore) Config() CollectionConfig { return m.cfg }

// EnsureCollection creates the named collection or checks an existing one against cfg.
func (m *ChromemStore) EnsureCollection(ctx context.Context, cfg CollectionConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, err := m.getOrCreateCollection(cfg)
	return err
}

// getOrCreateCollection must be called with mu held.
func (m *ChromemStore) getOrCreateCollection(cfg CollectionConfig) (*chromem.Collection, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.Metric != MetricCosine {
		return nil, fmt.Errorf("%w: chromem collections only support cosine similarity, requested %s", ErrConfigMismatch, cfg.Metric)
	}

	want := collectionManifest{Name: cfg.Name, Dimension: cfg.Dimension, Metric: cfg.Metric}
	have, found, err := m.readManifest(cfg.Name)
	if err != nil {
		return nil, err
	}
	if found && (have.Dimension != want.Dimension || have.Metric != want.Metric) {
		return nil, fmt.Errorf("%w: collection %s has dimension %d/%s, requested %d/%s",
			ErrConfigMismatch, cfg.Name, have.Dimension, have.Metric, want.Dimension, want.Metric)
	}

	c, err := m.db.GetOrCreateCollection(cfg.Name, map[string]string{
		"dimension": strconv.Itoa(cfg.Dimension),
		"metric":    string(cfg.Metric),
	}, noEmbedding)
	if err != nil {
		return nil, fmt.Errorf("failed to create/get collection: %w", err)
	}
	if !found {
		if err := m.writeManifest(want); err != nil {
			return nil, err
		}
		log.Debug().Str("collection", cfg.Name).Int("dimension", cfg.Dimension).Msg("Created chromem collection")
	}
	return c, nil
}

// ensure creates the configured collection on first use. Callers read
// m.collection afterwards under mu.
func (m *ChromemStore) ensure() error {
	return m.ready.Do(func() error {
		m.mu.Lock()
		defer m.mu.Unlock()
		c, err := m.getOrCreateCollection(m.cfg)
		if err != nil {
			return err
		}
		m.collection = c
		return nil
	})
}

// Upsert adds or replaces documents; chromem keys documents by id.
func (m *ChromemStore) Upsert(ctx context.Context, ids []string, vectors [][]float32, payloads []models.Payload) error {
	if err := validateUpsert(m.cfg.Dimension, ids, vectors, payloads); err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	if err := m.ensure(); err != nil {
		return err
	}

	// documents are added concurrently, so a repeated id keeps its last occurrence up front
	pos := make(map[string]int, len(ids))
	docs := make([]chromem.Document, 0, len(ids))
	for i := range ids {
		embedding := make([]float32, len(vectors[i]))
		copy(embedding, vectors[i])
		doc := chromem.Document{
			ID:      ids[i],
			Content: payloads[i].Text,
			Metadata: map[string]string{
				metaSource:     payloads[i].Source,
				metaChunkIndex: strconv.Itoa(payloads[i].ChunkIndex),
			},
			Embedding: embedding,
		}
		if j, ok := pos[ids[i]]; ok {
			docs[j] = doc
			continue
		}
		pos[ids[i]] = len(docs)
		docs = append(docs, doc)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.collection.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("failed to add documents: %w", err)
	}
	return nil
}

// Search runs one query per requested source (chromem's where clause is
// equality only) and merges the per-source top-k lists.
func (m *ChromemStore) Search(ctx context.Context, query []float32, topK int, filter *Filter) ([]models.SearchHit, error) {
	if err := validateQuery(m.cfg.Dimension, query, topK); err != nil {
		return nil, err
	}
	if err := m.ensure(); err != nil {
		return nil, err
	}
	// chromem rejects nResults above the document count, so the count and
	// the queries must observe the same set of documents
	m.mu.RLock()
	defer m.mu.RUnlock()
	c := m.collection
	total := c.Count()
	if total == 0 {
		return []models.SearchHit{}, nil
	}
	n := min(topK, total)

	var (
		results []chromem.Result
		err     error
	)
	if filter.empty() {
		results, err = c.QueryEmbedding(ctx, query, n, nil, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to query by similarity: %w", err)
		}
	} else {
		for _, source := range dedupe(filter.Sources) {
			res, err := c.QueryEmbedding(ctx, query, n, map[string]string{metaSource: source}, nil)
			if err != nil {
				return nil, fmt.Errorf("failed to query source %s: %w", source, err)
			}
			results = append(results, res...)
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Similarity != results[j].Similarity {
			return results[i].Similarity > results[j].Similarity
		}
		return results[i].ID < results[j].ID
	})
	if len(results) > topK {
		results = results[:topK]
	}

	hits := make([]models.SearchHit, 0, len(results))
	for _, r := range results {
		idx, _ := strconv.Atoi(r.Metadata[metaChunkIndex])
		hits = append(hits, models.SearchHit{
			ID:         r.ID,
			Text:       r.Content,
			Source:     r.Metadata[metaSource],
			ChunkIndex: idx,
			Score:      float64(r.Similarity),
		})
	}
	return hits, nil
}

// Count returns the number of records matching filter.
func (m *ChromemStore) Count(ctx context.Context, filter *Filter) (int, error) {
	if err := m.ensure(); err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	c := m.collection
	total := c.Count()
	if filter.empty() || total == 0 {
		return total, nil
	}

	// chromem has no filtered count; a query over the whole collection returns every match
	axis := make([]float32, m.cfg.Dimension)
	axis[0] = 1
	count := 0
	for _, source := range dedupe(filter.Sources) {
		res, err := c.QueryEmbedding(ctx, axis, total, map[string]string{metaSource: source}, nil)
		if err != nil {
			return 0, fmt.Errorf("failed to count source %s: %w", source, err)
		}
		count += len(res)
	}
	return count, nil
}

// DeleteSource removes every record of source.
func (m *ChromemStore) DeleteSource(ctx context.Context, source string) error {
	if source == "" {
		return errors.New("source is required")
	}
	if err := m.ensure(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.collection.Delete(ctx, map[string]string{metaSource: source}, nil); err != nil {
		return fmt.Errorf("failed to delete source %s: %w", source, err)
	}
	return nil
}

// Export writes the collection to filePath, encrypted with encryptionKey when set.
func (m *ChromemStore) Export(filePath, encryptionKey string) error {
	if err := m.ensure(); err != nil {
		return err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	log.Debug().Str("collection", m.cfg.Name).Str("file", filePath).Bool("compress", m.compress).Msg("Exporting collection")
	if err := m.db.ExportToFile(filePath, m.compress, encryptionKey, m.cfg.Name); err != nil {
		return fmt.Errorf("failed to export database: %w", err)
	}
	return nil
}

// Import loads a file written by Export into the database.
func (m *ChromemStore) Import(filePath, encryptionKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.db.ImportFromFile(filePath, encryptionKey, m.cfg.Name); err != nil {
		return fmt.Errorf("failed to import database: %w", err)
	}
	// the import replaces the collection object held by the database
	if c := m.db.GetCollection(m.cfg.Name, noEmbedding); c != nil && m.collection != nil {
		m.collection = c
	}
	return nil
}

// Close releases the folder lock of a persistent store. chromem writes every
// change through to disk as it happens, so there is nothing to flush.
func (m *ChromemStore) Close() error {
	if m.lock == nil {
		return nil
	}
	if err := m.lock.Unlock(); err != nil {
		return fmt.Errorf("failed to unlock chromem database: %w", err)
	}
	return nil
}

func (m *ChromemStore) manifestPath(name string) string {
	return filepath.Join(m.dbPath, name+".manifest.yaml")
}

func (m *ChromemStore) readManifest(name string) (collectionManifest, bool, error) {
	if m.inMemory {
		mf, ok := m.memManifests[name]
		return mf, ok, nil
	}
	data, err := os.ReadFile(m.manifestPath(name))
	if errors.Is(err, os.ErrNotExist) {
		return collectionManifest{}, false, nil
	}
	if err != nil {
		return collectionManifest{}, false, fmt.Errorf("failed to read collection manifest: %w", err)
	}
	var mf collectionManifest
	if err := yaml.Unmarshal(data, &mf); err != nil {
		return collectionManifest{}, false, fmt.Errorf("failed to parse collection manifest: %w", err)
	}
	return mf, true, nil
}

func (m *ChromemStore) writeManifest(mf collectionManifest) error {
	if m.inMemory {
		m.memManifests[mf.Name] = mf
		return nil
	}
	data, err := yaml.Marshal(mf)
	if err != nil {
		return fmt.Errorf("failed to encode collection manifest: %w", err)
	}
	if err := os.WriteFile(m.manifestPath(mf.Name), data, 0o644); err != nil {
		return fmt.Errorf("failed to write collection manifest: %w", err)
	}
	return nil
}

// noEmbedding is installed as the collection embedding func: every document
// and query arrives with a precomputed vector.
func noEmbedding(_ context.Context, _ string) ([]float32, error) {
	return nil, errors.New("chromem collection received text without an embedding")
}
