package vectorstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/pgvector/pgvector-go"
	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"

	"github.com/docmind/docmind/internal/models"
)

// collectionRow pins the settings of every collection kept in Postgres.
type collectionRow struct {
	bun.BaseModel `bun:"table:vector_collections,alias:vc"`
	Name          string `bun:"name,pk"`
	Dimension     int    `bun:"dimension,notnull"`
	Metric        string `bun:"metric,notnull"`
}

type pointRow struct {
	bun.BaseModel `bun:"table:vector_points,alias:p"`
	Collection    string          `bun:"collection,pk"`
	ID            string          `bun:"id,pk"`
	Source        string          `bun:"source,notnull"`
	Text          string          `bun:"text,notnull"`
	ChunkIndex    int             `bun:"chunk_index,notnull"`
	Embedding     pgvector.Vector `bun:"embedding,notnull"`
	Score         float64         `bun:"score,scanonly"`
}

// PGVectorStore keeps points in Postgres using the pgvector extension through bun.
type PGVectorStore struct {
	db    *bun.DB
	cfg   CollectionConfig
	ready readyOnce
}

func NewPGVectorStore(dsn string, debug bool, cfg CollectionConfig) (*PGVectorStore, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())
	if debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}
	return &PGVectorStore{db: db, cfg: cfg}, nil
}

func (s *PGVectorStore) Config() CollectionConfig { return s.cfg }

func (s *PGVectorStore) Close() error { return s.db.Close() }

// EnsureCollection creates the extension and tables on first use and registers cfg.
func (s *PGVectorStore) EnsureCollection(ctx context.Context, cfg CollectionConfig) error {
	if err := cfg.validate(); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return classifyPGError("create vector extension", err)
	}
	if _, err := s.db.NewCreateTable().Model((*collectionRow)(nil)).IfNotExists().Exec(ctx); err != nil {
		return classifyPGError("create collections table", err)
	}
	// the vector column is untyped so collections of different widths can share the table
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS vector_points (
		collection text NOT NULL,
		id text NOT NULL,
		source text NOT NULL,
		text text NOT NULL,
		chunk_index integer NOT NULL,
		embedding vector NOT NULL,
		PRIMARY KEY (collection, id))`); err != nil {
		return classifyPGError("create points table", err)
	}
	if _, err := s.db.ExecContext(ctx,
		"CREATE INDEX IF NOT EXISTS vector_points_source_idx ON vector_points (collection, source)"); err != nil {
		return classifyPGError("create source index", err)
	}

	var existing collectionRow
	err := s.db.NewSelect().Model(&existing).Where("name = ?", cfg.Name).Scan(ctx)
	switch {
	case err == nil:
		if existing.Dimension != cfg.Dimension || Metric(existing.Metric) != cfg.Metric {
			return fmt.Errorf("%w: collection %s has %d/%s, requested %d/%s",
				ErrConfigMismatch, cfg.Name, existing.Dimension, existing.Metric, cfg.Dimension, cfg.Metric)
		}
		return nil
	case errors.Is(err, sql.ErrNoRows):
	default:
		return classifyPGError("read collection", err)
	}

	row := &collectionRow{Name: cfg.Name, Dimension: cfg.Dimension, Metric: string(cfg.Metric)}
	if _, err := s.db.NewInsert().Model(row).On("CONFLICT (name) DO NOTHING").Exec(ctx); err != nil {
		return classifyPGError("register collection", err)
	}
	log.Info().Str("collection", cfg.Name).Int("dimension", cfg.Dimension).Msg("Created pgvector collection")
	return nil
}

func (s *PGVectorStore) ensure(ctx context.Context) error {
	return s.ready.Do(func() error { return s.EnsureCollection(ctx, s.cfg) })
}

func (s *PGVectorStore) Upsert(ctx context.Context, ids []string, vectors [][]float32, payloads []models.Payload) error {
	if err := validateUpsert(s.cfg.Dimension, ids, vectors, payloads); err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	if err := s.ensure(ctx); err != nil {
		return err
	}

	// ON CONFLICT cannot touch the same row twice in one statement
	pos := make(map[string]int, len(ids))
	rows := make([]pointRow, 0, len(ids))
	for i, id := range ids {
		row := pointRow{
			Collection: s.cfg.Name,
			ID:         id,
			Source:     payloads[i].Source,
			Text:       payloads[i].Text,
			ChunkIndex: payloads[i].ChunkIndex,
			Embedding:  pgvector.NewVector(vectors[i]),
		}
		if j, ok := pos[id]; ok {
			rows[j] = row
			continue
		}
		pos[id] = len(rows)
		rows = append(rows, row)
	}

	_, err := s.db.NewInsert().
		Model(&rows).
		On("CONFLICT (collection, id) DO UPDATE").
		Set("source = EXCLUDED.source").
		Set("text = EXCLUDED.text").
		Set("chunk_index = EXCLUDED.chunk_index").
		Set("embedding = EXCLUDED.embedding").
		Exec(ctx)
	if err != nil {
		return classifyPGError("upsert points", err)
	}
	return nil
}

func (s *PGVectorStore) Search(ctx context.Context, query []float32, topK int, filter *Filter) ([]models.SearchHit, error) {
	if err := validateQuery(s.cfg.Dimension, query, topK); err != nil {
		return nil, err
	}
	if err := s.ensure(ctx); err != nil {
		return nil, err
	}

	vec := pgvector.NewVector(query)
	scoreExpr, orderExpr := metricExprs(s.cfg.Metric)

	var rows []pointRow
	q := s.db.NewSelect().
		Model(&rows).
		ColumnExpr("p.id, p.source, p.text, p.chunk_index").
		ColumnExpr(scoreExpr+" AS score", vec).
		Where("p.collection = ?", s.cfg.Name)
	if !filter.empty() {
		q = q.Where("p.source IN (?)", bun.In(dedupe(filter.Sources)))
	}
	if err := q.OrderExpr(orderExpr, vec).OrderExpr("p.id").Limit(topK).Scan(ctx); err != nil {
		return nil, classifyPGError("search points", err)
	}

	hits := make([]models.SearchHit, 0, len(rows))
	for _, r := range rows {
		hits = append(hits, models.SearchHit{
			ID:         r.ID,
			Text:       r.Text,
			Source:     r.Source,
			ChunkIndex: r.ChunkIndex,
			Score:      r.Score,
		})
	}
	return hits, nil
}

func (s *PGVectorStore) Count(ctx context.Context, filter *Filter) (int, error) {
	if err := s.ensure(ctx); err != nil {
		return 0, err
	}
	q := s.db.NewSelect().Model((*pointRow)(nil)).Where("p.collection = ?", s.cfg.Name)
	if !filter.empty() {
		q = q.Where("p.source IN (?)", bun.In(dedupe(filter.Sources)))
	}
	n, err := q.Count(ctx)
	if err != nil {
		return 0, classifyPGError("count points", err)
	}
	return n, nil
}

func (s *PGVectorStore) DeleteSource(ctx context.Context, source string) error {
	if source == "" {
		return errors.New("source is required")
	}
	if err := s.ensure(ctx); err != nil {
		return err
	}
	_, err := s.db.NewDelete().
		Model((*pointRow)(nil)).
		Where("collection = ?", s.cfg.Name).
		Where("source = ?", source).
		Exec(ctx)
	if err != nil {
		return classifyPGError("delete source", err)
	}
	return nil
}

// metricExprs returns the score column and ordering expression for a metric.
// Higher score is always more similar.
func metricExprs(m Metric) (score, order string) {
	switch m {
	case MetricDot:
		return "(p.embedding <#> ?) * -1", "p.embedding <#> ?"
	case MetricEuclid:
		return "1 / (1 + (p.embedding <-> ?))", "p.embedding <-> ?"
	default:
		return "1 - (p.embedding <=> ?)", "p.embedding <=> ?"
	}
}

// classifyPGError separates server-side SQL errors from connectivity failures.
func classifyPGError(op string, err error) error {
	var pgErr pgdriver.Error
	if errors.As(err, &pgErr) {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	return fmt.Errorf("%w: failed to %s: %v", ErrStoreUnavailable, op, err)
}
