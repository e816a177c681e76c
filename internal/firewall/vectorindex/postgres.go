package vectorindex

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/promptfirewall/firewall/internal/core"
	"github.com/promptfirewall/firewall/pkg/observability"
)

// PostgresIndex stores the semantic corpus in a pgvector-enabled
// Postgres table: a plain sqlx.DB, ON CONFLICT upsert, and the
// `1 - (embedding <=> $n)` cosine-distance-to-similarity conversion
// for KNN.
//
// Expected schema:
//
//	CREATE TABLE semantic_patterns (
//	  pattern_id TEXT PRIMARY KEY,
//	  embedding  vector(1536) NOT NULL,
//	  text       TEXT NOT NULL,
//	  category   TEXT NOT NULL,
//	  severity   TEXT NOT NULL,
//	  metadata   JSONB NOT NULL DEFAULT '{}',
//	  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
//	);
type PostgresIndex struct {
	db      *sqlx.DB
	logger  observability.Logger
	metrics observability.MetricsClient
}

func NewPostgresIndex(db *sqlx.DB, logger observability.Logger, metrics observability.MetricsClient) *PostgresIndex {
	if logger == nil {
		logger = observability.NoopLogger{}
	}
	if metrics == nil {
		metrics = observability.NoopMetricsClient{}
	}
	return &PostgresIndex{db: db, logger: logger, metrics: metrics}
}

func (p *PostgresIndex) Upsert(ctx context.Context, entry core.CorpusEntry) error {
	ctx, span := observability.StartSpan(ctx, "vectorindex.upsert")
	defer span.End()

	metadata, err := json.Marshal(entry.Metadata)
	if err != nil {
		return core.NewCacheError("vectorindex.upsert", err)
	}

	start := time.Now()
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO semantic_patterns (pattern_id, embedding, text, category, severity, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (pattern_id) DO UPDATE SET
			embedding = EXCLUDED.embedding,
			text      = EXCLUDED.text,
			category  = EXCLUDED.category,
			severity  = EXCLUDED.severity,
			metadata  = EXCLUDED.metadata
	`, entry.PatternID, pq.Array(entry.Vector), entry.Text, entry.Category, string(entry.Severity), metadata)
	p.metrics.RecordHistogram("vectorindex.upsert.duration_seconds", time.Since(start).Seconds(), map[string]string{
		"status": statusLabel(err),
	})
	if err != nil {
		p.logger.Error("vector index upsert failed", map[string]interface{}{"error": err.Error(), "pattern_id": entry.PatternID})
		return core.NewCacheError("vectorindex.upsert", err)
	}
	return nil
}

func (p *PostgresIndex) Delete(ctx context.Context, patternID string) error {
	ctx, span := observability.StartSpan(ctx, "vectorindex.delete")
	defer span.End()

	_, err := p.db.ExecContext(ctx, `DELETE FROM semantic_patterns WHERE pattern_id = $1`, patternID)
	if err != nil {
		p.logger.Error("vector index delete failed", map[string]interface{}{"error": err.Error(), "pattern_id": patternID})
		return core.NewCacheError("vectorindex.delete", err)
	}
	return nil
}

func (p *PostgresIndex) Count(ctx context.Context) (int, error) {
	var n int
	if err := p.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM semantic_patterns`); err != nil {
		return 0, core.NewCacheError("vectorindex.count", err)
	}
	return n, nil
}

type patternRow struct {
	PatternID  string    `db:"pattern_id"`
	Text       string    `db:"text"`
	Category   string    `db:"category"`
	Severity   string    `db:"severity"`
	Metadata   []byte    `db:"metadata"`
	Similarity float64   `db:"similarity"`
	CreatedAt  time.Time `db:"created_at"`
}

func (p *PostgresIndex) KNN(ctx context.Context, vec []float32, k int, category string) ([]Hit, error) {
	ctx, span := observability.StartSpan(ctx, "vectorindex.knn")
	defer span.End()

	k = clampK(k)
	start := time.Now()

	query := `
		SELECT pattern_id, text, category, severity, metadata, created_at,
		       1 - (embedding <=> $1) AS similarity
		FROM semantic_patterns
		WHERE ($3 = '' OR category = $3)
		ORDER BY embedding <=> $1
		LIMIT $2
	`
	var rows []patternRow
	err := p.db.SelectContext(ctx, &rows, query, pq.Array(vec), k, category)
	p.metrics.RecordHistogram("vectorindex.knn.duration_seconds", time.Since(start).Seconds(), map[string]string{
		"status": statusLabel(err),
	})
	if err != nil {
		p.logger.Error("vector index knn failed", map[string]interface{}{"error": err.Error()})
		return nil, core.NewCacheError("vectorindex.knn", err)
	}

	hits := make([]Hit, 0, len(rows))
	for _, r := range rows {
		var metadata map[string]interface{}
		if len(r.Metadata) > 0 {
			if err := json.Unmarshal(r.Metadata, &metadata); err != nil {
				return nil, core.NewCacheError("vectorindex.knn", err)
			}
		}
		hits = append(hits, Hit{
			Similarity: r.Similarity,
			Entry: core.CorpusEntry{
				PatternID: r.PatternID,
				Text:      r.Text,
				Category:  r.Category,
				Severity:  core.Severity(r.Severity),
				Metadata:  metadata,
				CreatedAt: r.CreatedAt,
			},
		})
	}
	return hits, nil
}

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
