package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/FranksOps/harvest/internal/storage"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ensure postgresBackend implements storage.Backend
var _ storage.Backend = (*postgresBackend)(nil)

type postgresBackend struct {
	pool *pgxpool.Pool
}

const schema = `
CREATE TABLE IF NOT EXISTS crawl_records (
	id TEXT PRIMARY KEY,
	url TEXT NOT NULL,
	final_url TEXT NOT NULL DEFAULT '',
	status_code INTEGER NOT NULL,
	strategy TEXT NOT NULL DEFAULT '',
	attempts INTEGER NOT NULL,
	headers JSONB NOT NULL,
	encoding TEXT NOT NULL DEFAULT '',
	title TEXT NOT NULL DEFAULT '',
	text TEXT NOT NULL DEFAULT '',
	extraction TEXT NOT NULL DEFAULT '',
	degraded BOOLEAN NOT NULL,
	anomalous BOOLEAN NOT NULL,
	images INTEGER NOT NULL,
	links INTEGER NOT NULL,
	duration_ms BIGINT NOT NULL,
	detected_bot BOOLEAN NOT NULL,
	detection_src TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	error_kind TEXT NOT NULL DEFAULT '',
	error TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS crawl_records_url ON crawl_records (url);
`

const columns = `id, url, final_url, status_code, strategy, attempts, headers, encoding, title, text, extraction,
	degraded, anomalous, images, links, duration_ms, detected_bot, detection_src, created_at, error_kind, error`

// New creates a new Postgres-backed storage.Backend.
func New(ctx context.Context, dsn string) (storage.Backend, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	_, err = pool.Exec(ctx, schema)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &postgresBackend{pool: pool}, nil
}

func (b *postgresBackend) Save(ctx context.Context, r *storage.CrawlRecord) error {
	headersJSON, err := json.Marshal(r.Headers)
	if err != nil {
		return fmt.Errorf("encode headers: %w", err)
	}

	query := `INSERT INTO crawl_records (` + columns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)`

	_, err = b.pool.Exec(ctx, query,
		r.ID, r.URL, r.FinalURL, r.StatusCode, r.Strategy, r.Attempts, headersJSON,
		r.Encoding, r.Title, r.Text, r.Extraction, r.Degraded, r.Anomalous, r.Images, r.Links,
		r.Duration.Milliseconds(), r.DetectedBot, r.DetectionSrc, r.CreatedAt, r.ErrorKind, r.Error,
	)
	if err != nil {
		return fmt.Errorf("insert crawl record: %w", err)
	}

	return nil
}

func (b *postgresBackend) Query(ctx context.Context, filter storage.Filter) ([]*storage.CrawlRecord, error) {
	query := `SELECT ` + columns + ` FROM crawl_records WHERE 1=1`
	args := []any{}
	paramCount := 1

	if filter.URL != "" {
		query += fmt.Sprintf(` AND url = $%d`, paramCount)
		args = append(args, filter.URL)
		paramCount++
	}
	if filter.DetectedBot != nil {
		query += fmt.Sprintf(` AND detected_bot = $%d`, paramCount)
		args = append(args, *filter.DetectedBot)
		paramCount++
	}
	if filter.Since != nil {
		query += fmt.Sprintf(` AND created_at >= $%d`, paramCount)
		args = append(args, *filter.Since)
		paramCount++
	}

	query += ` ORDER BY created_at DESC`

	if filter.Limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d`, paramCount)
		args = append(args, filter.Limit)
		paramCount++
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, paramCount)
		args = append(args, filter.Offset)
	}

	rows, err := b.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query crawl records: %w", err)
	}
	defer rows.Close()

	var results []*storage.CrawlRecord
	for rows.Next() {
		var r storage.CrawlRecord
		var headersJSON []byte
		var durationMs int64

		err := rows.Scan(
			&r.ID, &r.URL, &r.FinalURL, &r.StatusCode, &r.Strategy, &r.Attempts, &headersJSON,
			&r.Encoding, &r.Title, &r.Text, &r.Extraction, &r.Degraded, &r.Anomalous, &r.Images, &r.Links,
			&durationMs, &r.DetectedBot, &r.DetectionSrc, &r.CreatedAt, &r.ErrorKind, &r.Error,
		)
		if err != nil {
			return nil, fmt.Errorf("scan crawl record: %w", err)
		}

		r.Duration = time.Duration(durationMs) * time.Millisecond
		if err := json.Unmarshal(headersJSON, &r.Headers); err != nil {
			return nil, fmt.Errorf("decode headers: %w", err)
		}

		results = append(results, &r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate crawl records: %w", err)
	}

	return results, nil
}

func (b *postgresBackend) Close() error {
	b.pool.Close()
	return nil
}
