package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/FranksOps/harvest/internal/storage"
	_ "modernc.org/sqlite"
)

// ensure sqliteBackend implements storage.Backend
var _ storage.Backend = (*sqliteBackend)(nil)

type sqliteBackend struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS crawl_records (
	id TEXT PRIMARY KEY,
	url TEXT NOT NULL,
	final_url TEXT,
	status_code INTEGER NOT NULL,
	strategy TEXT,
	attempts INTEGER NOT NULL,
	headers TEXT NOT NULL,
	encoding TEXT,
	title TEXT,
	text TEXT,
	extraction TEXT,
	degraded BOOLEAN NOT NULL,
	anomalous BOOLEAN NOT NULL,
	images INTEGER NOT NULL,
	links INTEGER NOT NULL,
	duration_ms INTEGER NOT NULL,
	detected_bot BOOLEAN NOT NULL,
	detection_src TEXT,
	created_at DATETIME NOT NULL,
	error_kind TEXT,
	error TEXT
);
CREATE INDEX IF NOT EXISTS crawl_records_url ON crawl_records (url);
`

const columns = `id, url, final_url, status_code, strategy, attempts, headers, encoding, title, text, extraction,
	degraded, anomalous, images, links, duration_ms, detected_bot, detection_src, created_at, error_kind, error`

// New creates a new SQLite-backed storage.Backend.
func New(dsn string) (storage.Backend, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &sqliteBackend{db: db}, nil
}

func (b *sqliteBackend) Save(ctx context.Context, r *storage.CrawlRecord) error {
	headersJSON, err := json.Marshal(r.Headers)
	if err != nil {
		return fmt.Errorf("encode headers: %w", err)
	}

	query := `INSERT INTO crawl_records (` + columns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = b.db.ExecContext(ctx, query,
		r.ID, r.URL, r.FinalURL, r.StatusCode, r.Strategy, r.Attempts, string(headersJSON),
		r.Encoding, r.Title, r.Text, r.Extraction, r.Degraded, r.Anomalous, r.Images, r.Links,
		r.Duration.Milliseconds(), r.DetectedBot, r.DetectionSrc, r.CreatedAt, r.ErrorKind, r.Error,
	)
	if err != nil {
		return fmt.Errorf("insert crawl record: %w", err)
	}

	return nil
}

func (b *sqliteBackend) Query(ctx context.Context, filter storage.Filter) ([]*storage.CrawlRecord, error) {
	query := `SELECT ` + columns + ` FROM crawl_records WHERE 1=1`
	args := []any{}

	if filter.URL != "" {
		query += ` AND url = ?`
		args = append(args, filter.URL)
	}
	if filter.DetectedBot != nil {
		query += ` AND detected_bot = ?`
		args = append(args, *filter.DetectedBot)
	}
	if filter.Since != nil {
		query += ` AND created_at >= ?`
		args = append(args, *filter.Since)
	}

	query += ` ORDER BY created_at DESC`

	// SQLite only accepts OFFSET after a LIMIT.
	if filter.Limit > 0 || filter.Offset > 0 {
		limit := filter.Limit
		if limit <= 0 {
			limit = -1
		}
		query += ` LIMIT ? OFFSET ?`
		args = append(args, limit, filter.Offset)
	}

	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query crawl records: %w", err)
	}
	defer rows.Close()

	var results []*storage.CrawlRecord
	for rows.Next() {
		var (
			r           storage.CrawlRecord
			headersJSON string
			durationMs  int64
			finalURL    sql.NullString
			strategy    sql.NullString
			encoding    sql.NullString
			title       sql.NullString
			text        sql.NullString
			extraction  sql.NullString
			detection   sql.NullString
			errorKind   sql.NullString
			errMsg      sql.NullString
		)

		err := rows.Scan(
			&r.ID, &r.URL, &finalURL, &r.StatusCode, &strategy, &r.Attempts, &headersJSON,
			&encoding, &title, &text, &extraction, &r.Degraded, &r.Anomalous, &r.Images, &r.Links,
			&durationMs, &r.DetectedBot, &detection, &r.CreatedAt, &errorKind, &errMsg,
		)
		if err != nil {
			return nil, fmt.Errorf("scan crawl record: %w", err)
		}

		r.FinalURL, r.Strategy, r.Encoding = finalURL.String, strategy.String, encoding.String
		r.Title, r.Text, r.Extraction = title.String, text.String, extraction.String
		r.DetectionSrc, r.ErrorKind, r.Error = detection.String, errorKind.String, errMsg.String
		r.Duration = time.Duration(durationMs) * time.Millisecond
		if err := json.Unmarshal([]byte(headersJSON), &r.Headers); err != nil {
			return nil, fmt.Errorf("decode headers: %w", err)
		}

		results = append(results, &r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate crawl records: %w", err)
	}

	return results, nil
}

func (b *sqliteBackend) Close() error {
	return b.db.Close()
}
