// Package jsonbackend stores crawl records as newline-delimited JSON.
package jsonbackend

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"slices"
	"sync"

	"github.com/FranksOps/harvest/internal/storage"
)

// ensure jsonBackend implements storage.Backend
var _ storage.Backend = (*jsonBackend)(nil)

// maxLineBytes bounds one encoded record; records carry extracted text.
const maxLineBytes = 32 << 20

type jsonBackend struct {
	mu   sync.Mutex
	file *os.File
}

// New opens or creates an NDJSON file at filePath.
func New(filePath string) (storage.Backend, error) {
	f, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open ndjson file: %w", err)
	}
	return &jsonBackend{file: f}, nil
}

func (b *jsonBackend) Save(ctx context.Context, record *storage.CrawlRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode crawl record: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, err := b.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("append crawl record: %w", err)
	}
	return nil
}

func (b *jsonBackend) Query(ctx context.Context, filter storage.Filter) ([]*storage.CrawlRecord, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, err := b.file.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("rewind ndjson file: %w", err)
	}
	// O_APPEND writes ignore the offset, but keep it at the end anyway.
	defer func() { _, _ = b.file.Seek(0, io.SeekEnd) }()

	scanner := bufio.NewScanner(b.file)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	var matched []*storage.CrawlRecord
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var r storage.CrawlRecord
		if err := json.Unmarshal(line, &r); err != nil {
			return nil, fmt.Errorf("decode crawl record: %w", err)
		}
		if matches(filter, &r) {
			matched = append(matched, &r)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan ndjson file: %w", err)
	}

	// Records are appended in crawl order; newest first matches the SQL backends.
	slices.Reverse(matched)
	return page(matched, filter.Offset, filter.Limit), nil
}

func matches(f storage.Filter, r *storage.CrawlRecord) bool {
	switch {
	case f.URL != "" && r.URL != f.URL:
		return false
	case f.DetectedBot != nil && r.DetectedBot != *f.DetectedBot:
		return false
	case f.Since != nil && r.CreatedAt.Before(*f.Since):
		return false
	}
	return true
}

func page(records []*storage.CrawlRecord, offset, limit int) []*storage.CrawlRecord {
	if offset > 0 {
		if offset >= len(records) {
			return []*storage.CrawlRecord{}
		}
		records = records[offset:]
	}
	if limit > 0 && limit < len(records) {
		records = records[:limit]
	}
	return records
}

func (b *jsonBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.file.Close()
}
