// Package frontier tracks visited URLs and the crawl queue, either in
// process or shared through Redis.
package frontier

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/FranksOps/harvest/internal/crawlerr"
	"github.com/FranksOps/harvest/internal/settings"
	"github.com/PuerkitoBio/purell"
)

// Store records visits and queues URLs. Keys are normalized before use,
// so equivalent spellings of a URL share one entry.
type Store interface {
	// Seen reports whether rawURL has been marked.
	Seen(ctx context.Context, rawURL string) (bool, error)
	// MarkSeen records rawURL as visited. Marking twice is a no-op.
	MarkSeen(ctx context.Context, rawURL string) error
	// Enqueue queues rawURL unless it is seen or already queued, and
	// reports whether it was added.
	Enqueue(ctx context.Context, rawURL string) (bool, error)
	// Dequeue pops the oldest queued URL. ok is false when the queue is empty.
	Dequeue(ctx context.Context) (rawURL string, ok bool, err error)
	Close() error
}

// VisitedRecord is the first sighting of a URL.
type VisitedRecord struct {
	URL       string
	FirstSeen time.Time
}

const normalizeFlags = purell.FlagsSafe | purell.FlagRemoveFragment

// Normalize returns the dedup key for rawURL.
func Normalize(rawURL string) (string, error) {
	key, err := purell.NormalizeURLString(rawURL, normalizeFlags)
	if err != nil {
		return "", crawlerr.New(crawlerr.KindInvalidInput, rawURL, err)
	}
	return key, nil
}

// New builds the store selected by s. With distributed mode off it is the
// in-process store. If Redis cannot be reached the in-process store is
// returned together with a StoreUnavailable error the caller may log.
func New(ctx context.Context, s settings.CrawlSettings, logger *slog.Logger) (Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	local := NewLocal()
	if !s.Distributed {
		return local, nil
	}

	remote, err := NewRedis(ctx, RedisConfig{
		Addr:      s.Redis.Addr(),
		Password:  s.Redis.Password,
		DB:        s.Redis.DB,
		KeyPrefix: s.Redis.KeyPrefix,
		UseBloom:  s.UseBloomFilter,
		Logger:    logger,
	})
	if err != nil {
		return local, crawlerr.New(crawlerr.KindStoreUnavailable, s.Redis.Addr(), fmt.Errorf("falling back to local frontier: %w", err))
	}
	return NewDegrading(remote, local, logger), nil
}
