package frontier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/FranksOps/harvest/internal/metrics"
	"github.com/redis/go-redis/v9"
)

// Key names under the configured prefix.
const (
	KeyBloom       = "urls:bloom"
	KeyQueuedBloom = "urls:queued:bloom"
	KeySeen        = "urls:seen"
	KeyQueued      = "urls:queued"
	KeyStartURLs   = "spider:start_urls"
)

const (
	bloomErrorRate = 0.001
	bloomCapacity  = 1_000_000
)

// RedisConfig configures a Redis store.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// KeyPrefix namespaces every key, e.g. "harvest:".
	KeyPrefix string
	// UseBloom asks for RedisBloom filters. Servers without the module get
	// exact sets instead.
	UseBloom bool
	Logger   *slog.Logger
	// Client overrides Addr, Password and DB.
	Client *redis.Client
}

// Redis is a Store shared between processes. Visits and queue membership
// are kept in bloom filters when RedisBloom is loaded, otherwise in a hash
// and a set. The queue itself is a list fed with LPUSH and drained with RPOP.
type Redis struct {
	client *redis.Client
	logger *slog.Logger
	bloom  bool
	prefix string
}

// NewRedis connects and checks for RedisBloom.
func NewRedis(ctx context.Context, cfg RedisConfig) (*Redis, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	client := cfg.Client
	if client == nil {
		client = redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		})
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}

	r := &Redis{client: client, logger: cfg.Logger, prefix: cfg.KeyPrefix}
	if cfg.UseBloom {
		r.bloom = r.reserveBloom(ctx)
	}
	r.logger.Info("redis frontier ready", "addr", cfg.Addr, "bloom", r.bloom)
	return r, nil
}

// reserveBloom creates both filters and reports whether the server
// supports them.
func (r *Redis) reserveBloom(ctx context.Context) bool {
	for _, key := range []string{KeyBloom, KeyQueuedBloom} {
		err := r.client.Do(ctx, "BF.RESERVE", r.key(key), bloomErrorRate, bloomCapacity).Err()
		if err != nil && !strings.Contains(strings.ToLower(err.Error()), "exists") {
			r.logger.Warn("bloom filter unavailable, using exact sets", "err", err)
			return false
		}
	}
	return true
}

func (r *Redis) key(name string) string { return r.prefix + name }

func (r *Redis) Seen(ctx context.Context, rawURL string) (bool, error) {
	key, err := Normalize(rawURL)
	if err != nil {
		return false, err
	}
	var seen bool
	if r.bloom {
		seen, err = r.client.Do(ctx, "BF.EXISTS", r.key(KeyBloom), key).Bool()
	} else {
		seen, err = r.client.HExists(ctx, r.key(KeySeen), key).Result()
	}
	metrics.RecordFrontier("redis", "seen", err)
	if err != nil {
		return false, fmt.Errorf("redis seen: %w", err)
	}
	return seen, nil
}

func (r *Redis) MarkSeen(ctx context.Context, rawURL string) error {
	key, err := Normalize(rawURL)
	if err != nil {
		return err
	}
	if r.bloom {
		err = r.client.Do(ctx, "BF.ADD", r.key(KeyBloom), key).Err()
	} else {
		err = r.client.HSetNX(ctx, r.key(KeySeen), key, time.Now().Unix()).Err()
	}
	metrics.RecordFrontier("redis", "mark_seen", err)
	if err != nil {
		return fmt.Errorf("redis mark seen: %w", err)
	}
	return nil
}

func (r *Redis) Enqueue(ctx context.Context, rawURL string) (bool, error) {
	seen, err := r.Seen(ctx, rawURL)
	if err != nil || seen {
		return false, err
	}
	key, err := Normalize(rawURL)
	if err != nil {
		return false, err
	}

	var added bool
	if r.bloom {
		added, err = r.client.Do(ctx, "BF.ADD", r.key(KeyQueuedBloom), key).Bool()
	} else {
		var n int64
		n, err = r.client.SAdd(ctx, r.key(KeyQueued), key).Result()
		added = n == 1
	}
	if err == nil && added {
		err = r.client.LPush(ctx, r.key(KeyStartURLs), key).Err()
	}
	metrics.RecordFrontier("redis", "enqueue", err)
	if err != nil {
		return false, fmt.Errorf("redis enqueue: %w", err)
	}
	return added, nil
}

func (r *Redis) Dequeue(ctx context.Context) (string, bool, error) {
	next, err := r.client.RPop(ctx, r.key(KeyStartURLs)).Result()
	if errors.Is(err, redis.Nil) {
		metrics.RecordFrontier("redis", "dequeue", nil)
		return "", false, nil
	}
	metrics.RecordFrontier("redis", "dequeue", err)
	if err != nil {
		return "", false, fmt.Errorf("redis dequeue: %w", err)
	}
	return next, true, nil
}

// Len returns the queue length.
func (r *Redis) Len(ctx context.Context) (int64, error) {
	n, err := r.client.LLen(ctx, r.key(KeyStartURLs)).Result()
	if err != nil {
		return 0, fmt.Errorf("redis queue length: %w", err)
	}
	return n, nil
}

// Bloom reports whether RedisBloom filters are in use.
func (r *Redis) Bloom() bool { return r.bloom }

func (r *Redis) Close() error {
	return r.client.Close()
}
