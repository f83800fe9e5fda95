package frontier

import (
	"context"
	"errors"
	"log/slog"

	"github.com/FranksOps/harvest/internal/crawlerr"
)

// Degrading serves from a primary store and falls back to a secondary one
// for any call the primary fails. Errors from the primary are logged, never
// returned.
type Degrading struct {
	primary  Store
	fallback Store
	logger   *slog.Logger
}

// NewDegrading wraps primary with fallback.
func NewDegrading(primary, fallback Store, logger *slog.Logger) *Degrading {
	if logger == nil {
		logger = slog.Default()
	}
	return &Degrading{primary: primary, fallback: fallback, logger: logger}
}

func (d *Degrading) degrade(op, rawURL string, err error) {
	d.logger.Warn("frontier degraded to local store", "op", op, "url", rawURL,
		"err", crawlerr.New(crawlerr.KindStoreUnavailable, rawURL, err))
}

func (d *Degrading) Seen(ctx context.Context, rawURL string) (bool, error) {
	seen, err := d.primary.Seen(ctx, rawURL)
	if err == nil || crawlerr.IsKind(err, crawlerr.KindInvalidInput) {
		return seen, err
	}
	d.degrade("seen", rawURL, err)
	return d.fallback.Seen(ctx, rawURL)
}

func (d *Degrading) MarkSeen(ctx context.Context, rawURL string) error {
	err := d.primary.MarkSeen(ctx, rawURL)
	if err == nil || crawlerr.IsKind(err, crawlerr.KindInvalidInput) {
		return err
	}
	d.degrade("mark_seen", rawURL, err)
	return d.fallback.MarkSeen(ctx, rawURL)
}

func (d *Degrading) Enqueue(ctx context.Context, rawURL string) (bool, error) {
	added, err := d.primary.Enqueue(ctx, rawURL)
	if err == nil || crawlerr.IsKind(err, crawlerr.KindInvalidInput) {
		return added, err
	}
	d.degrade("enqueue", rawURL, err)
	return d.fallback.Enqueue(ctx, rawURL)
}

// Dequeue drains the fallback's queue once the primary is empty or failing.
func (d *Degrading) Dequeue(ctx context.Context) (string, bool, error) {
	next, ok, err := d.primary.Dequeue(ctx)
	if err == nil && ok {
		return next, true, nil
	}
	if err != nil {
		d.degrade("dequeue", "", err)
	}
	return d.fallback.Dequeue(ctx)
}

func (d *Degrading) Close() error {
	return errors.Join(d.primary.Close(), d.fallback.Close())
}
