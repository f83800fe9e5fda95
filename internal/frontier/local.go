package frontier

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/FranksOps/harvest/internal/metrics"
)

// Local is an in-process Store.
type Local struct {
	mu      sync.Mutex
	visited map[string]VisitedRecord
	queued  map[string]struct{}
	queue   []string
	now     func() time.Time
}

// NewLocal returns an empty in-process store.
func NewLocal() *Local {
	return &Local{
		visited: make(map[string]VisitedRecord),
		queued:  make(map[string]struct{}),
		now:     time.Now,
	}
}

func (l *Local) Seen(_ context.Context, rawURL string) (bool, error) {
	key, err := Normalize(rawURL)
	if err != nil {
		return false, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.visited[key]
	metrics.RecordFrontier("local", "seen", nil)
	return ok, nil
}

func (l *Local) MarkSeen(_ context.Context, rawURL string) error {
	key, err := Normalize(rawURL)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.visited[key]; !ok {
		l.visited[key] = VisitedRecord{URL: key, FirstSeen: l.now().UTC()}
	}
	metrics.RecordFrontier("local", "mark_seen", nil)
	return nil
}

func (l *Local) Enqueue(_ context.Context, rawURL string) (bool, error) {
	key, err := Normalize(rawURL)
	if err != nil {
		return false, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	metrics.RecordFrontier("local", "enqueue", nil)
	if _, ok := l.visited[key]; ok {
		return false, nil
	}
	if _, ok := l.queued[key]; ok {
		return false, nil
	}
	l.queued[key] = struct{}{}
	l.queue = append(l.queue, key)
	return true, nil
}

func (l *Local) Dequeue(_ context.Context) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	metrics.RecordFrontier("local", "dequeue", nil)
	if len(l.queue) == 0 {
		return "", false, nil
	}
	next := l.queue[0]
	l.queue[0] = ""
	l.queue = l.queue[1:]
	return next, true, nil
}

// Len returns the number of queued URLs.
func (l *Local) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

// Visited lists the visit records ordered by first sighting.
func (l *Local) Visited() []VisitedRecord {
	l.mu.Lock()
	out := make([]VisitedRecord, 0, len(l.visited))
	for _, r := range l.visited {
		out = append(out, r)
	}
	l.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].FirstSeen.Equal(out[j].FirstSeen) {
			return out[i].URL < out[j].URL
		}
		return out[i].FirstSeen.Before(out[j].FirstSeen)
	})
	return out
}

func (l *Local) Close() error { return nil }
