package storage

import (
	"context"
	"testing"
)

func TestCrawlRecord_Failed(t *testing.T) {
	tests := []struct {
		kind string
		want bool
	}{
		{"", false},
		{"extraction degraded", false},
		{"anomaly rejected", false},
		{"http status", true},
		{"permission denied", true},
	}
	for _, tt := range tests {
		r := &CrawlRecord{ErrorKind: tt.kind}
		if got := r.Failed(); got != tt.want {
			t.Errorf("Failed() with kind %q = %v, want %v", tt.kind, got, tt.want)
		}
	}
}

// Ensure Backend interface exists and is implementable
type mockBackend struct{}

func (m *mockBackend) Save(ctx context.Context, record *CrawlRecord) error { return nil }
func (m *mockBackend) Query(ctx context.Context, filter Filter) ([]*CrawlRecord, error) {
	return nil, nil
}
func (m *mockBackend) Close() error { return nil }

func TestBackendInterface(t *testing.T) {
	var b Backend = &mockBackend{}
	_ = b
}
