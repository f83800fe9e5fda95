package proxy

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestPool_CurrentAndRotate(t *testing.T) {
	pool := NewPool(Config{})

	if err := pool.Add("127.0.0.1:8080", "http://127.0.0.1:8081", "socks5://127.0.0.1:9050"); err != nil {
		t.Fatalf("unexpected error adding proxies: %v", err)
	}

	if u := pool.Current(); u == nil || u.String() != "http://127.0.0.1:8080" {
		t.Errorf("expected http://127.0.0.1:8080, got %v", u)
	}
	// Current does not advance.
	if u := pool.Current(); u.String() != "http://127.0.0.1:8080" {
		t.Errorf("expected Current to be stable, got %v", u)
	}

	want := []string{"http://127.0.0.1:8081", "socks5://127.0.0.1:9050", "http://127.0.0.1:8080"}
	for i, w := range want {
		if u := pool.Rotate(); u == nil || u.String() != w {
			t.Errorf("rotate %d: expected %s, got %v", i, w, u)
		}
	}
}

func TestPool_RotateConcurrent(t *testing.T) {
	pool := NewPool(Config{})
	if err := pool.Add("http://a", "http://b", "http://c"); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	const callers = 300
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pool.Rotate()
		}()
	}
	wg.Wait()

	// 300 single steps over 3 proxies lands back on the first.
	if u := pool.Current(); u.String() != "http://a" {
		t.Errorf("expected http://a after %d rotations, got %v", callers, u)
	}
}

func TestPool_HealthTracking(t *testing.T) {
	pool := NewPool(Config{
		MaxFailures: 2,
		Cooldown:    10 * time.Millisecond,
	})
	if err := pool.Add("http://a", "http://b"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	a := pool.Current()
	pool.MarkFailure(a)
	if !pool.Healthy(a) {
		t.Fatal("expected a to stay healthy after one failure")
	}
	pool.MarkFailure(a)
	if pool.Healthy(a) {
		t.Fatal("expected a to be unhealthy after reaching max failures")
	}

	time.Sleep(15 * time.Millisecond)
	if !pool.Healthy(a) {
		t.Error("expected a to revive after cooldown")
	}
}

func TestPool_LoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "proxies.txt")
	content := `
# some comment
http://proxy1.com
proxy2.com:80

socks5://proxy3.com:1080
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write proxy file: %v", err)
	}

	pool := NewPool(Config{})
	if err := pool.LoadFile(path); err != nil {
		t.Fatalf("failed to load file: %v", err)
	}

	snap := pool.Snapshot()
	expected := []string{"http://proxy1.com", "http://proxy2.com:80", "socks5://proxy3.com:1080"}
	if len(snap) != len(expected) {
		t.Fatalf("expected %d proxies, got %d", len(expected), len(snap))
	}
	for i, e := range expected {
		if snap[i].URL.String() != e {
			t.Errorf("expected %s, got %s", e, snap[i].URL)
		}
	}
}

func TestPool_MarkUnknown(t *testing.T) {
	pool := NewPool(Config{})
	pool.Add("http://a")

	uUnknown, _ := url.Parse("http://unknown")

	err := pool.MarkSuccess(uUnknown)
	if err == nil || err.Error() != "proxy not found in pool" {
		t.Errorf("expected error marking unknown proxy success, got %v", err)
	}
	err = pool.MarkFailure(uUnknown)
	if err == nil || err.Error() != "proxy not found in pool" {
		t.Errorf("expected error marking unknown proxy failure, got %v", err)
	}
}

func TestPool_Empty(t *testing.T) {
	pool := NewPool(Config{})
	if u := pool.Current(); u != nil {
		t.Errorf("expected nil on empty pool, got %v", u)
	}
	if u := pool.Rotate(); u != nil {
		t.Errorf("expected nil rotate on empty pool, got %v", u)
	}
}

func TestProbe(t *testing.T) {
	// A forward proxy receives the absolute target URL; answering it
	// directly is enough to stand in for the real upstream.
	var sawAbsolute atomic.Bool
	prx := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawAbsolute.Store(r.URL.IsAbs())
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"origin":"127.0.0.1"}`))
	}))
	defer prx.Close()

	pu, _ := url.Parse(prx.URL)
	if !Probe(context.Background(), pu, "http://probe.invalid/ip", time.Second) {
		t.Fatal("expected healthy proxy")
	}
	if !sawAbsolute.Load() {
		t.Error("expected request to be sent in proxy form")
	}

	dead, _ := url.Parse("http://127.0.0.1:1")
	if Probe(context.Background(), dead, "http://probe.invalid/ip", 200*time.Millisecond) {
		t.Error("expected unreachable proxy to be unhealthy")
	}
	if Probe(context.Background(), nil, "", 0) {
		t.Error("expected nil proxy to be unhealthy")
	}
}
