package export

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDomain(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"https://www.example.com/a/b", "example_com"},
		{"http://Blog.Example.org:8080/", "blog_example_org_8080"},
		{"https://sub-domain.test", "sub-domain_test"},
		{"example.com", "example_com"},
		{"", "unknown"},
	}
	for _, tt := range tests {
		if got := Domain(tt.in); got != tt.want {
			t.Errorf("Domain(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func newTestWriter(t *testing.T) (*Writer, string) {
	t.Helper()
	dir := t.TempDir()
	w := New(dir, nil)
	w.now = func() time.Time { return time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC) }
	return w, dir
}

func TestWriter_Files(t *testing.T) {
	w, dir := newTestWriter(t)

	paths, err := w.All(Bundle{
		URL:    "https://www.example.com/post",
		Text:   "héllo\nworld",
		Links:  []string{"https://www.example.com/a", "https://www.example.com/b"},
		Images: []string{"https://cdn.example.com/x.png"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := map[string]string{
		"example_com_20240309_140507.txt":             "héllo\nworld",
		"example_com_links_20240309_140507.txt":       "https://www.example.com/a\nhttps://www.example.com/b",
		"example_com_image_links_20240309_140507.txt": "https://cdn.example.com/x.png",
	}
	if len(paths) != len(want) {
		t.Fatalf("expected %d files, got %v", len(want), paths)
	}
	for name, content := range want {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			t.Fatalf("expected %s: %v", name, err)
		}
		if string(data) != content {
			t.Errorf("%s: expected %q, got %q", name, content, data)
		}
	}
}

func TestWriter_SkipsEmptyParts(t *testing.T) {
	w, dir := newTestWriter(t)

	paths, err := w.All(Bundle{URL: "https://example.com", Text: "only text"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(paths) != 1 {
		t.Fatalf("expected 1 file, got %v", paths)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("expected 1 entry on disk, got %d", len(entries))
	}
}
