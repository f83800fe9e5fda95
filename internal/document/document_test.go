package document

import (
	"net/url"
	"testing"
)

func TestParse_Malformed(t *testing.T) {
	base, _ := url.Parse("https://example.com/a")
	doc, err := Parse(`<html><head><title> Hi </title><body><p>unclosed <b>bold<div>x`, base)
	if err != nil {
		t.Fatalf("expected tolerant parse, got %v", err)
	}
	if doc.Title() != "Hi" {
		t.Errorf("expected title Hi, got %q", doc.Title())
	}
	if doc.Find("p").Length() != 1 {
		t.Errorf("expected one paragraph")
	}
	if doc.Root.Url.String() != base.String() {
		t.Errorf("expected base url to be attached")
	}
}

func TestParse_Empty(t *testing.T) {
	doc, err := Parse("", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if doc.Title() != "" {
		t.Errorf("expected empty title")
	}
}
