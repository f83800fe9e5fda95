package scraper

import (
	"net/http"
	"time"
)

// StrategyName identifies a fetch strategy.
type StrategyName string

const (
	StrategySpoof  StrategyName = "spoof"
	StrategyBypass StrategyName = "bypass"
	StrategyRender StrategyName = "render"
	StrategyDirect StrategyName = "direct"
)

// FetchAttempt is one network try made while fetching a target.
type FetchAttempt struct {
	Strategy StrategyName
	URL      string
	Proxy    string
	Status   int
	Err      error
	Elapsed  time.Duration
}

// FetchResult is a successfully fetched document.
type FetchResult struct {
	ID           string
	URL          string
	FinalURL     string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Text         string
	Encoding     string
	Strategy     StrategyName
	Attempts     []FetchAttempt
	DetectedBot  bool
	DetectionSrc string
	Duration     time.Duration
	CreatedAt    time.Time
}
