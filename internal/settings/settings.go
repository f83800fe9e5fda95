// Package settings holds the per-crawl configuration snapshot and its
// JSON persistence.
package settings

import (
	"errors"
	"net"
	"strconv"
	"time"
)

// RedisSettings are the connection parameters of the shared frontier store.
type RedisSettings struct {
	Host      string `json:"host" mapstructure:"host"`
	Port      int    `json:"port" mapstructure:"port"`
	DB        int    `json:"db" mapstructure:"db"`
	Password  string `json:"password" mapstructure:"password"`
	KeyPrefix string `json:"key_prefix" mapstructure:"key_prefix"`
}

// Addr returns host:port.
func (r RedisSettings) Addr() string {
	return net.JoinHostPort(r.Host, strconv.Itoa(r.Port))
}

// CrawlSettings is passed by value into every crawl operation. Callers change
// it only between crawls.
type CrawlSettings struct {
	// Fetch
	RetryTimes         int      `json:"retry_times" mapstructure:"retry_times"`
	Backoff            Duration `json:"backoff" mapstructure:"backoff"`
	RequestDelay       Duration `json:"request_delay" mapstructure:"request_delay"`
	ConnectTimeout     Duration `json:"connect_timeout" mapstructure:"connect_timeout"`
	ReadTimeout        Duration `json:"read_timeout" mapstructure:"read_timeout"`
	UseProxy           bool     `json:"use_proxy" mapstructure:"use_proxy"`
	Proxies            []string `json:"proxy_list" mapstructure:"proxy_list"`
	IgnoreSSL          bool     `json:"ignore_ssl" mapstructure:"ignore_ssl"`
	UseCookies         bool     `json:"use_cookies" mapstructure:"use_cookies"`
	RespectRobots      bool     `json:"respect_robots" mapstructure:"respect_robots"`
	TLSFingerprint     bool     `json:"tls_fingerprint" mapstructure:"tls_fingerprint"`
	FingerprintProfile string   `json:"fingerprint_profile" mapstructure:"fingerprint_profile"`
	UseBypass          bool     `json:"use_bypass" mapstructure:"use_bypass"`
	DynamicRendering   bool     `json:"dynamic_rendering" mapstructure:"dynamic_rendering"`
	BehaviorSimulation bool     `json:"behavior_simulation" mapstructure:"behavior_simulation"`

	// Discovery
	MaxDepth         int  `json:"max_depth" mapstructure:"max_depth"`
	ImageCrawling    bool `json:"image_crawling" mapstructure:"image_crawling"`
	MaxImages        int  `json:"max_images" mapstructure:"max_images"`
	MaxThreads       int  `json:"max_threads" mapstructure:"max_threads"`
	ImageSizeLimitMB int  `json:"image_size_limit" mapstructure:"image_size_limit"`

	// Extraction
	TextCrawling         bool    `json:"text_crawling" mapstructure:"text_crawling"`
	AIExtraction         bool    `json:"ai_content_extraction" mapstructure:"ai_content_extraction"`
	AnomalyDetection     bool    `json:"anomaly_detection" mapstructure:"anomaly_detection"`
	MinContentLength     int     `json:"min_content_length" mapstructure:"min_content_length"`
	LinkDensityThreshold float64 `json:"link_density_threshold" mapstructure:"link_density_threshold"`

	// Frontier
	Distributed    bool          `json:"use_distributed" mapstructure:"use_distributed"`
	UseBloomFilter bool          `json:"use_bloom_filter" mapstructure:"use_bloom_filter"`
	SkipSeen       bool          `json:"skip_seen" mapstructure:"skip_seen"`
	Redis          RedisSettings `json:"redis" mapstructure:"redis"`
}

// Default returns the stock configuration.
func Default() CrawlSettings {
	return CrawlSettings{
		RetryTimes:           3,
		Backoff:              DurationFrom(300 * time.Millisecond),
		RequestDelay:         DurationFrom(500 * time.Millisecond),
		ConnectTimeout:       DurationFrom(10 * time.Second),
		ReadTimeout:          DurationFrom(30 * time.Second),
		Proxies:              []string{},
		RespectRobots:        true,
		TLSFingerprint:       true,
		FingerprintProfile:   "chrome",
		BehaviorSimulation:   true,
		MaxDepth:             1,
		ImageCrawling:        true,
		MaxImages:            500,
		MaxThreads:           5,
		ImageSizeLimitMB:     10,
		TextCrawling:         true,
		AIExtraction:         true,
		AnomalyDetection:     true,
		MinContentLength:     500,
		LinkDensityThreshold: 0.3,
		UseBloomFilter:       true,
		SkipSeen:             true,
		Redis: RedisSettings{
			Host: "localhost",
			Port: 6379,
		},
	}
}

// Validate reports every out-of-range field at once.
func (s CrawlSettings) Validate() error {
	var errs []error
	if s.RetryTimes < 0 || s.RetryTimes > 5 {
		errs = append(errs, ErrRetryTimes)
	}
	if s.MaxDepth < 0 || s.MaxDepth > 3 {
		errs = append(errs, ErrMaxDepth)
	}
	if s.MaxThreads < 1 || s.MaxThreads > 20 {
		errs = append(errs, ErrMaxThreads)
	}
	if s.ImageSizeLimitMB < 1 || s.ImageSizeLimitMB > 100 {
		errs = append(errs, ErrImageSizeLimit)
	}
	if s.RequestDelay.Duration < 0 || s.Backoff.Duration < 0 ||
		s.ConnectTimeout.Duration < 0 || s.ReadTimeout.Duration < 0 {
		errs = append(errs, ErrNegativeDuration)
	}
	if s.LinkDensityThreshold <= 0 || s.LinkDensityThreshold > 1 {
		errs = append(errs, ErrLinkDensity)
	}
	if s.MinContentLength <= 0 {
		errs = append(errs, ErrMinContentLength)
	}
	if s.MaxImages < 0 {
		errs = append(errs, ErrMaxImages)
	}
	if s.Distributed && (s.Redis.Host == "" || s.Redis.Port <= 0 || s.Redis.Port > 65535) {
		errs = append(errs, ErrRedisAddress)
	}
	return errors.Join(errs...)
}

// ImageSizeLimitBytes converts the per-image cap to bytes.
func (s CrawlSettings) ImageSizeLimitBytes() int64 {
	return int64(s.ImageSizeLimitMB) << 20
}

// MaxLinks is the link-mining cap for the configured depth.
func (s CrawlSettings) MaxLinks() int {
	return 10 * s.MaxDepth
}
