package main

import (
	"fmt"
	"net"
	"strconv"

	"github.com/FranksOps/harvest/internal/settings"
	"github.com/FranksOps/harvest/pkg/proxy"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// addSettingsFlags registers the flags that override loaded settings. Only
// flags the user sets are applied, so the settings file keeps precedence
// over flag defaults.
func addSettingsFlags(fs *pflag.FlagSet) {
	d := settings.Default()
	fs.Int("depth", d.MaxDepth, "Link mining depth (0-3); each level allows 10 links")
	fs.Int("retries", d.RetryTimes, "Retries per fetch (0-5)")
	fs.Duration("delay", d.RequestDelay.Duration, "Delay before each fetch")
	fs.Duration("timeout", d.ReadTimeout.Duration, "Read timeout per request")
	fs.Bool("robots", d.RespectRobots, "Respect robots.txt")
	fs.Bool("tls-fingerprint", d.TLSFingerprint, "Spoof a browser TLS fingerprint")
	fs.Bool("bypass", d.UseBypass, "Enable the challenge-bypass client")
	fs.Bool("render", d.DynamicRendering, "Render pages in headless Chrome as a last resort")
	fs.Bool("insecure", d.IgnoreSSL, "Skip TLS certificate verification")
	fs.Bool("cookies", d.UseCookies, "Keep cookies between requests")
	fs.StringSlice("proxy", nil, "Proxy URL (repeatable); enables proxy use")
	fs.String("proxy-file", "", "File with one proxy URL per line; enables proxy use")
	fs.Bool("images", d.ImageCrawling, "Discover images")
	fs.Bool("text", d.TextCrawling, "Extract main text")
	fs.Bool("skip-seen", d.SkipSeen, "Skip URLs already in the frontier")
	fs.Bool("distributed", d.Distributed, "Use the Redis frontier")
	fs.String("redis", d.Redis.Addr(), "Redis address for the distributed frontier")
	fs.Int("redis-db", d.Redis.DB, "Redis database")
	fs.String("redis-prefix", d.Redis.KeyPrefix, "Prefix for Redis keys")
}

// loadSettings reads --config, applies changed flags and validates.
func loadSettings(cmd *cobra.Command, opts *rootOptions) (settings.CrawlSettings, error) {
	s := settings.Default()
	if opts.configPath != "" {
		loaded, err := settings.Load(opts.configPath)
		if err != nil {
			return s, err
		}
		s = loaded
	}
	if err := applyFlags(cmd.Flags(), &s); err != nil {
		return s, err
	}
	if err := s.Validate(); err != nil {
		return s, fmt.Errorf("invalid settings: %w", err)
	}
	return s, nil
}

func applyFlags(fs *pflag.FlagSet, s *settings.CrawlSettings) error {
	var errs []error
	changed := func(name string) bool {
		f := fs.Lookup(name)
		return f != nil && f.Changed
	}
	intFlag := func(name string, dst *int) {
		if changed(name) {
			v, err := fs.GetInt(name)
			errs = append(errs, err)
			*dst = v
		}
	}
	boolFlag := func(name string, dst *bool) {
		if changed(name) {
			v, err := fs.GetBool(name)
			errs = append(errs, err)
			*dst = v
		}
	}
	durationFlag := func(name string, dst *settings.Duration) {
		if changed(name) {
			v, err := fs.GetDuration(name)
			errs = append(errs, err)
			*dst = settings.DurationFrom(v)
		}
	}

	intFlag("depth", &s.MaxDepth)
	intFlag("retries", &s.RetryTimes)
	durationFlag("delay", &s.RequestDelay)
	durationFlag("timeout", &s.ReadTimeout)
	boolFlag("robots", &s.RespectRobots)
	boolFlag("tls-fingerprint", &s.TLSFingerprint)
	boolFlag("bypass", &s.UseBypass)
	boolFlag("render", &s.DynamicRendering)
	boolFlag("insecure", &s.IgnoreSSL)
	boolFlag("cookies", &s.UseCookies)
	boolFlag("images", &s.ImageCrawling)
	boolFlag("text", &s.TextCrawling)
	boolFlag("skip-seen", &s.SkipSeen)
	boolFlag("distributed", &s.Distributed)
	intFlag("redis-db", &s.Redis.DB)

	if changed("redis") {
		addr, _ := fs.GetString("redis")
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return fmt.Errorf("--redis: %w", err)
		}
		p, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("--redis: bad port %q", port)
		}
		s.Redis.Host, s.Redis.Port = host, p
	}
	if changed("redis-prefix") {
		s.Redis.KeyPrefix, _ = fs.GetString("redis-prefix")
	}

	if changed("proxy") {
		list, _ := fs.GetStringSlice("proxy")
		s.Proxies = append(s.Proxies, list...)
		s.UseProxy = true
	}
	if changed("proxy-file") {
		path, _ := fs.GetString("proxy-file")
		pool := proxy.NewPool(proxy.Config{})
		if err := pool.LoadFile(path); err != nil {
			return fmt.Errorf("--proxy-file: %w", err)
		}
		for _, p := range pool.Snapshot() {
			s.Proxies = append(s.Proxies, p.URL.String())
		}
		s.UseProxy = true
	}

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
