package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/FranksOps/harvest/internal/metrics"
	"github.com/spf13/cobra"
)

// rootOptions carries the global flags and the process-wide state they
// configure.
type rootOptions struct {
	configPath  string
	logLevel    string
	logFormat   string
	metricsPort int
	store       string

	logger  *slog.Logger
	metrics *metrics.Server
}

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "harvest",
		Short: "Fetch, extract and deduplicate web content",
		Long: `harvest retrieves web pages, falling back through TLS fingerprint spoofing,
a challenge-bypass client and headless rendering when a site pushes back.
It extracts the main text, discovers images and links, and records visited
URLs in memory or in Redis so repeated and distributed crawls skip them.`,
		Version:       getVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := setupLogger(cmd.ErrOrStderr(), opts.logLevel, opts.logFormat)
			if err != nil {
				return err
			}
			opts.logger = logger
			slog.SetDefault(logger)

			if opts.metricsPort > 0 {
				srv, err := metrics.Start(opts.metricsPort, logger)
				if err != nil {
					return fmt.Errorf("start metrics server: %w", err)
				}
				opts.metrics = srv
				logger.Info("serving metrics", "addr", srv.Addr())
			}
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			if opts.metrics == nil {
				return nil
			}
			return opts.metrics.Stop(context.Background())
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVarP(&opts.configPath, "config", "c", "", "Settings file (JSON, YAML or TOML)")
	pf.StringVar(&opts.logLevel, "log-level", "info", "Log level: debug, info, warn or error")
	pf.StringVar(&opts.logFormat, "log-format", "text", "Log format: text or json")
	pf.IntVar(&opts.metricsPort, "metrics-port", 0, "Serve Prometheus metrics on this port (0 disables)")
	pf.StringVar(&opts.store, "store", "", "Crawl history store: a .db/.sqlite file, a .ndjson file or a postgres:// DSN")
	addSettingsFlags(pf)

	cmd.AddCommand(NewCrawlCmd(opts))
	cmd.AddCommand(NewQueueCmd(opts))
	cmd.AddCommand(NewSeedCmd(opts))
	cmd.AddCommand(NewProxiesCmd(opts))
	cmd.AddCommand(NewReportCmd(opts))
	cmd.AddCommand(NewConfigCmd(opts))
	cmd.AddCommand(NewVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
