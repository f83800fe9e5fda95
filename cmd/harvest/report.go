package main

import (
	"fmt"
	"time"

	"github.com/FranksOps/harvest/internal/report"
	"github.com/FranksOps/harvest/internal/storage"
	"github.com/spf13/cobra"
)

// NewReportCmd creates the report command.
func NewReportCmd(root *rootOptions) *cobra.Command {
	var (
		format string
		since  time.Duration
		url    string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Summarize the crawl history store",
		Long: `Report aggregates the records in --store: outcomes, winning fetch strategies,
extraction strategies, status codes and detected bot protections.

Examples:
  harvest report --store crawls.db
  harvest report --store crawls.ndjson --since 24h --format html > report.html`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			backend, err := openBackend(cmd.Context(), root.store)
			if err != nil {
				return err
			}
			if backend == nil {
				return errNoStore
			}
			defer backend.Close()

			filter := storage.Filter{URL: url, Limit: limit}
			if since > 0 {
				t := time.Now().Add(-since)
				filter.Since = &t
			}
			records, err := backend.Query(cmd.Context(), filter)
			if err != nil {
				return fmt.Errorf("query store: %w", err)
			}

			summary := report.Summarize(records)
			out := cmd.OutOrStdout()
			switch format {
			case "text":
				return report.WriteText(out, summary)
			case "json":
				return report.WriteJSON(out, summary)
			case "html":
				return report.WriteHTML(out, summary)
			default:
				return fmt.Errorf("unknown format %q (want text, json or html)", format)
			}
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "text", "Output format: text, json or html")
	cmd.Flags().DurationVar(&since, "since", 0, "Only include crawls newer than this")
	cmd.Flags().StringVar(&url, "url", "", "Only include crawls of this URL")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum records to read (0 = all)")
	return cmd
}
