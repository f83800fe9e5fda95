package main

import (
	"errors"
	"fmt"

	"github.com/FranksOps/harvest/internal/scraper"
	"github.com/spf13/cobra"
)

// NewSeedCmd creates the seed command.
func NewSeedCmd(root *rootOptions) *cobra.Command {
	var (
		sitemaps []string
		robots   []string
	)
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Queue page URLs listed in sitemaps",
		Long: `Seed reads sitemaps (and sitemap indexes) and pushes every page URL they list
onto the frontier. With --from-robots, the sitemaps advertised in a site's
robots.txt are used as well.

Examples:
  harvest seed --distributed --sitemap https://example.com/sitemap.xml
  harvest seed --distributed --from-robots https://example.com`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if len(sitemaps) == 0 && len(robots) == 0 {
				return errors.New("nothing to seed: pass --sitemap or --from-robots")
			}
			a, err := newApp(cmd, root)
			if err != nil {
				return err
			}
			defer a.Close()
			if !a.settings.Distributed {
				return errNotDistributed
			}
			ctx := cmd.Context()

			for _, site := range robots {
				target, err := scraper.NewTarget(site)
				if err != nil {
					return err
				}
				found := a.robots.SitemapExtracts(ctx, target.Origin())
				a.logger.Info("sitemaps from robots.txt", "url", target.Origin(), "count", len(found))
				sitemaps = append(sitemaps, found...)
			}

			fetcher := scraper.NewSitemapFetcher(a.fetcher, a.settings, a.logger)
			total, added := 0, 0
			for _, sm := range sitemaps {
				urls, err := fetcher.FetchSitemap(ctx, sm)
				if err != nil {
					a.logger.Error("failed to read sitemap", "url", sm, "err", err)
					continue
				}
				for _, u := range urls {
					total++
					ok, err := a.frontier.Enqueue(ctx, u)
					if err != nil {
						a.logger.Warn("failed to enqueue", "url", u, "err", err)
						continue
					}
					if ok {
						added++
					}
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "queued %d of %d urls from %d sitemaps\n", added, total, len(sitemaps))
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&sitemaps, "sitemap", nil, "Sitemap URL (repeatable)")
	cmd.Flags().StringSliceVar(&robots, "from-robots", nil, "Site whose robots.txt lists sitemaps (repeatable)")
	return cmd
}
