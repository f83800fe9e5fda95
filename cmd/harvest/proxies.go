package main

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/FranksOps/harvest/internal/identity"
	"github.com/FranksOps/harvest/pkg/proxy"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const maxConcurrentProbes = 10

// NewProxiesCmd creates the proxies command group.
func NewProxiesCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "proxies",
		Short: "Inspect configured proxies",
	}
	cmd.AddCommand(newProxiesCheckCmd(root))
	return cmd
}

func newProxiesCheckCmd(root *rootOptions) *cobra.Command {
	var (
		probeURL string
		timeout  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Probe every configured proxy once",
		Long: `Check sends a single GET through each proxy from the settings file, --proxy
and --proxy-file, and reports which ones answered.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := loadSettings(cmd, root)
			if err != nil {
				return err
			}
			if len(s.Proxies) == 0 {
				return errors.New("no proxies configured (use --proxy or --proxy-file)")
			}
			pool, err := identity.New(identity.Config{
				Proxies:      s.Proxies,
				ProbeURL:     probeURL,
				ProbeTimeout: timeout,
			})
			if err != nil {
				return err
			}

			list := pool.ProxyStatus()
			alive := make([]bool, len(list))
			var mu sync.Mutex
			g, ctx := errgroup.WithContext(cmd.Context())
			g.SetLimit(maxConcurrentProbes)
			for i, p := range list {
				g.Go(func() error {
					ok := pool.ProxyHealthy(ctx, p.URL)
					mu.Lock()
					alive[i] = ok
					mu.Unlock()
					return nil
				})
			}
			_ = g.Wait()

			healthy := 0
			for i, p := range list {
				state := "dead"
				if alive[i] {
					state = "ok"
					healthy++
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-4s %s\n", state, p.URL.Redacted())
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d of %d proxies healthy\n", healthy, len(list))
			if healthy == 0 {
				return errors.New("no healthy proxies")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&probeURL, "probe-url", proxy.DefaultProbeURL, "URL fetched through each proxy")
	cmd.Flags().DurationVar(&timeout, "probe-timeout", proxy.DefaultProbeTimeout, "Timeout per probe")
	return cmd
}
