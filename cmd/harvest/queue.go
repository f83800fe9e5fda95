package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/FranksOps/harvest/internal/pipeline"
	"github.com/spf13/cobra"
)

var errNotDistributed = errors.New("queue commands need the Redis frontier (use --distributed)")

// NewQueueCmd creates the queue command group for the shared frontier.
func NewQueueCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Manage the distributed crawl queue",
		Long: `Queue commands operate on the Redis frontier shared by every harvest worker.
URLs already crawled or already queued are not added again.`,
	}
	cmd.AddCommand(newQueuePushCmd(root), newQueuePopCmd(root), newQueueDrainCmd(root))
	return cmd
}

func newQueuePushCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "push <url>...",
		Short: "Add URLs to the queue",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, root)
			if err != nil {
				return err
			}
			defer a.Close()
			if !a.settings.Distributed {
				return errNotDistributed
			}

			added := 0
			for _, raw := range args {
				ok, err := a.frontier.Enqueue(cmd.Context(), raw)
				if err != nil {
					return fmt.Errorf("enqueue %s: %w", raw, err)
				}
				if ok {
					added++
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "queued %d of %d urls\n", added, len(args))
			return nil
		},
	}
}

func newQueuePopCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "pop",
		Short: "Remove and print the next queued URL",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd, root)
			if err != nil {
				return err
			}
			defer a.Close()
			if !a.settings.Distributed {
				return errNotDistributed
			}

			next, ok, err := a.frontier.Dequeue(cmd.Context())
			if err != nil {
				return err
			}
			if !ok {
				fmt.Fprintln(cmd.ErrOrStderr(), "queue is empty")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), next)
			return nil
		},
	}
}

func newQueueDrainCmd(root *rootOptions) *cobra.Command {
	opts := &crawlOptions{}
	cmd := &cobra.Command{
		Use:   "drain",
		Short: "Crawl queued URLs until the queue is empty",
		Long: `Drain runs a pool of workers that pop URLs from the shared queue and crawl
them. Links discovered on each page are pushed back onto the queue. Several
drain processes may run against the same Redis at once.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(cmd, root)
			if err != nil {
				return err
			}
			defer a.Close()
			if !a.settings.Distributed {
				return errNotDistributed
			}

			h, err := newResultHandler(cmd.OutOrStdout(), a, opts)
			if err != nil {
				return err
			}
			p, err := a.pipeline(pipeline.Config{
				MaxPages: opts.maxPages,
				OnResult: func(u string, res *pipeline.Result, err error) { h.handle(ctx, u, res, err) },
			})
			if err != nil {
				return err
			}

			workers := opts.workers
			if workers <= 0 {
				workers = a.settings.MaxThreads
			}
			if err := p.Drain(ctx, a.settings, workers); err != nil {
				return err
			}
			return h.err()
		},
	}

	f := cmd.Flags()
	f.IntVarP(&opts.workers, "workers", "w", 0, "Concurrent crawls (default: max_threads)")
	f.IntVar(&opts.maxPages, "max-pages", 0, "Stop after this many pages (0 = no limit)")
	f.StringVarP(&opts.outDir, "out", "o", ".", "Directory for exports and images")
	f.BoolVar(&opts.export, "export", false, "Write text, links and image links files")
	f.BoolVar(&opts.downloadImages, "download-images", false, "Download discovered images")
	f.BoolVar(&opts.jsonOutput, "json", false, "Print one JSON object per crawled page")
	return cmd
}
