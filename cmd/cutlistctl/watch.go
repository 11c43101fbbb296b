package main

import (
	"context"
	"encoding/json"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/cutlist-extractor/internal/extraction"
	"github.com/joseph-ayodele/cutlist-extractor/internal/ingest"
)

func newWatchCmd(g *globals) *cobra.Command {
	var (
		initial  bool
		debounce time.Duration
	)
	cmd := &cobra.Command{
		Use:   "watch <dir>...",
		Short: "Extract every file dropped into the directories until interrupted",
		Long: "Each new PDF or image is extracted as it lands and printed as one JSON line.\n" +
			"Pages scanned separately merge once the last page of their project arrives.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := g.build(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close(context.Background()) }()

			events, errs, err := ingest.StartWatcher(ctx, ingest.WatchConfig{
				Roots:       args,
				InitialScan: initial,
				SkipHidden:  true,
				Debounce:    debounce,
				Logger:      a.Logger,
			})
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			for {
				select {
				case <-ctx.Done():
					return nil
				case err, ok := <-errs:
					if !ok {
						errs = nil
						continue
					}
					a.Logger.Warn("watch.error", "error", err)
				case path, ok := <-events:
					if !ok {
						return nil
					}
					ingest.ProcessPath(ctx, path, func(ctx context.Context, path string, data []byte) error {
						res, err := a.Processor.Process(ctx, extraction.Request{
							OrgID:    g.org,
							UserID:   g.user,
							Filename: filepath.Base(path),
							Data:     data,
						})
						_ = enc.Encode(newOutcome(path, res, err))
						return err
					})
				}
			}
		},
	}
	cmd.Flags().BoolVar(&initial, "initial", false, "also extract files already in the directories")
	cmd.Flags().DurationVar(&debounce, "debounce", time.Second, "wait for a file to stop changing before reading it")
	return cmd
}
