package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/cutlist-extractor/internal/app"
	"github.com/joseph-ayodele/cutlist-extractor/internal/common"
)

type globals struct {
	org     string
	user    string
	noDB    bool
	verbose bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(exitCode(err))
	}
}

func newRootCmd() *cobra.Command {
	g := &globals{}
	root := &cobra.Command{
		Use:           "cutlistctl",
		Short:         "Extract woodworking cutlists from PDFs and photos",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&g.org, "org", "local", "organization id used for templates and shortcodes")
	root.PersistentFlags().StringVar(&g.user, "user", "", "user id recorded with each extraction")
	root.PersistentFlags().BoolVar(&g.noDB, "no-db", false, "ignore DB_URL even if set")
	root.PersistentFlags().BoolVarP(&g.verbose, "verbose", "v", false, "log to stderr at debug level")

	root.AddCommand(newExtractCmd(g), newWatchCmd(g), newTemplatesCmd(g))
	return root
}

// build wires the app for one CLI invocation. Logs go to stderr so stdout
// stays parseable.
func (g *globals) build(ctx context.Context) (*app.App, error) {
	cfg := common.LoadConfig()
	if g.verbose {
		cfg.Log.Level = "debug"
	} else if cfg.Log.Level == "info" {
		cfg.Log.Level = "warn"
	}
	logger := app.NewLogger(cfg.Log, os.Stderr)
	slog.SetDefault(logger)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return app.Build(ctx, cfg, logger, app.Options{InlineEffects: true, CacheTemplates: true, SkipDatabase: g.noDB})
}

// exitCode maps input problems to 2 and everything else to 1.
func exitCode(err error) int {
	switch common.HTTPStatus(err) {
	case 400, 413, 415:
		return 2
	}
	return 1
}

func printf(cmd *cobra.Command, format string, args ...any) {
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), format, args...)
}
