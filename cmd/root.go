// Package cmd defines the html-cache command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/html-cache-renderer/internal/app"
	"github.com/JakeFAU/html-cache-renderer/internal/config"
	"github.com/JakeFAU/html-cache-renderer/internal/logging"
)

// flags holds the raw command line values. Only flags the user set override
// the config file.
type flags struct {
	configPath string
	verbose    bool
	groupURLs  bool
	multi      bool
	maxThreads int
	revision   int
	browser    string
}

// newApp is the application factory. Tests replace it to inject fakes.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (runner, error) {
	return app.New(ctx, cfg, logger)
}

// newLogger is swapped in tests to capture output.
var newLogger = logging.New

func newRootCmd(out io.Writer) *cobra.Command {
	f := &flags{}
	cmd := &cobra.Command{
		Use:   "html-cache",
		Short: "Pre-render site pages into an HTML cache",
		Long: `html-cache loads a sitemap, renders every page in headless Chromium and
stores the resulting HTML in the configured cache backend. Pages whose
sitemap lastmod or rendered content did not change are skipped.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRender(cmd, f, out)
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVarP(&f.configPath, "config", "c", ".", "config file or directory holding "+config.DefaultFileName)
	pf.BoolVarP(&f.verbose, "verbose", "v", false, "debug logging and config dump")
	pf.BoolVarP(&f.groupURLs, "group-urls", "g", false, "render URLs grouped by page type")
	pf.BoolVarP(&f.multi, "multithread", "m", false, "render URLs concurrently")
	pf.IntVarP(&f.maxThreads, "max-threads", "t", 0, "concurrent renders (0 = number of CPUs)")
	pf.IntVarP(&f.revision, "chrome-revision", "r", 0, "Chromium revision to download when no executable is set")
	pf.StringVar(&f.browser, "browser", "", "browser driver: chromedp or rod")

	cmd.AddCommand(newRenderCmd(f, out))
	return cmd
}

// loadConfig reads the config file and applies explicitly set flags.
func loadConfig(cmd *cobra.Command, f *flags) (config.Config, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	changed := cmd.Flags().Changed
	if changed("verbose") {
		cfg.Logging.Verbose = f.verbose
	}
	if changed("group-urls") {
		cfg.Render.GroupURLs = f.groupURLs
	}
	if changed("multithread") {
		cfg.Render.Multithread = f.multi
	}
	if changed("max-threads") {
		cfg.Render.MaxThreads = f.maxThreads
	}
	if changed("chrome-revision") {
		cfg.Browser.Revision = f.revision
	}
	if changed("browser") {
		cfg.Browser.Driver = f.browser
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// Execute runs the CLI and exits non-zero on failure.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd(os.Stdout).ExecuteContext(ctx)
	stop()
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, "html-cache:", err)
		}
		os.Exit(1)
	}
}
