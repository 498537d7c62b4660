package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/html-cache-renderer/internal/dispatcher"
	"github.com/JakeFAU/html-cache-renderer/internal/logging"
)

type runner interface {
	Run(ctx context.Context) (dispatcher.Result, error)
	Close() error
}

func newRenderCmd(f *flags, out io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "render",
		Short: "Render the sitemap once and update the cache",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRender(cmd, f, out)
		},
	}
}

func runRender(cmd *cobra.Command, f *flags, out io.Writer) error {
	cfg, err := loadConfig(cmd, f)
	if err != nil {
		return err
	}

	logger, err := newLogger(logging.Options{Development: cfg.Logging.Development, Verbose: cfg.Logging.Verbose})
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	restore := zap.ReplaceGlobals(logger)
	defer restore()

	if cfg.Logging.Verbose {
		logger.Debug("configuration", zap.Any("config", cfg.Redacted()))
	}

	ctx := cmd.Context()
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize services: %w", err)
	}
	defer func() {
		if cerr := a.Close(); cerr != nil {
			logger.Warn("shutdown", zap.Error(cerr))
		}
	}()

	res, err := a.Run(ctx)
	if err != nil {
		return err
	}

	logger.Info("render finished",
		zap.String("run_id", res.RunID),
		zap.Int("passed", res.Passed),
		zap.Int("total", res.Total),
		zap.Duration("elapsed", res.Elapsed),
		zap.Int("diagnostics_failures", res.DiagnosticsFailures),
	)
	fmt.Fprintf(out, "Passed %d of %d urls in %s\n", res.Passed, res.Total, res.Elapsed.Round(time.Millisecond))
	return nil
}
