// Package app wires the renderer's long-lived services from config.Config and
// runs one render pass.
package app

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"go.uber.org/zap"

	chromedpbrowser "github.com/JakeFAU/html-cache-renderer/internal/browser/chromedp"
	rodbrowser "github.com/JakeFAU/html-cache-renderer/internal/browser/rod"
	"github.com/JakeFAU/html-cache-renderer/internal/classifier"
	"github.com/JakeFAU/html-cache-renderer/internal/clock/system"
	"github.com/JakeFAU/html-cache-renderer/internal/config"
	"github.com/JakeFAU/html-cache-renderer/internal/crawler"
	"github.com/JakeFAU/html-cache-renderer/internal/dispatcher"
	"github.com/JakeFAU/html-cache-renderer/internal/hash"
	"github.com/JakeFAU/html-cache-renderer/internal/id/uuid"
	"github.com/JakeFAU/html-cache-renderer/internal/metrics"
	"github.com/JakeFAU/html-cache-renderer/internal/policy/ratelimit"
	"github.com/JakeFAU/html-cache-renderer/internal/pool"
	memorypublisher "github.com/JakeFAU/html-cache-renderer/internal/publisher/memory"
	pubsubpublisher "github.com/JakeFAU/html-cache-renderer/internal/publisher/pubsub"
	"github.com/JakeFAU/html-cache-renderer/internal/sitemap"
	"github.com/JakeFAU/html-cache-renderer/internal/storage"
	"github.com/JakeFAU/html-cache-renderer/internal/worker"
)

// URLSource yields the entries of one run.
type URLSource interface {
	Load(ctx context.Context, sitemapURL string) ([]crawler.URLEntry, error)
}

type publisherCloser interface {
	crawler.Publisher
	Close() error
}

// Option overrides a service New would otherwise build from config.
type Option func(*options)

type options struct {
	browser crawler.Browser
	store   storage.Store
	source  URLSource
}

// WithBrowser injects a browser instead of launching one.
func WithBrowser(b crawler.Browser) Option {
	return func(o *options) { o.browser = b }
}

// WithStore injects a cache store instead of opening db_driver.
func WithStore(s storage.Store) Option {
	return func(o *options) { o.store = s }
}

// WithURLSource replaces the sitemap loader.
func WithURLSource(s URLSource) Option {
	return func(o *options) { o.source = s }
}

// App holds every service one render pass needs.
type App struct {
	cfg        config.Config
	logger     *zap.Logger
	store      storage.Store
	browser    crawler.Browser
	publisher  publisherCloser
	source     URLSource
	dispatcher *dispatcher.Dispatcher
	workers    int
}

// New builds the services in dependency order and fails fast on the first
// one that cannot start. Anything already started is closed before returning.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{cfg: cfg, logger: logger, store: o.store, browser: o.browser, source: o.source}
	defer func() {
		if err != nil {
			if cerr := a.Close(); cerr != nil {
				logger.Warn("cleanup after failed start", zap.Error(cerr))
			}
		}
	}()

	rules, err := classifier.Compile(cfg.PageTypes)
	if err != nil {
		return nil, err
	}
	hasher, err := hash.New(cfg.Hash.Algorithm)
	if err != nil {
		return nil, err
	}
	normalizer, err := worker.NewNormalizer(cfg.Render.StripMarkers, cfg.Render.StripPatterns)
	if err != nil {
		return nil, err
	}

	if a.store == nil {
		if a.store, err = storage.Open(ctx, cfg, logger); err != nil {
			return nil, err
		}
	}

	if a.publisher, err = newPublisher(ctx, cfg.Notify, logger); err != nil {
		return nil, err
	}

	if a.browser == nil {
		if a.browser, err = newBrowser(ctx, cfg, logger); err != nil {
			return nil, err
		}
	}

	clock := system.New()
	if a.source == nil {
		a.source = sitemap.New(sitemap.Config{
			UserAgent: cfg.Sitemap.UserAgent,
			Timeout:   time.Duration(cfg.Sitemap.TimeoutSeconds) * time.Second,
		}, clock, logger)
	}

	a.workers = 1
	if cfg.Render.Multithread {
		a.workers = pool.EffectiveWorkers(cfg.Render.MaxThreads, runtime.NumCPU())
	}

	wcfg := worker.Config{
		Timeout:         cfg.Timeout(),
		PrerenderParam:  cfg.Render.PrerenderParam,
		NoIndexMarker:   cfg.Render.NoIndexMarker,
		OpenedPredicate: cfg.Render.OpenedPredicate,
		LoadedPredicate: cfg.Render.LoadedPredicate,
		StatePredicate:  cfg.Render.StatePredicate,
		ScreenshotDir:   cfg.Render.ScreenshotDir,
		VerifyContent:   cfg.Render.VerifyContent,
		Normalizer:      normalizer,
	}
	var pub crawler.Publisher
	if a.publisher != nil {
		pub = a.publisher
		wcfg.Topic = cfg.Notify.Topic
		if wcfg.Topic == "" {
			wcfg.Topic = "renders"
		}
	}
	limiter := ratelimit.New(ratelimit.Config{QPS: cfg.Render.HostQPS, Burst: cfg.Render.HostBurst})
	renderer := worker.New(a.store, hasher, clock, limiter, pub, wcfg, logger)

	a.dispatcher = dispatcher.New(renderer, a.browser, classifier.New(rules), uuid.New(), dispatcher.Config{
		Parallel:   cfg.Render.Multithread,
		Grouped:    cfg.Render.GroupURLs,
		MaxWorkers: a.workers,
	}, logger)

	logger.Info("services initialized",
		zap.String("db_driver", cfg.DBDriver),
		zap.String("browser", cfg.Browser.Driver),
		zap.Bool("multithread", cfg.Render.Multithread),
		zap.Bool("group_urls", cfg.Render.GroupURLs),
		zap.Int("workers", a.workers),
	)
	return a, nil
}

// Workers reports the effective concurrency.
func (a *App) Workers() int {
	return a.workers
}

// Run loads the URL list and renders it once. The metrics exporter, when
// enabled, serves for the duration of the run.
func (a *App) Run(ctx context.Context) (dispatcher.Result, error) {
	if a.cfg.Metrics.Enabled {
		metricsCtx, stop := context.WithCancel(ctx)
		done := make(chan struct{})
		go func() {
			defer close(done)
			if err := metrics.Serve(metricsCtx, a.cfg.Metrics.Addr, a.logger); err != nil {
				a.logger.Error("metrics server failed", zap.Error(err))
			}
		}()
		defer func() {
			stop()
			<-done
		}()
	}

	sitemapURL := a.cfg.SitemapURL()
	start := time.Now()
	entries, err := a.source.Load(ctx, sitemapURL)
	if err != nil {
		return dispatcher.Result{}, fmt.Errorf("load sitemap: %w", err)
	}
	a.logger.Info("sitemap loaded",
		zap.String("url", sitemapURL),
		zap.Int("urls", len(entries)),
		zap.Duration("elapsed", time.Since(start)),
	)

	res, err := a.dispatcher.Run(ctx, entries)
	if err != nil {
		return res, fmt.Errorf("render run: %w", err)
	}
	return res, nil
}

// Close releases the browser, publisher and store in reverse start order.
func (a *App) Close() error {
	var errs []error
	if a.browser != nil {
		if err := a.browser.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close browser: %w", err))
		}
	}
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close publisher: %w", err))
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
	}
	return errors.Join(errs...)
}

func newBrowser(ctx context.Context, cfg config.Config, logger *zap.Logger) (crawler.Browser, error) {
	bc := cfg.Browser
	switch bc.Driver {
	case "rod":
		b, err := rodbrowser.New(ctx, rodbrowser.Config{
			ExecPath:      bc.ExecPath,
			Revision:      bc.Revision,
			Headless:      bc.Headless,
			NoSandbox:     bc.NoSandbox,
			UserAgent:     bc.UserAgent,
			ActionTimeout: cfg.Timeout(),
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("start rod browser: %w", err)
		}
		return b, nil
	case "", "chromedp":
		execPath := bc.ExecPath
		if execPath == "" && bc.Revision > 0 {
			// chromedp has no downloader; reuse rod's to honor browser.revision.
			var err error
			execPath, err = rodbrowser.ResolveBin(ctx, rodbrowser.Config{Revision: bc.Revision})
			if err != nil {
				return nil, err
			}
		}
		b, err := chromedpbrowser.New(ctx, chromedpbrowser.Config{
			ExecPath:      execPath,
			Headless:      bc.Headless,
			NoSandbox:     bc.NoSandbox,
			UserAgent:     bc.UserAgent,
			ActionTimeout: cfg.Timeout(),
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("start chromedp browser: %w", err)
		}
		return b, nil
	default:
		return nil, fmt.Errorf("unknown browser driver %q", bc.Driver)
	}
}

func newPublisher(ctx context.Context, cfg config.NotifyConfig, logger *zap.Logger) (publisherCloser, error) {
	switch cfg.Provider {
	case "", "none":
		return nil, nil
	case "memory":
		return memorypublisher.New(logger), nil
	case "pubsub":
		p, err := pubsubpublisher.New(ctx, cfg.ProjectID)
		if err != nil {
			return nil, err
		}
		logger.Info("publishing cache updates", zap.String("topic", cfg.Topic))
		return p, nil
	default:
		return nil, fmt.Errorf("unknown notify provider %q", cfg.Provider)
	}
}
