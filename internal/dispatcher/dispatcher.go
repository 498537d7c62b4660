// Package dispatcher schedules URL renders across leased browser sessions and
// aggregates run counters.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/html-cache-renderer/internal/classifier"
	"github.com/JakeFAU/html-cache-renderer/internal/crawler"
	"github.com/JakeFAU/html-cache-renderer/internal/metrics"
	"github.com/JakeFAU/html-cache-renderer/internal/pool"
	"github.com/JakeFAU/html-cache-renderer/internal/worker"
)

// Renderer renders one URL on a leased session.
type Renderer interface {
	Render(ctx context.Context, entry crawler.URLEntry, label string, session crawler.Session) crawler.Outcome
}

// Config selects the scheduling mode.
type Config struct {
	// Parallel fans URLs out across MaxWorkers concurrent renders; otherwise
	// one session processes URLs in order.
	Parallel bool
	// Grouped partitions URLs by page type and runs groups one after another.
	Grouped bool
	// MaxWorkers is the effective concurrency, see pool.EffectiveWorkers.
	MaxWorkers int
}

// Result summarizes a run.
type Result struct {
	crawler.RunCounters
	RunID               string
	Elapsed             time.Duration
	Reasons             map[crawler.Reason]int
	DiagnosticsFailures int
}

// Dispatcher runs the pipeline over a URL list.
type Dispatcher struct {
	renderer   Renderer
	browser    crawler.Browser
	classifier *classifier.Classifier
	ids        crawler.IDGenerator
	cfg        Config
	logger     *zap.Logger
}

// New creates a Dispatcher. ids may be nil.
func New(
	renderer Renderer,
	browser crawler.Browser,
	cls *classifier.Classifier,
	ids crawler.IDGenerator,
	cfg Config,
	logger *zap.Logger,
) *Dispatcher {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 1
	}
	if cls == nil {
		cls = classifier.New(nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		renderer:   renderer,
		browser:    browser,
		classifier: cls,
		ids:        ids,
		cfg:        cfg,
		logger:     logger.Named("dispatcher"),
	}
}

type task struct {
	entry crawler.URLEntry
	label string
}

// Run renders every entry and returns the aggregate counters. The error is
// reserved for failures that prevent the run from starting; per-URL failures
// only show up in the counters.
func (d *Dispatcher) Run(ctx context.Context, entries []crawler.URLEntry) (Result, error) {
	runID := d.newRunID()
	log := d.logger.With(zap.String("run_id", runID))

	poolCfg := pool.Config{Size: 1, MaxLeases: 1}
	if d.cfg.Parallel {
		poolCfg = pool.Config{Size: 2 * d.cfg.MaxWorkers, MaxLeases: d.cfg.MaxWorkers}
	}
	sessions, err := pool.New(ctx, d.browser, poolCfg, log)
	if err != nil {
		return Result{RunID: runID}, fmt.Errorf("warm session pool: %w", err)
	}
	defer func() {
		if err := sessions.Drain(context.WithoutCancel(ctx)); err != nil {
			log.Warn("drain session pool", zap.Error(err))
		}
	}()

	log.Info("run started",
		zap.Int("urls", len(entries)),
		zap.Bool("parallel", d.cfg.Parallel),
		zap.Bool("grouped", d.cfg.Grouped),
		zap.Int("max_workers", d.cfg.MaxWorkers),
	)
	t := newTally(len(entries), log)

	if d.cfg.Grouped {
		groups := d.classifier.Group(entries)
		for _, g := range groups {
			log.Info("page type group", zap.String("page_type", g.Label), zap.Int("urls", len(g.Entries)))
		}
		for _, g := range groups {
			if len(g.Entries) == 0 {
				continue
			}
			tasks := make([]task, len(g.Entries))
			for i, e := range g.Entries {
				tasks[i] = task{entry: e, label: g.Label}
			}
			log.Info("processing page type", zap.String("page_type", g.Label))
			d.runBatch(ctx, sessions, tasks, t)
		}
	} else {
		tasks := make([]task, len(entries))
		for i, e := range entries {
			tasks[i] = task{entry: e, label: d.classifier.Classify(e.URI)}
		}
		d.runBatch(ctx, sessions, tasks, t)
	}

	res := t.result(runID)
	metrics.ObserveRun(res.Passed, res.Total)
	log.Info("run finished",
		zap.Int("passed", res.Passed),
		zap.Int("total", res.Total),
		zap.Duration("elapsed", res.Elapsed),
	)
	return res, nil
}

func (d *Dispatcher) runBatch(ctx context.Context, sessions *pool.Pool, tasks []task, t *tally) {
	if d.cfg.Parallel {
		d.runParallel(ctx, sessions, tasks, t)
		return
	}
	d.runSequential(ctx, sessions, tasks, t)
}

func (d *Dispatcher) runSequential(ctx context.Context, sessions *pool.Pool, tasks []task, t *tally) {
	session, err := sessions.Acquire(ctx)
	if err != nil {
		for _, tk := range tasks {
			t.record(tk, abandoned(ctx, err))
		}
		return
	}
	defer sessions.Release(ctx, session)

	for _, tk := range tasks {
		if ctx.Err() != nil {
			t.record(tk, abandoned(ctx, ctx.Err()))
			continue
		}
		t.record(tk, d.renderer.Render(ctx, tk.entry, tk.label, session))
	}
}

func (d *Dispatcher) runParallel(ctx context.Context, sessions *pool.Pool, tasks []task, t *tally) {
	var g errgroup.Group
	g.SetLimit(d.cfg.MaxWorkers)
	for _, tk := range tasks {
		g.Go(func() error {
			if ctx.Err() != nil {
				t.record(tk, abandoned(ctx, ctx.Err()))
				return nil
			}
			session, err := sessions.Acquire(ctx)
			if err != nil {
				t.record(tk, abandoned(ctx, err))
				return nil
			}
			defer sessions.Release(ctx, session)
			t.record(tk, d.renderer.Render(ctx, tk.entry, tk.label, session))
			return nil
		})
	}
	_ = g.Wait()
}

func (d *Dispatcher) newRunID() string {
	if d.ids == nil {
		return ""
	}
	id, err := d.ids.NewID()
	if err != nil {
		d.logger.Warn("generate run id", zap.Error(err))
		return ""
	}
	return id
}

func abandoned(ctx context.Context, err error) crawler.Outcome {
	if ctx.Err() != nil {
		return crawler.Outcome{Reason: crawler.ReasonCanceled, Err: err}
	}
	return crawler.Outcome{Reason: crawler.ReasonFailed, Err: err}
}

// tally aggregates outcomes reported by concurrent renders.
type tally struct {
	total  int
	start  time.Time
	logger *zap.Logger

	passed atomic.Int64
	done   atomic.Int64
	diag   atomic.Int64

	mu      sync.Mutex
	reasons map[crawler.Reason]int
}

func newTally(total int, logger *zap.Logger) *tally {
	return &tally{
		total:   total,
		start:   time.Now(),
		logger:  logger,
		reasons: make(map[crawler.Reason]int),
	}
}

func (t *tally) record(tk task, out crawler.Outcome) {
	cursor := t.done.Add(1)
	if out.Passed() {
		t.passed.Add(1)
	}
	t.mu.Lock()
	t.reasons[out.Reason]++
	t.mu.Unlock()

	fields := []zap.Field{
		zap.Int64("cursor", cursor),
		zap.Int("total", t.total),
		zap.String("page_type", tk.label),
		zap.String("url", tk.entry.URI),
		zap.String("outcome", string(out.Reason)),
		zap.Duration("elapsed", out.Elapsed),
		zap.Duration("total_elapsed", time.Since(t.start)),
	}
	switch {
	case errors.Is(out.Err, worker.ErrDiagnosticsUnavailable):
		t.diag.Add(1)
		t.logger.Error("url failed without diagnostics", append(fields, zap.Error(out.Err))...)
	case out.Err != nil && out.Reason != crawler.ReasonCanceled:
		t.logger.Warn("url failed", append(fields, zap.Error(out.Err))...)
	default:
		t.logger.Info("url processed", fields...)
	}
}

func (t *tally) result(runID string) Result {
	t.mu.Lock()
	reasons := make(map[crawler.Reason]int, len(t.reasons))
	for k, v := range t.reasons {
		reasons[k] = v
	}
	t.mu.Unlock()
	return Result{
		RunCounters: crawler.RunCounters{
			Passed: int(t.passed.Load()),
			Total:  t.total,
		},
		RunID:               runID,
		Elapsed:             time.Since(t.start),
		Reasons:             reasons,
		DiagnosticsFailures: int(t.diag.Load()),
	}
}
