// Package worker renders a single URL through a leased browser session and
// reconciles the result with the cache store.
package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/html-cache-renderer/internal/crawler"
	"github.com/JakeFAU/html-cache-renderer/internal/metrics"
	"github.com/JakeFAU/html-cache-renderer/internal/staleness"
)

var (
	// ErrPageNotFound marks a navigation answered with 404.
	ErrPageNotFound = errors.New("page not found")
	// ErrNotAcknowledged marks a save the backend did not acknowledge.
	ErrNotAcknowledged = errors.New("cache write not acknowledged")
	// ErrDiagnosticsUnavailable marks a failed URL whose screenshot could not
	// be captured.
	ErrDiagnosticsUnavailable = errors.New("failure diagnostics unavailable")
)

const defaultTimeout = 60 * time.Second

// Limiter throttles navigations.
type Limiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Config controls Worker behavior.
type Config struct {
	Timeout         time.Duration
	PrerenderParam  string
	NoIndexMarker   string
	OpenedPredicate string
	LoadedPredicate string
	StatePredicate  string
	ScreenshotDir   string
	// VerifyContent disables the source timestamp shortcut.
	VerifyContent bool
	// Topic receives update notifications when a publisher is set.
	Topic      string
	Normalizer *Normalizer
}

// Worker drives one URL at a time through navigation, readiness waits,
// extraction and the staleness decision.
type Worker struct {
	store     crawler.CacheStore
	hasher    crawler.Hasher
	clock     crawler.Clock
	limiter   Limiter
	publisher crawler.Publisher
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Worker. limiter and publisher may be nil.
func New(
	store crawler.CacheStore,
	hasher crawler.Hasher,
	clock crawler.Clock,
	limiter Limiter,
	publisher crawler.Publisher,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.ScreenshotDir == "" {
		cfg.ScreenshotDir = "pages"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		store:     store,
		hasher:    hasher,
		clock:     clock,
		limiter:   limiter,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger.Named("worker"),
	}
}

// Render processes entry on session. Failures are reported through the
// returned Outcome and never abort the caller.
func (w *Worker) Render(ctx context.Context, entry crawler.URLEntry, label string, session crawler.Session) crawler.Outcome {
	start := time.Now()
	log := w.logger.With(zap.String("url", entry.URI), zap.String("page_type", label))

	outcome := w.render(ctx, entry, label, session, log)
	outcome.Elapsed = time.Since(start)
	metrics.ObserveRender(label, string(outcome.Reason), outcome.Elapsed)

	if outcome.Err != nil {
		log.Error("render failed", zap.Duration("elapsed", outcome.Elapsed), zap.Error(outcome.Err))
	} else {
		log.Info("render finished",
			zap.String("outcome", string(outcome.Reason)),
			zap.Bool("skipped", outcome.Skipped),
			zap.Duration("elapsed", outcome.Elapsed),
		)
	}
	return outcome
}

func (w *Worker) render(
	ctx context.Context,
	entry crawler.URLEntry,
	label string,
	session crawler.Session,
	log *zap.Logger,
) crawler.Outcome {
	urlHash, err := w.hasher.Hash([]byte(entry.URI))
	if err != nil {
		return failed(fmt.Errorf("hash url: %w", err))
	}
	log = log.With(zap.String("url_hash", urlHash))

	existing, err := w.store.FindByHash(ctx, urlHash)
	metrics.ObserveStoreOperation("find", err)
	if err != nil {
		return failed(fmt.Errorf("find cache record: %w", err))
	}
	log.Debug("cache lookup", zap.Bool("cached", existing != nil))

	if !w.cfg.VerifyContent {
		if d := staleness.CheckSource(existing, entry); d.Skip() {
			log.Debug("source unchanged", zap.Time("last_modified", entry.LastModified))
			return skipped(crawler.ReasonSourceUnchanged)
		}
	}

	outcome, err := w.renderAndStore(ctx, entry, label, urlHash, existing, session, log)
	if err == nil {
		return outcome
	}
	if ctx.Err() != nil {
		return crawler.Outcome{Reason: crawler.ReasonCanceled, Err: err}
	}
	return failed(w.captureDiagnostics(ctx, session, label, urlHash, err, log))
}

func (w *Worker) renderAndStore(
	ctx context.Context,
	entry crawler.URLEntry,
	label, urlHash string,
	existing *crawler.CacheRecord,
	session crawler.Session,
	log *zap.Logger,
) (crawler.Outcome, error) {
	target := PrerenderURL(entry.URI, w.cfg.PrerenderParam)
	if w.limiter != nil {
		if err := w.limiter.Wait(ctx, target); err != nil {
			return crawler.Outcome{}, err
		}
	}

	log.Debug("navigate", zap.String("target", target))
	status, err := session.Navigate(ctx, target, w.cfg.Timeout)
	if err != nil {
		return crawler.Outcome{}, fmt.Errorf("navigate: %w", err)
	}
	if status == http.StatusNotFound {
		return crawler.Outcome{}, ErrPageNotFound
	}

	raw, err := session.Content(ctx)
	if err != nil {
		return crawler.Outcome{}, fmt.Errorf("read content: %w", err)
	}
	if w.cfg.NoIndexMarker != "" && strings.Contains(raw, w.cfg.NoIndexMarker) {
		log.Info("noindex page skipped")
		return skipped(crawler.ReasonNoIndex), nil
	}

	args := []any{label}
	if w.cfg.OpenedPredicate != "" {
		if err := session.WaitForCondition(ctx, w.cfg.OpenedPredicate, args, w.cfg.Timeout); err != nil {
			return crawler.Outcome{}, fmt.Errorf("wait opened: %w", err)
		}
	}
	if w.cfg.LoadedPredicate != "" {
		if err := session.WaitForCondition(ctx, w.cfg.LoadedPredicate, args, w.cfg.Timeout); err != nil {
			return crawler.Outcome{}, fmt.Errorf("wait loaded: %w", err)
		}
	}

	html, err := session.Content(ctx)
	if err != nil {
		return crawler.Outcome{}, fmt.Errorf("read content: %w", err)
	}
	content := []byte(w.cfg.Normalizer.Normalize(html))
	contentHash, err := w.hasher.Hash(content)
	if err != nil {
		return crawler.Outcome{}, fmt.Errorf("hash content: %w", err)
	}

	if d := staleness.CheckContent(existing, contentHash); d.Skip() {
		log.Debug("content unchanged", zap.String("content_hash", contentHash))
		return skipped(crawler.ReasonContentUnchanged), nil
	}

	record := staleness.Merge(existing, entry, urlHash, content, contentHash, w.clock.Now())
	ok, err := w.store.Save(ctx, record)
	if err == nil && !ok {
		err = ErrNotAcknowledged
	}
	metrics.ObserveStoreOperation("save", err)
	if err != nil {
		return crawler.Outcome{}, fmt.Errorf("save cache record: %w", err)
	}

	reason := crawler.ReasonUpdated
	if existing == nil {
		reason = crawler.ReasonCreated
	}
	log.Debug("cache record saved", zap.String("content_hash", contentHash), zap.Int("bytes", len(content)))
	w.notify(ctx, record, reason, log)
	return crawler.Outcome{Reason: reason}, nil
}

func (w *Worker) notify(ctx context.Context, record crawler.CacheRecord, reason crawler.Reason, log *zap.Logger) {
	if w.cfg.Topic == "" || w.publisher == nil {
		return
	}
	payload := map[string]any{
		"url":          record.URL,
		"url_hash":     record.URLHash,
		"content_hash": record.ContentHash,
		"rendered_at":  record.RenderedAt.Format(time.RFC3339),
		"outcome":      string(reason),
	}
	if _, err := w.publisher.Publish(ctx, w.cfg.Topic, payload); err != nil {
		log.Warn("publish cache update failed", zap.Error(err))
	}
}

// captureDiagnostics logs the page state and writes a screenshot. The returned
// error wraps cause, joined with ErrDiagnosticsUnavailable when the screenshot
// fails.
func (w *Worker) captureDiagnostics(
	ctx context.Context,
	session crawler.Session,
	label, urlHash string,
	cause error,
	log *zap.Logger,
) error {
	diagCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.cfg.Timeout)
	defer cancel()

	if w.cfg.StatePredicate != "" {
		state, err := session.Evaluate(diagCtx, w.cfg.StatePredicate, []any{label})
		if err != nil {
			log.Warn("read page state failed", zap.Error(err))
		} else {
			log.Error("page state on failure", zap.ByteString("state", state))
		}
	}

	path := filepath.Join(w.cfg.ScreenshotDir, "fail-"+urlHash+".png")
	shotErr := os.MkdirAll(w.cfg.ScreenshotDir, 0o755)
	if shotErr == nil {
		shotErr = session.Screenshot(diagCtx, path)
	}
	if shotErr != nil {
		metrics.ObserveDiagnosticsFailure()
		return errors.Join(cause, fmt.Errorf("%w: %w", ErrDiagnosticsUnavailable, shotErr))
	}
	log.Info("failure screenshot saved", zap.String("path", path))
	return cause
}

func failed(err error) crawler.Outcome {
	return crawler.Outcome{Reason: crawler.ReasonFailed, Err: err}
}

func skipped(reason crawler.Reason) crawler.Outcome {
	return crawler.Outcome{Skipped: true, Reason: reason}
}
