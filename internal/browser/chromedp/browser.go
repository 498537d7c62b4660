// Package chromedpbrowser drives headless Chrome through chromedp. Each
// session is one browser tab.
package chromedpbrowser

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/html-cache-renderer/internal/crawler"
)

const defaultActionTimeout = 30 * time.Second

// Config controls the Chrome process and tab defaults.
type Config struct {
	ExecPath  string
	Headless  bool
	NoSandbox bool
	UserAgent string
	// ActionTimeout bounds DOM reads, evaluation and screenshots.
	ActionTimeout time.Duration
}

// Browser implements crawler.Browser over one Chrome process.
type Browser struct {
	cfg           Config
	logger        *zap.Logger
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	closeOnce     sync.Once
}

// New launches Chrome. The process lives until Close, independent of ctx.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Browser, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ActionTimeout <= 0 {
		cfg.ActionTimeout = defaultActionTimeout
	}
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	if cfg.Headless {
		opts = append(opts, chromedp.Flag("headless", "new"))
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	if cfg.NoSandbox {
		opts = append(opts, chromedp.NoSandbox)
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	sugar := logger.Named("chromedp").Sugar()
	browserCtx, browserCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(sugar.Debugf),
		chromedp.WithErrorf(sugar.Warnf),
	)

	started := make(chan error, 1)
	go func() { started <- chromedp.Run(browserCtx) }()
	select {
	case err := <-started:
		if err != nil {
			browserCancel()
			allocCancel()
			return nil, fmt.Errorf("start chrome: %w", err)
		}
	case <-ctx.Done():
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("start chrome: %w", ctx.Err())
	}

	return &Browser{
		cfg:           cfg,
		logger:        logger.Named("chromedp"),
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
	}, nil
}

// OpenSession opens a new tab with the network domain enabled.
func (b *Browser) OpenSession(ctx context.Context) (crawler.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("open tab: %w", err)
	}
	tabCtx, cancel := chromedp.NewContext(b.browserCtx)
	meta := &responseMeta{}
	chromedp.ListenTarget(tabCtx, meta.captureEvent)
	if err := chromedp.Run(tabCtx, network.Enable()); err != nil {
		cancel()
		return nil, fmt.Errorf("open tab: %w", err)
	}
	return &Session{ctx: tabCtx, cancel: cancel, meta: meta, timeout: b.cfg.ActionTimeout}, nil
}

// Close shuts down Chrome and every tab still open.
func (b *Browser) Close() error {
	b.closeOnce.Do(func() {
		b.browserCancel()
		b.allocCancel()
		b.logger.Debug("chrome closed")
	})
	return nil
}

// Session is one Chrome tab.
type Session struct {
	ctx       context.Context
	cancel    context.CancelFunc
	meta      *responseMeta
	timeout   time.Duration
	closeOnce sync.Once
}

// run executes actions on the tab, bounded by timeout and canceled with ctx.
func (s *Session) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithTimeout(s.ctx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return err
	}
	return nil
}

// Navigate loads url and waits for the load event.
func (s *Session) Navigate(ctx context.Context, url string, timeout time.Duration) (int, error) {
	s.meta.reset()
	if err := s.run(ctx, timeout, chromedp.Navigate(url)); err != nil {
		return 0, fmt.Errorf("navigate %s: %w", url, err)
	}
	status := s.meta.statusCode()
	if status == 0 {
		status = http.StatusOK
	}
	return status, nil
}

// Content returns the document's outer HTML.
func (s *Session) Content(ctx context.Context) (string, error) {
	var html string
	if err := s.run(ctx, s.timeout, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("read outer html: %w", err)
	}
	return html, nil
}

// WaitForCondition polls predicate with args until it returns a truthy value.
func (s *Session) WaitForCondition(ctx context.Context, predicate string, args []any, timeout time.Duration) error {
	var ready any
	poll := chromedp.PollFunction(predicate, &ready,
		chromedp.WithPollingArgs(args...),
		chromedp.WithPollingInterval(100*time.Millisecond),
		chromedp.WithPollingTimeout(timeout),
	)
	if err := s.run(ctx, timeout+time.Second, poll); err != nil {
		return fmt.Errorf("poll %q: %w", predicate, err)
	}
	return nil
}

// Evaluate calls fn with args and returns the JSON result.
func (s *Session) Evaluate(ctx context.Context, fn string, args []any) ([]byte, error) {
	expr, err := callExpression(fn, args)
	if err != nil {
		return nil, err
	}
	var raw []byte
	if err := s.run(ctx, s.timeout, chromedp.Evaluate(expr, &raw)); err != nil {
		return nil, fmt.Errorf("evaluate: %w", err)
	}
	return raw, nil
}

// Screenshot writes a full page PNG to path.
func (s *Session) Screenshot(ctx context.Context, path string) error {
	var buf []byte
	if err := s.run(ctx, s.timeout, chromedp.FullScreenshot(&buf, 100)); err != nil {
		return fmt.Errorf("capture screenshot: %w", err)
	}
	if err := os.WriteFile(path, buf, 0o644); err != nil { //nolint:gosec // diagnostics are meant to be shared
		return fmt.Errorf("write screenshot: %w", err)
	}
	return nil
}

// Reset navigates the tab to about:blank.
func (s *Session) Reset(ctx context.Context) error {
	if err := s.run(ctx, s.timeout, chromedp.Navigate("about:blank")); err != nil {
		return fmt.Errorf("reset tab: %w", err)
	}
	return nil
}

// Close closes the tab.
func (s *Session) Close() error {
	s.closeOnce.Do(s.cancel)
	return nil
}

// callExpression renders an immediately invoked function expression.
func callExpression(fn string, args []any) (string, error) {
	encoded := make([]string, len(args))
	for i, arg := range args {
		b, err := json.Marshal(arg)
		if err != nil {
			return "", fmt.Errorf("encode argument %d: %w", i, err)
		}
		encoded[i] = string(b)
	}
	return fmt.Sprintf("(%s)(%s)", fn, strings.Join(encoded, ", ")), nil
}

// responseMeta records the status of the first document response after a
// navigation starts. Redirect hops never reach it and subframes load later.
type responseMeta struct {
	mu     sync.Mutex
	status int
}

func (m *responseMeta) reset() {
	m.mu.Lock()
	m.status = 0
	m.mu.Unlock()
}

func (m *responseMeta) statusCode() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

func (m *responseMeta) captureEvent(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status == 0 {
		m.status = int(resp.Response.Status)
	}
}
