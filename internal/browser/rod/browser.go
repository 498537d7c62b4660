// Package rodbrowser drives Chromium through go-rod. It can fetch a pinned
// Chromium revision when no executable is configured.
package rodbrowser

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"

	"github.com/JakeFAU/html-cache-renderer/internal/crawler"
)

const defaultActionTimeout = 30 * time.Second

// Config controls the Chromium process and tab defaults.
type Config struct {
	ExecPath string
	// Revision downloads that Chromium build when ExecPath is empty.
	Revision  int
	Headless  bool
	NoSandbox bool
	UserAgent string
	// ActionTimeout bounds DOM reads, evaluation and screenshots.
	ActionTimeout time.Duration
}

// Browser implements crawler.Browser over one Chromium process.
type Browser struct {
	cfg       Config
	logger    *zap.Logger
	launcher  *launcher.Launcher
	browser   *rod.Browser
	closeOnce sync.Once
	closeErr  error
}

// ResolveBin returns the executable to launch, downloading cfg.Revision when
// requested.
func ResolveBin(ctx context.Context, cfg Config) (string, error) {
	if cfg.ExecPath != "" || cfg.Revision <= 0 {
		return cfg.ExecPath, nil
	}
	dl := launcher.NewBrowser()
	dl.Context = ctx
	dl.Revision = cfg.Revision
	bin, err := dl.Get()
	if err != nil {
		return "", fmt.Errorf("fetch chromium revision %d: %w", cfg.Revision, err)
	}
	return bin, nil
}

// New launches Chromium and connects to it.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Browser, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ActionTimeout <= 0 {
		cfg.ActionTimeout = defaultActionTimeout
	}
	logger = logger.Named("rod")

	bin, err := ResolveBin(ctx, cfg)
	if err != nil {
		return nil, err
	}
	l := launcher.New().Headless(cfg.Headless).NoSandbox(cfg.NoSandbox)
	if bin != "" {
		l = l.Bin(bin)
	}
	if cfg.UserAgent != "" {
		l = l.Set("user-agent", cfg.UserAgent)
	}
	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch chromium: %w", err)
	}

	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("connect chromium: %w", err)
	}
	logger.Debug("chromium started", zap.String("control_url", controlURL), zap.String("bin", bin))
	return &Browser{cfg: cfg, logger: logger, launcher: l, browser: b}, nil
}

// OpenSession opens a blank tab with the network domain enabled.
func (b *Browser) OpenSession(ctx context.Context) (crawler.Session, error) {
	page, err := b.browser.Context(ctx).Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return nil, fmt.Errorf("open tab: %w", err)
	}
	page = page.Context(context.Background())
	if err := (proto.NetworkEnable{}).Call(page); err != nil {
		_ = page.Close()
		return nil, fmt.Errorf("enable network domain: %w", err)
	}
	return &Session{page: page, timeout: b.cfg.ActionTimeout}, nil
}

// Close shuts down Chromium and removes its profile directory.
func (b *Browser) Close() error {
	b.closeOnce.Do(func() {
		if err := b.browser.Close(); err != nil {
			b.closeErr = fmt.Errorf("close chromium: %w", err)
		}
		b.launcher.Cleanup()
		b.logger.Debug("chromium closed")
	})
	return b.closeErr
}

// Session is one Chromium tab.
type Session struct {
	page      *rod.Page
	timeout   time.Duration
	closeOnce sync.Once
}

// bound returns a page view bound to ctx and timeout. Call CancelTimeout on
// it when done.
func (s *Session) bound(ctx context.Context, timeout time.Duration) *rod.Page {
	return s.page.Context(ctx).Timeout(timeout)
}

// Navigate loads url, waits for the load event and reports the main document
// status.
func (s *Session) Navigate(ctx context.Context, url string, timeout time.Duration) (int, error) {
	p := s.bound(ctx, timeout)
	defer p.CancelTimeout()

	status := 0
	wait := p.EachEvent(func(e *proto.NetworkResponseReceived) bool {
		if e.Type != proto.NetworkResourceTypeDocument || e.Response == nil {
			return false
		}
		status = e.Response.Status
		return true
	})
	if err := p.Navigate(url); err != nil {
		return 0, fmt.Errorf("navigate %s: %w", url, err)
	}
	wait()
	if err := p.WaitLoad(); err != nil {
		return 0, fmt.Errorf("wait load %s: %w", url, err)
	}
	if status == 0 {
		status = http.StatusOK
	}
	return status, nil
}

// Content returns the document's outer HTML.
func (s *Session) Content(ctx context.Context) (string, error) {
	p := s.bound(ctx, s.timeout)
	defer p.CancelTimeout()
	html, err := p.HTML()
	if err != nil {
		return "", fmt.Errorf("read outer html: %w", err)
	}
	return html, nil
}

// WaitForCondition polls predicate with args until it returns true.
func (s *Session) WaitForCondition(ctx context.Context, predicate string, args []any, timeout time.Duration) error {
	p := s.bound(ctx, timeout)
	defer p.CancelTimeout()
	if err := p.Wait(rod.Eval(predicate, args...)); err != nil {
		return fmt.Errorf("poll %q: %w", predicate, err)
	}
	return nil
}

// Evaluate calls fn with args and returns the JSON result.
func (s *Session) Evaluate(ctx context.Context, fn string, args []any) ([]byte, error) {
	p := s.bound(ctx, s.timeout)
	defer p.CancelTimeout()
	res, err := p.Eval(fn, args...)
	if err != nil {
		return nil, fmt.Errorf("evaluate: %w", err)
	}
	raw, err := json.Marshal(res.Value)
	if err != nil {
		return nil, fmt.Errorf("encode evaluation result: %w", err)
	}
	return raw, nil
}

// Screenshot writes a full page PNG to path.
func (s *Session) Screenshot(ctx context.Context, path string) error {
	p := s.bound(ctx, s.timeout)
	defer p.CancelTimeout()
	buf, err := p.Screenshot(true, &proto.PageCaptureScreenshot{Format: proto.PageCaptureScreenshotFormatPng})
	if err != nil {
		return fmt.Errorf("capture screenshot: %w", err)
	}
	if err := os.WriteFile(path, buf, 0o644); err != nil { //nolint:gosec // diagnostics are meant to be shared
		return fmt.Errorf("write screenshot: %w", err)
	}
	return nil
}

// Reset navigates the tab to about:blank.
func (s *Session) Reset(ctx context.Context) error {
	p := s.bound(ctx, s.timeout)
	defer p.CancelTimeout()
	if err := p.Navigate("about:blank"); err != nil {
		return fmt.Errorf("reset tab: %w", err)
	}
	return nil
}

// Close closes the tab.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if cerr := s.page.Close(); cerr != nil {
			err = fmt.Errorf("close tab: %w", cerr)
		}
	})
	return err
}
