// Package browsertest provides an in-memory crawler.Browser for tests.
package browsertest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/JakeFAU/html-cache-renderer/internal/crawler"
)

// Page describes how the fake browser answers a navigation.
type Page struct {
	Status int
	HTML   string
	// NavErr fails the navigation itself.
	NavErr error
	// WaitErr fails every readiness wait on the page.
	WaitErr error
	// State is returned by Evaluate.
	State string
	// Delay holds the navigation for the given duration.
	Delay time.Duration
}

// Browser serves Pages keyed by URL with the query string stripped.
type Browser struct {
	mu    sync.Mutex
	pages map[string]Page
	nav   []string

	// OpenErr fails OpenSession when set.
	OpenErr error
	// ResetErr fails Session.Reset when set.
	ResetErr error
	// ScreenshotErr fails Session.Screenshot when set.
	ScreenshotErr error

	opened atomic.Int64
	closed atomic.Int64
	resets atomic.Int64
	active atomic.Int64
	peak   atomic.Int64
	shut   atomic.Bool
}

// New returns an empty fake browser. Unknown URLs answer 200 with a minimal
// document.
func New() *Browser {
	return &Browser{pages: make(map[string]Page)}
}

// Set registers the response for url.
func (b *Browser) Set(url string, page Page) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pages[url] = page
}

// Navigations returns the URLs navigated to, in order.
func (b *Browser) Navigations() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.nav...)
}

// Opened returns the number of sessions opened.
func (b *Browser) Opened() int { return int(b.opened.Load()) }

// Closed returns the number of sessions closed.
func (b *Browser) Closed() int { return int(b.closed.Load()) }

// Resets returns the number of blank-page resets.
func (b *Browser) Resets() int { return int(b.resets.Load()) }

// PeakNavigations returns the highest number of concurrent navigations.
func (b *Browser) PeakNavigations() int { return int(b.peak.Load()) }

// IsClosed reports whether Close was called.
func (b *Browser) IsClosed() bool { return b.shut.Load() }

// OpenSession implements crawler.Browser.
func (b *Browser) OpenSession(ctx context.Context) (crawler.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if b.OpenErr != nil {
		return nil, b.OpenErr
	}
	b.opened.Add(1)
	return &Session{browser: b}, nil
}

// Close implements crawler.Browser.
func (b *Browser) Close() error {
	b.shut.Store(true)
	return nil
}

func (b *Browser) lookup(url string) Page {
	key := url
	if i := strings.IndexByte(key, '?'); i >= 0 {
		key = key[:i]
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nav = append(b.nav, url)
	page, ok := b.pages[key]
	if !ok {
		return Page{Status: 200, HTML: "<html><head></head><body>" + key + "</body></html>"}
	}
	return page
}

// Session is a fake page.
type Session struct {
	browser *Browser
	mu      sync.Mutex
	current *Page
	closed  bool
}

// Navigate implements crawler.Session.
func (s *Session) Navigate(ctx context.Context, url string, timeout time.Duration) (int, error) {
	b := s.browser
	n := b.active.Add(1)
	defer b.active.Add(-1)
	for {
		peak := b.peak.Load()
		if n <= peak || b.peak.CompareAndSwap(peak, n) {
			break
		}
	}

	page := b.lookup(url)
	if page.Delay > 0 {
		select {
		case <-time.After(page.Delay):
		case <-time.After(timeout):
			return 0, fmt.Errorf("navigate %s: %w", url, context.DeadlineExceeded)
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	s.mu.Lock()
	s.current = &page
	s.mu.Unlock()
	if page.NavErr != nil {
		return 0, page.NavErr
	}
	return page.Status, nil
}

// Content implements crawler.Session.
func (s *Session) Content(_ context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return "", errors.New("no document loaded")
	}
	return s.current.HTML, nil
}

// WaitForCondition implements crawler.Session.
func (s *Session) WaitForCondition(_ context.Context, _ string, _ []any, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil && s.current.WaitErr != nil {
		return s.current.WaitErr
	}
	return nil
}

// Evaluate implements crawler.Session.
func (s *Session) Evaluate(_ context.Context, _ string, _ []any) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil || s.current.State == "" {
		return []byte("null"), nil
	}
	return []byte(s.current.State), nil
}

// Screenshot implements crawler.Session by writing a placeholder file.
func (s *Session) Screenshot(_ context.Context, path string) error {
	if s.browser.ScreenshotErr != nil {
		return s.browser.ScreenshotErr
	}
	if err := os.WriteFile(path, []byte("\x89PNG"), 0o600); err != nil {
		return fmt.Errorf("write screenshot: %w", err)
	}
	return nil
}

// Reset implements crawler.Session.
func (s *Session) Reset(_ context.Context) error {
	if s.browser.ResetErr != nil {
		return s.browser.ResetErr
	}
	s.browser.resets.Add(1)
	s.mu.Lock()
	s.current = nil
	s.mu.Unlock()
	return nil
}

// Close implements crawler.Session.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.browser.closed.Add(1)
	return nil
}
