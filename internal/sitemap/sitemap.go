// Package sitemap loads the URL list to render from an XML sitemap. Sitemap
// index files are followed.
package sitemap

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/html-cache-renderer/internal/crawler"
)

// ErrEmptySitemap is returned when a sitemap yields no usable URLs.
var ErrEmptySitemap = errors.New("sitemap has no urls")

const (
	defaultTimeout = 30 * time.Second
	// maxDepth bounds sitemap index nesting.
	maxDepth = 4
)

// lastmodLayouts are the W3C datetime profiles sitemaps use.
var lastmodLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04:05",
	"2006-01-02",
	"2006-01",
	"2006",
}

// Config controls the HTTP side of sitemap retrieval.
type Config struct {
	UserAgent string
	Timeout   time.Duration
}

// Loader fetches and parses sitemaps.
type Loader struct {
	cfg       Config
	clock     crawler.Clock
	logger    *zap.Logger
	transport http.RoundTripper
}

// New builds a Loader. Entries without a parsable lastmod are stamped with
// clock.Now().
func New(cfg Config, clock crawler.Clock, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Loader{cfg: cfg, clock: clock, logger: logger.Named("sitemap"), transport: newHTTPTransport()}
}

// Load returns the entries of the sitemap at sitemapURL in document order.
// Entries with an empty loc are dropped and repeated URIs keep their first
// occurrence.
func (l *Loader) Load(ctx context.Context, sitemapURL string) ([]crawler.URLEntry, error) {
	var (
		mu       sync.Mutex
		entries  []crawler.URLEntry
		seen     = make(map[string]struct{})
		fetchErr error
	)

	collector := colly.NewCollector(colly.Async(false), colly.MaxDepth(maxDepth))
	collector.WithTransport(l.transport)
	collector.SetRequestTimeout(l.cfg.Timeout)
	collector.IgnoreRobotsTxt = true
	if l.cfg.UserAgent != "" {
		collector.UserAgent = l.cfg.UserAgent
	}

	collector.OnXML("//urlset/url", func(e *colly.XMLElement) {
		loc := strings.TrimSpace(e.ChildText("loc"))
		if loc == "" {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if _, dup := seen[loc]; dup {
			return
		}
		seen[loc] = struct{}{}
		entries = append(entries, crawler.URLEntry{
			URI:          loc,
			LastModified: l.parseLastmod(e.ChildText("lastmod")),
		})
	})

	collector.OnXML("//sitemapindex/sitemap", func(e *colly.XMLElement) {
		loc := strings.TrimSpace(e.ChildText("loc"))
		if loc == "" {
			return
		}
		l.logger.Debug("following nested sitemap", zap.String("url", loc))
		if err := e.Request.Visit(loc); err != nil && !errors.As(err, new(*colly.AlreadyVisitedError)) {
			mu.Lock()
			fetchErr = errors.Join(fetchErr, fmt.Errorf("visit %s: %w", loc, err))
			mu.Unlock()
		}
	})

	collector.OnError(func(r *colly.Response, err error) {
		mu.Lock()
		defer mu.Unlock()
		fetchErr = errors.Join(fetchErr, fmt.Errorf("fetch %s (status %d): %w", r.Request.URL, r.StatusCode, err))
	})

	l.logger.Debug("loading sitemap", zap.String("url", sitemapURL))
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(sitemapURL)
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("sitemap load canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return nil, fmt.Errorf("visit sitemap %s: %w", sitemapURL, err)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if fetchErr != nil {
		return nil, fetchErr
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptySitemap, sitemapURL)
	}
	l.logger.Debug("sitemap loaded", zap.Int("urls", len(entries)))
	return entries, nil
}

func (l *Loader) parseLastmod(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	for _, layout := range lastmodLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t
		}
	}
	return l.clock.Now()
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
