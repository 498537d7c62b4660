package sitemap

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

var now = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

const urlset = `<?xml version="1.0" encoding="UTF-8"?>
<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <url><loc>https://example.com/</loc><lastmod>2024-05-01T10:00:00+00:00</lastmod></url>
  <url><loc>https://example.com/blog/a</loc><lastmod>2024-04-30</lastmod></url>
  <url><loc></loc><lastmod>2024-04-30</lastmod></url>
  <url><loc>https://example.com/blog/b</loc><lastmod>not a date</lastmod></url>
  <url><loc>https://example.com/</loc><lastmod>2020-01-01</lastmod></url>
  <url><loc> https://example.com/news </loc></url>
</urlset>`

func serveXML(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		_, _ = w.Write([]byte(body))
	}
}

func newLoader() *Loader {
	return New(Config{UserAgent: "test-agent", Timeout: 5 * time.Second}, fixedClock{now}, zap.NewNop())
}

func TestLoadURLSet(t *testing.T) {
	t.Parallel()

	var gotUA string
	mux := http.NewServeMux()
	mux.HandleFunc("/sitemap.xml", func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.UserAgent()
		serveXML(urlset)(w, r)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	entries, err := newLoader().Load(context.Background(), srv.URL+"/sitemap.xml")
	require.NoError(t, err)
	assert.Equal(t, "test-agent", gotUA)

	uris := make([]string, 0, len(entries))
	for _, e := range entries {
		uris = append(uris, e.URI)
	}
	require.Equal(t, []string{
		"https://example.com/",
		"https://example.com/blog/a",
		"https://example.com/blog/b",
		"https://example.com/news",
	}, uris)

	assert.True(t, entries[0].LastModified.Equal(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)))
	assert.True(t, entries[1].LastModified.Equal(time.Date(2024, 4, 30, 0, 0, 0, 0, time.UTC)))
	assert.True(t, entries[2].LastModified.Equal(now), "unparsable lastmod falls back to now")
	assert.True(t, entries[3].LastModified.Equal(now), "missing lastmod falls back to now")
}

func TestLoadFollowsSitemapIndex(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/sitemap.xml", serveXML(`<?xml version="1.0"?>
<sitemapindex xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <sitemap><loc>`+srv.URL+`/pages.xml</loc></sitemap>
  <sitemap><loc>`+srv.URL+`/posts.xml</loc></sitemap>
</sitemapindex>`))
	mux.HandleFunc("/pages.xml", serveXML(`<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <url><loc>https://example.com/about</loc></url>
</urlset>`))
	mux.HandleFunc("/posts.xml", serveXML(`<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <url><loc>https://example.com/blog/x</loc></url>
  <url><loc>https://example.com/about</loc></url>
</urlset>`))

	entries, err := newLoader().Load(context.Background(), srv.URL+"/sitemap.xml")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "https://example.com/about", entries[0].URI)
	assert.Equal(t, "https://example.com/blog/x", entries[1].URI)
}

func TestLoadEmptySitemap(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(serveXML(`<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9"></urlset>`))
	defer srv.Close()

	_, err := newLoader().Load(context.Background(), srv.URL+"/sitemap.xml")
	require.ErrorIs(t, err, ErrEmptySitemap)
}

func TestLoadHTTPError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := newLoader().Load(context.Background(), srv.URL+"/sitemap.xml")
	require.Error(t, err)
}

func TestLoadCanceled(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newLoader().Load(ctx, srv.URL+"/sitemap.xml")
	require.ErrorIs(t, err, context.Canceled)
}
