package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const sampleYAML = `
db_driver: redis
db:
  host: cache.internal
  port: 6379
  passwd: hunter2
  db: "2"
page_types:
  - type: product
    regex: ^https://shop\.example\.com/p/
  - type: blog
    regex: /blog/.*
base_uri: https://shop.example.com
timeout: 45000
render:
  multithread: true
  max_threads: 3
  group_urls: true
browser:
  driver: rod
  revision: 1321438
logging:
  verbose: true
`

func writeConfig(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, t.TempDir(), "custom.yaml", sampleYAML)

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "redis", cfg.DBDriver)
	require.Equal(t, "cache.internal", cfg.DB.Host)
	require.Equal(t, 6379, cfg.DB.Port)
	require.Equal(t, "2", cfg.DB.DB)
	require.Len(t, cfg.PageTypes, 2)
	require.Equal(t, PageType{Type: "blog", Regex: "/blog/.*"}, cfg.PageTypes[1])
	require.Equal(t, 45*time.Second, cfg.Timeout())
	require.True(t, cfg.Render.Multithread)
	require.True(t, cfg.Render.GroupURLs)
	require.Equal(t, 3, cfg.Render.MaxThreads)
	require.Equal(t, "rod", cfg.Browser.Driver)
	require.Equal(t, 1321438, cfg.Browser.Revision)
	require.True(t, cfg.Logging.Verbose)
	require.Equal(t, "https://shop.example.com/sitemap.xml", cfg.SitemapURL())
}

func TestLoadAppliesDefaults(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, t.TempDir(), "c.yaml", "db_driver: memory\nbase_uri: https://example.com/\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 60*time.Second, cfg.Timeout())
	require.Equal(t, "renders", cfg.DB.Collection)
	require.Equal(t, "renders", cfg.DB.Table)
	require.Equal(t, "is_prerender=1", cfg.Render.PrerenderParam)
	require.Equal(t, "pages", cfg.Render.ScreenshotDir)
	require.Equal(t, "chromedp", cfg.Browser.Driver)
	require.True(t, cfg.Browser.Headless)
	require.Equal(t, "md5", cfg.Hash.Algorithm)
	require.Len(t, cfg.Render.StripMarkers, 1)
	require.Len(t, cfg.Render.StripPatterns, 1)
	require.Contains(t, cfg.Render.OpenedPredicate, "isOpened()")
	require.Equal(t, "https://example.com/sitemap.xml", cfg.SitemapURL())
}

func TestLoadResolvesDirectory(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeConfig(t, dir, DefaultFileName, "db_driver: memory\nbase_uri: https://example.com\n")

	cfg, err := Load(dir)
	require.NoError(t, err)
	require.Equal(t, "memory", cfg.DBDriver)
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	_, err := Load(dir)
	require.ErrorIs(t, err, ErrNoConfig)

	_, err = Load(filepath.Join(dir, "nope.yaml"))
	require.ErrorIs(t, err, ErrNoConfig)
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		DBDriver:  "memory",
		BaseURI:   "https://example.com",
		TimeoutMs: 1000,
		Browser:   BrowserConfig{Driver: "chromedp"},
	}

	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{name: "missing driver", mutate: func(c *Config) { c.DBDriver = "" }, want: "db_driver"},
		{name: "missing base uri", mutate: func(c *Config) { c.BaseURI = "" }, want: "base_uri"},
		{name: "invalid timeout", mutate: func(c *Config) { c.TimeoutMs = 0 }, want: "timeout"},
		{name: "page type without label", mutate: func(c *Config) {
			c.PageTypes = []PageType{{Regex: ".*"}}
		}, want: "page_types[0].type"},
		{name: "page type bad regex", mutate: func(c *Config) {
			c.PageTypes = []PageType{{Type: "a", Regex: "("}}
		}, want: "page_types[0].regex"},
		{name: "bad strip pattern", mutate: func(c *Config) {
			c.Render.StripPatterns = []string{"[a-"}
		}, want: "render.strip_patterns[0]"},
		{name: "unknown browser", mutate: func(c *Config) { c.Browser.Driver = "webkit" }, want: "browser.driver"},
		{name: "negative qps", mutate: func(c *Config) { c.Render.HostQPS = -1 }, want: "render.host_qps"},
		{name: "metrics without addr", mutate: func(c *Config) {
			c.Metrics.Enabled = true
		}, want: "metrics.addr"},
		{name: "pubsub without topic", mutate: func(c *Config) {
			c.Notify.Provider = "pubsub"
			c.Notify.ProjectID = "p"
		}, want: "notify.project_id"},
		{name: "unknown notifier", mutate: func(c *Config) { c.Notify.Provider = "kafka" }, want: "notify.provider"},
	}

	require.NoError(t, base.Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := base
			tt.mutate(&c)
			err := c.Validate()
			require.Error(t, err)
			require.True(t, strings.Contains(err.Error(), tt.want), "expected %q in %v", tt.want, err)
		})
	}
}

func TestRedactedMasksSecrets(t *testing.T) {
	t.Parallel()

	cfg := Config{DB: DBConfig{Passwd: "secret", DSN: "postgres://u:p@h/db", User: "app"}}
	red := cfg.Redacted()
	require.Equal(t, "***", red.DB.Passwd)
	require.Equal(t, "***", red.DB.DSN)
	require.Empty(t, red.DB.URI)
	require.Equal(t, "app", red.DB.User)
	require.Equal(t, "secret", cfg.DB.Passwd)
}
