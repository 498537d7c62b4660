// Package config loads and validates renderer configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DefaultFileName is looked up when the config path points at a directory.
const DefaultFileName = "html-cache-config.yaml"

// ErrNoConfig is returned when the resolved config file does not exist.
var ErrNoConfig = errors.New("config file not found")

// Config captures all renderer configuration knobs loaded via Viper. The
// top-level keys keep the html-cache-config.yaml layout.
type Config struct {
	DBDriver  string        `mapstructure:"db_driver"`
	DB        DBConfig      `mapstructure:"db"`
	PageTypes []PageType    `mapstructure:"page_types"`
	BaseURI   string        `mapstructure:"base_uri"`
	TimeoutMs int           `mapstructure:"timeout"`
	Render    RenderConfig  `mapstructure:"render"`
	Browser   BrowserConfig `mapstructure:"browser"`
	Sitemap   SitemapConfig `mapstructure:"sitemap"`
	Hash      HashConfig    `mapstructure:"hash"`
	Logging   LoggingConfig `mapstructure:"logging"`
	Metrics   MetricsConfig `mapstructure:"metrics"`
	Notify    NotifyConfig  `mapstructure:"notify"`
}

// DBConfig holds connection settings shared by every storage driver. Each
// driver reads the subset it understands.
type DBConfig struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	User       string `mapstructure:"user"`
	Passwd     string `mapstructure:"passwd"`
	DB         string `mapstructure:"db"`
	Collection string `mapstructure:"collection"`
	Table      string `mapstructure:"table"`
	DSN        string `mapstructure:"dsn"`
	URI        string `mapstructure:"uri"`
	Bucket     string `mapstructure:"bucket"`
	Prefix     string `mapstructure:"prefix"`
	BaseDir    string `mapstructure:"base_dir"`
	MaxConns   int    `mapstructure:"max_conns"`
}

// PageType is one classifier rule as written in the config file.
type PageType struct {
	Type  string `mapstructure:"type"`
	Regex string `mapstructure:"regex"`
}

// RenderConfig governs scheduling and the per-URL render steps.
type RenderConfig struct {
	GroupURLs       bool     `mapstructure:"group_urls"`
	Multithread     bool     `mapstructure:"multithread"`
	MaxThreads      int      `mapstructure:"max_threads"`
	PrerenderParam  string   `mapstructure:"prerender_param"`
	NoIndexMarker   string   `mapstructure:"noindex_marker"`
	StripMarkers    []string `mapstructure:"strip_markers"`
	StripPatterns   []string `mapstructure:"strip_patterns"`
	OpenedPredicate string   `mapstructure:"opened_predicate"`
	LoadedPredicate string   `mapstructure:"loaded_predicate"`
	StatePredicate  string   `mapstructure:"state_predicate"`
	ScreenshotDir   string   `mapstructure:"screenshot_dir"`
	VerifyContent   bool     `mapstructure:"verify_content"`
	HostQPS         float64  `mapstructure:"host_qps"`
	HostBurst       int      `mapstructure:"host_burst"`
}

// BrowserConfig selects and tunes the headless browser driver.
type BrowserConfig struct {
	Driver    string `mapstructure:"driver"`
	ExecPath  string `mapstructure:"exec_path"`
	Revision  int    `mapstructure:"revision"`
	Headless  bool   `mapstructure:"headless"`
	NoSandbox bool   `mapstructure:"no_sandbox"`
	UserAgent string `mapstructure:"user_agent"`
}

// SitemapConfig controls URL list retrieval.
type SitemapConfig struct {
	URL            string `mapstructure:"url"`
	UserAgent      string `mapstructure:"user_agent"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// HashConfig picks the fingerprint algorithm.
type HashConfig struct {
	Algorithm string `mapstructure:"algorithm"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
	Verbose     bool `mapstructure:"verbose"`
}

// MetricsConfig controls the Prometheus exporter.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// NotifyConfig configures cache update notifications.
type NotifyConfig struct {
	Provider  string `mapstructure:"provider"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// ResolvePath maps a CLI config argument to a file path. Directories resolve
// to DefaultFileName inside them.
func ResolvePath(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		path = "."
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrNoConfig, path)
		}
		return "", fmt.Errorf("stat config: %w", err)
	}
	if !info.IsDir() {
		return path, nil
	}
	file := filepath.Join(path, DefaultFileName)
	if _, err := os.Stat(file); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrNoConfig, file)
		}
		return "", fmt.Errorf("stat config: %w", err)
	}
	return file, nil
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	file, err := ResolvePath(path)
	if err != nil {
		return Config{}, err
	}

	v := viper.New()
	v.SetEnvPrefix("HTML_CACHE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	v.SetConfigFile(file)
	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("timeout", 60000)
	v.SetDefault("db.port", 0)
	v.SetDefault("db.collection", "renders")
	v.SetDefault("db.table", "renders")
	v.SetDefault("db.base_dir", "renders")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("render.group_urls", false)
	v.SetDefault("render.multithread", false)
	v.SetDefault("render.max_threads", 0)
	v.SetDefault("render.prerender_param", "is_prerender=1")
	v.SetDefault("render.noindex_marker", `<meta name="robots" content="noindex">`)
	v.SetDefault("render.strip_markers", []string{`<meta name="fragment" content="!">`})
	v.SetDefault("render.strip_patterns", []string{`<script.+src="\/theme\/frontend\/app\/build\/main\.js\?ver=\d+"><\/script>`})
	v.SetDefault("render.opened_predicate", "(pageType) => AppCore.Pages.of(pageType).isOpened()")
	v.SetDefault("render.loaded_predicate", "(pageType) => AppCore.Pages.of(pageType).isLoaded()")
	v.SetDefault("render.state_predicate", "(pageType) => AppCore.Pages.of(pageType).getState()")
	v.SetDefault("render.screenshot_dir", "pages")
	v.SetDefault("render.verify_content", false)
	v.SetDefault("render.host_qps", 0)
	v.SetDefault("render.host_burst", 1)
	v.SetDefault("browser.driver", "chromedp")
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.no_sandbox", false)
	v.SetDefault("sitemap.user_agent", "html-cache-renderer/1.0")
	v.SetDefault("sitemap.timeout_seconds", 30)
	v.SetDefault("hash.algorithm", "md5")
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.verbose", false)
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", ":9090")
	v.SetDefault("notify.provider", "none")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if strings.TrimSpace(c.DBDriver) == "" {
		return fmt.Errorf("db_driver must be set")
	}
	if c.BaseURI == "" && c.Sitemap.URL == "" {
		return fmt.Errorf("base_uri must be set when sitemap.url is empty")
	}
	if c.TimeoutMs <= 0 {
		return fmt.Errorf("timeout must be > 0")
	}
	for i, pt := range c.PageTypes {
		if strings.TrimSpace(pt.Type) == "" {
			return fmt.Errorf("page_types[%d].type must be set", i)
		}
		if pt.Regex == "" {
			return fmt.Errorf("page_types[%d].regex must be set", i)
		}
		if _, err := regexp.Compile(pt.Regex); err != nil {
			return fmt.Errorf("page_types[%d].regex is invalid: %w", i, err)
		}
	}
	for i, pattern := range c.Render.StripPatterns {
		if _, err := regexp.Compile(pattern); err != nil {
			return fmt.Errorf("render.strip_patterns[%d] is invalid: %w", i, err)
		}
	}
	switch c.Browser.Driver {
	case "chromedp", "rod":
	default:
		return fmt.Errorf("browser.driver must be chromedp or rod, got %q", c.Browser.Driver)
	}
	if c.Render.HostQPS < 0 {
		return fmt.Errorf("render.host_qps must be >= 0")
	}
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return fmt.Errorf("metrics.addr must be set when metrics are enabled")
	}
	switch c.Notify.Provider {
	case "", "none", "memory":
	case "pubsub":
		if c.Notify.ProjectID == "" || c.Notify.Topic == "" {
			return fmt.Errorf("notify.project_id and notify.topic must be set for pubsub")
		}
	default:
		return fmt.Errorf("notify.provider must be none, memory or pubsub, got %q", c.Notify.Provider)
	}
	return nil
}

// Timeout returns the per-navigation timeout.
func (c Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// SitemapURL returns the configured sitemap location, defaulting to
// <base_uri>/sitemap.xml.
func (c Config) SitemapURL() string {
	if c.Sitemap.URL != "" {
		return c.Sitemap.URL
	}
	return strings.TrimRight(c.BaseURI, "/") + "/sitemap.xml"
}

// Redacted returns a copy safe to log.
func (c Config) Redacted() Config {
	out := c
	if out.DB.Passwd != "" {
		out.DB.Passwd = "***"
	}
	if out.DB.DSN != "" {
		out.DB.DSN = "***"
	}
	if out.DB.URI != "" {
		out.DB.URI = "***"
	}
	out.PageTypes = append([]PageType(nil), c.PageTypes...)
	return out
}
