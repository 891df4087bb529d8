package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the tokenaudit.yaml configuration.
type Config struct {
	Source            string        `yaml:"source"`
	DenyList          string        `yaml:"deny_list"`
	IgnoreStylesheets []string      `yaml:"ignore_stylesheets"`
	AllowCrossOrigin  bool          `yaml:"allow_cross_origin"`
	MarkerAttribute   string        `yaml:"marker_attribute"`
	UIAttribute       string        `yaml:"ui_attribute"`
	BreadcrumbDepth   int           `yaml:"breadcrumb_depth"`
	SelectorCacheSize int           `yaml:"selector_cache_size"`
	Explainers        []string      `yaml:"explainers"`
	Renderers         []string      `yaml:"renderers"`
	Output            OutputConfig  `yaml:"output"`
	Fetch             FetchConfig   `yaml:"fetch"`
	Log               LogConfig     `yaml:"log"`
	Suggest           SuggestConfig `yaml:"suggest"`
}

// OutputConfig controls where and how output artifacts are generated.
type OutputConfig struct {
	Dir             string `yaml:"dir"`
	MaxReportTokens int    `yaml:"max_report_tokens"`
}

// FetchConfig controls remote document, stylesheet and deny-list fetches.
type FetchConfig struct {
	Timeout   time.Duration `yaml:"timeout"`
	UserAgent string        `yaml:"user_agent"`
}

// LogConfig selects the zap level and encoder.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// SuggestConfig tunes the token suggestion explainer.
type SuggestConfig struct {
	MinOccurrences int `yaml:"min_occurrences"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Source: "index.html",
		IgnoreStylesheets: []string{
			"chrome-extension://",
			"moz-extension://",
			"safari-web-extension://",
		},
		MarkerAttribute:   "data-token-audit-id",
		UIAttribute:       "data-token-audit-ui",
		BreadcrumbDepth:   4,
		SelectorCacheSize: 1024,
		Explainers:        []string{"suggestions"},
		Renderers:         []string{"markdown", "sarif", "annotated_html"},
		Output: OutputConfig{
			Dir:             ".tokenaudit",
			MaxReportTokens: 4000,
		},
		Fetch: FetchConfig{
			Timeout:   10 * time.Second,
			UserAgent: "tokenaudit/0.1",
		},
		Log: LogConfig{
			Level:  "INFO",
			Format: "CONSOLE",
		},
		Suggest: SuggestConfig{
			MinOccurrences: 3,
		},
	}
}

// Load reads a configuration file from the given path.
// Missing fields are filled with defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	// Ensure required defaults
	if cfg.Output.Dir == "" {
		cfg.Output.Dir = ".tokenaudit"
	}
	if cfg.Output.MaxReportTokens == 0 {
		cfg.Output.MaxReportTokens = 4000
	}
	if cfg.MarkerAttribute == "" {
		cfg.MarkerAttribute = "data-token-audit-id"
	}
	if cfg.UIAttribute == "" {
		cfg.UIAttribute = "data-token-audit-ui"
	}
	if cfg.BreadcrumbDepth <= 0 {
		cfg.BreadcrumbDepth = 4
	}
	if cfg.SelectorCacheSize <= 0 {
		cfg.SelectorCacheSize = 1024
	}
	if cfg.Fetch.Timeout <= 0 {
		cfg.Fetch.Timeout = 10 * time.Second
	}
	if cfg.Suggest.MinOccurrences <= 0 {
		cfg.Suggest.MinOccurrences = 3
	}

	return cfg, nil
}

// IsExplainerEnabled returns true if the named explainer is enabled.
func (c *Config) IsExplainerEnabled(name string) bool {
	return contains(c.Explainers, name)
}

// IsRendererEnabled returns true if the named renderer is enabled.
func (c *Config) IsRendererEnabled(name string) bool {
	return contains(c.Renderers, name)
}

func contains(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}
