// Package config loads the fuzz campaign configuration cmd/fluxfuzzer's
// --config flag points at: the target, engine, corpus, analyzer, and
// output settings that would otherwise come from individual flags. Flags
// still win over file values when both are given.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration with YAML support for both "10s"-style
// strings and bare numbers (interpreted as seconds).
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var n int64
	if err := value.Decode(&n); err == nil {
		*d = Duration(time.Duration(n) * time.Second)
		return nil
	}

	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("config: duration must be a string or a number of seconds")
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("config: invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the full campaign configuration for `fluxfuzzer fuzz`.
type Config struct {
	Target   TargetConfig   `yaml:"target"`
	Engine   EngineConfig   `yaml:"engine"`
	Corpus   CorpusConfig   `yaml:"corpus"`
	Analyzer AnalyzerConfig `yaml:"analyzer"`
	Output   OutputConfig   `yaml:"output"`
}

// TargetConfig describes what to fuzz and where the initial inputs come
// from: hand-listed seeds (CorpusConfig.Seeds), crawler discovery, or a
// multi-step scenario file.
type TargetConfig struct {
	URL     string            `yaml:"url"`
	Method  string            `yaml:"method"`
	Headers map[string]string `yaml:"headers"`

	// Scenario is a YAML scenario file whose steps drive generation
	// stages alongside the mutational ones.
	Scenario string `yaml:"scenario"`

	// Crawl discovers seed inputs by crawling URL before fuzzing starts.
	Crawl bool `yaml:"crawl"`
}

// EngineConfig tunes the fuzzing loop and the HTTP executor.
type EngineConfig struct {
	Threads       int      `yaml:"threads"`
	Iterations    int      `yaml:"iterations"`
	ChainMutate   bool     `yaml:"chain_mutate"`
	Timeout       Duration `yaml:"timeout"`
	UserAgent     string   `yaml:"user_agent"`
	StatsInterval Duration `yaml:"stats_interval"`
}

// CorpusConfig selects corpus storage. Empty dirs keep the corpus
// in-memory; Seeds are literal initial inputs.
type CorpusConfig struct {
	Dir          string   `yaml:"dir"`
	ObjectiveDir string   `yaml:"objective_dir"`
	Seeds        []string `yaml:"seeds"`
}

// AnalyzerConfig tunes the structural-distance feedback.
type AnalyzerConfig struct {
	BaselineSamples int     `yaml:"baseline_samples"`
	TimeThreshold   float64 `yaml:"time_threshold"`
	EnableSimHash   bool    `yaml:"enable_simhash"`
	EnableTLSH      bool    `yaml:"enable_tlsh"`
}

// OutputConfig selects reporting and the live dashboard.
type OutputConfig struct {
	ReportDir    string `yaml:"report_dir"`
	ReportFormat string `yaml:"report_format"` // json, html, markdown, all
	Web          bool   `yaml:"web"`
	WebPort      string `yaml:"web_port"`
	Verbose      bool   `yaml:"verbose"`
}

// DefaultConfig returns the defaults the fuzz command's flags also carry.
func DefaultConfig() *Config {
	return &Config{
		Target: TargetConfig{
			Method: "POST",
			Headers: map[string]string{
				"Content-Type": "application/x-www-form-urlencoded",
			},
		},
		Engine: EngineConfig{
			Threads:       1,
			Iterations:    8,
			Timeout:       Duration(10 * time.Second),
			UserAgent:     "FluxFuzzer/1.0",
			StatsInterval: Duration(6 * time.Second),
		},
		Analyzer: AnalyzerConfig{
			BaselineSamples: 20,
			TimeThreshold:   3.0,
			EnableSimHash:   true,
			EnableTLSH:      true,
		},
		Output: OutputConfig{
			ReportFormat: "all",
			WebPort:      ":9090",
		},
	}
}

// LoadConfig reads a YAML config file over DefaultConfig, so a partial
// file only overrides what it names.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Validate normalizes and checks field ranges. The target URL is not
// required here: a flag may still supply it after loading.
func (c *Config) Validate() error {
	if c.Target.Method == "" {
		c.Target.Method = "POST"
	}
	if c.Engine.Threads < 1 {
		return fmt.Errorf("engine.threads must be >= 1, got %d", c.Engine.Threads)
	}
	if c.Engine.Iterations < 1 {
		return fmt.Errorf("engine.iterations must be >= 1, got %d", c.Engine.Iterations)
	}
	if c.Engine.Timeout <= 0 {
		return fmt.Errorf("engine.timeout must be positive")
	}
	if c.Engine.StatsInterval <= 0 {
		return fmt.Errorf("engine.stats_interval must be positive")
	}
	switch c.Output.ReportFormat {
	case "", "json", "html", "markdown", "md", "all":
	default:
		return fmt.Errorf("output.report_format %q not one of json/html/markdown/all", c.Output.ReportFormat)
	}
	return nil
}
