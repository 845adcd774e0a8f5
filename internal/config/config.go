// Package config provides configuration types and defaults for mimic.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/zjrosen/mimic/internal/log"
	"github.com/zjrosen/mimic/internal/tracing"
)

// Config holds all configuration options for mimic.
type Config struct {
	Mock         MockConfig         `mapstructure:"mock"`
	Tracing      tracing.Config     `mapstructure:"tracing"`
	HistoryStore HistoryStoreConfig `mapstructure:"history_store"`
	Scenario     ScenarioConfig     `mapstructure:"scenario"`
	Log          LogConfig          `mapstructure:"log"`
}

// MockConfig holds engine settings shared by every mocked unit.
type MockConfig struct {
	QueueCapacity        int           `mapstructure:"queue_capacity"`         // Mailbox size per unit
	SlowHandlerThreshold time.Duration `mapstructure:"slow_handler_threshold"` // Handlers slower than this are logged
	CodeCacheTTL         time.Duration `mapstructure:"code_cache_ttl"`         // 0 disables memoized code generation

	// Defaults for units whose scenario entry sets no options.
	Passthrough    bool `mapstructure:"passthrough"`
	Unrestricted   bool `mapstructure:"unrestricted"`
	Merge          bool `mapstructure:"merge"`
	DisableHistory bool `mapstructure:"disable_history"`
}

// HistoryStoreConfig holds the run history database settings.
type HistoryStoreConfig struct {
	// Enabled records every scenario run. --record enables it for one run.
	Enabled bool `mapstructure:"enabled"`

	// Path is the SQLite database file.
	// Default: ~/.config/mimic/history.db
	Path string `mapstructure:"path"`
}

// ScenarioConfig holds scenario runner settings.
type ScenarioConfig struct {
	// WaitTimeout bounds wait steps that set no timeout.
	WaitTimeout time.Duration `mapstructure:"wait_timeout"`

	// Debounce is how long --watch waits for edits to settle.
	Debounce time.Duration `mapstructure:"debounce"`

	// Color styles the report. Disabled automatically when output is not a terminal.
	Color bool `mapstructure:"color"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `mapstructure:"level"` // debug, info, warn, error
	File  string `mapstructure:"file"`  // Empty disables logging unless --debug is set
}

// DefaultHistoryStorePath returns ~/.config/mimic/history.db, or an empty
// string if the home directory is unavailable.
func DefaultHistoryStorePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "mimic", "history.db")
}

// DefaultTracesFilePath returns ~/.config/mimic/traces/traces.jsonl, or an
// empty string if the home directory is unavailable.
func DefaultTracesFilePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "mimic", "traces", "traces.jsonl")
}

// Defaults returns a Config with sensible default values.
func Defaults() Config {
	tr := tracing.DefaultConfig()
	tr.FilePath = DefaultTracesFilePath()

	return Config{
		Mock: MockConfig{
			QueueCapacity:        1000,
			SlowHandlerThreshold: 100 * time.Millisecond,
			CodeCacheTTL:         10 * time.Minute,
		},
		Tracing: tr,
		HistoryStore: HistoryStoreConfig{
			Enabled: false,
			Path:    DefaultHistoryStorePath(),
		},
		Scenario: ScenarioConfig{
			WaitTimeout: 5 * time.Second,
			Debounce:    200 * time.Millisecond,
			Color:       true,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Validate checks every section.
func (c Config) Validate() error {
	if err := ValidateMock(c.Mock); err != nil {
		return err
	}
	if err := ValidateTracing(c.Tracing); err != nil {
		return err
	}
	if err := ValidateHistoryStore(c.HistoryStore); err != nil {
		return err
	}
	if err := ValidateScenario(c.Scenario); err != nil {
		return err
	}
	return ValidateLog(c.Log)
}

// ValidateMock checks engine settings. Zero values use defaults.
func ValidateMock(m MockConfig) error {
	if m.QueueCapacity < 0 {
		return fmt.Errorf("mock.queue_capacity must not be negative, got %d", m.QueueCapacity)
	}
	if m.SlowHandlerThreshold < 0 {
		return fmt.Errorf("mock.slow_handler_threshold must not be negative, got %s", m.SlowHandlerThreshold)
	}
	if m.CodeCacheTTL < 0 {
		return fmt.Errorf("mock.code_cache_ttl must not be negative, got %s", m.CodeCacheTTL)
	}
	return nil
}

// ValidateTracing checks tracing configuration for errors.
// Returns nil if the configuration is valid (empty values use defaults).
func ValidateTracing(tr tracing.Config) error {
	if tr.SampleRate < 0.0 || tr.SampleRate > 1.0 {
		return fmt.Errorf("tracing.sample_rate must be between 0.0 and 1.0, got %v", tr.SampleRate)
	}

	if tr.Exporter != "" {
		switch tr.Exporter {
		case tracing.ExporterNone, tracing.ExporterFile, tracing.ExporterStdout, tracing.ExporterOTLP:
		default:
			return fmt.Errorf("tracing.exporter must be \"none\", \"file\", \"stdout\", or \"otlp\", got %q", tr.Exporter)
		}
	}

	// Only validate path requirements when tracing is enabled
	if tr.Enabled {
		if tr.Exporter == tracing.ExporterFile && tr.FilePath == "" {
			return fmt.Errorf("tracing.file_path is required when exporter is \"file\"")
		}
		if tr.Exporter == tracing.ExporterOTLP && tr.OTLPEndpoint == "" {
			return fmt.Errorf("tracing.otlp_endpoint is required when exporter is \"otlp\"")
		}
	}
	return nil
}

// ValidateHistoryStore checks the history database settings.
func ValidateHistoryStore(h HistoryStoreConfig) error {
	if h.Enabled && h.Path == "" {
		return fmt.Errorf("history_store.path is required when the history store is enabled")
	}
	if h.Path != "" && h.Path != ":memory:" && !filepath.IsAbs(h.Path) {
		return fmt.Errorf("history_store.path must be an absolute path, got %q", h.Path)
	}
	return nil
}

// ValidateScenario checks scenario runner settings.
func ValidateScenario(s ScenarioConfig) error {
	if s.WaitTimeout < 0 {
		return fmt.Errorf("scenario.wait_timeout must not be negative, got %s", s.WaitTimeout)
	}
	if s.Debounce < 0 {
		return fmt.Errorf("scenario.debounce must not be negative, got %s", s.Debounce)
	}
	return nil
}

// ValidateLog checks logging settings.
func ValidateLog(l LogConfig) error {
	switch l.Level {
	case "", "debug", "info", "warn", "warning", "error":
		return nil
	default:
		return fmt.Errorf("log.level must be \"debug\", \"info\", \"warn\", or \"error\", got %q", l.Level)
	}
}

// DefaultConfigTemplate returns the default config as a YAML string with comments.
func DefaultConfigTemplate() string {
	return `# Mimic Configuration

# Mocking engine
mock:
  queue_capacity: 1000           # Mailbox size of each mocked unit
  slow_handler_threshold: 100ms  # Log commands slower than this
  code_cache_ttl: 10m            # Memoize generated code (0 disables)

  # Defaults for scenario units that set no options of their own
  passthrough: false       # Unprogrammed operations call the original
  unrestricted: false      # Allow expectations for operations the unit does not export
  merge: false             # Repeated expectations append clauses instead of replacing
  disable_history: false   # Do not record calls (wait steps still work)

# Scenario runner
scenario:
  wait_timeout: 5s   # Timeout of wait steps that set none
  debounce: 200ms    # --watch settle time
  color: true        # Style the report (off when output is not a terminal)

# Run history database
# history_store:
#   enabled: false                         # Record every run (--record records one)
#   path: ~/.config/mimic/history.db       # SQLite database file

# Logging
# log:
#   level: info                            # debug, info, warn, error
#   file: ~/.config/mimic/mimic.log        # Log file (--debug writes debug.log)

# Distributed tracing
# Every command handled by a mocked unit becomes a span
# tracing:
#   enabled: false                 # Enable/disable tracing (default: false)
#   exporter: file                 # Export backend: none, file, stdout, otlp (default: file)
#   file_path: ~/.config/mimic/traces/traces.jsonl  # Output file for file exporter
#   otlp_endpoint: localhost:4317  # OTLP collector endpoint (for otlp exporter)
#   sample_rate: 1.0               # Trace sampling rate 0.0-1.0 (default: 1.0)
#
# Example: Send traces to Jaeger via OTLP
# tracing:
#   enabled: true
#   exporter: otlp
#   otlp_endpoint: jaeger.internal:4317
#   sample_rate: 0.1  # Sample 10% of traces
`
}

// WriteDefaultConfig creates a config file at the given path with default settings and comments.
// Creates the parent directory if it doesn't exist.
func WriteDefaultConfig(configPath string) error {
	log.Debug(log.CatConfig, "Writing default config", "path", configPath)

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to create config directory", err, "dir", dir)
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(configPath, []byte(DefaultConfigTemplate()), 0o600); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to write config file", err, "path", configPath)
		return fmt.Errorf("writing config file: %w", err)
	}

	log.Info(log.CatConfig, "Created default config", "path", configPath)
	return nil
}
