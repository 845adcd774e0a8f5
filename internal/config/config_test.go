package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/zjrosen/mimic/internal/tracing"
)

func TestDefaults_AreValid(t *testing.T) {
	require.NoError(t, Defaults().Validate())
}

func TestValidateMock(t *testing.T) {
	tests := []struct {
		name    string
		cfg     MockConfig
		wantErr string
	}{
		{name: "zero values", cfg: MockConfig{}},
		{name: "negative capacity", cfg: MockConfig{QueueCapacity: -1}, wantErr: "mock.queue_capacity"},
		{name: "negative threshold", cfg: MockConfig{SlowHandlerThreshold: -time.Second}, wantErr: "mock.slow_handler_threshold"},
		{name: "negative ttl", cfg: MockConfig{CodeCacheTTL: -time.Second}, wantErr: "mock.code_cache_ttl"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateMock(tt.cfg)
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestValidateTracing(t *testing.T) {
	tests := []struct {
		name    string
		cfg     tracing.Config
		wantErr string
	}{
		{name: "disabled defaults", cfg: tracing.DefaultConfig()},
		{name: "sample rate too high", cfg: tracing.Config{SampleRate: 1.5}, wantErr: "sample_rate"},
		{name: "sample rate negative", cfg: tracing.Config{SampleRate: -0.1}, wantErr: "sample_rate"},
		{name: "unknown exporter", cfg: tracing.Config{Exporter: "jaeger"}, wantErr: "tracing.exporter"},
		{name: "file without path", cfg: tracing.Config{Enabled: true, Exporter: "file"}, wantErr: "file_path"},
		{name: "otlp without endpoint", cfg: tracing.Config{Enabled: true, Exporter: "otlp"}, wantErr: "otlp_endpoint"},
		{name: "disabled file without path", cfg: tracing.Config{Exporter: "file"}},
		{name: "stdout", cfg: tracing.Config{Enabled: true, Exporter: "stdout", SampleRate: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTracing(tt.cfg)
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestValidateHistoryStore(t *testing.T) {
	require.NoError(t, ValidateHistoryStore(HistoryStoreConfig{}))
	require.NoError(t, ValidateHistoryStore(HistoryStoreConfig{Enabled: true, Path: ":memory:"}))
	require.ErrorContains(t, ValidateHistoryStore(HistoryStoreConfig{Enabled: true}), "path is required")
	require.ErrorContains(t, ValidateHistoryStore(HistoryStoreConfig{Path: "rel/history.db"}), "absolute")
}

func TestValidateScenarioAndLog(t *testing.T) {
	require.ErrorContains(t, ValidateScenario(ScenarioConfig{WaitTimeout: -1}), "wait_timeout")
	require.ErrorContains(t, ValidateScenario(ScenarioConfig{Debounce: -1}), "debounce")
	require.NoError(t, ValidateLog(LogConfig{Level: "warn"}))
	require.ErrorContains(t, ValidateLog(LogConfig{Level: "loud"}), "log.level")
}

func TestDefaultConfigTemplate_ParsesToDefaults(t *testing.T) {
	var raw map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(DefaultConfigTemplate()), &raw))
	require.Contains(t, raw, "mock")
	require.Contains(t, raw, "scenario")

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(DefaultConfigTemplate()), 0o600))

	cfg, err := Load(viper.New(), path)
	require.NoError(t, err)
	d := Defaults()
	require.Equal(t, d.Mock, cfg.Mock)
	require.Equal(t, d.Scenario, cfg.Scenario)
}

func TestWriteDefaultConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	require.NoError(t, WriteDefaultConfig(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, DefaultConfigTemplate(), string(data))
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `mock:
  queue_capacity: 16
  passthrough: true
scenario:
  wait_timeout: 250ms
history_store:
  enabled: true
  path: ":memory:"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(viper.New(), path)
	require.NoError(t, err)
	require.Equal(t, 16, cfg.Mock.QueueCapacity)
	require.True(t, cfg.Mock.Passthrough)
	require.Equal(t, 250*time.Millisecond, cfg.Scenario.WaitTimeout)
	require.Equal(t, Defaults().Scenario.Debounce, cfg.Scenario.Debounce)
	require.True(t, cfg.HistoryStore.Enabled)
	require.Equal(t, ":memory:", cfg.HistoryStore.Path)
}

func TestLoad_EnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("mock:\n  queue_capacity: 16\n"), 0o600))
	t.Setenv("MIMIC_MOCK_QUEUE_CAPACITY", "32")

	cfg, err := Load(viper.New(), path)
	require.NoError(t, err)
	require.Equal(t, 32, cfg.Mock.QueueCapacity)
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(viper.New(), filepath.Join(dir, "missing.yaml"))
	require.ErrorContains(t, err, "reading config")

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("tracing:\n  sample_rate: 3\n"), 0o600))
	_, err = Load(viper.New(), bad)
	require.ErrorContains(t, err, "invalid configuration")
}
