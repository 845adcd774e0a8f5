package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/zjrosen/mimic/internal/log"
)

// ProjectConfigPath is checked before the user config.
const ProjectConfigPath = ".mimic/config.yaml"

// UserConfigDir returns ~/.config/mimic, or an empty string if the home
// directory is unavailable.
func UserConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "mimic")
}

// SetDefaults registers every default on v so partially written files and
// environment overrides fall back to Defaults.
func SetDefaults(v *viper.Viper) {
	d := Defaults()
	v.SetDefault("mock.queue_capacity", d.Mock.QueueCapacity)
	v.SetDefault("mock.slow_handler_threshold", d.Mock.SlowHandlerThreshold)
	v.SetDefault("mock.code_cache_ttl", d.Mock.CodeCacheTTL)
	v.SetDefault("mock.passthrough", d.Mock.Passthrough)
	v.SetDefault("mock.unrestricted", d.Mock.Unrestricted)
	v.SetDefault("mock.merge", d.Mock.Merge)
	v.SetDefault("mock.disable_history", d.Mock.DisableHistory)

	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.exporter", d.Tracing.Exporter)
	v.SetDefault("tracing.file_path", d.Tracing.FilePath)
	v.SetDefault("tracing.otlp_endpoint", d.Tracing.OTLPEndpoint)
	v.SetDefault("tracing.sample_rate", d.Tracing.SampleRate)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)

	v.SetDefault("history_store.enabled", d.HistoryStore.Enabled)
	v.SetDefault("history_store.path", d.HistoryStore.Path)

	v.SetDefault("scenario.wait_timeout", d.Scenario.WaitTimeout)
	v.SetDefault("scenario.debounce", d.Scenario.Debounce)
	v.SetDefault("scenario.color", d.Scenario.Color)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.file", d.Log.File)
}

// Load reads configuration into v and decodes it. An explicit path must
// exist. Otherwise .mimic/config.yaml and then ~/.config/mimic/config.yaml
// are tried, and a missing file leaves the defaults in place. MIMIC_*
// environment variables override file values.
func Load(v *viper.Viper, path string) (Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix("mimic")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	switch {
	case path != "":
		v.SetConfigFile(path)
	case fileExists(ProjectConfigPath):
		v.SetConfigFile(ProjectConfigPath)
	default:
		if dir := UserConfigDir(); dir != "" {
			v.AddConfigPath(dir)
		}
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("reading config: %w", err)
		}
		log.Debug(log.CatConfig, "no config file, using defaults")
	} else {
		log.Debug(log.CatConfig, "config loaded", "path", v.ConfigFileUsed())
	}

	var cfg Config
	err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)))
	if err != nil {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
