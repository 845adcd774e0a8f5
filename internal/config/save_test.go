package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

func TestSetValue_CreatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.yaml")

	require.NoError(t, SetValue(path, "history_store.enabled", "true"))

	cfg, err := Load(viper.New(), path)
	require.NoError(t, err)
	require.True(t, cfg.HistoryStore.Enabled)
}

func TestSetValue_PreservesComments(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, WriteDefaultConfig(path))

	require.NoError(t, SetValue(path, "mock.queue_capacity", "64"))
	require.NoError(t, SetValue(path, "log.level", "debug"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "# Mailbox size of each mocked unit")
	require.Contains(t, string(data), "queue_capacity: 64")

	cfg, err := Load(viper.New(), path)
	require.NoError(t, err)
	require.Equal(t, 64, cfg.Mock.QueueCapacity)
	require.Equal(t, "debug", cfg.Log.Level)
	require.Equal(t, Defaults().Scenario, cfg.Scenario)
}

func TestSetValue_Errors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("mock:\n  merge: false\n"), 0o600))

	require.ErrorContains(t, SetValue(path, "mock", "x"), "is a section")
	require.ErrorContains(t, SetValue(path, "mock.merge.deep", "x"), "not a section")
	require.ErrorContains(t, SetValue(path, "mock..merge", "x"), "invalid config key")

	require.NoError(t, os.WriteFile(path, []byte("- a\n- b\n"), 0o600))
	require.ErrorContains(t, SetValue(path, "mock.merge", "true"), "mapping")
}
