package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/mimic/internal/infrastructure/sqlite"
)

var checkout = filepath.Join("..", "internal", "scenario", "testdata", "checkout.yaml")

// execute runs the root command with args and returns everything it printed.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
		resetFlags()
	})

	err := rootCmd.ExecuteContext(context.Background())
	require.NoError(t, teardown(context.Background()))
	return out.String(), err
}

func resetFlags() {
	cfgFile, debugFlag = "", false
	runWatch, runRecord, runNoColor, runWaitTimeout = false, false, false, 0
	historyScenario, historyLimit, historyKeep, historyJSON = "", 20, 100, false
	configForce = false
}

// writeConfig creates a config file whose history store lives in a temp dir.
func writeConfig(t *testing.T) (configPath, dbPath string) {
	t.Helper()
	dir := t.TempDir()
	dbPath = filepath.Join(dir, "history.db")
	configPath = filepath.Join(dir, "config.yaml")
	data := "history_store:\n  path: " + dbPath + "\nscenario:\n  color: false\n"
	require.NoError(t, os.WriteFile(configPath, []byte(data), 0o600))
	return configPath, dbPath
}

func TestRun_Passes(t *testing.T) {
	configPath, _ := writeConfig(t)

	out, err := execute(t, "run", "--config", configPath, checkout)
	require.NoError(t, err, out)
	require.Contains(t, out, "PASS checkout")
}

func TestRun_FailingScenarioExitsSilently(t *testing.T) {
	configPath, _ := writeConfig(t)
	path := filepath.Join(t.TempDir(), "fail.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
version: "1.0.0"
name: failing
units:
  - name: clock
    exports:
      - {op: now, arity: 0, impl: {value: 1}}
    options: {passthrough: true}
steps:
  - call: {unit: clock, op: now, want: {value: 2}}
`), 0o600))

	out, err := execute(t, "run", "--config", configPath, path)
	require.ErrorIs(t, err, errSilentExit)
	require.Contains(t, out, "FAIL failing")
}

func TestRun_InvalidScenarioFile(t *testing.T) {
	configPath, _ := writeConfig(t)
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: [\n"), 0o600))

	out, err := execute(t, "run", "--config", configPath, path)
	require.ErrorIs(t, err, errSilentExit)
	require.Contains(t, out, "FAIL "+path)
}

func TestRun_RequiresScenario(t *testing.T) {
	configPath, _ := writeConfig(t)
	_, err := execute(t, "run", "--config", configPath)
	require.Error(t, err)
}

func TestRun_RecordAndHistory(t *testing.T) {
	configPath, dbPath := writeConfig(t)

	out, err := execute(t, "run", "--record", "--config", configPath, checkout)
	require.NoError(t, err, out)

	db, err := sqlite.NewDB(dbPath)
	require.NoError(t, err)
	runs, err := db.Runs().List(context.Background(), "", 0)
	require.NoError(t, err)
	require.NoError(t, db.Close())
	require.Len(t, runs, 1)
	require.Equal(t, "checkout", runs[0].Scenario)
	require.True(t, runs[0].Passed)
	require.Positive(t, runs[0].Records)

	out, err = execute(t, "history", "list", "--config", configPath)
	require.NoError(t, err)
	require.Contains(t, out, "SCENARIO")
	require.Contains(t, out, shortID(runs[0].ID))
	require.Contains(t, out, "PASS")

	out, err = execute(t, "history", "show", "--config", configPath, runs[0].ID[:8])
	require.NoError(t, err)
	require.Contains(t, out, "scenario  checkout")
	require.Contains(t, out, "billing:")
	require.Contains(t, out, "units     billing, mailer")

	out, err = execute(t, "history", "show", "--json", "--config", configPath, runs[0].ID)
	require.NoError(t, err)
	require.Contains(t, out, `"scenario": "checkout"`)
	require.Contains(t, out, `"id": "`+runs[0].ID+`"`)

	_, err = execute(t, "history", "show", "--config", configPath, "nope")
	require.ErrorContains(t, err, `no run matches "nope"`)

	out, err = execute(t, "history", "prune", "--keep", "0", "--config", configPath)
	require.NoError(t, err)
	require.Contains(t, out, "deleted 1 run(s)")

	out, err = execute(t, "history", "list", "--config", configPath)
	require.NoError(t, err)
	require.Contains(t, out, "no runs recorded")
}

func TestConfig_InitAndSet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mimic", "config.yaml")

	out, err := execute(t, "config", "init", "--config", path)
	require.NoError(t, err)
	require.Contains(t, out, "wrote "+path)
	require.FileExists(t, path)

	_, err = execute(t, "config", "init", "--config", path)
	require.ErrorContains(t, err, "already exists")

	_, err = execute(t, "config", "init", "--force", "--config", path)
	require.NoError(t, err)

	out, err = execute(t, "config", "set", "--config", path, "scenario.wait_timeout", "10s")
	require.NoError(t, err)
	require.Contains(t, out, "scenario.wait_timeout = 10s")

	before, err := os.ReadFile(path)
	require.NoError(t, err)
	_, err = execute(t, "config", "set", "--config", path, "mock.queue_capacity", "-1")
	require.ErrorContains(t, err, "mock.queue_capacity must not be negative")
	after, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, string(before), string(after), "an invalid value is rolled back")
}

func TestSetup_InvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: loud\n"), 0o600))

	_, err := execute(t, "run", "--config", path, checkout)
	require.ErrorContains(t, err, "log.level")
}

func TestSetVersion(t *testing.T) {
	old := rootCmd.Version
	t.Cleanup(func() { SetVersion(old) })

	SetVersion("1.2.3")
	require.Equal(t, "1.2.3", rootCmd.Version)
}
