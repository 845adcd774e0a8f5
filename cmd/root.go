// Package cmd implements the mimic command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zjrosen/mimic/internal/config"
	"github.com/zjrosen/mimic/internal/log"
	"github.com/zjrosen/mimic/internal/tracing"
)

var (
	version   = "dev"
	cfgFile   string
	debugFlag bool
	cfg       config.Config
)

var (
	tracer     *tracing.Provider
	logCleanup func()
)

// errSilentExit fails the process without printing; the command already
// reported why.
var errSilentExit = errors.New("silent exit")

var rootCmd = &cobra.Command{
	Use:   "mimic",
	Short: "Run mocking scenarios against the mimic engine",
	Long: `mimic replaces the operations of named units with programmable
expectations, records every call, and checks the recorded history.

Scenarios are YAML files describing the units to mock, the calls to make,
and the history each unit must end up with. See 'mimic run --help'.`,
	Version:           version,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file (default: .mimic/config.yaml, then ~/.config/mimic/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&debugFlag, "debug", "d", false,
		"write debug logs (to log.file, or stderr)")
}

// setup loads configuration and starts logging and tracing for every command.
func setup(cmd *cobra.Command, _ []string) error {
	v := viper.New()
	loaded, err := config.Load(v, cfgFile)
	if err != nil {
		return err
	}
	cfg = loaded

	if err := initLogging(cmd, v.ConfigFileUsed()); err != nil {
		return err
	}

	tracer, err = tracing.NewProvider(cfg.Tracing)
	if err != nil {
		return fmt.Errorf("initializing tracing: %w", err)
	}
	return nil
}

func initLogging(cmd *cobra.Command, configUsed string) error {
	debug := debugFlag || os.Getenv("MIMIC_DEBUG") != ""
	level := log.ParseLevel(cfg.Log.Level)
	if debug {
		level = log.LevelDebug
	}

	switch {
	case cfg.Log.File != "":
		cleanup, err := log.Init(cfg.Log.File)
		if err != nil {
			return fmt.Errorf("initializing logging: %w", err)
		}
		logCleanup = cleanup
		log.SetMinLevel(level)
	case debug:
		log.InitWriter(cmd.ErrOrStderr(), level)
	default:
		log.SetEnabled(false)
	}
	log.Debug(log.CatConfig, "mimic starting", "version", version, "config", configUsed)
	return nil
}

func teardown(ctx context.Context) error {
	var err error
	if tracer != nil {
		err = tracer.Shutdown(ctx)
		tracer = nil
	}
	if logCleanup != nil {
		logCleanup()
		logCleanup = nil
	}
	return err
}

// Execute runs the root command until it finishes or ctx is cancelled.
func Execute(ctx context.Context) error {
	err := rootCmd.ExecuteContext(ctx)
	if terr := teardown(context.WithoutCancel(ctx)); terr != nil && err == nil {
		err = terr
	}
	if err != nil && !errors.Is(err, errSilentExit) {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	return err
}

// SetVersion sets the version string (called from main with ldflags).
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}
