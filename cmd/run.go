package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/zjrosen/mimic/internal/infrastructure/sqlite"
	"github.com/zjrosen/mimic/internal/log"
	"github.com/zjrosen/mimic/internal/scenario"
	"github.com/zjrosen/mimic/internal/watcher"
	"github.com/zjrosen/mimic/pkg/mimic"
)

var (
	runWatch       bool
	runRecord      bool
	runNoColor     bool
	runWaitTimeout time.Duration
)

var runCmd = &cobra.Command{
	Use:   "run <scenario.yaml>...",
	Short: "Run scenarios and check the recorded histories",
	Long: `Run one or more scenario files. Each scenario gets a fresh engine: its
units are mocked, its steps executed in order, and the history of every
unit compared with the expected lines.

The exit status is non-zero when any scenario fails.

Examples:
  # Run a single scenario
  mimic run testdata/checkout.yaml

  # Run every scenario in a directory and keep the results
  mimic run --record scenarios/*.yaml

  # Re-run whenever a scenario file changes
  mimic run -w scenarios/checkout.yaml`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		out := cmd.OutOrStdout()

		var store *sqlite.DB
		if runRecord || cfg.HistoryStore.Enabled {
			db, err := sqlite.NewDB(cfg.HistoryStore.Path)
			if err != nil {
				return fmt.Errorf("opening history store: %w", err)
			}
			defer func() { _ = db.Close() }()
			store = db
		}

		r := newScenarioRunner()
		passed := runAll(ctx, out, r, store, args)
		if !runWatch {
			if !passed {
				return errSilentExit
			}
			return nil
		}
		return watch(ctx, out, r, store, args)
	},
}

func init() {
	runCmd.Flags().BoolVarP(&runWatch, "watch", "w", false, "re-run when a scenario file changes")
	runCmd.Flags().BoolVarP(&runRecord, "record", "r", false, "save results to the history store")
	runCmd.Flags().BoolVar(&runNoColor, "no-color", false, "disable colored output")
	runCmd.Flags().DurationVar(&runWaitTimeout, "wait-timeout", 0,
		"timeout for wait steps that set none (default: scenario.wait_timeout)")
	rootCmd.AddCommand(runCmd)
}

func newScenarioRunner() *scenario.Runner {
	engineOpts := []mimic.EngineOption{
		mimic.WithQueueCapacity(cfg.Mock.QueueCapacity),
		mimic.WithSlowHandlerThreshold(cfg.Mock.SlowHandlerThreshold),
		mimic.WithCodeCacheTTL(cfg.Mock.CodeCacheTTL),
	}
	if tracer != nil && tracer.Enabled() {
		engineOpts = append(engineOpts, mimic.WithTracer(tracer.Tracer()))
	}

	waitTimeout := cfg.Scenario.WaitTimeout
	if runWaitTimeout > 0 {
		waitTimeout = runWaitTimeout
	}
	return scenario.NewRunner(
		scenario.WithEngineOptions(engineOpts...),
		scenario.WithWaitTimeout(waitTimeout),
	)
}

// runAll runs every scenario and reports whether all of them passed.
func runAll(ctx context.Context, out io.Writer, r *scenario.Runner, store *sqlite.DB, paths []string) bool {
	color := useColor(out)
	defaults := scenario.OptionsSpec{
		Passthrough:    cfg.Mock.Passthrough,
		Unrestricted:   cfg.Mock.Unrestricted,
		Merge:          cfg.Mock.Merge,
		DisableHistory: cfg.Mock.DisableHistory,
	}

	passed := true
	for _, path := range paths {
		if ctx.Err() != nil {
			return false
		}
		s, err := scenario.Load(path)
		if err != nil {
			fmt.Fprintf(out, "FAIL %s\n  %v\n", path, err)
			passed = false
			continue
		}
		s.ApplyDefaults(defaults)

		report := r.Run(ctx, s)
		fmt.Fprint(out, report.Render(color))
		if !report.Passed() {
			passed = false
		}

		if store != nil {
			run := runFromReport(report)
			if err := store.Runs().Save(ctx, run); err != nil {
				log.ErrorErr(log.CatStore, "saving run failed", err, "scenario", s.Name)
				fmt.Fprintf(out, "warning: run not recorded: %v\n", err)
			} else {
				log.Debug(log.CatStore, "run recorded", "id", run.ID, "scenario", s.Name)
			}
		}
	}
	return passed
}

func watch(ctx context.Context, out io.Writer, r *scenario.Runner, store *sqlite.DB, paths []string) error {
	w, err := watcher.New(watcher.Config{Paths: paths, DebounceDur: cfg.Scenario.Debounce})
	if err != nil {
		return err
	}
	changes, err := w.Start()
	if err != nil {
		return err
	}
	defer func() { _ = w.Stop() }()

	fmt.Fprintf(out, "\nwatching %d file(s), ctrl+c to stop\n", len(paths))
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-changes:
			fmt.Fprintf(out, "\n%s change detected, re-running\n", time.Now().Format(time.TimeOnly))
			runAll(ctx, out, r, store, paths)
		}
	}
}

func runFromReport(report *scenario.Report) *sqlite.Run {
	run := &sqlite.Run{
		Scenario:  report.Scenario,
		Path:      absPath(report.Path),
		Passed:    report.Passed(),
		Failure:   report.Failure(),
		Diff:      report.DiffText(),
		StartedAt: report.StartedAt,
		Duration:  report.Duration,
	}
	for _, u := range report.Units {
		run.Units = append(run.Units, u.Name)
		for _, rec := range u.Records {
			run.Records = append(run.Records, sqlite.RunRecord{
				Unit:      u.Name,
				Caller:    rec.Caller,
				Line:      rec.String(),
				Exception: rec.Outcome.IsException(),
			})
		}
	}
	return run
}

func absPath(p string) string {
	if p == "" {
		return ""
	}
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}

func useColor(out io.Writer) bool {
	if runNoColor || !cfg.Scenario.Color || os.Getenv("NO_COLOR") != "" {
		return false
	}
	f, ok := out.(*os.File)
	return ok && isatty.IsTerminal(f.Fd())
}
