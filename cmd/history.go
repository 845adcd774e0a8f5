package cmd

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/zjrosen/mimic/internal/infrastructure/sqlite"
	"github.com/zjrosen/mimic/internal/presentation"
)

var (
	historyScenario string
	historyLimit    int
	historyKeep     int
	historyJSON     bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect recorded scenario runs",
	Long: `Inspect the runs saved by 'mimic run --record' (or by every run when
history_store.enabled is set).`,
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded runs, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		db, err := openStore()
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()

		runs, err := db.Runs().List(cmd.Context(), historyScenario, historyLimit)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if historyJSON {
			return presentation.NewFormatter(out).FormatRuns(presentation.FromRunSummaries(runs))
		}
		if len(runs) == 0 {
			fmt.Fprintln(out, "no runs recorded")
			return nil
		}
		printRuns(out, runs, time.Now())
		return nil
	},
}

var historyShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show one run with its recorded calls",
	Long: `Show one run with its recorded calls and, for a failed run, the
history diff. A unique prefix of the run id is enough.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openStore()
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()

		run, err := db.Runs().Load(cmd.Context(), args[0])
		switch {
		case errors.Is(err, sqlite.ErrRunNotFound):
			return fmt.Errorf("no run matches %q", args[0])
		case errors.Is(err, sqlite.ErrAmbiguousRun):
			return fmt.Errorf("%q matches more than one run, use a longer prefix", args[0])
		case err != nil:
			return err
		}
		if historyJSON {
			return presentation.NewFormatter(cmd.OutOrStdout()).FormatRun(presentation.FromRun(run))
		}
		printRun(cmd.OutOrStdout(), run)
		return nil
	},
}

var historyPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete all but the newest runs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if historyKeep < 0 {
			return fmt.Errorf("--keep must not be negative, got %d", historyKeep)
		}
		db, err := openStore()
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()

		n, err := db.Runs().Prune(cmd.Context(), historyKeep)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "deleted %d run(s)\n", n)
		return nil
	},
}

func init() {
	historyListCmd.Flags().StringVarP(&historyScenario, "scenario", "s", "", "only runs of this scenario")
	historyListCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "maximum runs to list (0 for all)")
	historyCmd.PersistentFlags().BoolVar(&historyJSON, "json", false, "print JSON instead of text")
	historyPruneCmd.Flags().IntVar(&historyKeep, "keep", 100, "number of newest runs to keep")

	historyCmd.AddCommand(historyListCmd, historyShowCmd, historyPruneCmd)
	rootCmd.AddCommand(historyCmd)
}

func openStore() (*sqlite.DB, error) {
	if cfg.HistoryStore.Path == "" {
		return nil, errors.New("history_store.path is not set")
	}
	db, err := sqlite.NewDB(cfg.HistoryStore.Path)
	if err != nil {
		return nil, fmt.Errorf("opening history store: %w", err)
	}
	return db, nil
}

func status(passed bool) string {
	if passed {
		return "PASS"
	}
	return "FAIL"
}

func printRuns(w io.Writer, runs []sqlite.RunSummary, now time.Time) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSCENARIO\tSTATUS\tCALLS\tDURATION\tSTARTED")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n",
			shortID(r.ID), r.Scenario, status(r.Passed), r.Records,
			r.Duration.Round(time.Millisecond), humanize.RelTime(r.StartedAt, now, "ago", "from now"))
	}
	_ = tw.Flush()
}

func printRun(w io.Writer, run *sqlite.Run) {
	fmt.Fprintf(w, "run       %s\n", run.ID)
	fmt.Fprintf(w, "scenario  %s\n", run.Scenario)
	if run.Path != "" {
		fmt.Fprintf(w, "path      %s\n", run.Path)
	}
	fmt.Fprintf(w, "status    %s\n", status(run.Passed))
	fmt.Fprintf(w, "started   %s (%s)\n", run.StartedAt.Format(time.RFC3339), humanize.Time(run.StartedAt))
	fmt.Fprintf(w, "duration  %s\n", run.Duration.Round(time.Millisecond))
	if len(run.Units) > 0 {
		fmt.Fprintf(w, "units     %s\n", strings.Join(run.Units, ", "))
	}
	if run.Failure != "" {
		fmt.Fprintf(w, "failure   %s\n", run.Failure)
	}

	unit := ""
	for _, rec := range run.Records {
		if rec.Unit != unit {
			unit = rec.Unit
			fmt.Fprintf(w, "\n%s:\n", unit)
		}
		fmt.Fprintf(w, "  %s\n", rec.Line)
	}

	if run.Diff != "" {
		fmt.Fprintf(w, "\n%s", run.Diff)
		if !strings.HasSuffix(run.Diff, "\n") {
			fmt.Fprintln(w)
		}
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
