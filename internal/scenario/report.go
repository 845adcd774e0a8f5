package scenario

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/zjrosen/mimic/pkg/mimic"
)

// Report is the outcome of one scenario run.
type Report struct {
	Scenario  string
	Path      string
	TraceID   string // shared by every command of the run
	StartedAt time.Time
	Duration  time.Duration

	// SetupErr is set when a unit could not be mocked; no step ran.
	SetupErr error
	Steps    []StepResult
	Units    []UnitReport
	Checks   []HistoryCheck
}

// StepResult is the outcome of one step.
type StepResult struct {
	Index    int
	Label    string
	Duration time.Duration
	Err      error
}

// UnitReport is the final state of one mocked unit.
type UnitReport struct {
	Name    string
	Records []mimic.Record
	Lines   []string
	Valid   bool
	Stats   mimic.UnitStats
	Err     error
}

// HistoryCheck compares a unit's rendered history with the expected lines.
type HistoryCheck struct {
	Unit      string
	Unordered bool
	Want      []string
	Got       []string
	Diff      Diff
	Passed    bool
	Err       error
}

// Passed reports whether setup, every step and every history check succeeded.
func (r *Report) Passed() bool {
	if r.SetupErr != nil {
		return false
	}
	for _, s := range r.Steps {
		if s.Err != nil {
			return false
		}
	}
	for _, c := range r.Checks {
		if !c.Passed {
			return false
		}
	}
	return true
}

// Failure summarizes the first thing that went wrong, or "" for a passing run.
func (r *Report) Failure() string {
	if r.SetupErr != nil {
		return "setup: " + r.SetupErr.Error()
	}
	for _, s := range r.Steps {
		if s.Err != nil {
			return fmt.Sprintf("step %d (%s): %v", s.Index, s.Label, s.Err)
		}
	}
	for _, c := range r.Checks {
		if c.Err != nil {
			return c.Err.Error()
		}
		if !c.Passed {
			return "history mismatch for " + c.Unit
		}
	}
	return ""
}

// DiffText joins the diffs of every failed history check.
func (r *Report) DiffText() string {
	var sb strings.Builder
	for _, c := range r.Checks {
		if c.Passed || c.Err != nil {
			continue
		}
		fmt.Fprintf(&sb, "--- want %s\n+++ got %s\n", c.Unit, c.Unit)
		sb.WriteString(c.Diff.String())
	}
	return sb.String()
}

func (r *Report) unit(name string) *UnitReport {
	for i := range r.Units {
		if r.Units[i].Name == name {
			return &r.Units[i]
		}
	}
	return nil
}

// theme holds the report styles. The plain theme renders text unchanged.
type theme struct {
	pass   lipgloss.Style
	fail   lipgloss.Style
	title  lipgloss.Style
	dim    lipgloss.Style
	insert lipgloss.Style
	delete lipgloss.Style
	warn   lipgloss.Style
}

func newTheme(color bool) theme {
	if !color {
		plain := lipgloss.NewStyle()
		return theme{pass: plain, fail: plain, title: plain, dim: plain, insert: plain, delete: plain, warn: plain}
	}
	return theme{
		pass:   lipgloss.NewStyle().Foreground(lipgloss.Color("#73F59F")).Bold(true),
		fail:   lipgloss.NewStyle().Foreground(lipgloss.Color("#FF8787")).Bold(true),
		title:  lipgloss.NewStyle().Bold(true),
		dim:    lipgloss.NewStyle().Foreground(lipgloss.Color("#696969")),
		insert: lipgloss.NewStyle().Foreground(lipgloss.Color("#73F59F")),
		delete: lipgloss.NewStyle().Foreground(lipgloss.Color("#FF8787")),
		warn:   lipgloss.NewStyle().Foreground(lipgloss.Color("#FECA57")),
	}
}

// Render formats the report for a terminal.
func (r *Report) Render(color bool) string {
	t := newTheme(color)
	var sb strings.Builder

	status := t.pass.Render("PASS")
	if !r.Passed() {
		status = t.fail.Render("FAIL")
	}
	fmt.Fprintf(&sb, "%s %s %s\n", status, t.title.Render(r.Scenario), t.dim.Render(fmtDuration(r.Duration)))

	if r.SetupErr != nil {
		fmt.Fprintf(&sb, "  %s setup: %v\n", t.fail.Render("✗"), r.SetupErr)
		return sb.String()
	}

	for _, s := range r.Steps {
		mark := t.pass.Render("✓")
		if s.Err != nil {
			mark = t.fail.Render("✗")
		}
		fmt.Fprintf(&sb, "  %s %2d %s %s\n", mark, s.Index, s.Label, t.dim.Render(fmtDuration(s.Duration)))
		if s.Err != nil {
			fmt.Fprintf(&sb, "       %s\n", t.fail.Render(s.Err.Error()))
		}
	}

	for _, c := range r.Checks {
		switch {
		case c.Err != nil:
			fmt.Fprintf(&sb, "  %s history %s: %v\n", t.fail.Render("✗"), c.Unit, c.Err)
		case c.Passed:
			fmt.Fprintf(&sb, "  %s history %s %s\n", t.pass.Render("✓"), c.Unit, t.dim.Render(fmt.Sprintf("(%d lines)", len(c.Got))))
		default:
			fmt.Fprintf(&sb, "  %s history %s\n", t.fail.Render("✗"), c.Unit)
			for _, l := range c.Diff {
				line := l.Op.prefix() + " " + l.Text
				switch l.Op {
				case DiffInsert:
					line = t.insert.Render(line)
				case DiffDelete:
					line = t.delete.Render(line)
				default:
					line = t.dim.Render(line)
				}
				sb.WriteString("       " + line + "\n")
			}
		}
	}

	for _, u := range r.Units {
		if u.Err != nil {
			fmt.Fprintf(&sb, "  %s %s: %v\n", t.warn.Render("!"), u.Name, u.Err)
			continue
		}
		if !u.Valid {
			fmt.Fprintf(&sb, "  %s %s was invalidated\n", t.warn.Render("!"), u.Name)
		}
		sb.WriteString("  " + t.dim.Render(u.Stats.String()) + "\n")
	}
	return sb.String()
}

func fmtDuration(d time.Duration) string {
	switch {
	case d < time.Millisecond:
		return d.Round(time.Microsecond).String()
	case d < time.Second:
		return d.Round(100 * time.Microsecond).String()
	default:
		return d.Round(time.Millisecond).String()
	}
}
