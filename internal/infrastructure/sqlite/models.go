package sqlite

import (
	"strings"
	"time"
)

// Run is one recorded scenario execution.
type Run struct {
	ID        string
	Scenario  string
	Path      string
	Units     []string
	Passed    bool
	Failure   string
	Diff      string
	StartedAt time.Time
	Duration  time.Duration
	Records   []RunRecord
}

// RunRecord is one rendered history line captured during a run.
type RunRecord struct {
	Unit      string
	Caller    string
	Line      string
	Exception bool
}

// RunSummary is a run without its records, as returned by List.
type RunSummary struct {
	ID        string
	Scenario  string
	Passed    bool
	StartedAt time.Time
	Duration  time.Duration
	Records   int
}

// RunModel represents the database row for the runs table.
type RunModel struct {
	ID         string
	Scenario   string
	Path       string
	Units      string // comma separated
	Passed     bool
	Failure    string
	Diff       string
	StartedAt  int64 // Unix milliseconds
	DurationMS int64
}

// RecordModel represents the database row for the run_records table.
type RecordModel struct {
	RunID     string
	Seq       int
	Unit      string
	Caller    string
	Line      string
	Exception bool
}

func toRunModel(r *Run) *RunModel {
	return &RunModel{
		ID:         r.ID,
		Scenario:   r.Scenario,
		Path:       r.Path,
		Units:      strings.Join(r.Units, ","),
		Passed:     r.Passed,
		Failure:    r.Failure,
		Diff:       r.Diff,
		StartedAt:  r.StartedAt.UnixMilli(),
		DurationMS: r.Duration.Milliseconds(),
	}
}

func toRecordModels(runID string, records []RunRecord) []RecordModel {
	out := make([]RecordModel, len(records))
	for i, rec := range records {
		out[i] = RecordModel{
			RunID:     runID,
			Seq:       i,
			Unit:      rec.Unit,
			Caller:    rec.Caller,
			Line:      rec.Line,
			Exception: rec.Exception,
		}
	}
	return out
}

func (m *RunModel) toDomain(records []RecordModel) *Run {
	run := &Run{
		ID:        m.ID,
		Scenario:  m.Scenario,
		Path:      m.Path,
		Passed:    m.Passed,
		Failure:   m.Failure,
		Diff:      m.Diff,
		StartedAt: time.UnixMilli(m.StartedAt),
		Duration:  time.Duration(m.DurationMS) * time.Millisecond,
		Records:   make([]RunRecord, 0, len(records)),
	}
	if m.Units != "" {
		run.Units = strings.Split(m.Units, ",")
	}
	for _, rec := range records {
		run.Records = append(run.Records, RunRecord{
			Unit:      rec.Unit,
			Caller:    rec.Caller,
			Line:      rec.Line,
			Exception: rec.Exception,
		})
	}
	return run
}
