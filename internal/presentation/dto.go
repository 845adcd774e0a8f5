package presentation

import (
	"time"

	"github.com/zjrosen/mimic/internal/infrastructure/sqlite"
)

// RunSummaryDTO represents one row of the run list
type RunSummaryDTO struct {
	ID         string    `json:"id"`
	Scenario   string    `json:"scenario"`
	Passed     bool      `json:"passed"`
	StartedAt  time.Time `json:"started_at"`
	DurationMS int64     `json:"duration_ms"`
	Records    int       `json:"records"`
}

// RunDTO represents a recorded run with its calls
type RunDTO struct {
	ID         string      `json:"id"`
	Scenario   string      `json:"scenario"`
	Path       string      `json:"path,omitempty"`
	Units      []string    `json:"units"`
	Passed     bool        `json:"passed"`
	Failure    string      `json:"failure,omitempty"`
	Diff       string      `json:"diff,omitempty"`
	StartedAt  time.Time   `json:"started_at"`
	DurationMS int64       `json:"duration_ms"`
	Records    []RecordDTO `json:"records"` // always present, oldest first
}

// RecordDTO represents one rendered history line
type RecordDTO struct {
	Unit      string `json:"unit"`
	Caller    string `json:"caller,omitempty"`
	Line      string `json:"line"`
	Exception bool   `json:"exception"`
}

// FromRunSummaries converts stored summaries to DTOs
func FromRunSummaries(runs []sqlite.RunSummary) []RunSummaryDTO {
	dtos := make([]RunSummaryDTO, len(runs))
	for i, r := range runs {
		dtos[i] = RunSummaryDTO{
			ID:         r.ID,
			Scenario:   r.Scenario,
			Passed:     r.Passed,
			StartedAt:  r.StartedAt.UTC(),
			DurationMS: r.Duration.Milliseconds(),
			Records:    r.Records,
		}
	}
	return dtos
}

// FromRun converts a stored run to a DTO
func FromRun(run *sqlite.Run) RunDTO {
	units := run.Units
	if units == nil {
		units = []string{}
	}
	records := make([]RecordDTO, len(run.Records))
	for i, rec := range run.Records {
		records[i] = RecordDTO{
			Unit:      rec.Unit,
			Caller:    rec.Caller,
			Line:      rec.Line,
			Exception: rec.Exception,
		}
	}
	return RunDTO{
		ID:         run.ID,
		Scenario:   run.Scenario,
		Path:       run.Path,
		Units:      units,
		Passed:     run.Passed,
		Failure:    run.Failure,
		Diff:       run.Diff,
		StartedAt:  run.StartedAt.UTC(),
		DurationMS: run.Duration.Milliseconds(),
		Records:    records,
	}
}
