// Package metrics tracks per-unit actor counters and renders them for the CLI.
package metrics

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
)

// UnitStats is a point-in-time snapshot of one control actor.
type UnitStats struct {
	Unit string `json:"unit"`

	Processed      int64 `json:"processed"`
	Errors         int64 `json:"errors"`
	Rejected       int64 `json:"rejected"` // mutations refused with concurrentReload
	Reloads        int64 `json:"reloads"`
	ReloadFailures int64 `json:"reload_failures"`

	Expectations int  `json:"expectations"`
	HistoryLen   int  `json:"history_len"`
	LiveTrackers int  `json:"live_trackers"`
	Pending      bool `json:"pending"`
	Valid        bool `json:"valid"`

	LastReloadAt       time.Time     `json:"last_reload_at"`
	LastReloadDuration time.Duration `json:"last_reload_duration"`
	ReloadRunning      time.Duration `json:"reload_running"` // age of the in-flight regeneration

	// Filled from the shared compiler; zero under a custom generator.
	CodeBuilds    int64 `json:"code_builds"`
	CodeCacheHits int64 `json:"code_cache_hits"`
}

// FormatCounts renders the counters, e.g. "1,204 commands, 3 errors, 2 reloads".
func (s UnitStats) FormatCounts() string {
	parts := []string{
		humanize.Comma(s.Processed) + " commands",
		humanize.Comma(s.Errors) + " errors",
		humanize.Comma(s.Reloads) + " reloads",
	}
	if s.ReloadFailures > 0 {
		parts = append(parts, humanize.Comma(s.ReloadFailures)+" failed reloads")
	}
	if s.Rejected > 0 {
		parts = append(parts, humanize.Comma(s.Rejected)+" rejected")
	}
	if s.CodeBuilds > 0 || s.CodeCacheHits > 0 {
		parts = append(parts, fmt.Sprintf("code built %s, cached %s", humanize.Comma(s.CodeBuilds), humanize.Comma(s.CodeCacheHits)))
	}
	return strings.Join(parts, ", ")
}

// FormatState renders the gauges, e.g. "valid, 3 expectations, 12 calls, 1 waiter".
func (s UnitStats) FormatState() string {
	state := "valid"
	if !s.Valid {
		state = "INVALID"
	}
	switch {
	case s.Pending && s.ReloadRunning > 0:
		state += " (reloading for " + s.ReloadRunning.Round(time.Millisecond).String() + ")"
	case s.Pending:
		state += " (reloading)"
	}
	return fmt.Sprintf("%s, %s %s, %s %s, %s %s",
		state,
		humanize.Comma(int64(s.Expectations)), plural(s.Expectations, "expectation"),
		humanize.Comma(int64(s.HistoryLen)), plural(s.HistoryLen, "call"),
		humanize.Comma(int64(s.LiveTrackers)), plural(s.LiveTrackers, "waiter"),
	)
}

// FormatLastReload renders when the last regeneration finished, relative to now.
func (s UnitStats) FormatLastReload() string {
	if s.LastReloadAt.IsZero() {
		return "never reloaded"
	}
	return fmt.Sprintf("reloaded %s in %s", humanize.Time(s.LastReloadAt), s.LastReloadDuration.Round(time.Microsecond))
}

// String renders one line for the unit.
func (s UnitStats) String() string {
	return fmt.Sprintf("%s: %s; %s; %s", s.Unit, s.FormatState(), s.FormatCounts(), s.FormatLastReload())
}

func plural(n int, word string) string {
	if n == 1 {
		return word
	}
	return word + "s"
}

// Recorder holds the live counters of one actor. Counters are written by the
// actor goroutine and read from any goroutine through Snapshot.
type Recorder struct {
	unit string

	processed      atomic.Int64
	errors         atomic.Int64
	rejected       atomic.Int64
	reloads        atomic.Int64
	reloadFailures atomic.Int64

	expectations atomic.Int64
	historyLen   atomic.Int64
	liveTrackers atomic.Int64
	pending      atomic.Bool
	valid        atomic.Bool

	lastReloadAt       atomic.Int64
	lastReloadDuration atomic.Int64
	reloadStartedAt    atomic.Int64
}

// NewRecorder creates a recorder for unit. Units start valid.
func NewRecorder(unit string) *Recorder {
	r := &Recorder{unit: unit}
	r.valid.Store(true)
	return r
}

// CommandProcessed counts one handled command.
func (r *Recorder) CommandProcessed(failed bool) {
	r.processed.Add(1)
	if failed {
		r.errors.Add(1)
	}
}

// MutationRejected counts one concurrentReload rejection.
func (r *Recorder) MutationRejected() {
	r.rejected.Add(1)
}

// ReloadStarted marks the start of a regeneration.
func (r *Recorder) ReloadStarted() {
	r.reloadStartedAt.Store(time.Now().UnixNano())
}

// ReloadFinished counts one completed regeneration.
func (r *Recorder) ReloadFinished(d time.Duration, failed bool) {
	r.reloadStartedAt.Store(0)
	r.reloads.Add(1)
	if failed {
		r.reloadFailures.Add(1)
	}
	r.lastReloadAt.Store(time.Now().UnixNano())
	r.lastReloadDuration.Store(int64(d))
}

// SetState publishes the actor gauges.
func (r *Recorder) SetState(expectations, historyLen, liveTrackers int, pending, valid bool) {
	r.expectations.Store(int64(expectations))
	r.historyLen.Store(int64(historyLen))
	r.liveTrackers.Store(int64(liveTrackers))
	r.pending.Store(pending)
	r.valid.Store(valid)
}

// Snapshot reads every counter. Fields are read individually, so a snapshot
// taken while the actor runs may mix adjacent states.
func (r *Recorder) Snapshot() UnitStats {
	s := UnitStats{
		Unit:               r.unit,
		Processed:          r.processed.Load(),
		Errors:             r.errors.Load(),
		Rejected:           r.rejected.Load(),
		Reloads:            r.reloads.Load(),
		ReloadFailures:     r.reloadFailures.Load(),
		Expectations:       int(r.expectations.Load()),
		HistoryLen:         int(r.historyLen.Load()),
		LiveTrackers:       int(r.liveTrackers.Load()),
		Pending:            r.pending.Load(),
		Valid:              r.valid.Load(),
		LastReloadDuration: time.Duration(r.lastReloadDuration.Load()),
	}
	if ns := r.lastReloadAt.Load(); ns != 0 {
		s.LastReloadAt = time.Unix(0, ns)
	}
	if ns := r.reloadStartedAt.Load(); ns != 0 && s.Pending {
		s.ReloadRunning = time.Since(time.Unix(0, ns))
	}
	return s
}
