package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/zjrosen/mimic/internal/log"
)

var (
	// ErrRunNotFound is returned when no run matches an ID or ID prefix.
	ErrRunNotFound = errors.New("run not found")
	// ErrAmbiguousRun is returned when an ID prefix matches more than one run.
	ErrAmbiguousRun = errors.New("run id prefix is ambiguous")
)

// runColumns is the list of columns to select for run queries.
const runColumns = `id, scenario, path, units, passed, failure, diff, started_at, duration_ms`

// RunRepository stores scenario runs.
type RunRepository struct {
	db *sql.DB
}

func newRunRepository(db *sql.DB) *RunRepository {
	return &RunRepository{db: db}
}

func scanRun(scanner interface{ Scan(...any) error }) (*RunModel, error) {
	var m RunModel
	err := scanner.Scan(
		&m.ID, &m.Scenario, &m.Path, &m.Units, &m.Passed,
		&m.Failure, &m.Diff, &m.StartedAt, &m.DurationMS,
	)
	return &m, err
}

// Save inserts a run and its records in one transaction. A run without an ID
// is assigned a new UUID.
func (r *RunRepository) Save(ctx context.Context, run *Run) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	model := toRunModel(run)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO runs (`+runColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		model.ID, model.Scenario, model.Path, model.Units, model.Passed,
		model.Failure, model.Diff, model.StartedAt, model.DurationMS,
	); err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO run_records (run_id, seq, unit, caller, line, exception) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare record insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, rec := range toRecordModels(model.ID, run.Records) {
		if _, err := stmt.ExecContext(ctx, rec.RunID, rec.Seq, rec.Unit, rec.Caller, rec.Line, rec.Exception); err != nil {
			return fmt.Errorf("failed to insert record %d: %w", rec.Seq, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run: %w", err)
	}
	log.Debug(log.CatStore, "saved run", "id", run.ID, "scenario", run.Scenario, "records", len(run.Records))
	return nil
}

// List returns the newest runs first. A non-empty scenario restricts the
// result to that scenario; limit <= 0 returns every run.
func (r *RunRepository) List(ctx context.Context, scenario string, limit int) ([]RunSummary, error) {
	query := `SELECT r.id, r.scenario, r.passed, r.started_at, r.duration_ms,
		(SELECT COUNT(*) FROM run_records rr WHERE rr.run_id = r.id)
		FROM runs r`
	var args []any
	if scenario != "" {
		query += ` WHERE r.scenario = ?`
		args = append(args, scenario)
	}
	query += ` ORDER BY r.started_at DESC, r.rowid DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []RunSummary
	for rows.Next() {
		var (
			m     RunModel
			count int
		)
		if err := rows.Scan(&m.ID, &m.Scenario, &m.Passed, &m.StartedAt, &m.DurationMS, &count); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		run := m.toDomain(nil)
		out = append(out, RunSummary{
			ID:        run.ID,
			Scenario:  run.Scenario,
			Passed:    run.Passed,
			StartedAt: run.StartedAt,
			Duration:  run.Duration,
			Records:   count,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate runs: %w", err)
	}
	return out, nil
}

// Load returns the run whose ID equals or starts with id, with its records
// in capture order.
func (r *RunRepository) Load(ctx context.Context, id string) (*Run, error) {
	if id == "" {
		return nil, ErrRunNotFound
	}
	model, err := r.find(ctx, id)
	if err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT run_id, seq, unit, caller, line, exception FROM run_records WHERE run_id = ? ORDER BY seq`,
		model.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []RecordModel
	for rows.Next() {
		var rec RecordModel
		if err := rows.Scan(&rec.RunID, &rec.Seq, &rec.Unit, &rec.Caller, &rec.Line, &rec.Exception); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate records: %w", err)
	}
	return model.toDomain(records), nil
}

func (r *RunRepository) find(ctx context.Context, id string) (*RunModel, error) {
	model, err := scanRun(r.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if err == nil {
		return model, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to find run: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE id LIKE ? ESCAPE '\' LIMIT 2`,
		escapeLike(id)+"%",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to find run: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var matches []*RunModel
	for rows.Next() {
		m, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate runs: %w", err)
	}
	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	case 1:
		return matches[0], nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrAmbiguousRun, id)
	}
}

// Delete removes a run and its records.
func (r *RunRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return nil
}

// Prune deletes all but the newest keep runs and reports how many were removed.
func (r *RunRepository) Prune(ctx context.Context, keep int) (int64, error) {
	if keep < 0 {
		keep = 0
	}
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM runs WHERE id NOT IN (
			SELECT id FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?
		)`, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune runs: %w", err)
	}
	return result.RowsAffected()
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
