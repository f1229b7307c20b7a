package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/seo-auditor/internal/audit"
)

const runColumns = `id, page_url, target_keyword, notify_email, state, status, error_text, attempts, created_at, updated_at`

// RunStore implements audit.RunStore on Postgres.
type RunStore struct {
	pool  dbPool
	clock audit.Clock
}

// NewRunStore builds a RunStore over pool. A nil clock uses UTC wall time.
func NewRunStore(pool dbPool, clock audit.Clock) (*RunStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &RunStore{pool: pool, clock: clockOrSystem(clock)}, nil
}

// CreateRun inserts run in queued status.
func (s *RunStore) CreateRun(ctx context.Context, run audit.Run) error {
	now := s.clock.Now()
	query := `
INSERT INTO audit_runs (` + runColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, '', 0, $7, $7)
ON CONFLICT (id) DO NOTHING`
	tag, err := s.pool.Exec(ctx, query,
		run.ID,
		run.PageURL,
		run.TargetKeyword,
		run.NotifyEmail,
		run.State,
		string(audit.RunStatusQueued),
		now,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("create run %s: %w", run.ID, audit.ErrAlreadyExists)
	}
	return nil
}

// GetRun loads a run by ID.
func (s *RunStore) GetRun(ctx context.Context, runID string) (audit.Run, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+runColumns+` FROM audit_runs WHERE id = $1`, runID)
	run, err := scanRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return audit.Run{}, fmt.Errorf("get run %s: %w", runID, audit.ErrNotFound)
	}
	if err != nil {
		return audit.Run{}, fmt.Errorf("get run %s: %w", runID, err)
	}
	return run, nil
}

// TransitionRun moves the run to status when its current status allows it.
func (s *RunStore) TransitionRun(ctx context.Context, runID string, status audit.RunStatus, errText string) error {
	query := `
UPDATE audit_runs
SET status = $2,
	error_text = $3,
	attempts = attempts + CASE WHEN $2 = 'running' THEN 1 ELSE 0 END,
	updated_at = $4
WHERE id = $1 AND status = ANY($5)`
	tag, err := s.pool.Exec(ctx, query, runID, string(status), errText, s.clock.Now(), statusStrings(audit.AllowedFrom(status)))
	if err != nil {
		return fmt.Errorf("update run status: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	return s.rejectTransition(ctx, s.pool, runID, status)
}

// CompleteRun inserts the result and flips the run to ready in one transaction.
// If a result already exists for the run the call is a no-op.
func (s *RunStore) CompleteRun(ctx context.Context, runID string, result audit.Result) (err error) {
	if result.Version == "" {
		result.Version = audit.ResultSchemaVersion
	}
	payload, err := result.Encode()
	if err != nil {
		return err
	}
	now := s.clock.Now()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin complete run: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	tag, err := tx.Exec(ctx, `
INSERT INTO audit_results (run_id, version, payload, created_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (run_id) DO NOTHING`, runID, result.Version, payload, now)
	if err != nil {
		return fmt.Errorf("insert result: %w", err)
	}
	if tag.RowsAffected() == 0 {
		_ = tx.Rollback(ctx)
		return nil
	}

	tag, err = tx.Exec(ctx, `
UPDATE audit_runs
SET status = $2, error_text = '', updated_at = $3
WHERE id = $1 AND status = ANY($4)`,
		runID, string(audit.RunStatusReady), now, statusStrings(audit.AllowedFrom(audit.RunStatusReady)))
	if err != nil {
		return fmt.Errorf("mark run ready: %w", err)
	}
	if tag.RowsAffected() == 0 {
		err = s.rejectTransition(ctx, tx, runID, audit.RunStatusReady)
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit complete run: %w", err)
	}
	return nil
}

// GetResult loads and decodes the result of a ready run.
func (s *RunStore) GetResult(ctx context.Context, runID string) (audit.Result, error) {
	var payload []byte
	err := s.pool.QueryRow(ctx, `SELECT payload FROM audit_results WHERE run_id = $1`, runID).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return audit.Result{}, fmt.Errorf("get result %s: %w", runID, audit.ErrNotFound)
	}
	if err != nil {
		return audit.Result{}, fmt.Errorf("get result %s: %w", runID, err)
	}
	return audit.DecodeResult(payload)
}

// ListStaleRuns returns running runs last updated before cutoff, oldest first.
func (s *RunStore) ListStaleRuns(ctx context.Context, cutoff time.Time) ([]audit.Run, error) {
	rows, err := s.pool.Query(ctx, `
SELECT `+runColumns+`
FROM audit_runs
WHERE status = $1 AND updated_at < $2
ORDER BY updated_at ASC`, string(audit.RunStatusRunning), cutoff)
	if err != nil {
		return nil, fmt.Errorf("list stale runs: %w", err)
	}
	defer rows.Close()

	var runs []audit.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate run rows: %w", err)
	}
	return runs, nil
}

type queryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (s *RunStore) rejectTransition(ctx context.Context, q queryRower, runID string, status audit.RunStatus) error {
	var current string
	err := q.QueryRow(ctx, `SELECT status FROM audit_runs WHERE id = $1`, runID).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("transition run %s: %w", runID, audit.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("load run status: %w", err)
	}
	return fmt.Errorf("transition run %s from %s to %s: %w", runID, current, status, audit.ErrInvalidTransition)
}

func scanRun(row pgx.Row) (audit.Run, error) {
	var (
		run    audit.Run
		status string
	)
	err := row.Scan(
		&run.ID,
		&run.PageURL,
		&run.TargetKeyword,
		&run.NotifyEmail,
		&run.State,
		&status,
		&run.ErrorText,
		&run.Attempts,
		&run.CreatedAt,
		&run.UpdatedAt,
	)
	run.Status = audit.RunStatus(status)
	return run, err
}

func statusStrings(statuses []audit.RunStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
