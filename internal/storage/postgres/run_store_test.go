package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/seo-auditor/internal/audit"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

var testNow = time.Unix(1700000000, 0).UTC()

func newMockRunStore(t *testing.T) (*RunStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	store, err := NewRunStore(mock, fixedClock{now: testNow})
	require.NoError(t, err)
	return store, mock
}

func TestCreateRunInsertsQueued(t *testing.T) {
	t.Parallel()
	store, mock := newMockRunStore(t)

	run := audit.Run{ID: "run-1", PageURL: "https://example.com/", TargetKeyword: "seo", State: "tenant"}
	mock.ExpectExec("INSERT INTO audit_runs").
		WithArgs("run-1", "https://example.com/", "seo", "", "tenant", "queued", testNow).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO audit_runs").
		WithArgs("run-1", "https://example.com/", "seo", "", "tenant", "queued", testNow).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	require.NoError(t, store.CreateRun(context.Background(), run))
	require.ErrorIs(t, store.CreateRun(context.Background(), run), audit.ErrAlreadyExists)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetRunScansRow(t *testing.T) {
	t.Parallel()
	store, mock := newMockRunStore(t)

	rows := pgxmock.NewRows([]string{
		"id", "page_url", "target_keyword", "notify_email", "state", "status", "error_text", "attempts", "created_at", "updated_at",
	}).AddRow("run-1", "https://example.com/", "", "ops@example.com", "", "running", "", 2, testNow, testNow)
	mock.ExpectQuery("SELECT id, page_url").WithArgs("run-1").WillReturnRows(rows)
	mock.ExpectQuery("SELECT id, page_url").WithArgs("missing").WillReturnError(pgx.ErrNoRows)

	run, err := store.GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	require.Equal(t, audit.RunStatusRunning, run.Status)
	require.Equal(t, 2, run.Attempts)
	require.Equal(t, "ops@example.com", run.NotifyEmail)

	_, err = store.GetRun(context.Background(), "missing")
	require.ErrorIs(t, err, audit.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTransitionRun(t *testing.T) {
	t.Parallel()
	store, mock := newMockRunStore(t)
	ctx := context.Background()

	mock.ExpectExec("UPDATE audit_runs").
		WithArgs("run-1", "running", "", testNow, []string{"queued", "running"}).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, store.TransitionRun(ctx, "run-1", audit.RunStatusRunning, ""))

	mock.ExpectExec("UPDATE audit_runs").
		WithArgs("run-1", "failed", "boom", testNow, []string{"queued", "running"}).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("SELECT status FROM audit_runs").WithArgs("run-1").
		WillReturnRows(pgxmock.NewRows([]string{"status"}).AddRow("ready"))
	err := store.TransitionRun(ctx, "run-1", audit.RunStatusFailed, "boom")
	require.ErrorIs(t, err, audit.ErrInvalidTransition)

	mock.ExpectExec("UPDATE audit_runs").
		WithArgs("ghost", "running", "", testNow, []string{"queued", "running"}).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("SELECT status FROM audit_runs").WithArgs("ghost").WillReturnError(pgx.ErrNoRows)
	err = store.TransitionRun(ctx, "ghost", audit.RunStatusRunning, "")
	require.ErrorIs(t, err, audit.ErrNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCompleteRunCommitsResultAndStatus(t *testing.T) {
	t.Parallel()
	store, mock := newMockRunStore(t)

	result := audit.Result{URL: "https://example.com/", OverallScore: 75}
	payload, err := result.Encode()
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO audit_results").
		WithArgs("run-1", audit.ResultSchemaVersion, payload, testNow).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("UPDATE audit_runs").
		WithArgs("run-1", "ready", testNow, []string{"running"}).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	require.NoError(t, store.CompleteRun(context.Background(), "run-1", result))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCompleteRunSecondWriteIsNoop(t *testing.T) {
	t.Parallel()
	store, mock := newMockRunStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO audit_results").
		WithArgs("run-1", audit.ResultSchemaVersion, pgxmock.AnyArg(), testNow).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectRollback()

	require.NoError(t, store.CompleteRun(context.Background(), "run-1", audit.Result{}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCompleteRunRollsBackOnInvalidTransition(t *testing.T) {
	t.Parallel()
	store, mock := newMockRunStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO audit_results").
		WithArgs("run-1", audit.ResultSchemaVersion, pgxmock.AnyArg(), testNow).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("UPDATE audit_runs").
		WithArgs("run-1", "ready", testNow, []string{"running"}).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("SELECT status FROM audit_runs").WithArgs("run-1").
		WillReturnRows(pgxmock.NewRows([]string{"status"}).AddRow("failed"))
	mock.ExpectRollback()

	err := store.CompleteRun(context.Background(), "run-1", audit.Result{})
	require.ErrorIs(t, err, audit.ErrInvalidTransition)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCompleteRunInsertError(t *testing.T) {
	t.Parallel()
	store, mock := newMockRunStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO audit_results").
		WithArgs("run-1", audit.ResultSchemaVersion, pgxmock.AnyArg(), testNow).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := store.CompleteRun(context.Background(), "run-1", audit.Result{})
	require.ErrorContains(t, err, "disk full")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetResultDecodesPayload(t *testing.T) {
	t.Parallel()
	store, mock := newMockRunStore(t)

	mock.ExpectQuery("SELECT payload FROM audit_results").WithArgs("run-1").
		WillReturnRows(pgxmock.NewRows([]string{"payload"}).
			AddRow([]byte(`{"version":"1.0","url":"https://example.com/","overallScore":88}`)))
	mock.ExpectQuery("SELECT payload FROM audit_results").WithArgs("run-2").
		WillReturnRows(pgxmock.NewRows([]string{"payload"}).AddRow([]byte(`{"version":"0.9"}`)))
	mock.ExpectQuery("SELECT payload FROM audit_results").WithArgs("run-3").WillReturnError(pgx.ErrNoRows)

	res, err := store.GetResult(context.Background(), "run-1")
	require.NoError(t, err)
	require.InDelta(t, 88, res.OverallScore, 1e-9)

	_, err = store.GetResult(context.Background(), "run-2")
	require.ErrorIs(t, err, audit.ErrUnsupportedVersion)

	_, err = store.GetResult(context.Background(), "run-3")
	require.ErrorIs(t, err, audit.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListStaleRuns(t *testing.T) {
	t.Parallel()
	store, mock := newMockRunStore(t)

	cutoff := testNow.Add(-15 * time.Minute)
	rows := pgxmock.NewRows([]string{
		"id", "page_url", "target_keyword", "notify_email", "state", "status", "error_text", "attempts", "created_at", "updated_at",
	}).
		AddRow("a", "https://a.example/", "", "", "", "running", "", 1, cutoff.Add(-time.Hour), cutoff.Add(-time.Hour)).
		AddRow("b", "https://b.example/", "", "", "", "running", "", 3, cutoff.Add(-time.Minute), cutoff.Add(-time.Minute))
	mock.ExpectQuery("SELECT id, page_url").WithArgs("running", cutoff).WillReturnRows(rows)

	runs, err := store.ListStaleRuns(context.Background(), cutoff)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	require.Equal(t, "a", runs[0].ID)
	require.Equal(t, 3, runs[1].Attempts)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewRunStoreRequiresPool(t *testing.T) {
	t.Parallel()
	_, err := NewRunStore(nil, nil)
	require.Error(t, err)
}
