package db

import (
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func mockPostgres(t *testing.T) (*DB, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return NewWithConn(conn, DialectPostgres), mock
}

func TestPostgresLogRunEvent(t *testing.T) {
	d, mock := mockPostgres(t)

	mock.ExpectExec(`INSERT INTO run_events \(run_id, event, state, stage, detail, duration_ms, timestamp\) VALUES \(\$1, \$2, \$3, \$4, \$5, \$6, \$7\)`).
		WithArgs("run-1", "stage_completed", "FILTERING", "fetch", nil, int64(1500), "2026-01-01T00:00:00Z").
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := d.LogRunEvent(RunEvent{
		RunID:      "run-1",
		Event:      "stage_completed",
		State:      "FILTERING",
		Stage:      "fetch",
		DurationMs: 1500,
		Timestamp:  "2026-01-01T00:00:00Z",
	})
	if err != nil {
		t.Fatalf("LogRunEvent: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPostgresGetRunEvents(t *testing.T) {
	d, mock := mockPostgres(t)

	rows := sqlmock.NewRows([]string{"id", "run_id", "event", "state", "stage", "detail", "duration_ms", "timestamp"}).
		AddRow(int64(1), "run-1", "created", "FETCHING", nil, nil, nil, "2026-01-01T00:00:00Z").
		AddRow(int64(2), "run-1", "failed", "FAILED", "fetch", "no posts", int64(10), "2026-01-01T00:00:01Z")
	mock.ExpectQuery(`FROM run_events WHERE run_id = \$1 ORDER BY id ASC`).
		WithArgs("run-1").
		WillReturnRows(rows)

	events, err := d.GetRunEvents("run-1")
	if err != nil {
		t.Fatalf("GetRunEvents: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("len(events) = %d, want 2", len(events))
	}
	if events[1].Detail != "no posts" || events[1].DurationMs != 10 {
		t.Errorf("events[1] = %+v", events[1])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPostgresLogInferenceCall(t *testing.T) {
	d, mock := mockPostgres(t)

	mock.ExpectExec(`INSERT INTO inference_calls`).
		WithArgs("run-1", "report", nil, "groq-deepseek", "deepseek", "complex",
			3000, 120, 2, OutcomeOK, int64(4200), nil, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := d.LogInferenceCall(InferenceCall{
		RunID:        "run-1",
		Stage:        "report",
		Backend:      "groq-deepseek",
		Model:        "deepseek",
		Complexity:   "complex",
		PromptTokens: 3000,
		TokensSaved:  120,
		Attempts:     2,
		Outcome:      OutcomeOK,
		DurationMs:   4200,
	})
	if err != nil {
		t.Fatalf("LogInferenceCall: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPostgresDeleteRun(t *testing.T) {
	d, mock := mockPostgres(t)
	mock.ExpectExec(`DELETE FROM run_events WHERE run_id = \$1`).WithArgs("run-1").WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec(`DELETE FROM inference_calls WHERE run_id = \$1`).WithArgs("run-1").WillReturnResult(sqlmock.NewResult(0, 1))

	if err := d.DeleteRun("run-1"); err != nil {
		t.Fatalf("DeleteRun: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}
