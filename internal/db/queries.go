package db

import (
	"database/sql"
	"fmt"
	"time"
)

// RunEvent represents a row in the run_events table.
type RunEvent struct {
	ID         int64  `json:"id"`
	RunID      string `json:"run_id"`
	Event      string `json:"event"`
	State      string `json:"state"`
	Stage      string `json:"stage,omitempty"`
	Detail     string `json:"detail,omitempty"`
	DurationMs int64  `json:"duration_ms,omitempty"`
	Timestamp  string `json:"timestamp"`
}

// InferenceCall represents a row in the inference_calls table.
type InferenceCall struct {
	ID           int64  `json:"id"`
	RunID        string `json:"run_id"`
	Stage        string `json:"stage"`
	PostID       string `json:"post_id,omitempty"`
	Backend      string `json:"backend"`
	Model        string `json:"model"`
	Complexity   string `json:"complexity"`
	PromptTokens int    `json:"prompt_tokens"`
	TokensSaved  int    `json:"tokens_saved"`
	Attempts     int    `json:"attempts"`
	Outcome      string `json:"outcome"`
	DurationMs   int64  `json:"duration_ms"`
	Error        string `json:"error,omitempty"`
	Timestamp    string `json:"timestamp"`
}

// Inference call outcomes.
const (
	OutcomeOK     = "ok"
	OutcomeFailed = "failed"
)

// TimestampFormat is fixed-width so timestamps sort lexically.
const TimestampFormat = "2006-01-02T15:04:05.000Z"

func now() string {
	return time.Now().UTC().Format(TimestampFormat)
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullInt(v int64) interface{} {
	if v == 0 {
		return nil
	}
	return v
}

// LogRunEvent inserts a run lifecycle event.
func (d *DB) LogRunEvent(e RunEvent) error {
	ts := e.Timestamp
	if ts == "" {
		ts = now()
	}
	_, err := d.conn.Exec(
		d.Rebind(`INSERT INTO run_events (run_id, event, state, stage, detail, duration_ms, timestamp) VALUES (?, ?, ?, ?, ?, ?, ?)`),
		e.RunID, e.Event, e.State, nullString(e.Stage), nullString(e.Detail), nullInt(e.DurationMs), ts,
	)
	if err != nil {
		return fmt.Errorf("log run event: %w", err)
	}
	return nil
}

// GetRunEvents returns all events for a run, oldest first.
func (d *DB) GetRunEvents(runID string) ([]RunEvent, error) {
	rows, err := d.conn.Query(
		d.Rebind(`SELECT id, run_id, event, state, stage, detail, duration_ms, timestamp
		 FROM run_events WHERE run_id = ? ORDER BY id ASC`),
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("get run events: %w", err)
	}
	defer rows.Close()
	return scanRunEvents(rows)
}

// RecentRunEvents returns the newest events across all runs, newest first.
func (d *DB) RecentRunEvents(limit int) ([]RunEvent, error) {
	rows, err := d.conn.Query(
		d.Rebind(`SELECT id, run_id, event, state, stage, detail, duration_ms, timestamp
		 FROM run_events ORDER BY id DESC LIMIT ?`),
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("recent run events: %w", err)
	}
	defer rows.Close()
	return scanRunEvents(rows)
}

func scanRunEvents(rows *sql.Rows) ([]RunEvent, error) {
	var events []RunEvent
	for rows.Next() {
		var e RunEvent
		var stage, detail sql.NullString
		var duration sql.NullInt64
		if err := rows.Scan(&e.ID, &e.RunID, &e.Event, &e.State, &stage, &detail, &duration, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan run event: %w", err)
		}
		e.Stage = stage.String
		e.Detail = detail.String
		e.DurationMs = duration.Int64
		events = append(events, e)
	}
	return events, rows.Err()
}

// LogInferenceCall records one backend call, including its retries.
func (d *DB) LogInferenceCall(c InferenceCall) error {
	ts := c.Timestamp
	if ts == "" {
		ts = now()
	}
	_, err := d.conn.Exec(
		d.Rebind(`INSERT INTO inference_calls
		 (run_id, stage, post_id, backend, model, complexity, prompt_tokens, tokens_saved, attempts, outcome, duration_ms, error, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		c.RunID, c.Stage, nullString(c.PostID), c.Backend, c.Model, c.Complexity,
		c.PromptTokens, c.TokensSaved, c.Attempts, c.Outcome, c.DurationMs, nullString(c.Error), ts,
	)
	if err != nil {
		return fmt.Errorf("log inference call: %w", err)
	}
	return nil
}

// GetInferenceCalls returns the calls made for a run, oldest first.
func (d *DB) GetInferenceCalls(runID string) ([]InferenceCall, error) {
	rows, err := d.conn.Query(
		d.Rebind(`SELECT id, run_id, stage, post_id, backend, model, complexity, prompt_tokens,
		 tokens_saved, attempts, outcome, duration_ms, error, timestamp
		 FROM inference_calls WHERE run_id = ? ORDER BY id ASC`),
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("get inference calls: %w", err)
	}
	defer rows.Close()

	var calls []InferenceCall
	for rows.Next() {
		var c InferenceCall
		var postID, errMsg sql.NullString
		if err := rows.Scan(&c.ID, &c.RunID, &c.Stage, &postID, &c.Backend, &c.Model, &c.Complexity,
			&c.PromptTokens, &c.TokensSaved, &c.Attempts, &c.Outcome, &c.DurationMs, &errMsg, &c.Timestamp); err != nil {
			return nil, fmt.Errorf("scan inference call: %w", err)
		}
		c.PostID = postID.String
		c.Error = errMsg.String
		calls = append(calls, c)
	}
	return calls, rows.Err()
}

// DeleteRun removes every event and call recorded for a run.
func (d *DB) DeleteRun(runID string) error {
	for _, table := range []string{"run_events", "inference_calls"} {
		if _, err := d.conn.Exec(d.Rebind("DELETE FROM "+table+" WHERE run_id = ?"), runID); err != nil {
			return fmt.Errorf("delete %s for run %s: %w", table, runID, err)
		}
	}
	return nil
}
