package analytics

import (
	"database/sql"
	"fmt"
	"math"
	"sort"
	"time"
)

// DB is the interface for database queries used by analytics.
type DB interface {
	Conn() *sql.DB
	Rebind(query string) string
}

// timestamp formats to try when parsing timestamps from the database
var timestampFormats = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05Z",
	"2006-01-02 15:04:05",
}

func parseTimestamp(s string) (time.Time, error) {
	for _, f := range timestampFormats {
		if t, err := time.Parse(f, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp format: %q", s)
}

func withSince(query, column, since string, args []interface{}) (string, []interface{}) {
	if since == "" {
		return query, args
	}
	return query + ` AND ` + column + ` >= ?`, append(args, since)
}

// StageDuration holds duration stats for a stage.
type StageDuration struct {
	Stage string  `json:"stage"`
	Count int     `json:"count"`
	Avg   float64 `json:"avg_seconds"`
	P50   float64 `json:"p50_seconds"`
	P95   float64 `json:"p95_seconds"`
}

// QueryStageDurations returns average and percentile stage run times, taken
// from the duration recorded on each stage_completed event.
func QueryStageDurations(database DB, since string) ([]StageDuration, error) {
	query, args := withSince(`
		SELECT stage, duration_ms FROM run_events
		WHERE event = 'stage_completed' AND stage IS NOT NULL AND duration_ms IS NOT NULL`,
		"timestamp", since, nil)

	rows, err := database.Conn().Query(database.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query stage durations: %w", err)
	}
	defer rows.Close()

	stageDurations := make(map[string][]float64)
	for rows.Next() {
		var stage string
		var ms int64
		if err := rows.Scan(&stage, &ms); err != nil {
			return nil, fmt.Errorf("scan stage duration: %w", err)
		}
		stageDurations[stage] = append(stageDurations[stage], float64(ms)/1000)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var results []StageDuration
	for stage, durations := range stageDurations {
		sort.Float64s(durations)
		results = append(results, StageDuration{
			Stage: stage,
			Count: len(durations),
			Avg:   avg(durations),
			P50:   percentile(durations, 50),
			P95:   percentile(durations, 95),
		})
	}

	sort.Slice(results, func(i, j int) bool {
		return stageOrder(results[i].Stage) < stageOrder(results[j].Stage)
	})
	return results, nil
}

func stageOrder(stage string) int {
	switch stage {
	case "fetch":
		return 0
	case "filter":
		return 1
	case "analyze":
		return 2
	case "report":
		return 3
	default:
		return 4
	}
}

// HumanWait holds how long runs sat in AWAITING_HUMAN before being resumed.
type HumanWait struct {
	Count int     `json:"count"`
	Avg   float64 `json:"avg_minutes"`
	P50   float64 `json:"p50_minutes"`
	P95   float64 `json:"p95_minutes"`
}

// QueryHumanWait pairs each resumed event with the most recent prior
// interrupt event for the same run.
func QueryHumanWait(database DB, since string) (*HumanWait, error) {
	query, args := withSince(`
		SELECT re1.timestamp AS end_ts,
			(SELECT MAX(re2.timestamp) FROM run_events re2
			 WHERE re2.run_id = re1.run_id
			 AND re2.event = 'interrupt'
			 AND re2.id < re1.id) AS start_ts
		FROM run_events re1
		WHERE re1.event = 'resumed'`,
		"re1.timestamp", since, nil)

	rows, err := database.Conn().Query(database.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query human wait: %w", err)
	}
	defer rows.Close()

	var waits []float64
	for rows.Next() {
		var endTS string
		var startTS sql.NullString
		if err := rows.Scan(&endTS, &startTS); err != nil {
			return nil, fmt.Errorf("scan human wait: %w", err)
		}
		if !startTS.Valid {
			continue
		}
		start, err := parseTimestamp(startTS.String)
		if err != nil {
			continue
		}
		end, err := parseTimestamp(endTS)
		if err != nil {
			continue
		}
		if minutes := end.Sub(start).Minutes(); minutes >= 0 {
			waits = append(waits, minutes)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Float64s(waits)
	return &HumanWait{
		Count: len(waits),
		Avg:   avg(waits),
		P50:   percentile(waits, 50),
		P95:   percentile(waits, 95),
	}, nil
}

// InferenceStats summarizes backend calls per backend and stage.
type InferenceStats struct {
	Backend     string  `json:"backend"`
	Stage       string  `json:"stage"`
	Calls       int     `json:"calls"`
	Failures    int     `json:"failures"`
	FailurePct  float64 `json:"failure_pct"`
	AvgAttempts float64 `json:"avg_attempts"`
	AvgSeconds  float64 `json:"avg_seconds"`
	TokensSaved int64   `json:"tokens_saved"`
}

// QueryInferenceStats returns call counts, failure rates, retry pressure and
// optimizer savings per backend and stage.
func QueryInferenceStats(database DB, since string) ([]InferenceStats, error) {
	query, args := withSince(`
		SELECT backend, stage,
			COUNT(*) AS calls,
			SUM(CASE WHEN outcome = 'failed' THEN 1 ELSE 0 END) AS failures,
			SUM(attempts) AS attempts,
			SUM(duration_ms) AS duration_ms,
			SUM(tokens_saved) AS tokens_saved
		FROM inference_calls
		WHERE 1 = 1`,
		"timestamp", since, nil)
	query += ` GROUP BY backend, stage ORDER BY backend, stage`

	rows, err := database.Conn().Query(database.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query inference stats: %w", err)
	}
	defer rows.Close()

	var results []InferenceStats
	for rows.Next() {
		var s InferenceStats
		var attempts, durationMs int64
		if err := rows.Scan(&s.Backend, &s.Stage, &s.Calls, &s.Failures, &attempts, &durationMs, &s.TokensSaved); err != nil {
			return nil, fmt.Errorf("scan inference stats: %w", err)
		}
		s.FailurePct = pct(s.Failures, s.Calls)
		if s.Calls > 0 {
			s.AvgAttempts = math.Round(float64(attempts)/float64(s.Calls)*10) / 10
			s.AvgSeconds = math.Round(float64(durationMs)/float64(s.Calls)/100) / 10
		}
		results = append(results, s)
	}
	return results, rows.Err()
}

// RunThroughput holds per-day run counts.
type RunThroughput struct {
	Date    string `json:"date"`
	Started int    `json:"started"`
	Done    int    `json:"done"`
	Failed  int    `json:"failed"`
}

// QueryRunThroughput returns runs started, completed and failed per day.
func QueryRunThroughput(database DB, since string) ([]RunThroughput, error) {
	query, args := withSince(`
		SELECT SUBSTR(timestamp, 1, 10) AS day,
			SUM(CASE WHEN event = 'created' THEN 1 ELSE 0 END) AS started,
			SUM(CASE WHEN event = 'completed' THEN 1 ELSE 0 END) AS done,
			SUM(CASE WHEN event = 'failed' THEN 1 ELSE 0 END) AS failed
		FROM run_events
		WHERE event IN ('created', 'completed', 'failed')`,
		"timestamp", since, nil)
	query += ` GROUP BY SUBSTR(timestamp, 1, 10) ORDER BY day`

	rows, err := database.Conn().Query(database.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query run throughput: %w", err)
	}
	defer rows.Close()

	var results []RunThroughput
	for rows.Next() {
		var r RunThroughput
		if err := rows.Scan(&r.Date, &r.Started, &r.Done, &r.Failed); err != nil {
			return nil, fmt.Errorf("scan run throughput: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// TimelineEntry is one line of a run's merged event/inference timeline.
type TimelineEntry struct {
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"` // "event" or "inference"
	Event     string `json:"event"`
	Stage     string `json:"stage"`
	Detail    string `json:"detail"`
}

// QueryRunTimeline merges lifecycle events and inference calls for one run,
// ordered by time.
func QueryRunTimeline(database DB, runID string) ([]TimelineEntry, error) {
	var results []TimelineEntry

	evRows, err := database.Conn().Query(
		database.Rebind(`SELECT timestamp, event, stage, detail
		 FROM run_events WHERE run_id = ? ORDER BY id`),
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("query run events: %w", err)
	}
	defer evRows.Close()

	for evRows.Next() {
		var ts, event string
		var stage, detail sql.NullString
		if err := evRows.Scan(&ts, &event, &stage, &detail); err != nil {
			return nil, fmt.Errorf("scan run event: %w", err)
		}
		results = append(results, TimelineEntry{
			Timestamp: ts,
			Type:      "event",
			Event:     event,
			Stage:     stage.String,
			Detail:    detail.String,
		})
	}
	if err := evRows.Err(); err != nil {
		return nil, err
	}

	icRows, err := database.Conn().Query(
		database.Rebind(`SELECT timestamp, stage, post_id, backend, outcome, attempts, duration_ms
		 FROM inference_calls WHERE run_id = ? ORDER BY id`),
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("query inference calls: %w", err)
	}
	defer icRows.Close()

	for icRows.Next() {
		var ts, stage, backend, outcome string
		var postID sql.NullString
		var attempts int
		var durationMs int64
		if err := icRows.Scan(&ts, &stage, &postID, &backend, &outcome, &attempts, &durationMs); err != nil {
			return nil, fmt.Errorf("scan inference call: %w", err)
		}
		detail := fmt.Sprintf("backend=%s attempts=%d %dms", backend, attempts, durationMs)
		if postID.Valid {
			detail = fmt.Sprintf("post=%s %s", postID.String, detail)
		}
		results = append(results, TimelineEntry{
			Timestamp: ts,
			Type:      "inference",
			Event:     outcome,
			Stage:     stage,
			Detail:    detail,
		})
	}
	if err := icRows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Timestamp < results[j].Timestamp
	})
	return results, nil
}

// --- helpers ---

func avg(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return math.Round(sum/float64(len(values))*10) / 10
}

func percentile(sorted []float64, p int) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := float64(p) / 100.0 * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper || upper >= len(sorted) {
		return math.Round(sorted[lower]*10) / 10
	}
	weight := rank - float64(lower)
	return math.Round((sorted[lower]*(1-weight)+sorted[upper]*weight)*10) / 10
}

func pct(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(n)/float64(total)*1000) / 10
}
