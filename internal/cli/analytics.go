package cli

import (
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/agentgist/internal/analytics"
	"github.com/lucasnoah/agentgist/internal/db"
)

var analyticsCmd = &cobra.Command{
	Use:   "analytics",
	Short: "Query run and inference analytics from the event log",
}

var analyticsStageDurationCmd = &cobra.Command{
	Use:   "stage-duration",
	Short: "Average and percentile durations per stage",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withAnalyticsDB(cmd, func(d *db.DB, since string) error {
			rows, err := analytics.QueryStageDurations(d, since)
			if err != nil {
				return err
			}
			if isJSON(cmd) {
				return writeJSON(cmd.OutOrStdout(), rows)
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "STAGE\tCOUNT\tAVG(s)\tP50(s)\tP95(s)")
			for _, r := range rows {
				fmt.Fprintf(w, "%s\t%d\t%.1f\t%.1f\t%.1f\n", r.Stage, r.Count, r.Avg, r.P50, r.P95)
			}
			return w.Flush()
		})
	},
}

var analyticsInferenceCmd = &cobra.Command{
	Use:   "inference",
	Short: "Calls, failures, retries and tokens saved per backend",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withAnalyticsDB(cmd, func(d *db.DB, since string) error {
			rows, err := analytics.QueryInferenceStats(d, since)
			if err != nil {
				return err
			}
			if isJSON(cmd) {
				return writeJSON(cmd.OutOrStdout(), rows)
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "BACKEND\tSTAGE\tCALLS\tFAILED\tFAIL%\tATTEMPTS\tAVG(s)\tSAVED")
			for _, r := range rows {
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%.1f\t%.1f\t%.1f\t%d\n",
					r.Backend, r.Stage, r.Calls, r.Failures, r.FailurePct, r.AvgAttempts, r.AvgSeconds, r.TokensSaved)
			}
			return w.Flush()
		})
	},
}

var analyticsThroughputCmd = &cobra.Command{
	Use:   "throughput",
	Short: "Runs started, completed and failed per day",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withAnalyticsDB(cmd, func(d *db.DB, since string) error {
			rows, err := analytics.QueryRunThroughput(d, since)
			if err != nil {
				return err
			}
			if isJSON(cmd) {
				return writeJSON(cmd.OutOrStdout(), rows)
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "DATE\tSTARTED\tDONE\tFAILED")
			for _, r := range rows {
				fmt.Fprintf(w, "%s\t%d\t%d\t%d\n", r.Date, r.Started, r.Done, r.Failed)
			}
			return w.Flush()
		})
	},
}

var analyticsHumanWaitCmd = &cobra.Command{
	Use:   "human-wait",
	Short: "How long runs waited for a selection",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withAnalyticsDB(cmd, func(d *db.DB, since string) error {
			hw, err := analytics.QueryHumanWait(d, since)
			if err != nil {
				return err
			}
			if isJSON(cmd) {
				return writeJSON(cmd.OutOrStdout(), hw)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Resumed runs: %d\nAverage:      %.1f min\nP50:          %.1f min\nP95:          %.1f min\n",
				hw.Count, hw.Avg, hw.P50, hw.P95)
			return nil
		})
	},
}

var analyticsTimelineCmd = &cobra.Command{
	Use:   "timeline <run-id>",
	Short: "Merged event and inference timeline of one run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		id, err := a.resolveRun(args[0])
		if err != nil {
			return err
		}
		entries, err := analytics.QueryRunTimeline(a.db, id)
		if err != nil {
			return err
		}
		if isJSON(cmd) {
			return writeJSON(cmd.OutOrStdout(), entries)
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TIME\tTYPE\tEVENT\tSTAGE\tDETAIL")
		for _, e := range entries {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", e.Timestamp, e.Type, e.Event, e.Stage, truncate(e.Detail, 60))
		}
		return w.Flush()
	},
}

// withAnalyticsDB opens the event log and resolves --since for fn.
func withAnalyticsDB(cmd *cobra.Command, fn func(d *db.DB, since string) error) error {
	raw, _ := cmd.Flags().GetString("since")
	since, err := parseSince(raw, time.Now())
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	d, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer d.Close()
	return fn(d, since)
}

// parseSince accepts a duration ("24h", "7d") or a date ("2006-01-02") and
// returns a timestamp comparable with the event log's.
func parseSince(raw string, now time.Time) (string, error) {
	if raw == "" {
		return "", nil
	}
	if strings.HasSuffix(raw, "d") {
		if days, err := strconv.Atoi(strings.TrimSuffix(raw, "d")); err == nil && days >= 0 {
			return now.UTC().AddDate(0, 0, -days).Format(db.TimestampFormat), nil
		}
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return now.UTC().Add(-d).Format(db.TimestampFormat), nil
	}
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return t.UTC().Format(db.TimestampFormat), nil
	}
	return "", fmt.Errorf("invalid --since %q: want a duration like 24h or 7d, or a date", raw)
}

func init() {
	for _, c := range []*cobra.Command{analyticsStageDurationCmd, analyticsInferenceCmd, analyticsThroughputCmd, analyticsHumanWaitCmd} {
		c.Flags().String("since", "", "only include activity since a duration ago (24h, 7d) or a date")
	}
	for _, c := range []*cobra.Command{analyticsStageDurationCmd, analyticsInferenceCmd, analyticsThroughputCmd, analyticsHumanWaitCmd, analyticsTimelineCmd} {
		c.Flags().String("format", "text", "Output format: text or json")
		analyticsCmd.AddCommand(c)
	}
}
