package cli

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/agentgist/internal/notify"
	"github.com/lucasnoah/agentgist/internal/runstate"
)

var statusCmd = &cobra.Command{
	Use:   "status [run-id]",
	Short: "Show the state of a run, or of every unfinished run",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		if len(args) == 0 {
			runs, err := a.store.List("")
			if err != nil {
				return err
			}
			var active []runstate.RunState
			for _, rs := range runs {
				if !rs.State.Terminal() {
					active = append(active, rs)
				}
			}
			return printRuns(cmd, active, "No unfinished runs.")
		}

		id, err := a.resolveRun(args[0])
		if err != nil {
			return err
		}
		rs, err := a.store.Get(id)
		if err != nil {
			return err
		}
		if isJSON(cmd) {
			return writeJSON(cmd.OutOrStdout(), rs)
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "Run:       %s\n", rs.ID)
		fmt.Fprintf(w, "Subreddit: r/%s\n", rs.Subreddit)
		fmt.Fprintf(w, "Query:     %s\n", rs.Query)
		fmt.Fprintf(w, "State:     %s\n", rs.State)
		fmt.Fprintf(w, "Created:   %s\n", rs.CreatedAt)
		fmt.Fprintf(w, "Updated:   %s\n", rs.UpdatedAt)
		if rs.Failure != "" {
			fmt.Fprintf(w, "Failure:   %s (in %s)\n", rs.Failure, rs.FailedIn)
		}
		if len(rs.Selection) > 0 {
			fmt.Fprintf(w, "Selection: %s\n", strings.Join(rs.Selection, ", "))
		}
		if len(rs.Results) > 0 {
			fmt.Fprintln(w, "\nStages:")
			tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
			for _, r := range rs.Results {
				fmt.Fprintf(tw, "  %s\t%s\t%s\n", r.Stage, r.Duration, r.CompletedAt)
			}
			tw.Flush()
		}
		if rs.Interrupt != nil {
			printInterrupt(w, rs.ID, rs.Interrupt)
		}
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List runs, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		filter, _ := cmd.Flags().GetString("state")
		state := runstate.State(strings.ToUpper(filter))
		if filter != "" && !state.Valid() {
			return fmt.Errorf("unknown state %q", filter)
		}
		runs, err := a.store.List(state)
		if err != nil {
			return err
		}
		return printRuns(cmd, runs, "No runs found.")
	},
}

var showCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Print the report of a finished run as Markdown",
	Long: `Print the report of a finished run as Markdown.

With --prompt stage/name, print a prompt the run sent to a model instead,
for example --prompt analyze/<post-id> or --prompt report/report.`,
	Args: cobra.ExactArgs(1),
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
		if ref, _ := cmd.Flags().GetString("prompt"); ref != "" {
			stageName, name, ok := strings.Cut(ref, "/")
			if !ok || stageName == "" || name == "" {
				return fmt.Errorf("--prompt wants stage/name, got %q", ref)
			}
			text, err := a.store.GetPrompt(id, stageName, name)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), text)
			return nil
		}
		rs, err := a.store.Get(id)
		if err != nil {
			return err
		}
		if rs.Report() == nil {
			return fmt.Errorf("run %s has no report (state %s)", rs.ID, rs.State)
		}
		if isJSON(cmd) {
			return writeJSON(cmd.OutOrStdout(), rs.Report())
		}
		renderReport(cmd.OutOrStdout(), rs)
		return nil
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow run notifications from the Redis stream",
	Long: `Print lifecycle notifications (interrupts, completions, failures) as they
are published. Requires redis.addr in the configuration.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer cleanup()
		if a.notifier == nil {
			return errors.New("notifications are not configured (set redis.addr)")
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		lastID := "$"
		if all, _ := cmd.Flags().GetBool("all"); all {
			lastID = "0"
		}
		w := cmd.OutOrStdout()
		for {
			events, next, err := a.notifier.Read(ctx, lastID, 50, 5*time.Second)
			if ctx.Err() != nil {
				return nil
			}
			if err != nil {
				return err
			}
			lastID = next
			for _, e := range events {
				if isJSON(cmd) {
					if err := writeJSON(w, e); err != nil {
						return err
					}
					continue
				}
				line := fmt.Sprintf("%s  %-10s %s  r/%s  %s", e.Time.Local().Format("15:04:05"), e.Kind, e.RunID, e.Subreddit, e.State)
				if e.Kind == notify.EventInterrupt {
					line += fmt.Sprintf("  (%d candidates)", e.Candidates)
				}
				if e.Detail != "" {
					line += "  " + e.Detail
				}
				fmt.Fprintln(w, line)
			}
		}
	},
}

func printRuns(cmd *cobra.Command, runs []runstate.RunState, empty string) error {
	if isJSON(cmd) {
		if runs == nil {
			runs = []runstate.RunState{}
		}
		return writeJSON(cmd.OutOrStdout(), runs)
	}
	if len(runs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), empty)
		return nil
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATE\tSUBREDDIT\tUPDATED\tQUERY")
	for _, rs := range runs {
		fmt.Fprintf(w, "%s\t%s\tr/%s\t%s\t%s\n", rs.ID, rs.State, rs.Subreddit, rs.UpdatedAt, truncate(rs.Query, 40))
	}
	return w.Flush()
}

func init() {
	listCmd.Flags().String("state", "", "only runs in this state (e.g. awaiting_human)")
	watchCmd.Flags().Bool("all", false, "replay the whole stream before following")
	showCmd.Flags().String("prompt", "", "print a saved prompt (stage/name) instead of the report")
	for _, c := range []*cobra.Command{statusCmd, listCmd, showCmd, watchCmd} {
		c.Flags().String("format", "text", "Output format: text or json")
	}
}
