package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/agentgist/internal/orchestrator"
	"github.com/lucasnoah/agentgist/internal/picker"
	"github.com/lucasnoah/agentgist/internal/runstate"
)

// signalContext is cancelled on interrupt, leaving the run in the state it
// had before the stage that was in flight.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt)
}

var runCmd = &cobra.Command{
	Use:   "run <subreddit>",
	Short: "Run a digest end to end, asking for a selection in between",
	Long: `Start a run, fetch and rank posts, ask which candidates to analyze and
finish the report.

The selection comes from --select (candidate ids or 1-based ranks, comma
separated) or, without it, from an interactive picker. Quitting the picker
cancels the run. With --no-wait the command stops at the selection prompt and
the run can be resumed later with "gist resume".`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer cleanup()
		ctx, stop := signalContext(cmd)
		defer stop()

		if !isJSON(cmd) {
			a.runner.SetProgress(cmd.ErrOrStderr())
		}
		query, _ := cmd.Flags().GetString("query")
		limit, _ := cmd.Flags().GetInt("limit")
		rs, err := a.orch.Start(ctx, orchestrator.StartOpts{Subreddit: args[0], Query: query, FetchLimit: limit})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "Run %s started.\n", rs.ID)

		res, err := a.orch.RunUntilPause(ctx, rs.ID)
		if err != nil {
			return err
		}
		if res.State == runstate.StateAwaitingHuman {
			noWait, _ := cmd.Flags().GetBool("no-wait")
			if noWait {
				return printResult(cmd, res)
			}
			res, err = answerInterrupt(ctx, cmd, a, rs.ID, res.Interrupt)
			if err != nil {
				return err
			}
			if res.State == runstate.StateAnalyzing {
				if res, err = a.orch.RunUntilPause(ctx, rs.ID); err != nil {
					return err
				}
			}
		}
		return finish(cmd, a, res)
	},
}

var startCmd = &cobra.Command{
	Use:   "start <subreddit>",
	Short: "Create a run without fetching anything yet",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer cleanup()
		ctx, stop := signalContext(cmd)
		defer stop()

		query, _ := cmd.Flags().GetString("query")
		limit, _ := cmd.Flags().GetInt("limit")
		rs, err := a.orch.Start(ctx, orchestrator.StartOpts{Subreddit: args[0], Query: query, FetchLimit: limit})
		if err != nil {
			return err
		}

		if adv, _ := cmd.Flags().GetBool("advance"); adv {
			if !isJSON(cmd) {
				a.runner.SetProgress(cmd.ErrOrStderr())
			}
			res, err := a.orch.RunUntilPause(ctx, rs.ID)
			if err != nil {
				return err
			}
			return printResult(cmd, res)
		}
		if isJSON(cmd) {
			return writeJSON(cmd.OutOrStdout(), rs)
		}
		fmt.Fprintln(cmd.OutOrStdout(), rs.ID)
		return nil
	},
}

var advanceCmd = &cobra.Command{
	Use:   "advance <run-id>",
	Short: "Run the current stage of a run",
	Long: `Run the current stage of a run and persist the result. A run waiting for a
selection is left as it is. With --until-pause, keep advancing until the run
waits for a selection or finishes.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer cleanup()
		ctx, stop := signalContext(cmd)
		defer stop()

		id, err := a.resolveRun(args[0])
		if err != nil {
			return err
		}
		if !isJSON(cmd) {
			a.runner.SetProgress(cmd.ErrOrStderr())
		}
		var res *orchestrator.AdvanceResult
		if until, _ := cmd.Flags().GetBool("until-pause"); until {
			res, err = a.orch.RunUntilPause(ctx, id)
		} else {
			res, err = a.orch.Advance(ctx, id)
		}
		if err != nil {
			return err
		}
		return printResult(cmd, res)
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume <run-id>",
	Short: "Answer a run's pending selection and finish it",
	Long: `Apply a selection to a run that is waiting for one. Without --select an
interactive picker is shown; quitting it cancels the run. The run is then
advanced to completion unless --no-advance is given.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer cleanup()
		ctx, stop := signalContext(cmd)
		defer stop()

		id, err := a.resolveRun(args[0])
		if err != nil {
			return err
		}
		rs, err := a.store.Get(id)
		if err != nil {
			return err
		}

		var res *orchestrator.AdvanceResult
		if rs.State == runstate.StateAwaitingHuman {
			res, err = answerInterrupt(ctx, cmd, a, id, rs.Interrupt)
		} else {
			// Already past the selection: the orchestrator reports a no-op.
			sel, _ := cmd.Flags().GetString("select")
			res, err = a.orch.Resume(ctx, orchestrator.ResumeOpts{RunID: id, Selection: splitList(sel)})
		}
		if err != nil {
			return err
		}

		if noAdv, _ := cmd.Flags().GetBool("no-advance"); noAdv || res.State != runstate.StateAnalyzing {
			return printResult(cmd, res)
		}
		if !isJSON(cmd) {
			a.runner.SetProgress(cmd.ErrOrStderr())
		}
		if res, err = a.orch.RunUntilPause(ctx, id); err != nil {
			return err
		}
		return finish(cmd, a, res)
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <run-id>",
	Short: "Cancel a run",
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
		reason, _ := cmd.Flags().GetString("reason")
		res, err := a.orch.Cancel(cmd.Context(), id, reason)
		if err != nil {
			return err
		}
		return printResult(cmd, res)
	},
}

var rmCmd = &cobra.Command{
	Use:   "rm <run-id>",
	Short: "Delete a finished run and its logged events",
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
		force, _ := cmd.Flags().GetBool("force")
		if err := a.orch.Remove(id, force); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Removed run %s\n", id)
		return nil
	},
}

// answerInterrupt collects a selection from --select or the picker and
// resumes the run. Declining in the picker cancels the run.
func answerInterrupt(ctx context.Context, cmd *cobra.Command, a *app, id string, in *runstate.Interrupt) (*orchestrator.AdvanceResult, error) {
	raw, _ := cmd.Flags().GetString("select")
	var selection []string
	if raw != "" {
		selection = parseSelection(raw, in)
	} else {
		var err error
		selection, err = picker.Run(in, cmd.InOrStdin(), cmd.ErrOrStderr())
		if errors.Is(err, picker.ErrCancelled) {
			return a.orch.Cancel(ctx, id, "declined in picker")
		}
		if err != nil {
			return nil, err
		}
	}
	return a.orch.Resume(ctx, orchestrator.ResumeOpts{RunID: id, Selection: selection})
}

// parseSelection splits a comma separated list. Numeric entries that are not
// candidate ids are taken as 1-based positions in the candidate list.
func parseSelection(raw string, in *runstate.Interrupt) []string {
	order := in.CandidateIDs()
	ids := make(map[string]bool, len(order))
	for _, id := range order {
		ids[id] = true
	}
	var out []string
	for _, tok := range splitList(raw) {
		if !ids[tok] {
			if n, err := strconv.Atoi(tok); err == nil && n >= 1 && n <= len(order) {
				tok = order[n-1]
			}
		}
		out = append(out, tok)
	}
	return out
}

func splitList(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// finish prints the report of a completed run, or the result otherwise.
func finish(cmd *cobra.Command, a *app, res *orchestrator.AdvanceResult) error {
	if res.State != runstate.StateDone || res.Report == nil {
		return printResult(cmd, res)
	}
	if isJSON(cmd) {
		return writeJSON(cmd.OutOrStdout(), res)
	}
	rs, err := a.store.Get(res.RunID)
	if err != nil {
		return err
	}
	renderReport(cmd.OutOrStdout(), rs)
	return nil
}

func printResult(cmd *cobra.Command, res *orchestrator.AdvanceResult) error {
	if isJSON(cmd) {
		return writeJSON(cmd.OutOrStdout(), res)
	}
	w := cmd.OutOrStdout()
	if res.PrevState != res.State {
		fmt.Fprintf(w, "Run %s: %s → %s (%s)\n", res.RunID, res.PrevState, res.State, res.Action)
	} else {
		fmt.Fprintf(w, "Run %s: %s (%s)\n", res.RunID, res.State, res.Action)
	}
	if res.Message != "" {
		fmt.Fprintf(w, "  %s\n", res.Message)
	}
	if res.Interrupt != nil {
		printInterrupt(w, res.RunID, res.Interrupt)
	}
	return nil
}

func printInterrupt(w io.Writer, runID string, in *runstate.Interrupt) {
	fmt.Fprintf(w, "\n%s\n\n", in.Prompt)
	if len(in.Candidates) == 0 {
		fmt.Fprintf(w, "Cancel with: gist cancel %s\n", runID)
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tID\tSIM\tSCORE\tCOMMENTS\tTITLE")
	for i, c := range in.Candidates {
		sim := "-"
		if in.Ranked {
			sim = fmt.Sprintf("%.2f", c.Similarity)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%d\t%s\n", i+1, c.PostID, sim, c.Score, c.NumComments, truncate(c.Title, 60))
	}
	tw.Flush()
	fmt.Fprintf(w, "\nAnswer with: gist resume %s --select <ids or numbers>\n", runID)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

func init() {
	for _, c := range []*cobra.Command{runCmd, startCmd} {
		c.Flags().StringP("query", "q", "", "what the digest is about (required)")
		c.Flags().IntP("limit", "n", 25, "number of posts to fetch")
		c.MarkFlagRequired("query")
	}
	runCmd.Flags().String("select", "", "comma separated candidate ids or 1-based ranks")
	runCmd.Flags().Bool("no-wait", false, "stop when the run waits for a selection")
	startCmd.Flags().Bool("advance", false, "advance the run until it waits for a selection")
	advanceCmd.Flags().Bool("until-pause", false, "advance until the run waits for a selection or finishes")
	resumeCmd.Flags().String("select", "", "comma separated candidate ids or 1-based ranks")
	resumeCmd.Flags().Bool("no-advance", false, "only apply the selection")
	cancelCmd.Flags().String("reason", "", "why the run is cancelled")
	rmCmd.Flags().Bool("force", false, "remove the run even if it has not finished")

	for _, c := range []*cobra.Command{runCmd, startCmd, advanceCmd, resumeCmd, cancelCmd} {
		c.Flags().String("format", "text", "Output format: text or json")
	}
}
