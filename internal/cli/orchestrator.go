package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var checkInCmd = &cobra.Command{
	Use:   "check-in",
	Short: "Advance every unattended run until it pauses",
	Long: `Evaluates every unfinished run and takes the appropriate action:
  - Fetching, filtering, analyzing or reporting: run stages until the run
    waits for a selection or finishes
  - Waiting for a selection: skip (human input needed)
  - Locked by another process: skip

Designed to be called on a cron schedule. "gist serve" runs it on
server.check_in_schedule.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer cleanup()
		ctx, stop := signalContext(cmd)
		defer stop()

		result, err := a.orch.CheckIn(ctx)
		if err != nil {
			return err
		}
		if isJSON(cmd) {
			return writeJSON(cmd.OutOrStdout(), result)
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "Advanced: %d\nAwaiting: %d\nSkipped:  %d\n", result.Advanced, result.Awaiting, result.Skipped)
		for _, e := range result.Errors {
			fmt.Fprintf(w, "  error: %s\n", e)
		}
		if len(result.Errors) > 0 {
			return fmt.Errorf("%d run(s) failed to advance", len(result.Errors))
		}
		return nil
	},
}

func init() {
	checkInCmd.Flags().String("format", "text", "Output format: text or json")
}
