package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/agentgist/internal/runstate"
)

var exportCmd = &cobra.Command{
	Use:   "export <run-id>",
	Short: "Write a run's serialized state to stdout or a file",
	Long: `Serialize a run so it can be resumed on another machine with "gist import".
The format is the same JSON gist keeps in its state directory.`,
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
		rs, err := a.store.Get(id)
		if err != nil {
			return err
		}
		data, err := a.orch.Serialize(rs)
		if err != nil {
			return err
		}

		out, _ := cmd.Flags().GetString("output")
		if out == "" || out == "-" {
			_, err = cmd.OutOrStdout().Write(data)
			return err
		}
		if err := runstate.WriteAtomic(out, data); err != nil {
			return fmt.Errorf("write %s: %w", out, err)
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "Run %s exported to %s\n", rs.ID, out)
		return nil
	},
}

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Load a run exported with \"gist export\"",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		var data []byte
		if args[0] == "-" {
			data, err = io.ReadAll(cmd.InOrStdin())
		} else {
			data, err = os.ReadFile(args[0])
		}
		if err != nil {
			return fmt.Errorf("read run: %w", err)
		}

		rs, err := a.orch.Import(data)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Imported run %s (%s)\n", rs.ID, rs.State)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringP("output", "o", "", "file to write (default stdout)")
}
