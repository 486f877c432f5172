package cli

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/agentgist/internal/prompt"
)

var promptsCmd = &cobra.Command{
	Use:   "prompts",
	Short: "Inspect and customize the prompt templates",
}

var promptsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the prompt templates and where each one is loaded from",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		for _, name := range prompt.Names() {
			source := "built-in"
			if cfg.PromptDir != "" && fileExists(filepath.Join(cfg.PromptDir, name)) {
				source = filepath.Join(cfg.PromptDir, name)
			}
			cmd.Printf("%-24s %s\n", name, source)
		}
		return nil
	},
}

var promptsShowCmd = &cobra.Command{
	Use:   "show <name>",
	Short: "Print the template that would be used",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		text, err := prompt.NewSet(cfg.PromptDir).Load(args[0])
		if err != nil {
			return err
		}
		cmd.Print(text)
		return nil
	},
}

var promptsInstallCmd = &cobra.Command{
	Use:   "install [dir]",
	Short: "Copy the built-in templates into a directory for editing",
	Long: `Write the built-in templates into dir (default: prompt_dir from the
configuration). Existing files are left untouched. Point prompt_dir at the
directory to use the edited copies.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		dir := cfg.PromptDir
		if len(args) == 1 {
			dir = args[0]
		}
		if dir == "" {
			return errors.New("no directory given and prompt_dir is not configured")
		}
		written, err := prompt.InstallBuiltins(dir)
		if err != nil {
			return err
		}
		if len(written) == 0 {
			cmd.Println("All templates already present.")
			return nil
		}
		for _, p := range written {
			cmd.Printf("Wrote %s\n", p)
		}
		if cfg.PromptDir != dir {
			fmt.Fprintf(cmd.ErrOrStderr(), "Set prompt_dir: %s to use them.\n", dir)
		}
		return nil
	},
}

func init() {
	promptsCmd.AddCommand(promptsListCmd)
	promptsCmd.AddCommand(promptsShowCmd)
	promptsCmd.AddCommand(promptsInstallCmd)
}
