package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/finsight-ai/finsight/internal/analysis"
	"github.com/finsight-ai/finsight/internal/logging"
)

var promptsCmd = &cobra.Command{
	Use:   "prompts",
	Short: "Manage analyst prompt templates",
}

var promptsInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write the built-in role templates to a YAML file for editing",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "roles.yaml"
		if len(args) == 1 {
			path = args[0]
		}

		prompts, err := analysis.NewPromptStore(logging.NewNop())
		if err != nil {
			return err
		}
		if err := prompts.SaveDefaults(path); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote default roles to %s\n", path)
		return nil
	},
}

var promptsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the available analyst roles",
	RunE: func(cmd *cobra.Command, _ []string) error {
		prompts, err := analysis.NewPromptStore(logging.NewNop())
		if err != nil {
			return err
		}
		for _, role := range prompts.Roles() {
			fmt.Fprintln(cmd.OutOrStdout(), role)
		}
		return nil
	},
}

func init() {
	promptsCmd.AddCommand(promptsInitCmd)
	promptsCmd.AddCommand(promptsListCmd)
	rootCmd.AddCommand(promptsCmd)
}
