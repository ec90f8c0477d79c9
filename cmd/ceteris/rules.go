package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ceterislabs/ceteris/internal/prover"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Work with rule files",
	Long:  "Validate rule files without running the server.",
}

var rulesCheckCmd = &cobra.Command{
	Use:   "check <file>",
	Short: "Parse and evaluate a rule file, reporting errors",
	Args:  cobra.ExactArgs(1),
	RunE:  runRulesCheck,
}

func init() {
	rulesCmd.AddCommand(rulesCheckCmd)
}

func runRulesCheck(cmd *cobra.Command, args []string) error {
	path := args[0]

	m := prover.NewMangle()
	if err := m.LoadRulesFile(path); err != nil {
		return fmt.Errorf("check %s: %w", path, err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s: OK\n", path)
	return nil
}
