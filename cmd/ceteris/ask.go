package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ceterislabs/ceteris/internal/config"
	"github.com/ceterislabs/ceteris/internal/kb"
	"github.com/ceterislabs/ceteris/internal/prover"
	"github.com/ceterislabs/ceteris/pkg/ctxstore"
	"github.com/ceterislabs/ceteris/pkg/defaults"
	"github.com/ceterislabs/ceteris/pkg/reason"
	"github.com/ceterislabs/ceteris/pkg/retrieval"
)

var (
	askContextFile string
	askContextID   string
	askThreshold   float64
	askJSONOutput  bool
)

var askCmd = &cobra.Command{
	Use:   "ask <query>",
	Short: "Answer a single query without running the server",
	Long: "Build the reasoning pipeline from the local configuration, " +
		"optionally restore a context document, and answer one query.",
	Args: cobra.ExactArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().StringVar(&askContextFile, "context-file", "",
		"Context document to restore before answering")
	askCmd.Flags().StringVar(&askContextID, "context", "",
		"Context id to scope the query (defaults to the document's active context)")
	askCmd.Flags().Float64Var(&askThreshold, "threshold", 0,
		"Minimum confidence for a successful answer")
	askCmd.Flags().BoolVar(&askJSONOutput, "json", false,
		"Output in JSON format")
}

func runAsk(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	knowledge, err := kb.NewSQLite(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer knowledge.Close()

	mangle := prover.NewMangle()
	if cfg.Reasoner.RulesPath != "" {
		if err := mangle.LoadRulesFile(cfg.Reasoner.RulesPath); err != nil {
			return fmt.Errorf("load rules: %w", err)
		}
	}

	contexts := ctxstore.NewStore()
	if askContextFile != "" {
		if err := contexts.LoadFile(askContextFile); err != nil {
			return fmt.Errorf("load context document: %w", err)
		}
	}

	retriever := retrieval.New(knowledge, contexts, retrieval.Config{
		MinRelevance: cfg.Retrieval.MinRelevance,
	})
	reasoner := defaults.NewReasoner(mangle, contexts)
	engine := reason.NewEngine(mangle, retriever, reasoner, contexts)

	threshold := askThreshold
	if threshold == 0 {
		threshold = cfg.Reasoner.ConfidenceThreshold
	}
	answer, err := engine.Answer(cmd.Context(), args[0], reason.Options{
		ContextID:           askContextID,
		ConfidenceThreshold: threshold,
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if askJSONOutput {
		return printJSON(out, answer)
	}

	if answer.Conclusion != "" {
		fmt.Fprintf(out, "Conclusion: %s\n", answer.Conclusion)
	}
	fmt.Fprintf(out, "Method:     %s\n", answer.Method)
	fmt.Fprintf(out, "Confidence: %.2f\n", answer.Confidence)
	if answer.Explanation != "" {
		fmt.Fprintf(out, "Why:        %s\n", answer.Explanation)
	}
	if !answer.Success {
		fmt.Fprintln(out, "No confident answer.")
	}
	return nil
}
