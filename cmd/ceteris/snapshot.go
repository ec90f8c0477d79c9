package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ceterislabs/ceteris/pkg/ctxstore"
)

var snapshotJSONOutput bool

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Inspect context snapshot documents",
	Long:  "Validate and inspect exported context documents without running the server.",
}

var snapshotInfoCmd = &cobra.Command{
	Use:   "info <file>",
	Short: "Show summary information about a snapshot document",
	Args:  cobra.ExactArgs(1),
	RunE:  runSnapshotInfo,
}

var snapshotListCmd = &cobra.Command{
	Use:   "list <file>",
	Short: "List the contexts in a snapshot document",
	Args:  cobra.ExactArgs(1),
	RunE:  runSnapshotList,
}

func init() {
	snapshotCmd.PersistentFlags().BoolVar(&snapshotJSONOutput, "json", false,
		"Output in JSON format")

	snapshotCmd.AddCommand(snapshotInfoCmd)
	snapshotCmd.AddCommand(snapshotListCmd)
}

// loadSnapshot reads a snapshot document into a fresh store, validating it
// in the process.
func loadSnapshot(path string) (*ctxstore.Store, error) {
	s := ctxstore.NewStore()
	if err := s.LoadFile(path); err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	return s, nil
}

func runSnapshotInfo(cmd *cobra.Command, args []string) error {
	s, err := loadSnapshot(args[0])
	if err != nil {
		return err
	}

	activeID := ""
	if active, ok := s.Active(); ok {
		activeID = active.ID
	}

	out := cmd.OutOrStdout()

	if snapshotJSONOutput {
		return printJSON(out, map[string]any{
			"contexts":          s.Len(),
			"active_context_id": activeID,
			"history_depth":     len(s.History()),
		})
	}

	fmt.Fprintf(out, "Contexts:      %d\n", s.Len())
	if activeID != "" {
		fmt.Fprintf(out, "Active:        %s\n", activeID)
	}
	fmt.Fprintf(out, "History depth: %d\n", len(s.History()))

	return nil
}

func runSnapshotList(cmd *cobra.Command, args []string) error {
	s, err := loadSnapshot(args[0])
	if err != nil {
		return err
	}

	contexts := s.List()
	out := cmd.OutOrStdout()

	if snapshotJSONOutput {
		items := make([]map[string]any, len(contexts))
		for i, c := range contexts {
			items[i] = map[string]any{
				"id":        c.ID,
				"name":      c.Name,
				"type":      c.Type,
				"parent_id": c.ParentID,
				"variables": len(c.Variables),
				"created":   c.CreatedAt,
			}
		}
		return printJSON(out, map[string]any{
			"contexts": items,
			"total":    len(items),
		})
	}

	if len(contexts) == 0 {
		fmt.Fprintln(out, "No contexts found.")
		return nil
	}

	w := newTabWriter(out)
	fmt.Fprintln(w, "ID\tNAME\tTYPE\tVARS\tPARENT\tCREATED")
	for _, c := range contexts {
		parent := c.ParentID
		if parent == "" {
			parent = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
			c.ID,
			c.Name,
			c.Type,
			len(c.Variables),
			parent,
			c.CreatedAt.Format("2006-01-02 15:04"),
		)
	}
	w.Flush()

	return nil
}

// printJSON marshals v to JSON and writes to the given writer.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// newTabWriter returns a configured tabwriter for aligned columns.
func newTabWriter(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
}
