package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ceterislabs/ceteris/pkg/client"
)

var transferAddr string

var exportCmd = &cobra.Command{
	Use:   "export [file]",
	Short: "Download the server's context document",
	Long:  "Fetch the context document from a running server and write it to a file, or stdout when no file is given.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runExport,
}

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Upload a context document to the server",
	Long:  "Replace a running server's context state with the given document.",
	Args:  cobra.ExactArgs(1),
	RunE:  runImport,
}

func init() {
	for _, cmd := range []*cobra.Command{exportCmd, importCmd} {
		cmd.Flags().StringVar(&transferAddr, "addr", "http://localhost:8080",
			"Server address")
	}
}

func newTransferClient() (*client.Client, error) {
	return client.New(client.Config{
		BaseURL: transferAddr,
		APIKey:  os.Getenv("CETERIS_API_KEY"),
	})
}

func runExport(cmd *cobra.Command, args []string) error {
	c, err := newTransferClient()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(args) == 1 {
		f, err := os.Create(args[0])
		if err != nil {
			return fmt.Errorf("create export file: %w", err)
		}
		defer f.Close()
		if err := c.ExportContexts(cmd.Context(), f); err != nil {
			return err
		}
		fmt.Fprintf(out, "Exported contexts to %s\n", args[0])
		return nil
	}
	return c.ExportContexts(cmd.Context(), out)
}

func runImport(cmd *cobra.Command, args []string) error {
	c, err := newTransferClient()
	if err != nil {
		return err
	}

	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("open import file: %w", err)
	}
	defer f.Close()

	if err := c.ImportContexts(cmd.Context(), f); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Imported contexts from %s\n", args[0])
	return nil
}
