package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/camlearnd/internal/feedback"
)

var (
	exportFormat        string
	exportOperationType string
	exportOutput        string
)

// exportCmd writes the history out with full payload fidelity
var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export feedback history as JSON or CSV",
	Long: `Export the recorded feedback history with every field intact,
including the stored payload documents.

Examples:
  # Structured JSON document to stdout
  camctl export

  # CSV for a spreadsheet
  camctl export --format csv -o history.csv

  # One suggestion category only
  camctl export --operation-type stock_setup`,
	RunE: runExport,
}

func init() {
	exportCmd.Flags().StringVar(&exportFormat, "format", "json", "export format: json or csv")
	exportCmd.Flags().StringVar(&exportOperationType, "operation-type", "", "limit the export to one operation type")
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "write to a file instead of stdout")
}

// runExport handles the export command
func runExport(cmd *cobra.Command, args []string) error {
	ctx, cancel := contextWithTimeout(cmd)
	defer cancel()

	db, err := openDB(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	events, err := db.Feedback().List(ctx, exportOperationType)
	if err != nil {
		return fmt.Errorf("failed to read history: %w", err)
	}

	out, err := feedback.ExportEvents(events, feedback.Format(exportFormat))
	if err != nil {
		return err
	}

	if exportOutput == "" {
		fmt.Print(out)
		return nil
	}

	if err := os.WriteFile(exportOutput, []byte(out), 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", exportOutput, err)
	}
	fmt.Fprintf(os.Stderr, "Exported %d event(s) to %s\n", len(events), exportOutput)
	return nil
}
