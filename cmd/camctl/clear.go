package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	clearOperationType string
	clearConfirm       bool
)

// clearCmd deletes recorded history, gated behind --confirm
var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete recorded feedback history",
	Long: `Delete feedback events, optionally scoped to one operation type.
Deletion is permanent. Without --confirm nothing is deleted; the command
only reports what would be removed.

Examples:
  # See what a full clear would remove
  camctl clear

  # Delete one suggestion category
  camctl clear --operation-type stock_setup --confirm`,
	RunE: runClear,
}

func init() {
	clearCmd.Flags().StringVar(&clearOperationType, "operation-type", "", "limit the clear to one operation type")
	clearCmd.Flags().BoolVar(&clearConfirm, "confirm", false, "actually delete; without it the command is a dry run")
}

// runClear handles the clear command
func runClear(cmd *cobra.Command, args []string) error {
	ctx, cancel := contextWithTimeout(cmd)
	defer cancel()

	db, err := openDB(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	scope := scopeLabel(clearOperationType)

	if !clearConfirm {
		stats, err := db.Feedback().Statistics(ctx, clearOperationType)
		if err != nil {
			return fmt.Errorf("failed to read history: %w", err)
		}
		fmt.Println(clearDryRunMessage(stats.Overall.Count, scope))
		return nil
	}

	deleted, err := db.Feedback().Clear(ctx, clearOperationType)
	if err != nil {
		return fmt.Errorf("failed to clear history: %w", err)
	}

	fmt.Println(successStyle.Render(fmt.Sprintf("Deleted %d event(s) (%s).", deleted, scope)))
	return nil
}

// scopeLabel names the clear scope for messages.
func scopeLabel(operationType string) string {
	if operationType == "" {
		return "all operation types"
	}
	return operationType
}

// clearDryRunMessage describes what --confirm would delete.
func clearDryRunMessage(count int, scope string) string {
	return warningStyle.Render(fmt.Sprintf("Nothing deleted: %d event(s) in scope (%s).", count, scope)) +
		"\n" + dimStyle.Render("Re-run with --confirm to delete them.")
}
