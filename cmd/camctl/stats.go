package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/camlearnd/internal/feedback"
)

var statsOperationType string

// statsCmd shows acceptance statistics over the recorded history
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show feedback history statistics",
	Long: `Show acceptance statistics over the recorded feedback history.

Examples:
  # Statistics over the whole history
  camctl stats

  # Statistics for one suggestion category
  camctl stats --operation-type stock_setup`,
	RunE: runStats,
}

func init() {
	statsCmd.Flags().StringVar(&statsOperationType, "operation-type", "", "limit statistics to one operation type")
}

// runStats handles the stats command
func runStats(cmd *cobra.Command, args []string) error {
	ctx, cancel := contextWithTimeout(cmd)
	defer cancel()

	db, err := openDB(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	stats, err := db.Feedback().Statistics(ctx, statsOperationType)
	if err != nil {
		return fmt.Errorf("failed to read statistics: %w", err)
	}

	fmt.Print(renderStats(stats, statsOperationType))
	return nil
}

// renderStats formats the statistics view.
func renderStats(stats *feedback.Statistics, operationType string) string {
	title := "Feedback History"
	if operationType != "" {
		title += ": " + operationType
	}

	var b strings.Builder
	b.WriteString(sectionStyle.Render("┃ "+title) + "\n")

	if stats.Overall.Count == 0 {
		b.WriteString(dimStyle.Render("  No feedback recorded yet.") + "\n")
		return b.String()
	}

	b.WriteString(labelStyle.Render("  Decisions: ") + valueStyle.Render(strconv.Itoa(stats.Overall.Count)))
	b.WriteString(labelStyle.Render("   Accepted: ") + valueStyle.Render(strconv.Itoa(stats.Overall.Accepted)))
	b.WriteString(labelStyle.Render("   Rate: ") + valueStyle.Render(formatRate(stats.Overall.AcceptanceRate)) + "\n")

	b.WriteString(renderBreakdown("By Material", stats.ByMaterial))
	b.WriteString(renderBreakdown("By Geometry", stats.ByGeometryType))
	b.WriteString(renderBreakdown("By Operation", stats.ByOperationType))
	return b.String()
}

// renderBreakdown formats one per-scope section, largest scope first.
func renderBreakdown(title string, rows []feedback.ScopeStats) string {
	if len(rows) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("\n" + sectionStyle.Render("┃ "+title) + "\n")
	for _, r := range rows {
		key := r.Key
		if key == "" {
			key = "(unspecified)"
		}
		b.WriteString(labelStyle.Render(fmt.Sprintf("  %-24s", key)) +
			valueStyle.Render(fmt.Sprintf("%4d", r.Count)) +
			dimStyle.Render(fmt.Sprintf("  %s accepted", formatRate(r.AcceptanceRate))) + "\n")
	}
	return b.String()
}

func formatRate(rate float64) string {
	return fmt.Sprintf("%.0f%%", rate*100)
}
