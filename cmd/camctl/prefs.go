package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/camlearnd/internal/preferences"
)

// prefsCmd groups the stock preference subcommands
var prefsCmd = &cobra.Command{
	Use:   "prefs",
	Short: "Manage stock sizing preferences",
}

// prefsListCmd lists every stored preference
var prefsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored stock preferences",
	Long: `List every stored stock preference, ordered by material and
geometry type.

Examples:
  camctl prefs list`,
	RunE: runPrefsList,
}

var (
	prefsSetMaterial    string
	prefsSetGeometry    string
	prefsSetOffsetXY    float64
	prefsSetOffsetZ     float64
	prefsSetOrientation string
	prefsSetShape       string
	prefsSetAllowance   float64
)

// prefsSetCmd saves or replaces one preference
var prefsSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Save a stock preference for a material and geometry pair",
	Long: `Save a stock preference. Saving replaces any stored preference for
the same material and geometry pair. Sizing fields left unset receive the
built-in defaults.

Examples:
  # Wider XY margin for aluminum pocket work
  camctl prefs set --material "6061 aluminum" --geometry-type pocket-heavy --offset-xy 8

  # Round stock with a finishing allowance
  camctl prefs set --material brass --geometry-type simple --shape round --allowance 0.5`,
	RunE: runPrefsSet,
}

func init() {
	prefsCmd.AddCommand(prefsListCmd)
	prefsCmd.AddCommand(prefsSetCmd)

	prefsSetCmd.Flags().StringVar(&prefsSetMaterial, "material", "", "material key, e.g. \"6061 aluminum\"")
	prefsSetCmd.Flags().StringVar(&prefsSetGeometry, "geometry-type", "", "geometry classification, e.g. pocket-heavy")
	prefsSetCmd.Flags().Float64Var(&prefsSetOffsetXY, "offset-xy", 0, "stock margin in X and Y, millimeters")
	prefsSetCmd.Flags().Float64Var(&prefsSetOffsetZ, "offset-z", 0, "stock margin in Z, millimeters")
	prefsSetCmd.Flags().StringVar(&prefsSetOrientation, "orientation", "", "preferred part orientation")
	prefsSetCmd.Flags().StringVar(&prefsSetShape, "shape", "", "raw stock form: rectangular or round")
	prefsSetCmd.Flags().Float64Var(&prefsSetAllowance, "allowance", 0, "machining allowance on all faces, millimeters")
	_ = prefsSetCmd.MarkFlagRequired("material")
	_ = prefsSetCmd.MarkFlagRequired("geometry-type")
}

// runPrefsList handles the prefs list command
func runPrefsList(cmd *cobra.Command, args []string) error {
	ctx, cancel := contextWithTimeout(cmd)
	defer cancel()

	db, err := openDB(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	prefs, err := db.Preferences().List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list preferences: %w", err)
	}

	fmt.Print(renderPrefs(prefs))
	return nil
}

// runPrefsSet handles the prefs set command
func runPrefsSet(cmd *cobra.Command, args []string) error {
	ctx, cancel := contextWithTimeout(cmd)
	defer cancel()

	db, err := openDB(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	p := &preferences.StockPreference{
		Material:             prefsSetMaterial,
		GeometryType:         prefsSetGeometry,
		OffsetXYMM:           prefsSetOffsetXY,
		OffsetZMM:            prefsSetOffsetZ,
		PreferredOrientation: prefsSetOrientation,
		StockShape:           prefsSetShape,
	}
	if cmd.Flags().Changed("allowance") {
		p.MachiningAllowanceMM = &prefsSetAllowance
	}

	if err := db.Preferences().Save(ctx, p); err != nil {
		return fmt.Errorf("failed to save preference: %w", err)
	}

	// Save normalized the keys in place.
	fmt.Println(successStyle.Render(fmt.Sprintf("Saved stock preference for %s/%s.", p.Material, p.GeometryType)))
	return nil
}

// renderPrefs formats the preference list view.
func renderPrefs(prefs []preferences.StockPreference) string {
	if len(prefs) == 0 {
		return dimStyle.Render("No stock preferences stored.") + "\n"
	}

	var b strings.Builder
	b.WriteString(sectionStyle.Render("┃ Stock Preferences") + "\n")
	for _, p := range prefs {
		b.WriteString(labelStyle.Render(fmt.Sprintf("  %s / %s", p.Material, p.GeometryType)) + "\n")
		b.WriteString(dimStyle.Render("    XY: ") + valueStyle.Render(fmt.Sprintf("%.1fmm", p.OffsetXYMM)) +
			dimStyle.Render("  Z: ") + valueStyle.Render(fmt.Sprintf("%.1fmm", p.OffsetZMM)) +
			dimStyle.Render("  Shape: ") + valueStyle.Render(p.StockShape))
		if p.PreferredOrientation != "" {
			b.WriteString(dimStyle.Render("  Orientation: ") + valueStyle.Render(p.PreferredOrientation))
		}
		if p.MachiningAllowanceMM != nil {
			b.WriteString(dimStyle.Render("  Allowance: ") + valueStyle.Render(fmt.Sprintf("%.1fmm", *p.MachiningAllowanceMM)))
		}
		b.WriteString("\n")
	}
	return b.String()
}
