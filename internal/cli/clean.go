package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/winguard/winguard/internal/models"
)

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Bulk deletion through the deletion guard",
	Long: `Preview or remove the entries of a directory whose names match a pattern.

Protected system areas are refused, with carve-outs for temp and cache
directories. Protected system files are skipped, never deleted. Always run
"clean plan" first; it walks the tree without touching it.`,
}

var cleanPlanCmd = &cobra.Command{
	Use:   "plan <root>",
	Short: "Report what a clean would remove",
	Long: `Report bytes and items a clean would remove, without deleting anything.

Example:
  winguard clean plan C:\Windows\Temp --pattern "*.tmp"`,
	Args: cobra.ExactArgs(1),
	RunE: runCleanPlan,
}

var cleanRunCmd = &cobra.Command{
	Use:   "run <root>",
	Short: "Remove matching entries",
	Args:  cobra.ExactArgs(1),
	RunE:  runCleanRun,
}

var cleanPattern string

func init() {
	for _, c := range []*cobra.Command{cleanPlanCmd, cleanRunCmd} {
		c.Flags().StringVar(&cleanPattern, "pattern", "*", "Glob matched against top-level entry names (case-insensitive)")
	}
	cleanCmd.AddCommand(cleanPlanCmd)
	cleanCmd.AddCommand(cleanRunCmd)
}

// GetCleanCmd export
func GetCleanCmd() *cobra.Command {
	return cleanCmd
}

func runCleanPlan(cmd *cobra.Command, args []string) error {
	d, err := app.dispatcher()
	if err != nil {
		return err
	}
	plan := d.Plan(cmd.Context(), models.BulkDeleteRequest{RootPath: args[0], NamePattern: cleanPattern})

	w := cmd.OutOrStdout()
	if jsonOutput {
		if err := writeJSON(w, plan); err != nil {
			return err
		}
	} else {
		fmt.Fprint(w, FormatPlan(plan))
	}
	switch {
	case plan.Blocked:
		return &ExitError{Code: exitBlocked, Err: fmt.Errorf("blocked: %s", plan.Reason)}
	case plan.Reason != "":
		return &ExitError{Code: exitFailed, Err: fmt.Errorf("%s", plan.Reason)}
	}
	return nil
}

func runCleanRun(cmd *cobra.Command, args []string) error {
	d, err := app.dispatcher()
	if err != nil {
		return err
	}
	req := models.BulkDeleteRequest{RootPath: args[0], NamePattern: cleanPattern}
	return printOutcome(cmd.OutOrStdout(), d.Execute(cmd.Context(), req))
}
