package cli

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/winguard/winguard/internal/models"
)

var execCmd = &cobra.Command{
	Use:   "exec [flags] -- <program> [args...]",
	Short: "Run one program through the command gate",
	Long: `Run one external program without a shell, after the dangerous-command check.

The program runs non-interactively and is killed when the timeout expires.

Examples:
  winguard exec -- ipconfig /flushdns
  winguard exec --capture -- dism /Online /Cleanup-Image /ScanHealth
  winguard exec "sfc /scannow"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runExec,
}

var (
	execTimeout time.Duration
	execCapture bool
)

func init() {
	execCmd.Flags().DurationVarP(&execTimeout, "timeout", "t", 0, "Kill the program after this long (default: config default_timeout)")
	execCmd.Flags().BoolVarP(&execCapture, "capture", "c", false, "Capture and print stdout/stderr")
}

// GetExecCmd export
func GetExecCmd() *cobra.Command {
	return execCmd
}

func runExec(cmd *cobra.Command, args []string) error {
	argv, err := commandArgv(args)
	if err != nil {
		return err
	}
	timeout := execTimeout
	if timeout <= 0 {
		timeout = app.cfg.CommandTimeout()
	}

	d, err := app.dispatcher()
	if err != nil {
		return err
	}
	req := models.NewCommandRequest(argv, timeout, execCapture)
	return printOutcome(cmd.OutOrStdout(), d.Execute(cmd.Context(), req))
}
