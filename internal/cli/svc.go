package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/winguard/winguard/internal/gate"
	"github.com/winguard/winguard/internal/models"
)

var svcCmd = &cobra.Command{
	Use:   "svc",
	Short: "Service changes through the service gate",
	Long: `Stop, start or disable a Windows service with sc.exe.

Critical services (RPC, event log, Defender, ...) cannot be stopped or
disabled. Stopping a stopped service and starting a running one succeed.`,
}

func serviceActionCmd(action models.ServiceAction, short string) *cobra.Command {
	return &cobra.Command{
		Use:   string(action) + " <name>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := app.dispatcher()
			if err != nil {
				return err
			}
			req := models.ServiceRequest{Action: action, ServiceID: args[0]}
			return printOutcome(cmd.OutOrStdout(), d.Execute(cmd.Context(), req))
		},
	}
}

var svcStatusCmd = &cobra.Command{
	Use:   "status <name>",
	Short: "Show the current state of a service",
	Args:  cobra.ExactArgs(1),
	RunE:  runSvcStatus,
}

func init() {
	svcCmd.AddCommand(serviceActionCmd(models.ServiceStop, "Stop a service"))
	svcCmd.AddCommand(serviceActionCmd(models.ServiceStart, "Start a service"))
	svcCmd.AddCommand(serviceActionCmd(models.ServiceDisable, "Set a service to disabled start"))
	svcCmd.AddCommand(svcStatusCmd)
}

// GetSvcCmd export
func GetSvcCmd() *cobra.Command {
	return svcCmd
}

func runSvcStatus(cmd *cobra.Command, args []string) error {
	store, err := app.policyStore()
	if err != nil {
		return err
	}
	state, err := gate.NewServiceGate(store, app.exec).Status(cmd.Context(), args[0])
	if err != nil {
		if errors.Is(err, gate.ErrServiceNotFound) {
			return &ExitError{Code: exitFailed, Err: err}
		}
		return err
	}

	w := cmd.OutOrStdout()
	if jsonOutput {
		return writeJSON(w, map[string]string{"service": args[0], "state": string(state)})
	}
	fmt.Fprintf(w, "%s: %s\n", args[0], state)
	return nil
}
