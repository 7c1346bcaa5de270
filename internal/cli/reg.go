package cli

import (
	"github.com/spf13/cobra"

	"github.com/winguard/winguard/internal/models"
)

var regCmd = &cobra.Command{
	Use:   "reg",
	Short: "Registry changes through the registry gate",
	Long: `Add, delete or query registry values with reg.exe.

Deletes under protected keys are refused before any snapshot is taken.
Other deletes export the key first according to --backup.`,
}

var regAddCmd = &cobra.Command{
	Use:   "add <key>",
	Short: "Add or overwrite a value",
	Long: `Add or overwrite a registry value.

Example:
  winguard reg add "HKLM\SOFTWARE\Policies\Microsoft\Windows\DataCollection" --value AllowTelemetry --type REG_DWORD --data 0`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runReg(cmd, models.RegistryAdd, args[0])
	},
}

var regDeleteCmd = &cobra.Command{
	Use:   "delete <key>",
	Short: "Delete a key or one of its values",
	Long: `Delete a registry key, or a single value with --value.

Example:
  winguard reg delete "HKCU\Software\OldVendor" --backup required`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runReg(cmd, models.RegistryDelete, args[0])
	},
}

var regQueryCmd = &cobra.Command{
	Use:   "query <key>",
	Short: "Read a key or one of its values",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runReg(cmd, models.RegistryQuery, args[0])
	},
}

var regOpts registryFlags

func init() {
	for _, c := range []*cobra.Command{regAddCmd, regDeleteCmd, regQueryCmd} {
		c.Flags().StringVar(&regOpts.value, "value", "", "Value name (default: the key itself)")
	}
	regAddCmd.Flags().StringVar(&regOpts.data, "data", "", "Value data")
	regAddCmd.Flags().StringVar(&regOpts.typ, "type", "REG_DWORD", "Value type: REG_DWORD, REG_SZ or REG_MULTI_SZ")
	regDeleteCmd.Flags().StringVar(&regOpts.backup, "backup", "best-effort", "Snapshot before delete: none, best-effort or required")

	regCmd.AddCommand(regAddCmd)
	regCmd.AddCommand(regDeleteCmd)
	regCmd.AddCommand(regQueryCmd)
}

// GetRegCmd export
func GetRegCmd() *cobra.Command {
	return regCmd
}

func runReg(cmd *cobra.Command, op models.RegistryOperation, key string) error {
	req, err := regOpts.request(op, key)
	if err != nil {
		return err
	}
	d, err := app.dispatcher()
	if err != nil {
		return err
	}
	return printOutcome(cmd.OutOrStdout(), d.Execute(cmd.Context(), req))
}
