package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/winguard/winguard/internal/version"
)

var rootCmd = &cobra.Command{
	Use:   "winguard",
	Short: "Guarded system maintenance for Windows",
	Long: `winguard: every destructive maintenance step goes through a policy check.
Commands, registry edits, service changes and bulk deletions are checked
against built-in deny-lists and optional CEL rules, run non-interactively
under a timeout, and can be preceded by a restore point or snapshot.`,
	Version:           version.String(),
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setupRuntime,
}

// Global flags
var (
	cfgFile    string
	jsonOutput bool

	flagBackupDir    string
	flagPolicyFile   string
	flagPreset       string
	flagLogFormat    string
	flagLogLevel     string
	flagLogOutput    string
	flagOtel         bool
	flagOtelEndpoint string
	flagOtelProtocol string
	flagReceipt      string
	flagReceiptMode  string
	flagAutoRP       bool
)

// ExitError carries a process exit code out of RunE
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string { return e.Err.Error() }
func (e *ExitError) Unwrap() error { return e.Err }

// Execute runs the root command and exits non-zero on failure
func Execute() {
	err := rootCmd.ExecuteContext(context.Background())
	shutdownRuntime()
	if err == nil {
		return
	}
	fmt.Fprintln(os.Stderr, err)
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		os.Exit(exitErr.Code)
	}
	os.Exit(1)
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "Config file (default: ./.winguard/config.yaml, then ~/.winguard/config.yaml)")
	pf.BoolVar(&jsonOutput, "json", false, "Print results as JSON")
	pf.StringVar(&flagBackupDir, "backup-dir", "", "Directory for the backup index and artifacts")
	pf.StringVarP(&flagPolicyFile, "policy", "P", "", "Path to an operator policy YAML file")
	pf.StringVar(&flagPreset, "preset", "", "Built-in policy preset: baseline or strict")
	pf.StringVar(&flagLogFormat, "log-format", "", "Log format: pretty, jsonl or none")
	pf.StringVar(&flagLogLevel, "log-level", "", "Minimum log level: debug, info, warn, error")
	pf.StringVar(&flagLogOutput, "log-output", "", "Log destination: stderr, stdout or a file path")
	pf.BoolVar(&flagOtel, "otel", false, "Enable OpenTelemetry tracing")
	pf.StringVar(&flagOtelEndpoint, "otel-endpoint", "", "OTLP endpoint")
	pf.StringVar(&flagOtelProtocol, "otel-protocol", "", "OTLP protocol: otlphttp or otlpgrpc")
	pf.StringVar(&flagReceipt, "receipt", "", "Write an audit receipt for every operation to this file")
	pf.StringVar(&flagReceiptMode, "receipt-mode", "", "Receipt write mode: append or overwrite")
	pf.BoolVar(&flagAutoRP, "auto-restore-point", false, "Create a restore point before each mutation")

	rootCmd.AddCommand(GetExecCmd())
	rootCmd.AddCommand(GetRegCmd())
	rootCmd.AddCommand(GetSvcCmd())
	rootCmd.AddCommand(GetCleanCmd())
	rootCmd.AddCommand(GetBackupCmd())
	rootCmd.AddCommand(GetPolicyCmd())
}

// syncConfigFlagToEnv lets --config take the project config slot
func syncConfigFlagToEnv() {
	path := strings.TrimSpace(cfgFile)
	if path == "" {
		return
	}
	_ = os.Setenv("WINGUARD_CONFIG", path)
}
