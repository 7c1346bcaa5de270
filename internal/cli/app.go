package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/winguard/winguard/internal/backup"
	"github.com/winguard/winguard/internal/config"
	"github.com/winguard/winguard/internal/gate"
	"github.com/winguard/winguard/internal/observability"
	"github.com/winguard/winguard/internal/observability/logging"
	otelobs "github.com/winguard/winguard/internal/observability/otel"
	"github.com/winguard/winguard/internal/observability/receipt"
	"github.com/winguard/winguard/internal/policy"
	"github.com/winguard/winguard/internal/runner"
)

// newExecutor is swapped in tests
var newExecutor = func() runner.Executor { return runner.NewExecExecutor() }

// appState is built once per invocation by setupRuntime
type appState struct {
	cfg     *config.Config
	exec    runner.Executor
	closers []func(context.Context) error

	store   *policy.Store
	backups *backup.Manager
}

var app *appState

// setupRuntime loads config and puts op ID, logger, tracer and receipt
// writer into the command context.
func setupRuntime(cmd *cobra.Command, _ []string) error {
	syncConfigFlagToEnv()
	cfg, err := config.Load(flagOverrides(cmd))
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = observability.WithOpID(ctx)

	state := &appState{cfg: cfg, exec: newExecutor()}

	logger, err := logging.NewLogger(cfg.Log)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	ctx = logging.WithLogger(ctx, logger)
	state.closers = append(state.closers, func(context.Context) error { return logger.Close() })

	if cfg.Otel.Enabled {
		h, err := otelobs.Init(ctx, cfg.Otel)
		if err != nil {
			return fmt.Errorf("failed to initialise tracing: %w", err)
		}
		ctx = otelobs.WithHandle(ctx, h)
		state.closers = append(state.closers, h.Shutdown)
	}

	if cfg.Receipt.Path != "" {
		w, err := receipt.NewWriter(cfg.Receipt.Path, cfg.Receipt.Mode)
		if err != nil {
			return fmt.Errorf("failed to open receipt file: %w", err)
		}
		ctx = receipt.WithWriter(ctx, w)
		state.closers = append(state.closers, func(context.Context) error { return w.Close() })
	}

	app = state
	cmd.SetContext(ctx)
	return nil
}

// shutdownRuntime flushes spans and closes files, newest first
func shutdownRuntime() {
	if app == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for i := len(app.closers) - 1; i >= 0; i-- {
		_ = app.closers[i](ctx)
	}
	app = nil
}

// flagOverrides turns explicitly set flags into the top config layer
func flagOverrides(cmd *cobra.Command) *config.Config {
	fl := cmd.Flags()
	o := &config.Config{}
	set := func(name string, dst *string, v string) {
		if fl.Changed(name) {
			*dst = v
		}
	}
	set("backup-dir", &o.BackupDir, flagBackupDir)
	set("policy", &o.PolicyFile, flagPolicyFile)
	set("preset", &o.PolicyPreset, flagPreset)
	set("log-format", &o.Log.Format, flagLogFormat)
	set("log-level", &o.Log.Level, flagLogLevel)
	set("log-output", &o.Log.Output, flagLogOutput)
	set("otel-endpoint", &o.Otel.Endpoint, flagOtelEndpoint)
	set("otel-protocol", &o.Otel.Protocol, flagOtelProtocol)
	set("receipt", &o.Receipt.Path, flagReceipt)
	set("receipt-mode", &o.Receipt.Mode, flagReceiptMode)
	if fl.Changed("otel") {
		o.Otel.Enabled = flagOtel
	}
	if fl.Changed("auto-restore-point") {
		v := flagAutoRP
		o.AutoRestorePoint = &v
	}
	return o
}

func (a *appState) policyStore() (*policy.Store, error) {
	if a.store != nil {
		return a.store, nil
	}
	cfg, err := policy.Resolve(a.cfg.PolicyPreset, a.cfg.PolicyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load policy: %w", err)
	}
	store, err := policy.NewStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("invalid policy: %w", err)
	}
	a.store = store
	return store, nil
}

func (a *appState) backupManager() (*backup.Manager, error) {
	if a.backups != nil {
		return a.backups, nil
	}
	m, err := backup.NewManager(backup.Options{
		Dir:                 a.cfg.BackupDir,
		Executor:            a.exec,
		RestorePointTimeout: a.cfg.RestorePointDeadline(),
	})
	if err != nil {
		return nil, err
	}
	a.backups = m
	return m, nil
}

func (a *appState) dispatcher() (*gate.Dispatcher, error) {
	store, err := a.policyStore()
	if err != nil {
		return nil, err
	}
	backups, err := a.backupManager()
	if err != nil {
		return nil, err
	}
	return gate.NewDispatcher(gate.DispatcherOptions{
		Policy:           store,
		Executor:         a.exec,
		Backups:          backups,
		AutoRestorePoint: a.cfg.RestorePointEnabled(),
		PolicyFile:       a.cfg.PolicyFile,
	})
}

// policyLabel names the active policy for output and receipts
func (a *appState) policyLabel() string {
	if a.store != nil && a.store.Name() != "" {
		return a.store.Name()
	}
	if a.cfg.PolicyPreset != "" {
		return a.cfg.PolicyPreset
	}
	return "builtin"
}
