package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/winguard/winguard/internal/backup"
	"github.com/winguard/winguard/internal/config"
	"github.com/winguard/winguard/internal/models"
	"github.com/winguard/winguard/internal/observability/logging"
	otelobs "github.com/winguard/winguard/internal/observability/otel"
	"github.com/winguard/winguard/internal/observability/receipt"
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Snapshots, restores and retention",
	Long: `Manage the backup index: restore points, registry exports and file copies.

Registry exports and file copies are restored from their artifact. Restore
points are listed here but rolled back with System Restore.`,
}

var backupListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded backups",
	Args:  cobra.NoArgs,
	RunE:  runBackupList,
}

var backupRestorePointCmd = &cobra.Command{
	Use:   "restore-point [description]",
	Short: "Create a system restore point",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		desc := ""
		if len(args) == 1 {
			desc = args[0]
		}
		return runBackupOp(cmd, "snapshot", args, func(ctx context.Context, m *backup.Manager) (*models.BackupRecord, int, error) {
			rec, err := m.SnapshotRestorePoint(ctx, desc)
			return recordOrNil(rec, err), 0, err
		})
	},
}

var backupRegistryCmd = &cobra.Command{
	Use:   "registry <key>",
	Short: "Export a registry key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBackupOp(cmd, "snapshot", args, func(ctx context.Context, m *backup.Manager) (*models.BackupRecord, int, error) {
			rec, err := m.SnapshotRegistryKey(ctx, args[0])
			return recordOrNil(rec, err), 0, err
		})
	},
}

var backupFileCmd = &cobra.Command{
	Use:   "file <path>",
	Short: "Copy a file into the backup store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBackupOp(cmd, "snapshot", args, func(ctx context.Context, m *backup.Manager) (*models.BackupRecord, int, error) {
			rec, err := m.SnapshotFile(ctx, args[0])
			return recordOrNil(rec, err), 0, err
		})
	},
}

var backupRestoreCmd = &cobra.Command{
	Use:   "restore <id>",
	Short: "Reapply a registry export or file copy",
	Long:  `Reapply a backup. The record stays in the index; restoring twice is harmless.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBackupOp(cmd, "restore", args, func(ctx context.Context, m *backup.Manager) (*models.BackupRecord, int, error) {
			rec, err := m.Get(args[0])
			if err != nil {
				return nil, 0, err
			}
			return &rec, 0, m.Restore(ctx, rec)
		})
	},
}

var backupDiscardCmd = &cobra.Command{
	Use:   "discard <id>",
	Short: "Restore a backup, then remove it and its artifact",
	Long: `Restore a backup and drop it from the index together with its artifact.
Nothing is removed when the restore fails.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBackupOp(cmd, "discard", args, func(ctx context.Context, m *backup.Manager) (*models.BackupRecord, int, error) {
			rec, err := m.RestoreAndDiscard(ctx, args[0])
			if rec.ID == "" {
				return nil, 0, err
			}
			if err != nil {
				return &rec, 0, err
			}
			return &rec, 1, nil
		})
	},
}

var backupRetainCmd = &cobra.Command{
	Use:   "retain",
	Short: "Purge backups older than the retention age",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		maxAge := app.cfg.RetentionAge()
		if retainMaxAge != "" {
			d, err := config.ParseDuration(retainMaxAge)
			if err != nil {
				return fmt.Errorf("invalid --max-age: %w", err)
			}
			maxAge = d
		}
		return runBackupOp(cmd, "retain", args, func(ctx context.Context, m *backup.Manager) (*models.BackupRecord, int, error) {
			n, err := m.Retain(ctx, maxAge)
			return nil, n, err
		})
	},
}

var retainMaxAge string

func init() {
	backupRetainCmd.Flags().StringVar(&retainMaxAge, "max-age", "", "Purge records older than this, e.g. 30d or 72h (default: config retention)")

	backupCmd.AddCommand(backupListCmd)
	backupCmd.AddCommand(backupRestorePointCmd)
	backupCmd.AddCommand(backupRegistryCmd)
	backupCmd.AddCommand(backupFileCmd)
	backupCmd.AddCommand(backupRestoreCmd)
	backupCmd.AddCommand(backupDiscardCmd)
	backupCmd.AddCommand(backupRetainCmd)
}

// GetBackupCmd export
func GetBackupCmd() *cobra.Command {
	return backupCmd
}

func recordOrNil(rec models.BackupRecord, err error) *models.BackupRecord {
	if err != nil {
		return nil
	}
	return &rec
}

func runBackupList(cmd *cobra.Command, _ []string) error {
	m, err := app.backupManager()
	if err != nil {
		return err
	}
	records, err := m.List()
	if err != nil {
		return err
	}
	w := cmd.OutOrStdout()
	if jsonOutput {
		if records == nil {
			records = []models.BackupRecord{}
		}
		return writeJSON(w, records)
	}
	fmt.Fprint(w, FormatRecords(records, time.Now()))
	return nil
}

type backupFunc func(ctx context.Context, m *backup.Manager) (*models.BackupRecord, int, error)

// runBackupOp wraps one backup manager call in a receipt, a span and
// start/complete events.
func runBackupOp(cmd *cobra.Command, operation string, args []string, fn backupFunc) (err error) {
	ctx := cmd.Context()
	sess := receipt.Start(ctx, "winguard backup "+cmd.Name(), args)
	var rec *models.BackupRecord
	removed := 0

	defer func() {
		if werr := sess.Finish(err, receipt.WithBackup(operation, rec, removed)); werr != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to write receipt: %v\n", werr)
		}
	}()

	log := logging.From(ctx)
	start := time.Now()

	var span trace.Span
	ctx, span = otelobs.Start(ctx, "winguard.backup."+operation,
		attribute.String("winguard.backup.operation", operation))
	defer func() {
		if rec != nil {
			span.SetAttributes(otelobs.AttrBackupID.String(rec.ID))
		}
		otelobs.End(span, err)
	}()

	log.Event(ctx, "backup.start", map[string]any{"operation": operation})
	defer func() {
		result := "success"
		if err != nil {
			result = "fail"
		}
		log.Event(ctx, "backup.complete", map[string]any{
			"operation":   operation,
			"duration_ms": time.Since(start).Milliseconds(),
			"result":      result,
		})
	}()

	m, err := app.backupManager()
	if err != nil {
		return err
	}
	rec, removed, err = fn(ctx, m)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	if jsonOutput {
		return writeJSON(w, map[string]any{"operation": operation, "record": rec, "removed": removed})
	}
	switch {
	case operation == "retain":
		fmt.Fprintf(w, "%s✓%s purged %d backup(s)\n", colorGreen, colorReset, removed)
	case rec != nil:
		fmt.Fprintf(w, "%s✓%s %s %s (%s) %s\n", colorGreen, colorReset, operation, rec.ID, rec.Kind, rec.SourceRef)
	}
	return nil
}
