// Package backup captures recovery artifacts before a mutation and can
// reverse them later: system restore points, exported registry keys and
// compressed file copies, tracked in an append-only index.
package backup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/winguard/winguard/internal/models"
	"github.com/winguard/winguard/internal/observability/logging"
	"github.com/winguard/winguard/internal/runner"
)

const (
	// DefaultRestorePointTimeout bounds Checkpoint-Computer, which can take
	// minutes on a busy volume.
	DefaultRestorePointTimeout = 120 * time.Second
	// DefaultToolTimeout applies to reg export/import
	DefaultToolTimeout = 60 * time.Second
	// DefaultRetention is how long records survive Retain
	DefaultRetention = 30 * 24 * time.Hour

	artifactDir = "artifacts"
	component   = "backup"
)

// Options for NewManager
type Options struct {
	Dir                 string
	Executor            runner.Executor
	RestorePointTimeout time.Duration
	ToolTimeout         time.Duration
	Now                 func() time.Time
}

// Manager owns the backup directory
type Manager struct {
	dir    string
	exec   runner.Executor
	rpTO   time.Duration
	toolTO time.Duration
	now    func() time.Time
	index  *index
}

// NewManager validates opts and fills defaults. The directory is created
// lazily on first write.
func NewManager(opts Options) (*Manager, error) {
	if opts.Dir == "" {
		return nil, fmt.Errorf("backup dir is required")
	}
	if opts.Executor == nil {
		opts.Executor = runner.NewExecExecutor()
	}
	if opts.RestorePointTimeout <= 0 {
		opts.RestorePointTimeout = DefaultRestorePointTimeout
	}
	if opts.ToolTimeout <= 0 {
		opts.ToolTimeout = DefaultToolTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	dir, err := filepath.Abs(opts.Dir)
	if err != nil {
		return nil, fmt.Errorf("resolve backup dir: %w", err)
	}
	return &Manager{
		dir:    dir,
		exec:   opts.Executor,
		rpTO:   opts.RestorePointTimeout,
		toolTO: opts.ToolTimeout,
		now:    opts.Now,
		index:  &index{dir: dir},
	}, nil
}

// Dir is the absolute backup directory
func (m *Manager) Dir() string { return m.dir }

func (m *Manager) newRecord(kind models.BackupKind, source, desc string) models.BackupRecord {
	return models.BackupRecord{
		Kind:        kind,
		ID:          uuid.NewString(),
		CreatedAt:   m.now().UTC(),
		SourceRef:   source,
		Description: desc,
	}
}

func (m *Manager) artifactPath(rec models.BackupRecord) string {
	if filepath.IsAbs(rec.ArtifactPath) {
		return rec.ArtifactPath
	}
	return filepath.Join(m.dir, rec.ArtifactPath)
}

// SnapshotRestorePoint asks Windows for a system restore point. The record
// has no artifact; rolling back goes through System Restore.
func (m *Manager) SnapshotRestorePoint(ctx context.Context, description string) (models.BackupRecord, error) {
	if strings.TrimSpace(description) == "" {
		description = "winguard"
	}
	rec := m.newRecord(models.BackupRestorePoint, "system", description)

	script := fmt.Sprintf("Checkpoint-Computer -Description '%s' -RestorePointType 'MODIFY_SETTINGS'",
		strings.ReplaceAll(description, "'", "''"))
	argv := []string{"powershell", "-NoProfile", "-NonInteractive", "-ExecutionPolicy", "Bypass", "-Command", script}
	if err := m.runTool(ctx, argv, m.rpTO); err != nil {
		return models.BackupRecord{}, fmt.Errorf("%w: restore point: %v", ErrBackupFailed, err)
	}

	if err := m.index.append(rec); err != nil {
		return models.BackupRecord{}, fmt.Errorf("%w: %v", ErrBackupFailed, err)
	}
	logging.From(ctx).Info(component, "restore point created", "id", rec.ID, "description", description)
	return rec, nil
}

// SnapshotRegistryKey exports keyPath (and its subkeys) to a .reg artifact.
func (m *Manager) SnapshotRegistryKey(ctx context.Context, keyPath string) (models.BackupRecord, error) {
	if strings.TrimSpace(keyPath) == "" {
		return models.BackupRecord{}, fmt.Errorf("%w: empty registry key", ErrBackupFailed)
	}
	rec := m.newRecord(models.BackupRegistryExport, keyPath, "export of "+keyPath)
	rec.ArtifactPath = filepath.Join(artifactDir, rec.ID+".reg")
	dst := m.artifactPath(rec)

	if err := os.MkdirAll(filepath.Dir(dst), 0700); err != nil {
		return models.BackupRecord{}, fmt.Errorf("%w: %v", ErrBackupFailed, err)
	}
	if err := m.runTool(ctx, []string{"reg", "export", keyPath, dst, "/y"}, m.toolTO); err != nil {
		_ = os.Remove(dst)
		return models.BackupRecord{}, fmt.Errorf("%w: registry export %s: %v", ErrBackupFailed, keyPath, err)
	}

	digest, size, err := hashFile(dst)
	if err != nil {
		return models.BackupRecord{}, fmt.Errorf("%w: export produced no file: %v", ErrBackupFailed, err)
	}
	rec.Digest, rec.Size = digest, size

	if err := m.index.append(rec); err != nil {
		_ = os.Remove(dst)
		return models.BackupRecord{}, fmt.Errorf("%w: %v", ErrBackupFailed, err)
	}
	logging.From(ctx).Info(component, "registry key exported", "id", rec.ID, "key", keyPath, "size", humanize.Bytes(uint64(size)))
	return rec, nil
}

// SnapshotFile stores a zstd-compressed copy of a regular file.
func (m *Manager) SnapshotFile(ctx context.Context, sourcePath string) (models.BackupRecord, error) {
	abs, err := filepath.Abs(sourcePath)
	if err != nil {
		return models.BackupRecord{}, fmt.Errorf("%w: %v", ErrBackupFailed, err)
	}
	st, err := os.Lstat(abs)
	if err != nil {
		return models.BackupRecord{}, fmt.Errorf("%w: %v", ErrBackupFailed, err)
	}
	if !st.Mode().IsRegular() {
		return models.BackupRecord{}, fmt.Errorf("%w: %s is not a regular file", ErrBackupFailed, abs)
	}

	rec := m.newRecord(models.BackupFileCopy, abs, "copy of "+filepath.Base(abs))
	rec.ArtifactPath = filepath.Join(artifactDir, rec.ID+".zst")
	rec.Compressed = true
	rec.Mode = uint32(st.Mode().Perm())
	dst := m.artifactPath(rec)

	digest, size, err := compressFile(abs, dst)
	if err != nil {
		return models.BackupRecord{}, fmt.Errorf("%w: copy %s: %v", ErrBackupFailed, abs, err)
	}
	rec.Digest, rec.Size = digest, size

	if err := m.index.append(rec); err != nil {
		_ = os.Remove(dst)
		return models.BackupRecord{}, fmt.Errorf("%w: %v", ErrBackupFailed, err)
	}
	logging.From(ctx).Info(component, "file copied", "id", rec.ID, "path", abs, "size", humanize.Bytes(uint64(size)))
	return rec, nil
}

// Restore reapplies a snapshot. Restoring the same record twice leaves the
// same state. The record stays in the index.
func (m *Manager) Restore(ctx context.Context, rec models.BackupRecord) error {
	switch rec.Kind {
	case models.BackupRestorePoint:
		return fmt.Errorf("%w: roll back restore point %q with System Restore", ErrRestoreUnsupported, rec.Description)

	case models.BackupRegistryExport:
		art := m.artifactPath(rec)
		if err := m.verifyArtifact(art, rec.Digest); err != nil {
			return err
		}
		if err := m.runTool(ctx, []string{"reg", "import", art}, m.toolTO); err != nil {
			return fmt.Errorf("registry import %s: %w", rec.SourceRef, err)
		}

	case models.BackupFileCopy:
		art := m.artifactPath(rec)
		if _, err := os.Stat(art); err != nil {
			return fmt.Errorf("%w: %s", ErrArtifactMissing, art)
		}
		if err := decompressTo(art, rec.SourceRef, rec.Digest, os.FileMode(rec.Mode)); err != nil {
			return fmt.Errorf("restore %s: %w", rec.SourceRef, err)
		}

	default:
		return fmt.Errorf("%w: kind %q", ErrRestoreUnsupported, rec.Kind)
	}

	logging.From(ctx).Info(component, "backup restored", "id", rec.ID, "kind", string(rec.Kind), "source", rec.SourceRef)
	return nil
}

func (m *Manager) verifyArtifact(path, want string) error {
	got, _, err := hashFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrArtifactMissing, path)
	}
	if err != nil {
		return err
	}
	if want != "" && got != want {
		return fmt.Errorf("%w: want %s, got %s", ErrDigestMismatch, want, got)
	}
	return nil
}

// List returns every record in insertion order
func (m *Manager) List() ([]models.BackupRecord, error) {
	return m.index.readAll()
}

// Get looks up a record by ID
func (m *Manager) Get(id string) (models.BackupRecord, error) {
	records, err := m.index.readAll()
	if err != nil {
		return models.BackupRecord{}, err
	}
	for _, r := range records {
		if r.ID == id {
			return r, nil
		}
	}
	return models.BackupRecord{}, fmt.Errorf("%w: %s", ErrRecordNotFound, id)
}

// Retain purges records older than maxAge together with their artifacts and
// returns how many were removed. Younger records are never touched.
func (m *Manager) Retain(ctx context.Context, maxAge time.Duration) (int, error) {
	if maxAge <= 0 {
		return 0, fmt.Errorf("retention must be positive, got %s", maxAge)
	}
	cutoff := m.now().Add(-maxAge)

	removed := 0
	err := m.index.withLock(func() error {
		records, err := m.index.readAll()
		if err != nil {
			return err
		}
		keep := records[:0:0]
		var purge []models.BackupRecord
		for _, r := range records {
			if r.CreatedAt.Before(cutoff) {
				purge = append(purge, r)
			} else {
				keep = append(keep, r)
			}
		}
		if len(purge) == 0 {
			return nil
		}
		if err := m.index.rewrite(keep); err != nil {
			return err
		}
		for _, r := range purge {
			m.removeArtifact(ctx, r)
		}
		removed = len(purge)
		return nil
	})
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		logging.From(ctx).Info(component, "retention purged records", "removed", removed, "max_age", maxAge.String())
	}
	return removed, nil
}

// RestoreAndDiscard restores a record and then drops it and its artifact.
// Nothing is removed if the restore fails.
func (m *Manager) RestoreAndDiscard(ctx context.Context, id string) (models.BackupRecord, error) {
	rec, err := m.Get(id)
	if err != nil {
		return models.BackupRecord{}, err
	}
	if err := m.Restore(ctx, rec); err != nil {
		return rec, err
	}

	err = m.index.withLock(func() error {
		records, err := m.index.readAll()
		if err != nil {
			return err
		}
		keep := records[:0:0]
		for _, r := range records {
			if r.ID != id {
				keep = append(keep, r)
			}
		}
		if len(keep) == len(records) {
			// discarded concurrently
			return nil
		}
		return m.index.rewrite(keep)
	})
	if err != nil {
		return rec, err
	}
	m.removeArtifact(ctx, rec)
	return rec, nil
}

func (m *Manager) removeArtifact(ctx context.Context, rec models.BackupRecord) {
	if !rec.HasArtifact() {
		return
	}
	if err := os.Remove(m.artifactPath(rec)); err != nil && !os.IsNotExist(err) {
		logging.From(ctx).Warn(component, "failed to remove artifact", "id", rec.ID, "error", err.Error())
	}
}

// runTool runs one maintenance tool and folds every failure into an error.
func (m *Manager) runTool(ctx context.Context, argv []string, timeout time.Duration) error {
	res, err := m.exec.Run(ctx, runner.Spec{Argv: argv, Timeout: timeout, CaptureOutput: true})
	if err != nil {
		return err
	}
	if res.TimedOut {
		return fmt.Errorf("%s timed out after %s", argv[0], timeout)
	}
	if res.ExitCode != 0 {
		msg := strings.TrimSpace(res.Stderr)
		if msg == "" {
			msg = strings.TrimSpace(res.Stdout)
		}
		return fmt.Errorf("%s exited %d: %s", argv[0], res.ExitCode, msg)
	}
	return nil
}
