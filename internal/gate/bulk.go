package gate

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/winguard/winguard/internal/models"
	"github.com/winguard/winguard/internal/observability/logging"
)

// FileSystem is what the deletion guard needs from the OS
type FileSystem interface {
	Lstat(path string) (fs.FileInfo, error)
	ReadDir(path string) ([]fs.DirEntry, error)
	Remove(path string) error
}

// OSFileSystem is the real filesystem
type OSFileSystem struct{}

func (OSFileSystem) Lstat(path string) (fs.FileInfo, error)     { return os.Lstat(path) }
func (OSFileSystem) ReadDir(path string) ([]fs.DirEntry, error) { return os.ReadDir(path) }
func (OSFileSystem) Remove(path string) error                   { return os.Remove(path) }

// EvalSymlinks lets the guard check the directory a linked root points at
func (OSFileSystem) EvalSymlinks(path string) (string, error) { return filepath.EvalSymlinks(path) }

// SymlinkResolver is implemented by filesystems that can resolve links in a
// root path before it is checked.
type SymlinkResolver interface {
	EvalSymlinks(path string) (string, error)
}

// ProtectionChecker is the per-file policy check. *policy.Store satisfies it.
type ProtectionChecker interface {
	IsProtectedFile(path string) bool
}

// BulkDeletionGuard plans and performs recursive deletion under a root
type BulkDeletionGuard struct {
	policy    Decider
	protected ProtectionChecker
	fs        FileSystem
	clock     clock
}

// NewBulkDeletionGuard builds a guard; a nil fsys uses the OS
func NewBulkDeletionGuard(p Decider, protected ProtectionChecker, fsys FileSystem) *BulkDeletionGuard {
	if fsys == nil {
		fsys = OSFileSystem{}
	}
	return &BulkDeletionGuard{policy: p, protected: protected, fs: fsys}
}

// tally is shared by plan and execute
type tally struct {
	bytes   uint64
	items   uint64
	skipped int
}

// visitor is called for each removable leaf (file or link); returning an error
// skips it.
type visitor func(path string, info fs.FileInfo) error

// Resolve returns req with a cleaned root and, when the filesystem supports
// it, links in the root resolved. Policy is decided on this root and the walk
// starts from exactly the same string.
func (g *BulkDeletionGuard) Resolve(req models.BulkDeleteRequest) models.BulkDeleteRequest {
	if strings.TrimSpace(req.RootPath) == "" {
		return req
	}
	root := filepath.Clean(req.RootPath)
	if r, ok := g.fs.(SymlinkResolver); ok {
		if resolved, err := r.EvalSymlinks(root); err == nil {
			root = resolved
		}
	}
	req.RootPath = root
	return req
}

// Plan reports what Execute would remove without touching anything.
func (g *BulkDeletionGuard) Plan(ctx context.Context, req models.BulkDeleteRequest) models.DeletionPlan {
	req = g.Resolve(req)
	plan := models.DeletionPlan{RootPath: req.RootPath, Pattern: req.Pattern()}

	if d := g.policy.Decide(ctx, req); !d.Allowed {
		logging.From(ctx).Warn("bulk_delete", "plan blocked by policy", "root", req.RootPath, "rule", d.Rule, "reason", d.Reason)
		plan.Blocked = true
		plan.Reason = d.Reason
		return plan
	}
	if _, err := filepath.Match(strings.ToLower(req.Pattern()), ""); err != nil {
		plan.Reason = fmt.Sprintf("invalid pattern %q: %v", req.Pattern(), err)
		return plan
	}

	t := g.walkTarget(ctx, req, false, func(string, fs.FileInfo) error { return nil })
	plan.Bytes, plan.Items, plan.Skipped = t.bytes, t.items, t.skipped
	return plan
}

// Execute removes matching entries. Entries that cannot be removed are
// skipped and counted; the outcome is still succeeded.
func (g *BulkDeletionGuard) Execute(ctx context.Context, req models.BulkDeleteRequest) models.MutationOutcome {
	req = g.Resolve(req)
	b := begin(g.clock, req)

	if d := g.policy.Decide(ctx, req); !d.Allowed {
		return b.blocked(ctx, d)
	}
	if _, err := filepath.Match(strings.ToLower(req.Pattern()), ""); err != nil {
		return b.failed(ctx, models.ErrKindValidation, fmt.Sprintf("invalid pattern %q: %v", req.Pattern(), err))
	}

	t := g.walkTarget(ctx, req, true, func(path string, _ fs.FileInfo) error {
		return g.fs.Remove(path)
	})

	b.out.BytesAffected = models.Uint64Ptr(t.bytes)
	b.out.ItemsAffected = models.Uint64Ptr(t.items)
	b.out.Skipped = t.skipped

	if err := ctx.Err(); err != nil {
		return b.failed(ctx, models.ErrKindExec, fmt.Sprintf("cancelled after removing %d items (%s): %v", t.items, humanize.Bytes(t.bytes), err))
	}
	reason := fmt.Sprintf("removed %d items (%s)", t.items, humanize.Bytes(t.bytes))
	if t.skipped > 0 {
		b.out.Kind = models.ErrKindPartialSuccess
		reason += fmt.Sprintf(", %d skipped", t.skipped)
	}
	logging.From(ctx).Info("bulk_delete", "deletion finished", "root", req.RootPath, "items", t.items, "bytes", t.bytes, "skipped", t.skipped)
	return b.succeeded(reason)
}

// walkTarget visits every candidate under the resolved root. A missing or
// unreadable root yields an empty tally. A root that is still a link is
// skipped, never removed.
func (g *BulkDeletionGuard) walkTarget(ctx context.Context, req models.BulkDeleteRequest, removeDirs bool, visit visitor) tally {
	var t tally
	log := logging.From(ctx)
	pattern := strings.ToLower(req.Pattern())

	root := req.RootPath
	info, err := g.fs.Lstat(root)
	if err != nil {
		log.Debug("bulk_delete", "root not accessible", "root", root, "error", err.Error())
		return t
	}
	if info.Mode()&fs.ModeSymlink != 0 {
		g.skip(ctx, &t, root, fmt.Errorf("root is an unresolved link"))
		return t
	}

	if !info.IsDir() {
		// single-file target such as a crash dump
		if matches(pattern, info.Name()) {
			g.leaf(ctx, &t, root, info, visit)
		}
		return t
	}

	entries, err := g.fs.ReadDir(root)
	if err != nil {
		log.Debug("bulk_delete", "root not readable", "root", root, "error", err.Error())
		return t
	}
	for _, e := range entries {
		if ctx.Err() != nil {
			return t
		}
		if !matches(pattern, e.Name()) {
			continue
		}
		g.walk(ctx, &t, filepath.Join(root, e.Name()), removeDirs, visit)
	}
	return t
}

// walk visits path and, for real directories, everything below it.
// Symlinks and junctions are leaves and never followed.
func (g *BulkDeletionGuard) walk(ctx context.Context, t *tally, path string, removeDirs bool, visit visitor) {
	if ctx.Err() != nil {
		return
	}
	info, err := g.fs.Lstat(path)
	if err != nil {
		g.skip(ctx, t, path, err)
		return
	}
	if !info.IsDir() || info.Mode()&fs.ModeSymlink != 0 {
		g.leaf(ctx, t, path, info, visit)
		return
	}

	entries, err := g.fs.ReadDir(path)
	if err != nil {
		g.skip(ctx, t, path, err)
		return
	}
	for _, e := range entries {
		g.walk(ctx, t, filepath.Join(path, e.Name()), removeDirs, visit)
	}
	if removeDirs {
		// fails harmlessly when skipped children remain
		_ = g.fs.Remove(path)
	}
}

func (g *BulkDeletionGuard) leaf(ctx context.Context, t *tally, path string, info fs.FileInfo, visit visitor) {
	if info.Mode().IsRegular() && g.protected.IsProtectedFile(path) {
		g.skip(ctx, t, path, fmt.Errorf("protected file type"))
		return
	}
	if err := visit(path, info); err != nil {
		g.skip(ctx, t, path, err)
		return
	}
	t.items++
	if info.Mode().IsRegular() {
		t.bytes += uint64(info.Size())
	}
}

func (g *BulkDeletionGuard) skip(ctx context.Context, t *tally, path string, err error) {
	t.skipped++
	logging.From(ctx).Debug("bulk_delete", "skipped entry", "path", path, "error", err.Error())
}

// matches is a case-insensitive glob on a single name
func matches(pattern, name string) bool {
	ok, err := filepath.Match(pattern, strings.ToLower(name))
	return err == nil && ok
}
