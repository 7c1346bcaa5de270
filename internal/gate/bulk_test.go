package gate

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/winguard/winguard/internal/models"
	"github.com/winguard/winguard/internal/policy"
)

// memFS is an in-memory FileSystem keyed by cleaned paths
type memFS struct {
	mu    sync.Mutex
	nodes map[string]*memNode
}

type memNode struct {
	size   int64
	dir    bool
	link   bool
	denied bool
}

type memInfo struct {
	name string
	node memNode
}

func (i memInfo) Name() string { return i.name }
func (i memInfo) Size() int64  { return i.node.size }
func (i memInfo) Mode() fs.FileMode {
	switch {
	case i.node.link:
		return fs.ModeSymlink | 0777
	case i.node.dir:
		return fs.ModeDir | 0755
	}
	return 0644
}
func (i memInfo) ModTime() time.Time { return time.Time{} }
func (i memInfo) IsDir() bool        { return i.node.dir && !i.node.link }
func (i memInfo) Sys() any           { return nil }

func newMemFS() *memFS {
	return &memFS{nodes: map[string]*memNode{}}
}

// mkdirs creates path and its parents
func (m *memFS) mkdirs(path string) {
	for p := filepath.Clean(path); ; p = filepath.Dir(p) {
		if _, ok := m.nodes[p]; !ok {
			m.nodes[p] = &memNode{dir: true}
		}
		if filepath.Dir(p) == p {
			return
		}
	}
}

func (m *memFS) file(path string, size int64) *memNode {
	m.mkdirs(filepath.Dir(path))
	n := &memNode{size: size}
	m.nodes[filepath.Clean(path)] = n
	return n
}

func (m *memFS) exists(path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.nodes[filepath.Clean(path)]
	return ok
}

func (m *memFS) Lstat(path string) (fs.FileInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.nodes[filepath.Clean(path)]
	if !ok {
		return nil, &fs.PathError{Op: "lstat", Path: path, Err: fs.ErrNotExist}
	}
	return memInfo{name: filepath.Base(path), node: *n}, nil
}

func (m *memFS) ReadDir(path string) ([]fs.DirEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	path = filepath.Clean(path)
	n, ok := m.nodes[path]
	if !ok {
		return nil, &fs.PathError{Op: "readdir", Path: path, Err: fs.ErrNotExist}
	}
	if n.denied {
		return nil, &fs.PathError{Op: "readdir", Path: path, Err: fs.ErrPermission}
	}
	var entries []fs.DirEntry
	for p, child := range m.nodes {
		if p != path && filepath.Dir(p) == path {
			entries = append(entries, fs.FileInfoToDirEntry(memInfo{name: filepath.Base(p), node: *child}))
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	return entries, nil
}

func (m *memFS) Remove(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	path = filepath.Clean(path)
	n, ok := m.nodes[path]
	if !ok {
		return &fs.PathError{Op: "remove", Path: path, Err: fs.ErrNotExist}
	}
	if n.denied {
		return &fs.PathError{Op: "remove", Path: path, Err: fs.ErrPermission}
	}
	if n.dir && !n.link {
		for p := range m.nodes {
			if p != path && filepath.Dir(p) == path {
				return &fs.PathError{Op: "remove", Path: path, Err: errors.New("directory not empty")}
			}
		}
	}
	delete(m.nodes, path)
	return nil
}

func newGuard(t *testing.T, fsys FileSystem) *BulkDeletionGuard {
	t.Helper()
	store := builtinPolicy(t)
	return NewBulkDeletionGuard(store, store, fsys)
}

func TestBulkDeletion_WindowsTempWithDeniedFiles(t *testing.T) {
	m := newMemFS()
	root := filepath.Join("C:", "Windows", "Temp")
	var want uint64
	for i := 0; i < 10; i++ {
		size := int64(100 * (i + 1))
		n := m.file(filepath.Join(root, fmt.Sprintf("tmp%02d.log", i)), size)
		if i == 3 || i == 7 {
			n.denied = true
			continue
		}
		want += uint64(size)
	}
	g := newGuard(t, m)
	req := models.BulkDeleteRequest{RootPath: root}

	out := g.Execute(context.Background(), req)

	require.Equal(t, models.StatusSucceeded, out.Status)
	assert.Equal(t, models.ErrKindPartialSuccess, out.Kind)
	require.NotNil(t, out.BytesAffected)
	assert.Equal(t, want, *out.BytesAffected)
	require.NotNil(t, out.ItemsAffected)
	assert.Equal(t, uint64(8), *out.ItemsAffected)
	assert.Equal(t, 2, out.Skipped)
	assert.True(t, m.exists(filepath.Join(root, "tmp03.log")))
	assert.False(t, m.exists(filepath.Join(root, "tmp00.log")))
	assert.True(t, m.exists(root), "root itself is kept")
}

func TestBulkDeletion_CriticalAreaBlocked(t *testing.T) {
	m := newMemFS()
	root := filepath.Join("C:", "Windows", "System32")
	m.file(filepath.Join(root, "drivers", "etc", "hosts"), 824)
	g := newGuard(t, m)
	req := models.BulkDeleteRequest{RootPath: root, NamePattern: "*"}

	plan := g.Plan(context.Background(), req)
	assert.True(t, plan.Blocked)
	assert.Zero(t, plan.Bytes)
	assert.Zero(t, plan.Items)
	assert.NotEmpty(t, plan.Reason)

	out := g.Execute(context.Background(), req)
	assert.Equal(t, models.StatusBlocked, out.Status)
	assert.Equal(t, policy.RuleCriticalFSArea, out.Rule)
	assert.True(t, m.exists(filepath.Join(root, "drivers", "etc", "hosts")))
}

func TestBulkDeletion_TempCarveOutNotBlocked(t *testing.T) {
	m := newMemFS()
	root := filepath.Join("C:", "Windows", "System32", "temp", "logs")
	m.file(filepath.Join(root, "a.log"), 10)
	g := newGuard(t, m)

	plan := g.Plan(context.Background(), models.BulkDeleteRequest{RootPath: root})
	assert.False(t, plan.Blocked)
	assert.Equal(t, uint64(10), plan.Bytes)
}

func TestBulkDeletion_ProtectedFilesSkipped(t *testing.T) {
	m := newMemFS()
	root := filepath.Join("D:", "Games", "Logs")
	m.file(filepath.Join(root, "a.log"), 5)
	m.file(filepath.Join(root, "b.dll"), 7)
	m.file(filepath.Join(root, "c.EXE"), 11)
	m.file(filepath.Join(root, "d.txt"), 13)
	g := newGuard(t, m)
	req := models.BulkDeleteRequest{RootPath: root}

	plan := g.Plan(context.Background(), req)
	assert.Equal(t, uint64(18), plan.Bytes)
	assert.Equal(t, uint64(2), plan.Items)
	assert.Equal(t, 2, plan.Skipped)

	out := g.Execute(context.Background(), req)
	require.Equal(t, models.StatusSucceeded, out.Status)
	assert.Equal(t, plan.Bytes, *out.BytesAffected)
	assert.Equal(t, plan.Items, *out.ItemsAffected)
	assert.Equal(t, plan.Skipped, out.Skipped)
	assert.True(t, m.exists(filepath.Join(root, "b.dll")))
	assert.True(t, m.exists(filepath.Join(root, "c.EXE")))
	assert.False(t, m.exists(filepath.Join(root, "d.txt")))
}

func TestBulkDeletion_PatternTopLevelOnly(t *testing.T) {
	m := newMemFS()
	root := filepath.Join("D:", "Apps", "Logs")
	m.file(filepath.Join(root, "a.log"), 1)
	m.file(filepath.Join(root, "B.LOG"), 2)
	m.file(filepath.Join(root, "c.txt"), 4)
	m.file(filepath.Join(root, "old", "x.log"), 8)
	g := newGuard(t, m)

	out := g.Execute(context.Background(), models.BulkDeleteRequest{RootPath: root, NamePattern: "*.Log"})

	require.Equal(t, models.StatusSucceeded, out.Status)
	assert.Equal(t, uint64(3), *out.BytesAffected)
	assert.Equal(t, models.ErrKindNone, out.Kind)
	assert.True(t, m.exists(filepath.Join(root, "c.txt")))
	assert.True(t, m.exists(filepath.Join(root, "old", "x.log")), "pattern applies to direct entries")
}

func TestBulkDeletion_RecursesIntoMatchedDirectories(t *testing.T) {
	m := newMemFS()
	root := filepath.Join("D:", "Apps", "Logs")
	m.file(filepath.Join(root, "sessions", "s1.json"), 3)
	m.file(filepath.Join(root, "sessions", "nested", "s2.json"), 5)
	g := newGuard(t, m)

	plan := g.Plan(context.Background(), models.BulkDeleteRequest{RootPath: root})
	assert.Equal(t, uint64(8), plan.Bytes)
	assert.Equal(t, uint64(2), plan.Items)
	assert.True(t, m.exists(filepath.Join(root, "sessions", "s1.json")), "plan must not delete")

	out := g.Execute(context.Background(), models.BulkDeleteRequest{RootPath: root})
	assert.Equal(t, uint64(8), *out.BytesAffected)
	assert.Equal(t, uint64(2), *out.ItemsAffected)
	assert.False(t, m.exists(filepath.Join(root, "sessions")))
	assert.True(t, m.exists(root))
}

func TestBulkDeletion_UnreadableDirectorySkipped(t *testing.T) {
	m := newMemFS()
	root := filepath.Join("D:", "Apps", "Logs")
	m.file(filepath.Join(root, "a.log"), 4)
	m.file(filepath.Join(root, "locked", "b.log"), 6)
	m.nodes[filepath.Join(root, "locked")].denied = true
	g := newGuard(t, m)

	plan := g.Plan(context.Background(), models.BulkDeleteRequest{RootPath: root})
	assert.Equal(t, uint64(4), plan.Bytes)
	assert.Equal(t, 1, plan.Skipped)
}

func TestBulkDeletion_SymlinkNotFollowed(t *testing.T) {
	m := newMemFS()
	root := filepath.Join("D:", "Apps", "Logs")
	m.mkdirs(root)
	m.nodes[filepath.Join(root, "link")] = &memNode{dir: true, link: true}
	m.file(filepath.Join(root, "link", "target.log"), 99)
	g := newGuard(t, m)

	out := g.Execute(context.Background(), models.BulkDeleteRequest{RootPath: root})

	require.Equal(t, models.StatusSucceeded, out.Status)
	assert.Equal(t, uint64(1), *out.ItemsAffected)
	assert.Zero(t, *out.BytesAffected)
	assert.False(t, m.exists(filepath.Join(root, "link")))
	assert.True(t, m.exists(filepath.Join(root, "link", "target.log")), "link target untouched")
}

func TestBulkDeletion_SingleFileTarget(t *testing.T) {
	m := newMemFS()
	dump := filepath.Join("C:", "Windows", "MEMORY.DMP")
	m.file(dump, 4096)
	g := newGuard(t, m)

	out := g.Execute(context.Background(), models.BulkDeleteRequest{RootPath: dump, NamePattern: "*.dmp"})

	require.Equal(t, models.StatusSucceeded, out.Status)
	assert.Equal(t, uint64(4096), *out.BytesAffected)
	assert.False(t, m.exists(dump))
}

func TestBulkDeletion_MissingRoot(t *testing.T) {
	g := newGuard(t, newMemFS())
	req := models.BulkDeleteRequest{RootPath: filepath.Join("D:", "nowhere")}

	out := g.Execute(context.Background(), req)
	require.Equal(t, models.StatusSucceeded, out.Status)
	assert.Equal(t, uint64(0), *out.BytesAffected)
	assert.Equal(t, uint64(0), *out.ItemsAffected)

	plan := g.Plan(context.Background(), req)
	assert.False(t, plan.Blocked)
	assert.Zero(t, plan.Items)
}

func TestBulkDeletion_InvalidPattern(t *testing.T) {
	m := newMemFS()
	root := filepath.Join("D:", "Apps", "Logs")
	m.file(filepath.Join(root, "a.log"), 1)
	g := newGuard(t, m)
	req := models.BulkDeleteRequest{RootPath: root, NamePattern: "[a-"}

	out := g.Execute(context.Background(), req)
	assert.Equal(t, models.ErrKindValidation, out.Kind)
	assert.True(t, m.exists(filepath.Join(root, "a.log")))

	plan := g.Plan(context.Background(), req)
	assert.Contains(t, plan.Reason, "invalid pattern")
}

func TestBulkDeletion_Cancelled(t *testing.T) {
	m := newMemFS()
	root := filepath.Join("D:", "Apps", "Logs")
	m.file(filepath.Join(root, "a.log"), 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := newGuard(t, m).Execute(ctx, models.BulkDeleteRequest{RootPath: root})

	assert.Equal(t, models.StatusFailed, out.Status)
	assert.Contains(t, out.Reason, "cancelled")
	assert.True(t, m.exists(filepath.Join(root, "a.log")))
}

func TestBulkDeletion_OSFileSystem(t *testing.T) {
	root := filepath.Join(t.TempDir(), "applogs")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "nested"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "one.log"), []byte("12345"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "nested", "two.log"), []byte("123"), 0644))

	g := newGuard(t, nil)
	out := g.Execute(context.Background(), models.BulkDeleteRequest{RootPath: root})

	require.Equal(t, models.StatusSucceeded, out.Status)
	assert.Equal(t, uint64(8), *out.BytesAffected)
	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

// rawPath joins elements without cleaning, keeping any .. segments
func rawPath(elem ...string) string {
	return strings.Join(elem, string(filepath.Separator))
}

func TestBulkDeletion_ParentSegmentsResolvedBeforeCheck(t *testing.T) {
	m := newMemFS()
	m.mkdirs(filepath.Join("C:", "Windows", "Temp"))
	m.file(filepath.Join("C:", "Windows", "System32", "config.ini"), 10)
	g := newGuard(t, m)
	req := models.BulkDeleteRequest{RootPath: rawPath("C:", "Windows", "Temp", "..", "System32")}

	plan := g.Plan(context.Background(), req)
	assert.True(t, plan.Blocked)
	assert.Equal(t, filepath.Join("C:", "Windows", "System32"), plan.RootPath)
	assert.Zero(t, plan.Items)

	out := g.Execute(context.Background(), req)
	assert.Equal(t, models.StatusBlocked, out.Status)
	assert.Equal(t, policy.RuleCriticalFSArea, out.Rule)
	assert.True(t, m.exists(filepath.Join("C:", "Windows", "System32", "config.ini")))
}

func TestBulkDeletion_ParentSegmentsOnDisk(t *testing.T) {
	base := t.TempDir()
	lower := strings.ToLower(base)
	if strings.Contains(lower, "temp") || strings.Contains(lower, "cache") {
		t.Skip("scratch directory already lies in a temp/cache location")
	}
	require.NoError(t, os.MkdirAll(filepath.Join(base, "temp"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(base, "system32"), 0755))
	ini := filepath.Join(base, "system32", "config.ini")
	require.NoError(t, os.WriteFile(ini, []byte("[boot]"), 0644))

	g := newGuard(t, nil)
	req := models.BulkDeleteRequest{RootPath: rawPath(base, "temp", "..", "system32")}

	assert.True(t, g.Plan(context.Background(), req).Blocked)
	assert.Equal(t, models.StatusBlocked, g.Execute(context.Background(), req).Status)
	_, err := os.Stat(ini)
	assert.NoError(t, err, "file under system32 must survive")
}

func TestBulkDeletion_LinkedRootCheckedAtTarget(t *testing.T) {
	base := t.TempDir()
	lower := strings.ToLower(base)
	if strings.Contains(lower, "temp") || strings.Contains(lower, "cache") {
		t.Skip("scratch directory already lies in a temp/cache location")
	}
	target := filepath.Join(base, "system32")
	require.NoError(t, os.MkdirAll(target, 0755))
	ini := filepath.Join(target, "config.ini")
	require.NoError(t, os.WriteFile(ini, []byte("[boot]"), 0644))
	link := filepath.Join(base, "applogs")
	if err := os.Symlink(target, link); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	out := newGuard(t, nil).Execute(context.Background(), models.BulkDeleteRequest{RootPath: link})

	assert.Equal(t, models.StatusBlocked, out.Status)
	_, err := os.Stat(ini)
	assert.NoError(t, err)
	_, err = os.Lstat(link)
	assert.NoError(t, err, "link root is kept")
}

func TestBulkDeletion_UnresolvedLinkRootKept(t *testing.T) {
	m := newMemFS()
	root := filepath.Join("D:", "Apps", "Logs")
	m.mkdirs(filepath.Dir(root))
	m.nodes[root] = &memNode{dir: true, link: true}
	g := newGuard(t, m)

	out := g.Execute(context.Background(), models.BulkDeleteRequest{RootPath: root})

	require.Equal(t, models.StatusSucceeded, out.Status)
	assert.Equal(t, models.ErrKindPartialSuccess, out.Kind)
	assert.Equal(t, uint64(0), *out.ItemsAffected)
	assert.Equal(t, 1, out.Skipped)
	assert.True(t, m.exists(root))
}
