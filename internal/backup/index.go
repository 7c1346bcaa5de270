package backup

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/winguard/winguard/internal/models"
)

const (
	indexFile = "index.jsonl"
	lockName  = "index.lock"
)

// index is the append-only JSONL record of every backup. Writers are
// serialized by mu within the process and by an advisory lock on index.lock
// across processes. Readers take no lock; rewrites are atomic renames so a
// reader sees either the old or the new file.
type index struct {
	dir string
	mu  sync.Mutex
}

func (ix *index) path() string { return filepath.Join(ix.dir, indexFile) }

// withLock runs fn holding both locks
func (ix *index) withLock(fn func() error) (err error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if err := os.MkdirAll(ix.dir, 0700); err != nil {
		return fmt.Errorf("create backup dir: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(ix.dir, lockName), os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return fmt.Errorf("open index lock: %w", err)
	}
	defer f.Close()

	if err := lockFile(f); err != nil {
		return fmt.Errorf("lock index: %w", err)
	}
	defer func() {
		if uerr := unlockFile(f); uerr != nil && err == nil {
			err = fmt.Errorf("unlock index: %w", uerr)
		}
	}()

	return fn()
}

// append writes one record as a single line. A torn trailing line left by a
// crashed writer is terminated first so the new record stays parseable.
func (ix *index) append(rec models.BackupRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	return ix.withLock(func() error {
		f, err := os.OpenFile(ix.path(), os.O_CREATE|os.O_RDWR|os.O_APPEND, 0600)
		if err != nil {
			return fmt.Errorf("open index: %w", err)
		}
		defer f.Close()

		line := append(data, '\n')
		if torn, err := endsMidLine(f); err != nil {
			return err
		} else if torn {
			line = append([]byte{'\n'}, line...)
		}
		if _, err := f.Write(line); err != nil {
			return fmt.Errorf("write index: %w", err)
		}
		return f.Sync()
	})
}

func endsMidLine(f *os.File) (bool, error) {
	st, err := f.Stat()
	if err != nil {
		return false, fmt.Errorf("stat index: %w", err)
	}
	if st.Size() == 0 {
		return false, nil
	}
	last := make([]byte, 1)
	if _, err := f.ReadAt(last, st.Size()-1); err != nil {
		return false, fmt.Errorf("read index tail: %w", err)
	}
	return last[0] != '\n', nil
}

// readAll returns records in insertion order, skipping malformed lines.
func (ix *index) readAll() (records []models.BackupRecord, err error) {
	f, err := os.Open(ix.path())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	for {
		line, rerr := r.ReadBytes('\n')
		if len(line) > 0 {
			var rec models.BackupRecord
			if json.Unmarshal(line, &rec) == nil && rec.ID != "" {
				records = append(records, rec)
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return nil, fmt.Errorf("read index: %w", rerr)
		}
	}
	return records, nil
}

// rewrite replaces the index with records. Caller holds the lock.
func (ix *index) rewrite(records []models.BackupRecord) error {
	return atomicWrite(ix.path(), func(w io.Writer) error {
		enc := json.NewEncoder(w)
		for _, rec := range records {
			if err := enc.Encode(rec); err != nil {
				return err
			}
		}
		return nil
	})
}

// atomicWrite writes to a temp file in the same directory and renames it
// over path.
func atomicWrite(path string, writeFunc func(io.Writer) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}

	tmpFile, err := os.CreateTemp(dir, ".tmp-")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := writeFunc(tmpFile); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("write content: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("sync file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename to final: %w", err)
	}

	success = true
	return nil
}
