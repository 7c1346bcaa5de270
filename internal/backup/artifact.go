package backup

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"
)

const digestPrefix = "blake3:"

// formatDigest renders a BLAKE3 sum as "blake3:<hex>"
func formatDigest(sum []byte) string {
	return digestPrefix + hex.EncodeToString(sum)
}

// hashFile returns the BLAKE3 digest and size of a plain file
func hashFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	h := blake3.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return formatDigest(h.Sum(nil)), n, nil
}

// compressFile streams src into a zstd artifact at dst. The digest covers the
// original bytes so restore can verify what it writes back.
func compressFile(src, dst string) (digest string, size int64, err error) {
	in, err := os.Open(src)
	if err != nil {
		return "", 0, err
	}
	defer in.Close()

	h := blake3.New()
	err = atomicWrite(dst, func(w io.Writer) error {
		enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return err
		}
		n, err := io.Copy(enc, io.TeeReader(in, h))
		if err != nil {
			_ = enc.Close()
			return err
		}
		size = n
		return enc.Close()
	})
	if err != nil {
		return "", 0, err
	}
	return formatDigest(h.Sum(nil)), size, nil
}

// decompressTo restores a zstd artifact over dst. The plain bytes are
// written to a temp file next to dst, verified against want, then renamed
// into place, so dst is never left half-written.
func decompressTo(artifact, dst, want string, mode os.FileMode) error {
	in, err := os.Open(artifact)
	if err != nil {
		return err
	}
	defer in.Close()

	dec, err := zstd.NewReader(in)
	if err != nil {
		return fmt.Errorf("open zstd stream: %w", err)
	}
	defer dec.Close()

	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".winguard-restore-")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	h := blake3.New()
	if _, err := io.Copy(io.MultiWriter(tmp, h), dec); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("decompress: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if got := formatDigest(h.Sum(nil)); want != "" && got != want {
		return fmt.Errorf("%w: want %s, got %s", ErrDigestMismatch, want, got)
	}
	if mode != 0 {
		if err := os.Chmod(tmpPath, mode); err != nil {
			return err
		}
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		return fmt.Errorf("rename into place: %w", err)
	}
	success = true
	return nil
}
