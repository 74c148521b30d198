// Package util provides file helpers shared by the document writers.
package util

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// AtomicWriteFile writes data to a temporary file in the target's directory,
// syncs it and renames it over path. Readers see either the old or the new
// content, never a partial write.
func AtomicWriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)

	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	// Temp file must share the filesystem with path for rename to be atomic
	tmp, err := os.CreateTemp(dir, ".incsync-tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename temp to final: %w", err)
	}

	committed = true
	return nil
}

// ErrNoChange is returned by an EditFunc to signal that nothing should be written.
var ErrNoChange = errors.New("no change")

// EditFunc receives the current file content and returns the replacement.
type EditFunc func(current []byte) ([]byte, error)

// EditFile performs a read-modify-write of path against its freshest on-disk
// content. The file mode is preserved. It reports whether a write happened;
// an edit returning ErrNoChange or identical bytes skips the write.
func EditFile(path string, edit EditFunc) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		return false, err
	}
	current, err := os.ReadFile(path)
	if err != nil {
		return false, fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}

	updated, err := edit(current)
	if errors.Is(err, ErrNoChange) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if string(updated) == string(current) {
		return false, nil
	}

	if err := AtomicWriteFile(path, updated, info.Mode().Perm()); err != nil {
		return false, fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return true, nil
}
