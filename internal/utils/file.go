package utils

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// TempFilePrefix is the prefix of every temporary file created by WriteFileAtomic.
// Directory walkers use it to skip half-written files.
const TempFilePrefix = ".syftcrypt-"

// IsTempFile reports whether the base name of path looks like one of our temp files.
func IsTempFile(path string) bool {
	return strings.HasPrefix(filepath.Base(path), TempFilePrefix)
}

// CreateTempBeside creates an empty temp file in the same directory as path,
// so that a later rename onto path stays on the same filesystem.
func CreateTempBeside(path string) (*os.File, error) {
	if err := EnsureParent(path); err != nil {
		return nil, err
	}
	return os.CreateTemp(filepath.Dir(path), TempFilePrefix+"*.tmp")
}

// WriteFileAtomic streams fn's output into a temp file next to path, syncs it
// and renames it onto path. The temp file is removed if anything fails.
func WriteFileAtomic(path string, perm os.FileMode, fn func(w io.Writer) error) (err error) {
	tmp, err := CreateTempBeside(path)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	if err = fn(tmp); err != nil {
		return err
	}
	if err = tmp.Chmod(perm); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err = os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}
