package utils

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var errEmptyPath = errors.New("path cannot be empty")

// ResolvePath expands a leading ~ and returns a cleaned absolute path.
// Only "~" and "~/..." are expanded; "~user" is left alone.
func ResolvePath(path string) (string, error) {
	if path == "" {
		return "", errEmptyPath
	}

	if path == "~" || strings.HasPrefix(path, "~/") || strings.HasPrefix(path, "~"+string(filepath.Separator)) {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("expand %s: %w", path, err)
		}
		path = filepath.Join(home, path[1:])
	}

	return filepath.Abs(path)
}

func EnsureParent(path string) error {
	return EnsureDir(filepath.Dir(path))
}

func EnsureDir(path string) error {
	return os.MkdirAll(path, 0o755)
}

func DirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func FileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// NormPath turns path into a slash separated path without a leading slash.
func NormPath(path string) string {
	path = strings.ReplaceAll(filepath.Clean(path), "\\", "/")
	return strings.TrimLeft(path, "/")
}

// IsSubPath reports whether path is equal to or nested below dir.
// Both are expected to be absolute and cleaned.
func IsSubPath(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
