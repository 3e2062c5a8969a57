//go:build linux || freebsd || openbsd || netbsd || dragonfly

package platform

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/openmined/syftcrypt/internal/utils"
)

// trashDir is the freedesktop.org home trash.
func trashDir() (string, error) {
	if dataHome := os.Getenv("XDG_DATA_HOME"); dataHome != "" {
		return filepath.Join(dataHome, "Trash"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".local", "share", "Trash"), nil
}

func (s *System) TrySendToTrash(path string) error {
	abs, err := utils.ResolvePath(path)
	if err != nil {
		return err
	}
	dir, err := trashDir()
	if err != nil {
		return fmt.Errorf("locate trash: %w", err)
	}
	filesDir := filepath.Join(dir, "files")
	infoDir := filepath.Join(dir, "info")
	for _, d := range []string{filesDir, infoDir} {
		if err := utils.EnsureDir(d); err != nil {
			return fmt.Errorf("create trash dir: %w", err)
		}
	}

	name := uniqueName(filesDir, filepath.Base(abs))

	// freedesktop trash: info file first, then the move
	info := fmt.Sprintf("[Trash Info]\nPath=%s\nDeletionDate=%s\n",
		(&url.URL{Path: abs}).EscapedPath(),
		time.Now().Format("2006-01-02T15:04:05"))
	infoPath := filepath.Join(infoDir, name+".trashinfo")
	if err := os.WriteFile(infoPath, []byte(info), 0o600); err != nil {
		return fmt.Errorf("write trash info: %w", err)
	}

	if err := os.Rename(abs, filepath.Join(filesDir, name)); err != nil {
		os.Remove(infoPath)
		return fmt.Errorf("move to trash: %w", err)
	}
	return nil
}
