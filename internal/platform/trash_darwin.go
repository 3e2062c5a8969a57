//go:build darwin

package platform

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/openmined/syftcrypt/internal/utils"
)

func (s *System) TrySendToTrash(path string) error {
	abs, err := utils.ResolvePath(path)
	if err != nil {
		return err
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("locate trash: %w", err)
	}
	dir := filepath.Join(home, ".Trash")
	if err := utils.EnsureDir(dir); err != nil {
		return fmt.Errorf("create trash dir: %w", err)
	}

	name := uniqueName(dir, filepath.Base(abs))
	if err := os.Rename(abs, filepath.Join(dir, name)); err != nil {
		return fmt.Errorf("move to trash: %w", err)
	}
	return nil
}
