package platform

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/openmined/syftcrypt/internal/utils"
)

// uniqueName returns name, or name with a counter before the extension, such
// that nothing with that name exists in dir yet.
func uniqueName(dir, name string) string {
	candidate := name
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for i := 2; utils.FileExists(filepath.Join(dir, candidate)) || utils.DirExists(filepath.Join(dir, candidate)); i++ {
		candidate = fmt.Sprintf("%s.%d%s", stem, i, ext)
	}
	return candidate
}
