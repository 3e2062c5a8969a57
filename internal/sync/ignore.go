package sync

import (
	"bufio"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/openmined/syftcrypt/internal/utils"
	gitignore "github.com/sabhiram/go-gitignore"
)

// IgnoreFileName is read from the top of every native root.
const IgnoreFileName = ".syftcryptignore"

var defaultIgnoreLines = []string{
	// syftcrypt
	utils.TempFilePrefix + "*",
	IgnoreFileName,
	// general excludes
	".git/",
	"*.tmp",
	"*.swp",
	// OS-specific
	".DS_Store",
	"Thumbs.db",
	"desktop.ini",
	"Icon\r",
}

type IgnoreList struct {
	baseDir string
	extra   []string
	ignore  *gitignore.GitIgnore
}

func NewIgnoreList(baseDir string, extra []string) *IgnoreList {
	return &IgnoreList{baseDir: baseDir, extra: extra}
}

// Load compiles the default rules, the configured rules and the root's ignore file.
func (s *IgnoreList) Load(logger *slog.Logger) {
	lines := append([]string{}, defaultIgnoreLines...)
	lines = append(lines, s.extra...)

	ignorePath := filepath.Join(s.baseDir, IgnoreFileName)
	if utils.FileExists(ignorePath) {
		file, err := os.Open(ignorePath)
		if err != nil {
			logger.Warn("failed to open ignore file", "path", ignorePath, "error", err)
		} else {
			defer file.Close()

			rules := 0
			scanner := bufio.NewScanner(file)
			for scanner.Scan() {
				if line := scanner.Text(); line != "" {
					lines = append(lines, line)
					rules++
				}
			}
			if err := scanner.Err(); err != nil {
				logger.Warn("error reading ignore file", "path", ignorePath, "error", err)
			} else {
				logger.Debug("loaded ignore file", "path", ignorePath, "rules", rules)
			}
		}
	}

	s.ignore = gitignore.CompileIgnoreLines(lines...)
}

// ShouldIgnore matches a slash separated path relative to the base dir.
func (s *IgnoreList) ShouldIgnore(relPath string, isDir bool) bool {
	if s.ignore == nil {
		return false
	}
	if isDir && s.ignore.MatchesPath(relPath+"/") {
		return true
	}
	return s.ignore.MatchesPath(relPath)
}
