// Package pathmap maps native directories to machine independent keywords.
//
// Every participating machine maps the same keyword (for example DOCS) to its own
// local directory. A native file is identified by the keyword of its closest mapped
// ancestor plus its path relative to that directory.
package pathmap

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/openmined/syftcrypt/internal/utils"
)

var (
	// ErrUnmapped is returned when a path is not below any mapped directory,
	// or a keyword is not mapped on this machine.
	ErrUnmapped = errors.New("path not mapped")
	// ErrInvalidMapping is returned for empty or clashing mapping entries.
	ErrInvalidMapping = errors.New("invalid path mapping")
)

type mapping struct {
	keyword string
	dir     string
}

// Mapper resolves keywords and directories in both directions.
type Mapper struct {
	mappings []mapping // sorted by dir length, longest first
}

// New builds a Mapper from keyword -> directory pairs. Keywords are upper-cased,
// directories resolved to absolute paths.
func New(keywords map[string]string) (*Mapper, error) {
	m := &Mapper{}
	seenKeyword := make(map[string]string)
	seenDir := make(map[string]string)

	for keyword, dir := range keywords {
		kw := NormKeyword(keyword)
		if kw == "" {
			return nil, fmt.Errorf("%w: empty keyword for %q", ErrInvalidMapping, dir)
		}
		if strings.ContainsAny(kw, `:/\`) {
			return nil, fmt.Errorf("%w: keyword %q contains a path separator or colon", ErrInvalidMapping, keyword)
		}

		abs, err := utils.ResolvePath(dir)
		if err != nil {
			return nil, fmt.Errorf("%w: keyword %s: %w", ErrInvalidMapping, kw, err)
		}
		fold := strings.ToLower(abs)

		if other, ok := seenKeyword[kw]; ok {
			return nil, fmt.Errorf("%w: keyword %s mapped twice (%s, %s)", ErrInvalidMapping, kw, other, abs)
		}
		if other, ok := seenDir[fold]; ok {
			return nil, fmt.Errorf("%w: %s mapped by both %s and %s", ErrInvalidMapping, abs, other, kw)
		}
		seenKeyword[kw] = abs
		seenDir[fold] = kw

		m.mappings = append(m.mappings, mapping{keyword: kw, dir: abs})
	}

	sort.Slice(m.mappings, func(i, j int) bool {
		if len(m.mappings[i].dir) != len(m.mappings[j].dir) {
			return len(m.mappings[i].dir) > len(m.mappings[j].dir)
		}
		return m.mappings[i].keyword < m.mappings[j].keyword
	})

	return m, nil
}

// NormKeyword returns the canonical form of a keyword.
func NormKeyword(keyword string) string {
	return strings.ToUpper(strings.TrimSpace(keyword))
}

// LookupKeyword returns the keyword mapped exactly to dir.
func (m *Mapper) LookupKeyword(dir string) (string, bool) {
	abs, err := utils.ResolvePath(dir)
	if err != nil {
		return "", false
	}
	for _, mp := range m.mappings {
		if strings.EqualFold(mp.dir, abs) {
			return mp.keyword, true
		}
	}
	return "", false
}

// LookupDir returns the local directory mapped to keyword.
func (m *Mapper) LookupDir(keyword string) (string, bool) {
	kw := NormKeyword(keyword)
	for _, mp := range m.mappings {
		if mp.keyword == kw {
			return mp.dir, true
		}
	}
	return "", false
}

// KeywordAndRelPath returns the keyword of the most specific mapped ancestor of
// nativePath and the slash separated path relative to it.
func (m *Mapper) KeywordAndRelPath(nativePath string) (string, string, error) {
	abs, err := utils.ResolvePath(nativePath)
	if err != nil {
		return "", "", fmt.Errorf("%w: %s: %w", ErrUnmapped, nativePath, err)
	}
	sep := string(filepath.Separator)

	for _, mp := range m.mappings {
		// the mapped directory itself is not a file inside it
		if len(abs) <= len(mp.dir) || !strings.EqualFold(abs[:len(mp.dir)], mp.dir) {
			continue
		}
		rest := abs[len(mp.dir):]
		if !strings.HasSuffix(mp.dir, sep) && !strings.HasPrefix(rest, sep) {
			continue
		}
		return mp.keyword, utils.NormPath(rest), nil
	}

	return "", "", fmt.Errorf("%w: %s", ErrUnmapped, nativePath)
}

// NativePath joins the directory mapped to keyword with a slash separated relative path.
func (m *Mapper) NativePath(keyword, relPath string) (string, error) {
	dir, ok := m.LookupDir(keyword)
	if !ok {
		return "", fmt.Errorf("%w: keyword %s", ErrUnmapped, keyword)
	}
	clean := utils.NormPath(relPath)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("%w: relative path %q escapes %s", ErrUnmapped, relPath, keyword)
	}
	return filepath.Join(dir, filepath.FromSlash(clean)), nil
}

// Keywords returns the mapped keywords, most specific directory first.
func (m *Mapper) Keywords() []string {
	out := make([]string, 0, len(m.mappings))
	for _, mp := range m.mappings {
		out = append(out, mp.keyword)
	}
	return out
}
