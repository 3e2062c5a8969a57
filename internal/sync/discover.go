package sync

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/openmined/syftcrypt/internal/pathmap"
	"github.com/openmined/syftcrypt/internal/syncfile"
	"github.com/openmined/syftcrypt/internal/utils"
)

// syncfilePattern finds syncfiles relative to the sync dir.
var syncfilePattern = "**/*" + syncfile.Ext

// discover builds one work item per sync id. A native file alone is a push,
// a syncfile alone needs a revision check, both need a compare.
func (e *Engine) discover(p *pass) error {
	for _, root := range e.cfg.NativeRoots {
		if err := e.walkNative(p, root); err != nil {
			return err
		}
	}
	return e.globSyncfiles(p)
}

func (e *Engine) skipDir(path string) bool {
	return path == e.cfg.SyncDir || path == e.cfg.SyncDBDir || path == e.cfg.DataDir
}

// ignoreList loads the rules of root once per pass so edits to the ignore
// file apply to the next pass.
func (e *Engine) ignoreList(p *pass, root string) *IgnoreList {
	list, ok := p.ignores[root]
	if !ok {
		list = NewIgnoreList(root, e.cfg.Ignore)
		list.Load(p.logger)
		p.ignores[root] = list
	}
	return list
}

func (e *Engine) walkNative(p *pass, root string) error {
	if !utils.DirExists(root) {
		p.warnOnce("missing-root:"+root, "native root does not exist", "root", root)
		return nil
	}
	ignore := e.ignoreList(p, root)

	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if e.skipDir(path) || ignore.ShouldIgnore(rel, true) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || utils.IsTempFile(path) || ignore.ShouldIgnore(rel, false) {
			return nil
		}

		id, sfPath, err := e.codec.DeriveIdentity(path)
		if errors.Is(err, pathmap.ErrUnmapped) {
			p.report.Skipped++
			p.warnOnce("unmapped:"+filepath.Dir(path), "native file is not under any mapped directory, skipping", "path", path)
			return nil
		}
		if err != nil {
			return fmt.Errorf("derive identity of %s: %w", path, err)
		}

		// overlapping roots walk the same file twice
		if existing, ok := p.items[id]; ok {
			if existing.NativePath != path {
				p.report.Skipped++
				p.warnOnce("clash:"+id.String(), "two native files map to the same sync id, skipping", "path", path, "other", existing.NativePath)
			}
			return nil
		}

		p.items[id] = &WorkItem{
			ID:           id,
			SyncfilePath: sfPath,
			NativePath:   path,
			Action:       ActionPush,
		}
		return nil
	})
}

func (e *Engine) globSyncfiles(p *pass) error {
	syncDir := e.cfg.SyncDir
	if !utils.DirExists(syncDir) {
		if err := os.MkdirAll(syncDir, 0o755); err != nil {
			return fmt.Errorf("create sync dir: %w", err)
		}
	}

	matches, err := doublestar.Glob(os.DirFS(syncDir), syncfilePattern, doublestar.WithFilesOnly())
	if err != nil {
		return fmt.Errorf("glob syncfiles: %w", err)
	}

	for _, match := range matches {
		name := filepath.Base(match)
		// storage providers name their duplicate copies "x (1).dat" or "x (conflicted copy).dat"
		if strings.Contains(name, " ") {
			p.report.Skipped++
			p.warnOnce("duplicate:"+match, "ignoring storage provider duplicate", "path", match)
			continue
		}
		if utils.IsTempFile(name) {
			continue
		}

		id, ok := syncfile.IDFromPath(name)
		path := filepath.Join(syncDir, filepath.FromSlash(match))
		if !ok || syncfile.SyncfilePath(syncDir, id) != path {
			p.report.Skipped++
			p.warnOnce("stray:"+match, "ignoring file that is not a syncfile in its place", "path", path)
			continue
		}

		if item, ok := p.items[id]; ok {
			item.Action = ActionCompare
			continue
		}
		p.items[id] = &WorkItem{
			ID:           id,
			SyncfilePath: path,
			Action:       ActionCheckRevision,
		}
	}
	return nil
}
