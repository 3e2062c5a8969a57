package sync

import (
	"errors"
	"fmt"

	"github.com/openmined/syftcrypt/internal/pathmap"
)

// classify resolves compare and check-revision items. Other actions pass through.
func (e *Engine) classify(p *pass, item *WorkItem) error {
	switch item.Action {
	case ActionCompare:
		return e.classifyCompare(p, item)
	case ActionCheckRevision:
		return e.classifyCheckRevision(p, item)
	default:
		return nil
	}
}

// classifyCompare decides between push, pull, conflict and nothing:
//
//	revision changed | native newer | action
//	yes              | yes          | conflict
//	yes              | no           | pull if enabled, else none
//	no               | yes          | push
//	no               | no           | none
func (e *Engine) classifyCompare(p *pass, item *WorkItem) error {
	sf, err := e.codec.Open(item.SyncfilePath)
	if err != nil {
		return err
	}
	entry, err := e.ledger.Get(item.ID.String())
	if err != nil {
		return err
	}
	if entry == nil {
		return fmt.Errorf("%w: %s and its syncfile both exist but were never synced on this machine; run `syftcrypt resolve` on it", ErrConsistency, item.NativePath)
	}

	mtime, err := nativeMtime(item.NativePath)
	if err != nil {
		return fmt.Errorf("stat native file: %w", err)
	}

	revisionChanged := sf.RevGUID != entry.RevGUID
	nativeNewer := mtime > entry.NativeMtime

	switch {
	case revisionChanged && nativeNewer:
		return fmt.Errorf("%w: %s changed both locally and on %s; run `syftcrypt resolve` on it", ErrConflict, item.NativePath, sf.Origin)
	case revisionChanged:
		if e.cfg.PullRemoteChanges {
			item.syncfile = sf
			item.Action = ActionPull
			return nil
		}
		p.warnOnce("pull-disabled", "remote changes to existing files are not pulled, set pull_remote_changes to enable")
		p.logger.Debug("remote change not pulled", "path", item.NativePath, "origin", sf.Origin)
		item.Action = ActionNone
	case nativeNewer:
		item.Action = ActionPush
	default:
		item.Action = ActionNone
	}
	return nil
}

func (e *Engine) classifyCheckRevision(p *pass, item *WorkItem) error {
	sf, err := e.codec.Open(item.SyncfilePath)
	if err != nil {
		return err
	}
	entry, err := e.ledger.Get(item.ID.String())
	if err != nil {
		return err
	}

	if entry != nil && entry.RevGUID == sf.RevGUID {
		// deleted here after the last sync; the syncfile stays as a marker
		p.logger.Debug("deletion marker", "syncid", item.ID, "keyword", sf.Keyword, "path", sf.RelPath)
		item.Action = ActionNone
		return nil
	}

	target, err := e.cfg.Mapper().NativePath(sf.Keyword, sf.RelPath)
	if errors.Is(err, pathmap.ErrUnmapped) {
		p.report.Skipped++
		p.warnOnce("unmapped-keyword:"+sf.Keyword, "incoming file uses a keyword that is not mapped here, skipping", "keyword", sf.Keyword, "error", err)
		item.Action = ActionNone
		return nil
	}
	if err != nil {
		return err
	}
	if !e.cfg.IsUnderNativeRoot(target) {
		p.report.Skipped++
		p.warnOnce("outside-roots:"+sf.Keyword, "incoming file maps outside every native root, skipping", "keyword", sf.Keyword, "target", target)
		item.Action = ActionNone
		return nil
	}

	item.syncfile = sf
	item.target = target
	item.Action = ActionMaterialize
	return nil
}
