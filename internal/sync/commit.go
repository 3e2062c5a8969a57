package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/openmined/syftcrypt/internal/syncfile"
)

// commit performs one classified action. The ledger is updated only after the
// filesystem write it describes has completed.
func (e *Engine) commit(ctx context.Context, p *pass, item *WorkItem) error {
	var (
		rev  uuid.UUID
		size int64
		path string
	)

	switch item.Action {
	case ActionNone:
		p.report.Unchanged++
		return nil

	case ActionPush:
		sf, err := e.codec.Create(item.NativePath)
		if err != nil {
			return fmt.Errorf("push %s: %w", item.NativePath, err)
		}
		if err := e.ledger.Update(item.ID.String(), sf.RevGUID, mtimeSeconds(sf.NativeModTime)); err != nil {
			return err
		}
		rev, size, path = sf.RevGUID, sf.Size, item.NativePath
		p.report.Pushed++
		p.logger.Info("push", "path", item.NativePath, "syncid", item.ID, "size", sf.Size)

	case ActionMaterialize:
		sf := item.syncfile
		target, err := e.codec.RestoreNative(sf)
		if errors.Is(err, syncfile.ErrNativeExists) {
			return fmt.Errorf("%w: materialize %s: %w", ErrConflict, item.target, err)
		}
		if err != nil {
			return fmt.Errorf("materialize %s: %w", item.target, err)
		}
		mtime, err := nativeMtime(target)
		if err != nil {
			return fmt.Errorf("stat materialized file: %w", err)
		}
		if err := e.ledger.Update(item.ID.String(), sf.RevGUID, mtime); err != nil {
			return err
		}
		rev, size, path = sf.RevGUID, sf.Size, target
		p.report.Materialized++
		p.logger.Info("materialize", "path", target, "syncid", item.ID, "origin", sf.Origin, "size", sf.Size)

	case ActionPull:
		sf := item.syncfile
		if err := e.pull(item); err != nil {
			return err
		}
		mtime, err := nativeMtime(item.NativePath)
		if err != nil {
			return fmt.Errorf("stat pulled file: %w", err)
		}
		if err := e.ledger.Update(item.ID.String(), sf.RevGUID, mtime); err != nil {
			return err
		}
		rev, size, path = sf.RevGUID, sf.Size, item.NativePath
		p.report.Pulled++
		p.logger.Info("pull", "path", item.NativePath, "syncid", item.ID, "origin", sf.Origin, "size", sf.Size)

	default:
		return fmt.Errorf("%w: %s reached commit as %s", ErrConsistency, item.ID, item.Action)
	}

	e.record(ctx, Event{
		Action:     item.Action,
		SyncID:     item.ID.String(),
		NativePath: path,
		RevGUID:    rev.String(),
		Size:       size,
		Time:       time.Now(),
	})
	return nil
}

// pull replaces the native file with the syncfile content. The native file
// must not have changed since classification.
func (e *Engine) pull(item *WorkItem) error {
	entry, err := e.ledger.Get(item.ID.String())
	if err != nil {
		return err
	}
	mtime, err := nativeMtime(item.NativePath)
	if err != nil {
		return fmt.Errorf("stat native file: %w", err)
	}
	if entry == nil || mtime > entry.NativeMtime {
		return fmt.Errorf("%w: %s changed while pulling", ErrConflict, item.NativePath)
	}
	if err := e.codec.ReplaceNative(item.syncfile, item.NativePath); err != nil {
		return fmt.Errorf("pull %s: %w", item.NativePath, err)
	}
	return nil
}

func (e *Engine) record(ctx context.Context, ev Event) {
	if e.recorder == nil {
		return
	}
	if err := e.recorder.Record(ctx, ev); err != nil {
		e.logger.Warn("failed to record sync event", "action", ev.Action, "path", ev.NativePath, "error", err)
	}
}
