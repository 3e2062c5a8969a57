package sync

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/openmined/syftcrypt/internal/utils"
	"github.com/rjeczalik/notify"
)

const (
	eventBufferSize        = 256
	defaultDebounceTimeout = 2 * time.Second
)

// FilterCallback returns true for paths whose events should not trigger a pass.
type FilterCallback func(path string) bool

// Watcher re-runs passes when native roots or the sync dir change, and on a
// fixed interval in case the storage provider does not emit events.
type Watcher struct {
	engine          *Engine
	dirs            []string
	interval        time.Duration
	debounceTimeout time.Duration
	filter          FilterCallback
	logger          *slog.Logger
}

func NewWatcher(engine *Engine) *Watcher {
	cfg := engine.cfg
	dirs := append([]string{cfg.SyncDir}, cfg.NativeRoots...)
	w := &Watcher{
		engine:          engine,
		dirs:            dirs,
		interval:        cfg.WatchInterval,
		debounceTimeout: defaultDebounceTimeout,
		logger:          engine.logger,
	}
	w.filter = w.defaultFilter
	return w
}

// SetDebounceTimeout sets how long the watcher waits for events to settle.
func (w *Watcher) SetDebounceTimeout(timeout time.Duration) {
	w.debounceTimeout = timeout
}

// SetInterval sets the fallback interval between passes.
func (w *Watcher) SetInterval(interval time.Duration) {
	w.interval = interval
}

func (w *Watcher) defaultFilter(path string) bool {
	cfg := w.engine.cfg
	return utils.IsTempFile(path) ||
		utils.IsSubPath(cfg.SyncDBDir, path) ||
		utils.IsSubPath(cfg.DataDir, path)
}

// Run performs a pass immediately and then whenever something changed, until
// ctx is done. Pass errors are handed to onPass and do not stop the watcher.
func (w *Watcher) Run(ctx context.Context, onPass func(*Report, error)) error {
	raw := make(chan notify.EventInfo, eventBufferSize)
	for _, dir := range w.dirs {
		if !utils.DirExists(dir) {
			w.logger.Warn("not watching missing directory", "dir", dir)
			continue
		}
		if err := notify.Watch(filepath.Join(dir, "..."), raw, notify.All); err != nil {
			notify.Stop(raw)
			return err
		}
		w.logger.Info("watching", "dir", dir)
	}
	defer notify.Stop(raw)

	runPass := func(reason string) {
		w.logger.Debug("sync triggered", "reason", reason)
		report, err := w.engine.Run(ctx, RunOpts{})
		if errors.Is(err, context.Canceled) {
			return
		}
		if onPass != nil {
			onPass(report, err)
		}
		// events caused by our own writes
		drain(raw)
	}

	runPass("start")

	// timers rather than tickers so a slow pass does not queue runs
	interval := time.NewTimer(w.interval)
	defer interval.Stop()
	debounce := time.NewTimer(w.debounceTimeout)
	debounce.Stop()
	defer debounce.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("watcher stopped")
			return nil

		case ev := <-raw:
			if w.filter != nil && w.filter(ev.Path()) {
				continue
			}
			w.logger.Debug("watcher", "event", ev.Event(), "path", ev.Path())
			debounce.Reset(w.debounceTimeout)

		case <-debounce.C:
			runPass("change")
			interval.Reset(w.interval)

		case <-interval.C:
			runPass("interval")
			interval.Reset(w.interval)
		}
	}
}

func drain(ch <-chan notify.EventInfo) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}
