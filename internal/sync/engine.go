// Package sync reconciles native files with the syncfiles in the shared sync
// directory.
//
// A pass runs four strictly ordered stages over the same set of work items:
// discovery, classification, verification and commit. Nothing is written
// before verification has passed.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/openmined/syftcrypt/internal/config"
	"github.com/openmined/syftcrypt/internal/syncdb"
	"github.com/openmined/syftcrypt/internal/syncfile"
)

type RunOpts struct {
	// DryRun stops after verification. Nothing is written.
	DryRun bool
}

type Engine struct {
	cfg      *config.Config
	codec    *syncfile.Codec
	ledger   *syncdb.DB
	logger   *slog.Logger
	recorder Recorder
	muSync   sync.Mutex
}

func NewEngine(cfg *config.Config, codec *syncfile.Codec, ledger *syncdb.DB, logger *slog.Logger) (*Engine, error) {
	if cfg.Mapper() == nil {
		return nil, errors.New("config is not validated")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		cfg:    cfg,
		codec:  codec,
		ledger: ledger,
		logger: logger,
	}, nil
}

// SetRecorder registers a recorder notified after every committed action.
func (e *Engine) SetRecorder(r Recorder) {
	e.recorder = r
}

// pass is the state of one run. The warn-once set and the ignore lists never
// outlive it.
type pass struct {
	items   map[syncfile.SyncID]*WorkItem
	ignores map[string]*IgnoreList
	warned  warnSet
	report  *Report
	logger  *slog.Logger
}

// Run performs one full pass. Any error aborts the rest of the pass; commits
// that already happened stay on disk and the next pass resumes from them.
func (e *Engine) Run(ctx context.Context, opts RunOpts) (*Report, error) {
	if !e.muSync.TryLock() {
		return nil, ErrSyncAlreadyRunning
	}
	defer e.muSync.Unlock()

	start := time.Now()
	p := &pass{
		items:   make(map[syncfile.SyncID]*WorkItem),
		ignores: make(map[string]*IgnoreList),
		warned:  newWarnSet(),
		report:  newReport(opts.DryRun),
		logger:  e.logger,
	}

	if err := e.discover(p); err != nil {
		return p.report, fmt.Errorf("discover: %w", err)
	}
	items := p.sorted()

	if err := ctx.Err(); err != nil {
		return p.report, err
	}

	for _, item := range items {
		if err := e.classify(p, item); err != nil {
			return p.report, err
		}
	}

	if err := verify(items); err != nil {
		return p.report, err
	}

	p.report.plan(items)
	if opts.DryRun {
		p.report.Duration = time.Since(start)
		e.logger.Info("sync dry run", p.report.LogAttrs()...)
		return p.report, nil
	}

	if err := ctx.Err(); err != nil {
		return p.report, err
	}

	for _, item := range items {
		if err := e.commit(ctx, p, item); err != nil {
			return p.report, err
		}
	}

	p.report.Duration = time.Since(start)
	if p.report.HasChanges() {
		e.logger.Info("full sync", p.report.LogAttrs()...)
	} else {
		e.logger.Debug("full sync", p.report.LogAttrs()...)
	}
	return p.report, nil
}

func (p *pass) sorted() []*WorkItem {
	items := make([]*WorkItem, 0, len(p.items))
	for _, item := range p.items {
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items
}

// verify is the boundary between deciding and acting.
func verify(items []*WorkItem) error {
	for _, item := range items {
		if item.Action.Unresolved() {
			return fmt.Errorf("%w: %s still %s after classification", ErrConsistency, item.ID, item.Action)
		}
	}
	return nil
}

// mtimeSeconds is the granularity stored in the ledger.
func mtimeSeconds(t time.Time) uint64 {
	if s := t.Unix(); s > 0 {
		return uint64(s)
	}
	return 0
}

func nativeMtime(path string) (uint64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return mtimeSeconds(info.ModTime()), nil
}
