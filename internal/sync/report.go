package sync

import (
	"context"
	"log/slog"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
)

// Event describes one committed action.
type Event struct {
	Action     Action
	SyncID     string
	NativePath string
	RevGUID    string
	Size       int64
	Time       time.Time
}

// Recorder is notified after each committed action. Failing to record is
// logged and does not abort the pass.
type Recorder interface {
	Record(ctx context.Context, ev Event) error
}

// PlannedItem is an action decided by classification.
type PlannedItem struct {
	ID         string
	Action     Action
	NativePath string
}

// Report summarizes a pass.
type Report struct {
	DryRun       bool
	Planned      []PlannedItem
	Pushed       int
	Materialized int
	Pulled       int
	Unchanged    int
	Skipped      int
	Duration     time.Duration
}

func newReport(dryRun bool) *Report {
	return &Report{DryRun: dryRun}
}

// plan records every item that has something to do.
func (r *Report) plan(items []*WorkItem) {
	for _, item := range items {
		if item.Action == ActionNone {
			continue
		}
		path := item.NativePath
		if path == "" {
			path = item.target
		}
		r.Planned = append(r.Planned, PlannedItem{ID: item.ID.String(), Action: item.Action, NativePath: path})
	}
}

func (r *Report) HasChanges() bool {
	return r.Pushed+r.Materialized+r.Pulled > 0
}

func (r *Report) LogAttrs() []any {
	return []any{
		"dryRun", r.DryRun,
		"planned", len(r.Planned),
		"pushed", r.Pushed,
		"materialized", r.Materialized,
		"pulled", r.Pulled,
		"unchanged", r.Unchanged,
		"skipped", r.Skipped,
		"tsTotal", r.Duration,
	}
}

// warnSet remembers which warnings were already logged in this pass.
type warnSet struct {
	keys mapset.Set[string]
}

func newWarnSet() warnSet {
	return warnSet{keys: mapset.NewThreadUnsafeSet[string]()}
}

func (p *pass) warnOnce(key, msg string, args ...any) {
	if !p.warned.keys.Add(key) {
		return
	}
	p.logger.Log(context.Background(), slog.LevelWarn, msg, args...)
}
