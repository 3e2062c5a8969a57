package sync

import (
	"github.com/openmined/syftcrypt/internal/syncfile"
)

// Action is what a pass decided to do with one sync id.
type Action uint8

var actionNames = []string{
	"None",
	"Compare",
	"CheckRevision",
	"Push",
	"Materialize",
	"Pull",
}

const (
	ActionNone Action = iota
	// ActionCompare and ActionCheckRevision are unresolved and must not
	// survive classification.
	ActionCompare
	ActionCheckRevision
	ActionPush
	ActionMaterialize
	ActionPull
)

func (a Action) String() string {
	if int(a) < len(actionNames) {
		return actionNames[a]
	}
	return "Unknown"
}

// Unresolved reports whether the action still needs classification.
func (a Action) Unresolved() bool {
	return a == ActionCompare || a == ActionCheckRevision
}

// WorkItem is one sync id in one pass.
type WorkItem struct {
	ID           syncfile.SyncID
	SyncfilePath string
	// NativePath is empty when only a syncfile exists.
	NativePath string
	Action     Action

	// set by classification
	syncfile *syncfile.SyncFile
	target   string
}
