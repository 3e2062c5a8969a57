package sync

import "errors"

var (
	// ErrConflict means both sides changed since the last sync, or a native
	// file is in the way of a materialize.
	ErrConflict = errors.New("sync conflict")
	// ErrConsistency means the pass reached a state that classification should
	// have ruled out.
	ErrConsistency        = errors.New("sync consistency violation")
	ErrSyncAlreadyRunning = errors.New("sync already running")
)
