// Package platform hides the OS specific pieces of syftcrypt behind a small
// capability interface: a single instance process lock and sending files to
// the trash.
package platform

import (
	"errors"
)

var (
	ErrLocked           = errors.New("locked by another syftcrypt process")
	ErrTrashUnsupported = errors.New("sending files to the trash is not supported on this platform")
)

// Lock is a held process lock.
type Lock interface {
	Unlock() error
}

type Capabilities interface {
	// TrySendToTrash moves path to the user's trash.
	TrySendToTrash(path string) error
	// AcquireProcessLock takes the named lock or fails with ErrLocked.
	AcquireProcessLock(name string) (Lock, error)
}

// System implements Capabilities for the running OS.
type System struct {
	lockDir string
}

func New(lockDir string) *System {
	return &System{lockDir: lockDir}
}

var _ Capabilities = (*System)(nil)
