package platform

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gofrs/flock"
	"github.com/openmined/syftcrypt/internal/utils"
	"github.com/shirou/gopsutil/v4/process"
)

// ProcessLock is an advisory file lock. The holder's pid is kept in a side
// file so a second process can say who holds the lock.
type ProcessLock struct {
	flock   *flock.Flock
	pidPath string
}

func (s *System) AcquireProcessLock(name string) (Lock, error) {
	if err := utils.EnsureDir(s.lockDir); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", s.lockDir, err)
	}

	lockPath := filepath.Join(s.lockDir, name+".lock")
	pidPath := filepath.Join(s.lockDir, name+".pid")
	fl := flock.New(lockPath)

	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to lock %s: %w", lockPath, err)
	}
	if !locked {
		return nil, lockedError(pidPath)
	}

	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644); err != nil {
		fl.Unlock()
		return nil, fmt.Errorf("failed to write pid file: %w", err)
	}

	return &ProcessLock{flock: fl, pidPath: pidPath}, nil
}

func (l *ProcessLock) Unlock() error {
	// if this process never locked, leave the files of the holder alone
	if !l.flock.Locked() {
		return nil
	}
	os.Remove(l.pidPath)
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to unlock: %w", err)
	}
	if err := os.Remove(l.flock.Path()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// HolderPID reads the pid of the process holding the lock. ok is false if the
// pid is unknown or that process no longer exists.
func HolderPID(pidPath string) (pid int32, ok bool) {
	data, err := os.ReadFile(pidPath)
	if err != nil {
		return 0, false
	}
	n, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 32)
	if err != nil || n <= 0 {
		return 0, false
	}
	exists, err := process.PidExists(int32(n))
	if err != nil || !exists {
		return int32(n), false
	}
	return int32(n), true
}

func lockedError(pidPath string) error {
	if pid, ok := HolderPID(pidPath); ok {
		return fmt.Errorf("%w (pid %d)", ErrLocked, pid)
	}
	return ErrLocked
}
