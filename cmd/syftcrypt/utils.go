package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/openmined/syftcrypt/internal/config"
	"github.com/openmined/syftcrypt/internal/platform"
	"github.com/openmined/syftcrypt/internal/syncdb"
	"github.com/openmined/syftcrypt/internal/syncfile"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

const lockName = "syftcrypt"

var (
	red   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	green = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	cyan  = lipgloss.NewStyle().Foreground(lipgloss.Color("14"))
	gray  = lipgloss.NewStyle().Foreground(lipgloss.Color("242"))
)

// promptPassword reads a password from the terminal without echo.
func promptPassword(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New("stdin is not a terminal; set password or key in the config or environment")
	}
	fmt.Fprint(os.Stderr, prompt)
	pw, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(pw), "\r\n"), nil
}

// promptNewPassword asks twice and insists both answers match.
func promptNewPassword() (string, error) {
	first, err := promptPassword("New password: ")
	if err != nil {
		return "", err
	}
	if first == "" {
		return "", fmt.Errorf("%w: empty password", config.ErrConfig)
	}
	second, err := promptPassword("Repeat password: ")
	if err != nil {
		return "", err
	}
	if first != second {
		return "", fmt.Errorf("%w: passwords do not match", config.ErrConfig)
	}
	return first, nil
}

// session is everything a command needs to touch syncfiles and the ledger.
type session struct {
	cfg    *config.Config
	key    []byte
	codec  *syncfile.Codec
	ledger *syncdb.DB
	caps   platform.Capabilities
	lock   platform.Lock
}

// openSession loads the config, takes the process lock, resolves the key and
// checks it against the sync dir.
func openSession(cmd *cobra.Command) (*session, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	cmd.SilenceUsage = true

	caps := platform.New(cfg.LockDir())
	lock, err := caps.AcquireProcessLock(lockName)
	if err != nil {
		return nil, err
	}

	s := &session{cfg: cfg, caps: caps, lock: lock}
	if err := s.init(); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *session) init() error {
	key, err := s.cfg.ResolveKey(promptPassword)
	if err != nil {
		return err
	}
	if err := config.VerifyKeyCheck(s.cfg.SyncDir, key); err != nil {
		return err
	}
	s.key = key

	if s.codec, err = syncfile.New(s.cfg.SyncDir, key, s.cfg.Mapper()); err != nil {
		return err
	}
	if s.ledger, err = syncdb.Open(s.cfg.SyncDBDir); err != nil {
		return err
	}
	return nil
}

func (s *session) Close() {
	if s.lock != nil {
		s.lock.Unlock()
	}
}
