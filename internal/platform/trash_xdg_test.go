//go:build linux || freebsd || openbsd || netbsd || dragonfly

package platform

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrySendToTrash_XDG(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("XDG_DATA_HOME", filepath.Join(tmp, "share"))

	victim := filepath.Join(tmp, "work", "my file.txt")
	require.NoError(t, os.MkdirAll(filepath.Dir(victim), 0o755))
	require.NoError(t, os.WriteFile(victim, []byte("bye"), 0o644))

	s := New(tmp)
	require.NoError(t, s.TrySendToTrash(victim))
	assert.NoFileExists(t, victim)

	trashed := filepath.Join(tmp, "share", "Trash", "files", "my file.txt")
	data, err := os.ReadFile(trashed)
	require.NoError(t, err)
	assert.Equal(t, "bye", string(data))

	info, err := os.ReadFile(filepath.Join(tmp, "share", "Trash", "info", "my file.txt.trashinfo"))
	require.NoError(t, err)
	assert.Contains(t, string(info), "[Trash Info]")
	assert.Contains(t, string(info), "my%20file.txt")

	// a second file with the same name does not clobber the first
	require.NoError(t, os.WriteFile(victim, []byte("again"), 0o644))
	require.NoError(t, s.TrySendToTrash(victim))
	assert.FileExists(t, filepath.Join(tmp, "share", "Trash", "files", "my file.2.txt"))
}

func TestTrySendToTrash_Missing(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("XDG_DATA_HOME", filepath.Join(tmp, "share"))

	err := New(tmp).TrySendToTrash(filepath.Join(tmp, "nope.txt"))
	assert.ErrorIs(t, err, os.ErrNotExist)
	entries, _ := os.ReadDir(filepath.Join(tmp, "share", "Trash", "info"))
	assert.Empty(t, entries)
}
