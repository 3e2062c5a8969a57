package sync

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/openmined/syftcrypt/internal/config"
	"github.com/openmined/syftcrypt/internal/syncdb"
	"github.com/openmined/syftcrypt/internal/syncfile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testKey = bytes.Repeat([]byte{0x42}, 32)

// machine is one participant sharing syncDir with the others.
type machine struct {
	cfg    *config.Config
	codec  *syncfile.Codec
	ledger *syncdb.DB
	engine *Engine
	home   string
	docs   string
}

func newMachine(t *testing.T, syncDir string, mutate func(c *config.Config)) *machine {
	t.Helper()
	base := t.TempDir()
	home := filepath.Join(base, "home")
	docs := filepath.Join(home, "docs")
	require.NoError(t, os.MkdirAll(docs, 0o755))

	cfg := &config.Config{
		SyncDir:     syncDir,
		DataDir:     filepath.Join(base, "data"),
		NativeRoots: []string{home},
		Keywords:    map[string]string{"DOCS": docs},
	}
	if mutate != nil {
		mutate(cfg)
	}
	require.NoError(t, cfg.Validate())

	codec, err := syncfile.New(cfg.SyncDir, testKey, cfg.Mapper())
	require.NoError(t, err)
	ledger, err := syncdb.Open(cfg.SyncDBDir)
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine, err := NewEngine(cfg, codec, ledger, logger)
	require.NoError(t, err)

	return &machine{cfg: cfg, codec: codec, ledger: ledger, engine: engine, home: home, docs: docs}
}

func (m *machine) run(t *testing.T) (*Report, error) {
	t.Helper()
	return m.engine.Run(context.Background(), RunOpts{})
}

func (m *machine) mustRun(t *testing.T) *Report {
	t.Helper()
	report, err := m.run(t)
	require.NoError(t, err)
	return report
}

func (m *machine) id(t *testing.T, path string) syncfile.SyncID {
	t.Helper()
	id, _, err := m.codec.DeriveIdentity(path)
	require.NoError(t, err)
	return id
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func setMtime(t *testing.T, path string, sec uint64) {
	t.Helper()
	ts := time.Unix(int64(sec), 0)
	require.NoError(t, os.Chtimes(path, ts, ts))
}

func newSyncDir(t *testing.T) string {
	return filepath.Join(t.TempDir(), "cloud", "syftcrypt")
}

func TestEngine_PushNewFile(t *testing.T) {
	a := newMachine(t, newSyncDir(t), nil)
	native := filepath.Join(a.docs, "notes", "a.txt")
	writeFile(t, native, "hello")

	report := a.mustRun(t)
	assert.Equal(t, 1, report.Pushed)
	require.Len(t, report.Planned, 1)
	assert.Equal(t, ActionPush, report.Planned[0].Action)

	id := a.id(t, native)
	sf, err := a.codec.Open(syncfile.SyncfilePath(a.cfg.SyncDir, id))
	require.NoError(t, err)

	entry, err := a.ledger.Get(id.String())
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, sf.RevGUID, entry.RevGUID)

	info, err := os.Stat(native)
	require.NoError(t, err)
	assert.Equal(t, uint64(info.ModTime().Unix()), entry.NativeMtime)
}

func TestEngine_Idempotent(t *testing.T) {
	a := newMachine(t, newSyncDir(t), nil)
	writeFile(t, filepath.Join(a.docs, "a.txt"), "a")
	writeFile(t, filepath.Join(a.docs, "sub", "b.bin"), "\x00\x01\x02")

	first := a.mustRun(t)
	assert.Equal(t, 2, first.Pushed)

	a.ledger.FlushCache()
	second := a.mustRun(t)
	assert.False(t, second.HasChanges())
	assert.Empty(t, second.Planned)
	assert.Equal(t, 2, second.Unchanged)
}

func TestEngine_MaterializeOnOtherMachine(t *testing.T) {
	syncDir := newSyncDir(t)
	a := newMachine(t, syncDir, nil)
	b := newMachine(t, syncDir, nil)

	writeFile(t, filepath.Join(a.docs, "deep", "dir", "x.txt"), "from a")
	a.mustRun(t)

	report := b.mustRun(t)
	assert.Equal(t, 1, report.Materialized)

	target := filepath.Join(b.docs, "deep", "dir", "x.txt")
	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "from a", string(data))

	id := b.id(t, target)
	sf, err := b.codec.Open(syncfile.SyncfilePath(syncDir, id))
	require.NoError(t, err)

	entry, err := b.ledger.Get(id.String())
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, sf.RevGUID, entry.RevGUID)
	info, err := os.Stat(target)
	require.NoError(t, err)
	assert.Equal(t, uint64(info.ModTime().Unix()), entry.NativeMtime)

	again := b.mustRun(t)
	assert.False(t, again.HasChanges())
}

func TestEngine_ConflictSymmetry(t *testing.T) {
	a := newMachine(t, newSyncDir(t), nil)
	native := filepath.Join(a.docs, "c.txt")
	writeFile(t, native, "v0")
	a.mustRun(t)

	id := a.id(t, native)
	t0, err := a.ledger.Get(id.String())
	require.NoError(t, err)
	m0 := t0.NativeMtime

	// another machine rewrote the syncfile: new token T1
	remote, err := a.codec.Create(native)
	require.NoError(t, err)
	require.NotEqual(t, t0.RevGUID, remote.RevGUID)

	// and the native file changed here too
	setMtime(t, native, m0+100)

	_, err = a.run(t)
	assert.ErrorIs(t, err, ErrConflict)

	// native mtime back to M0: remote change only, which is a no-op
	setMtime(t, native, m0)
	report, err := a.run(t)
	require.NoError(t, err)
	assert.False(t, report.HasChanges())

	// ledger token equal to T1 again: local change only, which is a push
	setMtime(t, native, m0+100)
	require.NoError(t, a.ledger.Update(id.String(), remote.RevGUID, m0))
	report, err = a.run(t)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Pushed)
}

func TestEngine_DeletionMarker(t *testing.T) {
	a := newMachine(t, newSyncDir(t), nil)
	native := filepath.Join(a.docs, "gone.txt")
	writeFile(t, native, "bye")
	a.mustRun(t)

	require.NoError(t, os.Remove(native))
	report := a.mustRun(t)
	assert.False(t, report.HasChanges())
	assert.NoFileExists(t, native)

	id := a.id(t, native)
	assert.FileExists(t, syncfile.SyncfilePath(a.cfg.SyncDir, id), "the syncfile stays as a marker")
}

func TestEngine_RemoteChange(t *testing.T) {
	syncDir := newSyncDir(t)
	a := newMachine(t, syncDir, nil)
	b := newMachine(t, syncDir, nil)
	puller := newMachine(t, syncDir, func(c *config.Config) { c.PullRemoteChanges = true })

	nativeA := filepath.Join(a.docs, "shared.txt")
	writeFile(t, nativeA, "v1")
	a.mustRun(t)
	b.mustRun(t)
	puller.mustRun(t)

	entry, err := a.ledger.Get(a.id(t, nativeA).String())
	require.NoError(t, err)
	writeFile(t, nativeA, "v2")
	setMtime(t, nativeA, entry.NativeMtime+100)
	assert.Equal(t, 1, a.mustRun(t).Pushed)

	t.Run("not pulled by default", func(t *testing.T) {
		report := b.mustRun(t)
		assert.False(t, report.HasChanges())
		data, err := os.ReadFile(filepath.Join(b.docs, "shared.txt"))
		require.NoError(t, err)
		assert.Equal(t, "v1", string(data))
	})

	t.Run("pulled when enabled", func(t *testing.T) {
		report := puller.mustRun(t)
		assert.Equal(t, 1, report.Pulled)
		target := filepath.Join(puller.docs, "shared.txt")
		data, err := os.ReadFile(target)
		require.NoError(t, err)
		assert.Equal(t, "v2", string(data))

		again := puller.mustRun(t)
		assert.False(t, again.HasChanges())
	})
}

func TestEngine_CompareWithoutLedgerEntry(t *testing.T) {
	syncDir := newSyncDir(t)
	a := newMachine(t, syncDir, nil)
	b := newMachine(t, syncDir, nil)

	writeFile(t, filepath.Join(a.docs, "same.txt"), "a")
	a.mustRun(t)
	writeFile(t, filepath.Join(b.docs, "same.txt"), "b")

	_, err := b.run(t)
	assert.ErrorIs(t, err, ErrConsistency)
}

func TestEngine_MaterializeRefusesExistingNative(t *testing.T) {
	syncDir := newSyncDir(t)
	a := newMachine(t, syncDir, nil)
	b := newMachine(t, syncDir, func(c *config.Config) { c.Ignore = []string{"*.bak"} })

	writeFile(t, filepath.Join(a.docs, "x.bak"), "a")
	a.mustRun(t)
	// b does not see its own x.bak, so the syncfile looks new
	writeFile(t, filepath.Join(b.docs, "x.bak"), "b")

	_, err := b.run(t)
	assert.ErrorIs(t, err, ErrConflict)
	assert.ErrorIs(t, err, syncfile.ErrNativeExists)
}

func TestEngine_SkipsUnmapped(t *testing.T) {
	syncDir := newSyncDir(t)
	a := newMachine(t, syncDir, nil)

	// native root covers home but only docs is mapped
	writeFile(t, filepath.Join(a.home, "loose.txt"), "x")
	writeFile(t, filepath.Join(a.home, "other", "loose2.txt"), "x")
	report := a.mustRun(t)
	assert.Equal(t, 0, report.Pushed)
	assert.Equal(t, 2, report.Skipped)

	t.Run("incoming keyword not mapped here", func(t *testing.T) {
		writeFile(t, filepath.Join(a.docs, "a.txt"), "x")
		a.mustRun(t)

		b := newMachine(t, syncDir, func(c *config.Config) {
			c.Keywords = map[string]string{"NOTES": c.Keywords["DOCS"]}
		})
		report := b.mustRun(t)
		assert.False(t, report.HasChanges())
		assert.Equal(t, 1, report.Skipped)
	})

	t.Run("incoming target outside native roots", func(t *testing.T) {
		outside := filepath.Join(t.TempDir(), "elsewhere")
		c := newMachine(t, syncDir, func(c *config.Config) {
			c.Keywords = map[string]string{"DOCS": outside}
		})
		report := c.mustRun(t)
		assert.False(t, report.HasChanges())
		assert.NoDirExists(t, outside)
	})
}

func TestEngine_IgnoresDuplicatesAndStrays(t *testing.T) {
	a := newMachine(t, newSyncDir(t), nil)
	native := filepath.Join(a.docs, "a.txt")
	writeFile(t, native, "a")
	a.mustRun(t)

	id := a.id(t, native)
	sfPath := syncfile.SyncfilePath(a.cfg.SyncDir, id)
	writeFile(t, filepath.Join(filepath.Dir(sfPath), string(id)+" (1).dat"), "not a syncfile")
	writeFile(t, filepath.Join(a.cfg.SyncDir, "garbage.dat"), "not a syncfile")

	report := a.mustRun(t)
	assert.False(t, report.HasChanges())
	assert.Equal(t, 2, report.Skipped)
}

func TestEngine_IgnoreRules(t *testing.T) {
	a := newMachine(t, newSyncDir(t), func(c *config.Config) { c.Ignore = []string{"*.bak", "build/"} })
	writeFile(t, filepath.Join(a.docs, "keep.txt"), "x")
	writeFile(t, filepath.Join(a.docs, "skip.bak"), "x")
	writeFile(t, filepath.Join(a.docs, "build", "out.txt"), "x")
	writeFile(t, filepath.Join(a.docs, ".DS_Store"), "x")
	writeFile(t, filepath.Join(a.home, IgnoreFileName), "docs/private/\n")
	writeFile(t, filepath.Join(a.docs, "private", "diary.txt"), "x")

	report := a.mustRun(t)
	assert.Equal(t, 1, report.Pushed)
}

func TestEngine_IgnoreFileReloadedEachPass(t *testing.T) {
	a := newMachine(t, newSyncDir(t), nil)
	ignoreFile := filepath.Join(a.home, IgnoreFileName)
	writeFile(t, ignoreFile, "docs/private/\n")
	writeFile(t, filepath.Join(a.docs, "keep.txt"), "x")
	writeFile(t, filepath.Join(a.docs, "private", "diary.txt"), "x")

	report := a.mustRun(t)
	assert.Equal(t, 1, report.Pushed)

	writeFile(t, ignoreFile, "")
	report = a.mustRun(t)
	assert.Equal(t, 1, report.Pushed, "the same engine picks up the edited ignore file")
	assert.FileExists(t, syncfile.SyncfilePath(a.cfg.SyncDir, a.id(t, filepath.Join(a.docs, "private", "diary.txt"))))
}

func TestEngine_SyncDirInsideRootIsSkipped(t *testing.T) {
	base := t.TempDir()
	a := newMachine(t, "", func(c *config.Config) {
		c.NativeRoots = []string{base}
		c.Keywords = map[string]string{"BASE": base}
		c.SyncDir = filepath.Join(base, "Dropbox", "syftcrypt")
	})
	writeFile(t, filepath.Join(base, "a.txt"), "x")

	first := a.mustRun(t)
	assert.Equal(t, 1, first.Pushed)
	second := a.mustRun(t)
	assert.False(t, second.HasChanges(), "syncfiles are not pushed as native files")
}

func TestEngine_DryRun(t *testing.T) {
	syncDir := newSyncDir(t)
	a := newMachine(t, syncDir, nil)
	native := filepath.Join(a.docs, "a.txt")
	writeFile(t, native, "a")

	report, err := a.engine.Run(context.Background(), RunOpts{DryRun: true})
	require.NoError(t, err)
	assert.True(t, report.DryRun)
	require.Len(t, report.Planned, 1)
	assert.Equal(t, ActionPush, report.Planned[0].Action)
	assert.Equal(t, native, report.Planned[0].NativePath)
	assert.Equal(t, 0, report.Pushed)

	id := a.id(t, native)
	assert.NoFileExists(t, syncfile.SyncfilePath(syncDir, id))
	entry, err := a.ledger.Get(id.String())
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestEngine_VerifyIntegrityError(t *testing.T) {
	syncDir := newSyncDir(t)
	a := newMachine(t, syncDir, nil)
	b := newMachine(t, syncDir, nil)
	native := filepath.Join(a.docs, "a.txt")
	writeFile(t, native, "some content that is long enough")
	a.mustRun(t)

	sfPath := syncfile.SyncfilePath(syncDir, a.id(t, native))
	data, err := os.ReadFile(sfPath)
	require.NoError(t, err)
	data[len(data)-40] ^= 0xff
	require.NoError(t, os.WriteFile(sfPath, data, 0o644))

	_, err = b.run(t)
	assert.ErrorIs(t, err, syncfile.ErrIntegrity)
	assert.NoFileExists(t, filepath.Join(b.docs, "a.txt"))
}

func TestEngine_Recorder(t *testing.T) {
	syncDir := newSyncDir(t)
	a := newMachine(t, syncDir, nil)
	b := newMachine(t, syncDir, nil)
	rec := &memRecorder{}
	b.engine.SetRecorder(rec)

	writeFile(t, filepath.Join(a.docs, "a.txt"), "a")
	a.mustRun(t)
	writeFile(t, filepath.Join(b.docs, "b.txt"), "b")
	b.mustRun(t)

	require.Len(t, rec.events, 2)
	actions := []Action{rec.events[0].Action, rec.events[1].Action}
	assert.ElementsMatch(t, []Action{ActionPush, ActionMaterialize}, actions)
	for _, ev := range rec.events {
		assert.NotEmpty(t, ev.RevGUID)
		assert.NotEmpty(t, ev.NativePath)
	}
}

func TestEngine_AlreadyRunning(t *testing.T) {
	a := newMachine(t, newSyncDir(t), nil)
	a.engine.muSync.Lock()
	defer a.engine.muSync.Unlock()

	_, err := a.run(t)
	assert.ErrorIs(t, err, ErrSyncAlreadyRunning)
}

func TestVerify(t *testing.T) {
	for _, action := range []Action{ActionCompare, ActionCheckRevision} {
		err := verify([]*WorkItem{{ID: "x", Action: ActionNone}, {ID: "y", Action: action}})
		assert.ErrorIs(t, err, ErrConsistency, action.String())
	}
	assert.NoError(t, verify([]*WorkItem{{Action: ActionPush}, {Action: ActionMaterialize}, {Action: ActionPull}, {Action: ActionNone}}))
}

func TestAction_String(t *testing.T) {
	assert.Equal(t, "Push", ActionPush.String())
	assert.Equal(t, "CheckRevision", ActionCheckRevision.String())
	assert.Equal(t, "Unknown", Action(99).String())
	assert.True(t, ActionCompare.Unresolved())
	assert.False(t, ActionMaterialize.Unresolved())
}

type memRecorder struct {
	events []Event
}

func (m *memRecorder) Record(_ context.Context, ev Event) error {
	m.events = append(m.events, ev)
	return nil
}
