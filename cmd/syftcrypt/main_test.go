package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/openmined/syftcrypt/internal/config"
	"github.com/openmined/syftcrypt/internal/syncfile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testKey  = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"
	otherKey = "f0e0d0c0b0a090807060504030201000f0e0d0c0b0a090807060504030201000"
)

type testEnv struct {
	configPath string
	syncDir    string
	docs       string
	dataDir    string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	base := t.TempDir()
	env := &testEnv{
		configPath: filepath.Join(base, "config.yaml"),
		syncDir:    filepath.Join(base, "shared"),
		docs:       filepath.Join(base, "docs"),
		dataDir:    filepath.Join(base, "data"),
	}
	require.NoError(t, os.MkdirAll(env.syncDir, 0o755))
	require.NoError(t, os.MkdirAll(env.docs, 0o755))

	for _, k := range append(envKeys, "config") {
		t.Setenv(envPrefix+"_"+strings.ToUpper(k), "")
	}
	t.Setenv("XDG_DATA_HOME", filepath.Join(base, "xdg"))
	return env
}

func (e *testEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append(args, "--config", e.configPath))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func (e *testEnv) init(t *testing.T) {
	t.Helper()
	_, err := e.run(t, "init",
		"--sync-dir", e.syncDir,
		"--data-dir", e.dataDir,
		"--root", e.docs,
		"--map", "DOCS="+e.docs,
	)
	require.NoError(t, err)
}

func (e *testEnv) syncfilePath(rel string) string {
	return syncfile.SyncfilePath(e.syncDir, syncfile.DeriveID("DOCS", rel))
}

func TestVersionCommand(t *testing.T) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})

	require.NoError(t, cmd.Execute())
	assert.True(t, strings.HasPrefix(out.String(), "syftcrypt "))
}

func TestInit_WritesConfig(t *testing.T) {
	env := newTestEnv(t)
	env.init(t)

	info, err := os.Stat(env.configPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	_, err = env.run(t, "init", "--sync-dir", env.syncDir, "--root", env.docs, "--map", "DOCS="+env.docs)
	assert.ErrorIs(t, err, config.ErrConfig, "existing config needs --force")
}

func TestLoadConfig_FileAndEnv(t *testing.T) {
	env := newTestEnv(t)
	env.init(t)
	t.Setenv("SYFTCRYPT_KEY", testKey)
	t.Setenv("SYFTCRYPT_PULL_REMOTE_CHANGES", "true")

	cmd := newRootCmd()
	require.NoError(t, cmd.PersistentFlags().Set("config", env.configPath))

	cfg, err := loadConfig(cmd)
	require.NoError(t, err)
	assert.Equal(t, env.syncDir, cfg.SyncDir)
	assert.Equal(t, []string{env.docs}, cfg.NativeRoots)
	assert.Equal(t, env.dataDir, cfg.DataDir)
	assert.Equal(t, testKey, cfg.Key)
	assert.True(t, cfg.PullRemoteChanges)
	assert.Equal(t, config.DefaultWatchInterval, cfg.WatchInterval)

	dir, ok := cfg.Mapper().LookupDir("docs")
	assert.True(t, ok)
	assert.Equal(t, env.docs, dir)
}

func TestLoadConfig_EnvPath(t *testing.T) {
	env := newTestEnv(t)
	env.init(t)
	t.Setenv("SYFTCRYPT_CONFIG", env.configPath)

	cfg, err := loadConfig(newRootCmd())
	require.NoError(t, err)
	assert.Equal(t, env.configPath, cfg.Path)
}

func TestLoadConfig_Missing(t *testing.T) {
	env := newTestEnv(t)

	cmd := newRootCmd()
	require.NoError(t, cmd.PersistentFlags().Set("config", env.configPath))

	_, err := loadConfig(cmd)
	assert.ErrorIs(t, err, config.ErrConfig)
	assert.Contains(t, err.Error(), "syftcrypt init")
}

func TestSync_EndToEnd(t *testing.T) {
	env := newTestEnv(t)
	env.init(t)
	t.Setenv("SYFTCRYPT_KEY", testKey)

	native := filepath.Join(env.docs, "notes", "a.txt")
	require.NoError(t, os.MkdirAll(filepath.Dir(native), 0o755))
	require.NoError(t, os.WriteFile(native, []byte("hello syftcrypt"), 0o644))

	out, err := env.run(t, "sync", "--dry-run")
	require.NoError(t, err)
	assert.Contains(t, out, "Push")
	assert.NoFileExists(t, env.syncfilePath("notes/a.txt"))

	out, err = env.run(t, "sync")
	require.NoError(t, err)
	assert.Contains(t, out, "pushed 1")
	sfPath := env.syncfilePath("notes/a.txt")
	assert.FileExists(t, sfPath)

	out, err = env.run(t, "sync", "--dry-run")
	require.NoError(t, err)
	assert.Contains(t, out, "nothing to do")

	out, err = env.run(t, "info", sfPath)
	require.NoError(t, err)
	assert.Contains(t, out, "notes/a.txt")
	assert.Contains(t, out, "ledger_revguid")

	decrypted := filepath.Join(t.TempDir(), "out.txt")
	_, err = env.run(t, "decrypt", sfPath, "-o", decrypted)
	require.NoError(t, err)
	data, err := os.ReadFile(decrypted)
	require.NoError(t, err)
	assert.Equal(t, "hello syftcrypt", string(data))

	out, err = env.run(t, "history")
	require.NoError(t, err)
	assert.Contains(t, out, native)
}

func TestSync_WrongKeyRejected(t *testing.T) {
	env := newTestEnv(t)
	env.init(t)

	t.Setenv("SYFTCRYPT_KEY", testKey)
	_, err := env.run(t, "sync")
	require.NoError(t, err)

	t.Setenv("SYFTCRYPT_KEY", otherKey)
	_, err = env.run(t, "sync")
	assert.ErrorIs(t, err, config.ErrWrongPassword)
}

func TestPasswd_NewKeyKeepsRevisions(t *testing.T) {
	env := newTestEnv(t)
	env.init(t)
	t.Setenv("SYFTCRYPT_KEY", testKey)

	require.NoError(t, os.WriteFile(filepath.Join(env.docs, "a.txt"), []byte("alpha"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(env.docs, "b.bin"), []byte{0, 1, 2, 3}, 0o644))
	_, err := env.run(t, "sync")
	require.NoError(t, err)

	out, err := env.run(t, "passwd", "--new-key", otherKey)
	require.NoError(t, err)
	assert.Contains(t, out, "re-encrypted 2 syncfiles")

	_, err = env.run(t, "sync")
	assert.ErrorIs(t, err, config.ErrWrongPassword, "old key no longer passes the key check")

	t.Setenv("SYFTCRYPT_KEY", otherKey)
	out, err = env.run(t, "sync", "--dry-run")
	require.NoError(t, err)
	assert.Contains(t, out, "nothing to do")
}

func TestResolve_Theirs(t *testing.T) {
	env := newTestEnv(t)
	env.init(t)
	t.Setenv("SYFTCRYPT_KEY", testKey)

	native := filepath.Join(env.docs, "a.txt")
	require.NoError(t, os.WriteFile(native, []byte("remote"), 0o644))
	_, err := env.run(t, "sync")
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(native, []byte("local edit"), 0o644))

	_, err = env.run(t, "resolve", "--theirs", native)
	require.NoError(t, err)
	assert.NoFileExists(t, native)

	out, err := env.run(t, "sync")
	require.NoError(t, err)
	assert.Contains(t, out, "materialized 1")

	data, err := os.ReadFile(native)
	require.NoError(t, err)
	assert.Equal(t, "remote", string(data))
}

func TestResolve_RequiresOneSide(t *testing.T) {
	env := newTestEnv(t)
	env.init(t)

	_, err := env.run(t, "resolve", filepath.Join(env.docs, "a.txt"))
	assert.Error(t, err)
}

func TestStatus(t *testing.T) {
	env := newTestEnv(t)
	env.init(t)
	t.Setenv("SYFTCRYPT_KEY", testKey)

	require.NoError(t, os.WriteFile(filepath.Join(env.docs, "a.txt"), []byte("alpha"), 0o644))
	_, err := env.run(t, "sync")
	require.NoError(t, err)

	out, err := env.run(t, "status")
	require.NoError(t, err)
	assert.Contains(t, out, env.syncDir)
	assert.Contains(t, out, "DOCS = "+env.docs)
	assert.Regexp(t, `syncfiles:\s+1`, out)
	assert.Regexp(t, `tracked:\s+1`, out)
	assert.Contains(t, out, "1 entries")
}

func TestHistory_BySyncID(t *testing.T) {
	env := newTestEnv(t)
	env.init(t)
	t.Setenv("SYFTCRYPT_KEY", testKey)

	require.NoError(t, os.WriteFile(filepath.Join(env.docs, "a.txt"), []byte("alpha"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(env.docs, "b.txt"), []byte("beta"), 0o644))
	_, err := env.run(t, "sync")
	require.NoError(t, err)

	id := syncfile.DeriveID("DOCS", "a.txt")
	out, err := env.run(t, "history", "--syncid", id.String())
	require.NoError(t, err)
	assert.Contains(t, out, "a.txt")
	assert.NotContains(t, out, "b.txt")
}
