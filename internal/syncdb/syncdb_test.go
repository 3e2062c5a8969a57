package syncdb

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testID = "ab12cd34ef56ab12cd34ef56ab12cd34ef56ab12cd34ef56ab12cd34ef56ab12"

func setupDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "syncdb"))
	require.NoError(t, err)
	return db
}

func TestDB_GetMissing(t *testing.T) {
	db := setupDB(t)
	e, err := db.Get(testID)
	require.NoError(t, err)
	assert.Nil(t, e)
}

func TestDB_UpdateFlushGet(t *testing.T) {
	db := setupDB(t)
	guid := uuid.New()

	require.NoError(t, db.Update(testID, guid, 1700000000))

	e, err := db.Get(testID)
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, Entry{RevGUID: guid, NativeMtime: 1700000000}, *e)

	db.FlushCache()

	e, err = db.Get(testID)
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, guid, e.RevGUID)
	assert.Equal(t, uint64(1700000000), e.NativeMtime)
}

func TestDB_RecordLayout(t *testing.T) {
	db := setupDB(t)
	guid := uuid.New()
	require.NoError(t, db.Update(testID, guid, 42))

	data, err := os.ReadFile(filepath.Join(db.Root(), "ab", testID))
	require.NoError(t, err)
	assert.Equal(t, "revguid: "+guid.String()+"\nnative_mtime: 42\n", string(data))
}

func TestDB_UpdateOverwrites(t *testing.T) {
	db := setupDB(t)
	require.NoError(t, db.Update(testID, uuid.New(), 1))
	second := uuid.New()
	require.NoError(t, db.Update(testID, second, 2))

	db.FlushCache()
	e, err := db.Get(testID)
	require.NoError(t, err)
	assert.Equal(t, second, e.RevGUID)
	assert.Equal(t, uint64(2), e.NativeMtime)

	n, err := db.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestDB_MalformedRecords(t *testing.T) {
	cases := map[string]string{
		"bad uuid":      "revguid: not-a-uuid\nnative_mtime: 1\n",
		"negative time": "revguid: " + uuid.NewString() + "\nnative_mtime: -5\n",
		"text time":     "revguid: " + uuid.NewString() + "\nnative_mtime: yesterday\n",
		"missing time":  "revguid: " + uuid.NewString() + "\n",
		"garbage":       "::::\n\t- [",
	}

	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			db := setupDB(t)
			path := filepath.Join(db.Root(), "ab", testID)
			require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
			require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

			e, err := db.Get(testID)
			assert.ErrorIs(t, err, ErrIO)
			assert.Nil(t, e)
		})
	}
}

func TestDB_Delete(t *testing.T) {
	db := setupDB(t)
	require.NoError(t, db.Update(testID, uuid.New(), 1))
	require.NoError(t, db.Delete(testID))

	e, err := db.Get(testID)
	require.NoError(t, err)
	assert.Nil(t, e)

	assert.NoError(t, db.Delete(testID), "deleting twice is fine")
}

func TestDB_InvalidID(t *testing.T) {
	db := setupDB(t)
	for _, id := range []string{"", "a", "../etc", "ab/cd", `ab\cd`} {
		_, err := db.Get(id)
		assert.ErrorIs(t, err, ErrIO, id)
		assert.ErrorIs(t, db.Update(id, uuid.New(), 1), ErrIO, id)
	}
}

func TestDB_CacheEviction(t *testing.T) {
	db, err := OpenWithCacheSize(t.TempDir(), 2)
	require.NoError(t, err)

	ids := make([]string, 5)
	for i := range ids {
		ids[i] = strings.Repeat(string(rune('a'+i)), 64)
		require.NoError(t, db.Update(ids[i], uuid.New(), uint64(i)))
	}
	for i, id := range ids {
		e, err := db.Get(id)
		require.NoError(t, err)
		require.NotNil(t, e)
		assert.Equal(t, uint64(i), e.NativeMtime)
	}

	n, err := db.Count()
	require.NoError(t, err)
	assert.Equal(t, 5, n)
}
