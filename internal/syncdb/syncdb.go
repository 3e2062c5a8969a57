// Package syncdb is the per machine revision ledger. For every sync id it
// remembers the revguid last synced and the native mtime seen at that moment.
//
// Records are small text files sharded by the first two characters of the id:
//
//	<root>/<id[0:2]>/<id>
//
// holding two lines, "revguid: <uuid>" and "native_mtime: <unix seconds>".
package syncdb

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/openmined/syftcrypt/internal/utils"
	"gopkg.in/yaml.v3"
)

// DefaultCacheSize is the number of entries kept in memory.
const DefaultCacheSize = 4096

// ErrIO wraps every failure to read, parse or write a ledger record.
var ErrIO = errors.New("syncdb io error")

// Entry is what the ledger remembers about one sync id.
type Entry struct {
	RevGUID     uuid.UUID
	NativeMtime uint64
}

type record struct {
	RevGUID     string  `yaml:"revguid"`
	NativeMtime *uint64 `yaml:"native_mtime"`
}

// DB is the revision ledger rooted at a directory. It is not safe for
// concurrent use by multiple processes; callers hold the process lock.
type DB struct {
	root  string
	cache *lru.Cache[string, Entry]
}

// Open creates the ledger root if needed.
func Open(root string) (*DB, error) {
	return OpenWithCacheSize(root, DefaultCacheSize)
}

func OpenWithCacheSize(root string, size int) (*DB, error) {
	if err := utils.EnsureDir(root); err != nil {
		return nil, fmt.Errorf("%w: create %s: %w", ErrIO, root, err)
	}
	cache, err := lru.New[string, Entry](size)
	if err != nil {
		return nil, err
	}
	return &DB{root: root, cache: cache}, nil
}

// Root is the ledger directory.
func (d *DB) Root() string {
	return d.root
}

func (d *DB) recordPath(id string) (string, error) {
	if len(id) < 3 || strings.ContainsAny(id, `/\.:`) {
		return "", fmt.Errorf("%w: invalid id %q", ErrIO, id)
	}
	return filepath.Join(d.root, id[:2], id), nil
}

// Get returns the entry for id, or nil when this machine has never synced it.
func (d *DB) Get(id string) (*Entry, error) {
	if e, ok := d.cache.Get(id); ok {
		return &e, nil
	}

	path, err := d.recordPath(id)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", ErrIO, id, err)
	}

	e, err := parseRecord(data)
	if err != nil {
		return nil, fmt.Errorf("%w: record %s: %w", ErrIO, id, err)
	}

	d.cache.Add(id, e)
	return &e, nil
}

// Update durably records revguid and mtime for id and refreshes the cache.
func (d *DB) Update(id string, revGUID uuid.UUID, nativeMtime uint64) error {
	path, err := d.recordPath(id)
	if err != nil {
		return err
	}

	err = utils.WriteFileAtomic(path, 0o644, func(w io.Writer) error {
		_, err := fmt.Fprintf(w, "revguid: %s\nnative_mtime: %d\n", revGUID, nativeMtime)
		return err
	})
	if err != nil {
		// the cache must never claim what the disk does not hold
		d.cache.Remove(id)
		return fmt.Errorf("%w: write %s: %w", ErrIO, id, err)
	}

	d.cache.Add(id, Entry{RevGUID: revGUID, NativeMtime: nativeMtime})
	return nil
}

// Delete forgets id. Deleting an unknown id is not an error.
func (d *DB) Delete(id string) error {
	path, err := d.recordPath(id)
	if err != nil {
		return err
	}
	d.cache.Remove(id)
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: delete %s: %w", ErrIO, id, err)
	}
	return nil
}

// FlushCache drops the in-memory cache. Records on disk are untouched.
func (d *DB) FlushCache() {
	d.cache.Purge()
}

// Count returns the number of records on disk.
func (d *DB) Count() (int, error) {
	count := 0
	err := filepath.WalkDir(d.root, func(path string, de fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if de.Type().IsRegular() && !utils.IsTempFile(path) {
			count++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrIO, err)
	}
	return count, nil
}

func parseRecord(data []byte) (Entry, error) {
	var r record
	if err := yaml.Unmarshal(data, &r); err != nil {
		return Entry{}, err
	}
	if r.RevGUID == "" || r.NativeMtime == nil {
		return Entry{}, errors.New("missing revguid or native_mtime")
	}
	guid, err := uuid.Parse(r.RevGUID)
	if err != nil {
		return Entry{}, fmt.Errorf("revguid: %w", err)
	}
	return Entry{RevGUID: guid, NativeMtime: *r.NativeMtime}, nil
}
