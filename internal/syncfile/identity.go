package syncfile

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"strings"

	"github.com/openmined/syftcrypt/internal/pathmap"
)

// Ext is the extension of every syncfile in the sync dir.
const Ext = ".dat"

// SyncID identifies one logical file across all machines.
type SyncID string

// DeriveID hashes the keyword and the slash separated relative path into a sync id.
func DeriveID(keyword, relPath string) SyncID {
	sum := sha256.Sum256([]byte(pathmap.NormKeyword(keyword) + ":" + filepath.ToSlash(relPath)))
	return SyncID(hex.EncodeToString(sum[:]))
}

// Valid reports whether id looks like a sync id.
func (id SyncID) Valid() bool {
	if len(id) != sha256.Size*2 {
		return false
	}
	_, err := hex.DecodeString(string(id))
	return err == nil
}

func (id SyncID) Shard() string {
	return string(id[:2])
}

func (id SyncID) String() string {
	return string(id)
}

// IDFromPath extracts the sync id from a syncfile path. ok is false for
// anything that is not named like a syncfile.
func IDFromPath(path string) (SyncID, bool) {
	base := filepath.Base(path)
	if !strings.HasSuffix(base, Ext) {
		return "", false
	}
	id := SyncID(strings.TrimSuffix(base, Ext))
	return id, id.Valid()
}

// SyncfilePath is where the syncfile for id lives inside syncDir.
func SyncfilePath(syncDir string, id SyncID) string {
	return filepath.Join(syncDir, id.Shard(), string(id)+Ext)
}
