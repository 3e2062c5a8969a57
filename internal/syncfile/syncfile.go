// Package syncfile reads and writes syncfiles, the encrypted copies of native
// files that live in the shared sync directory.
//
// Layout of a syncfile:
//
//	clear header (key: value lines, ended by an empty line)
//	iv (16 bytes)
//	ciphertext
//	tag (32 bytes, HMAC-SHA-256 over header || iv || ciphertext)
package syncfile

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/openmined/syftcrypt/internal/crypt"
	"github.com/openmined/syftcrypt/internal/pathmap"
	"github.com/openmined/syftcrypt/internal/utils"
)

// SyncFile is the decrypted view of one syncfile. The payload is only
// decrypted on demand through DecryptTo.
type SyncFile struct {
	ID      SyncID
	Path    string
	RevGUID uuid.UUID
	Keyword string
	RelPath string
	Binary  bool
	Size    int64
	Origin  string
	Created time.Time

	// NativeModTime is the native mtime observed when the syncfile was created
	// from it. Zero for syncfiles read with Open.
	NativeModTime time.Time

	key        []byte
	header     []byte
	iv         []byte
	tag        []byte
	dataOffset int64
	cipherLen  int64
}

// Codec creates and opens syncfiles under one key.
type Codec struct {
	syncDir string
	key     []byte
	mapper  *pathmap.Mapper
	origin  string
}

func New(syncDir string, key []byte, mapper *pathmap.Mapper) (*Codec, error) {
	if len(key) != crypt.KeySize {
		return nil, fmt.Errorf("%w: key must be %d bytes", crypt.ErrCrypto, crypt.KeySize)
	}
	if mapper == nil {
		return nil, errors.New("syncfile: nil mapper")
	}
	return &Codec{
		syncDir: syncDir,
		key:     key,
		mapper:  mapper,
		origin:  machineOrigin(),
	}, nil
}

// SyncDir is the shared directory holding the syncfiles.
func (c *Codec) SyncDir() string {
	return c.syncDir
}

// DeriveIdentity maps a native path to its sync id and syncfile path.
// Paths outside every mapped directory return pathmap.ErrUnmapped.
func (c *Codec) DeriveIdentity(nativePath string) (SyncID, string, error) {
	keyword, rel, err := c.mapper.KeywordAndRelPath(nativePath)
	if err != nil {
		return "", "", err
	}
	id := DeriveID(keyword, rel)
	return id, SyncfilePath(c.syncDir, id), nil
}

// Create encrypts the native file into its syncfile under a fresh revguid.
// The syncfile is replaced atomically.
func (c *Codec) Create(nativePath string) (*SyncFile, error) {
	keyword, rel, err := c.mapper.KeywordAndRelPath(nativePath)
	if err != nil {
		return nil, err
	}
	id := DeriveID(keyword, rel)

	f, err := os.Open(nativePath)
	if err != nil {
		return nil, fmt.Errorf("open native file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat native file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%s is not a regular file", nativePath)
	}

	binary, content, err := sniffBinary(f)
	if err != nil {
		return nil, fmt.Errorf("read native file: %w", err)
	}

	sf := &SyncFile{
		ID:            id,
		Path:          SyncfilePath(c.syncDir, id),
		RevGUID:       uuid.New(),
		Keyword:       keyword,
		RelPath:       rel,
		Binary:        binary,
		Size:          info.Size(),
		Origin:        c.origin,
		Created:       time.Now().UTC().Truncate(time.Second),
		NativeModTime: info.ModTime(),
	}

	if err := c.write(sf, sf.Path, content); err != nil {
		return nil, err
	}
	return sf, nil
}

// SaveWithData encrypts plaintext under this codec's key into targetPath,
// keeping the revguid, identity, content type and origin of sf. Re-keying a
// syncfile this way is invisible to other machines.
func (c *Codec) SaveWithData(sf *SyncFile, targetPath string, plaintext io.Reader) error {
	out := *sf
	out.Path = targetPath
	out.NativeModTime = time.Time{}
	if err := c.write(&out, targetPath, plaintext); err != nil {
		return err
	}
	*sf = out
	return nil
}

// write encrypts exactly sf.Size bytes of content into path and fills in the
// key, header, iv and tag of sf.
func (c *Codec) write(sf *SyncFile, path string, content io.Reader) error {
	meta, err := sealMetadata(c.key, &metadata{
		Keyword: sf.Keyword,
		Path:    sf.RelPath,
		RevGUID: sf.RevGUID.String(),
	})
	if err != nil {
		return err
	}

	h := &header{
		Version: formatVersion,
		SyncID:  sf.ID,
		Binary:  sf.Binary,
		Size:    sf.Size,
		Origin:  sf.Origin,
		Created: sf.Created.UTC().Format(time.RFC3339),
		Meta:    meta,
	}
	hdr := h.marshal()

	iv, err := crypt.NewIV()
	if err != nil {
		return err
	}

	var tag []byte
	var cipherLen int64
	err = utils.WriteFileAtomic(path, 0o644, func(w io.Writer) error {
		cw := &countingWriter{w: w}
		if _, err := cw.Write(hdr); err != nil {
			return err
		}
		if _, err := cw.Write(iv); err != nil {
			return err
		}
		start := cw.n

		// one extra byte tells a grown file apart from an unchanged one
		t, n, err := crypt.EncryptStream(cw, io.LimitReader(content, sf.Size+1), c.key, iv, authData(hdr, iv))
		if err != nil {
			return err
		}
		if n != sf.Size {
			return fmt.Errorf("%s changed while being read: expected %d bytes, got %d", path, sf.Size, n)
		}
		cipherLen = cw.n - start

		if _, err := cw.Write(t); err != nil {
			return err
		}
		tag = t
		return nil
	})
	if err != nil {
		return fmt.Errorf("write syncfile %s: %w", path, err)
	}

	sf.key = c.key
	sf.header = hdr
	sf.iv = iv
	sf.tag = tag
	sf.dataOffset = int64(len(hdr)) + crypt.IVSize
	sf.cipherLen = cipherLen
	return nil
}

// Open reads the header, iv and tag of a syncfile and decrypts its metadata.
// The payload is left untouched.
func (c *Codec) Open(path string) (*SyncFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open syncfile: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat syncfile: %w", err)
	}

	br := bufio.NewReader(f)
	h, hdr, err := readHeader(br)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	iv := make([]byte, crypt.IVSize)
	if _, err := io.ReadFull(br, iv); err != nil {
		return nil, fmt.Errorf("%s: %w: truncated before iv", path, ErrDecode)
	}

	dataOffset := int64(len(hdr)) + crypt.IVSize
	cipherLen := info.Size() - dataOffset - crypt.TagSize
	if cipherLen < crypt.IVSize || cipherLen%crypt.IVSize != 0 {
		return nil, fmt.Errorf("%s: %w: bad payload length %d", path, ErrDecode, cipherLen)
	}

	tag := make([]byte, crypt.TagSize)
	if _, err := f.ReadAt(tag, info.Size()-crypt.TagSize); err != nil {
		return nil, fmt.Errorf("%s: read tag: %w", path, err)
	}

	m, err := openMetadata(c.key, h.Meta)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if DeriveID(m.Keyword, m.Path) != h.SyncID {
		return nil, fmt.Errorf("%s: %w: syncid does not match metadata", path, ErrDecode)
	}

	created, _ := time.Parse(time.RFC3339, h.Created)
	return &SyncFile{
		ID:         h.SyncID,
		Path:       path,
		RevGUID:    uuid.MustParse(m.RevGUID),
		Keyword:    m.Keyword,
		RelPath:    m.Path,
		Binary:     h.Binary,
		Size:       h.Size,
		Origin:     h.Origin,
		Created:    created,
		key:        c.key,
		header:     hdr,
		iv:         iv,
		tag:        tag,
		dataOffset: dataOffset,
		cipherLen:  cipherLen,
	}, nil
}

// DecryptTo streams the plaintext into w. The tag is checked only once the
// whole payload has been consumed, so w must not be trusted until DecryptTo
// returns nil.
func (sf *SyncFile) DecryptTo(w io.Writer) error {
	if sf.key == nil {
		return errors.New("syncfile: not opened through a codec")
	}

	f, err := os.Open(sf.Path)
	if err != nil {
		return fmt.Errorf("open syncfile: %w", err)
	}
	defer f.Close()

	payload := io.NewSectionReader(f, sf.dataOffset, sf.cipherLen)
	cw := &countingWriter{w: w}
	got, err := crypt.DecryptStream(cw, payload, sf.cipherLen, sf.key, sf.iv, authData(sf.header, sf.iv))
	if err != nil {
		// tampering usually shows up as bad padding first
		if got != nil && !crypt.TagEqual(got, sf.tag) {
			return fmt.Errorf("%s: %w", sf.Path, ErrIntegrity)
		}
		// replaced or truncated since Open
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return fmt.Errorf("%s: %w: %w", sf.Path, ErrIntegrity, err)
		}
		return fmt.Errorf("%s: %w", sf.Path, err)
	}
	if !crypt.TagEqual(got, sf.tag) {
		return fmt.Errorf("%s: %w", sf.Path, ErrIntegrity)
	}
	if cw.n != sf.Size {
		return fmt.Errorf("%s: %w: header size %d does not match payload size %d", sf.Path, ErrDecode, sf.Size, cw.n)
	}
	return nil
}

// RestoreNative decrypts sf to its mapped native path. An existing native file
// is never overwritten.
func (c *Codec) RestoreNative(sf *SyncFile) (string, error) {
	target, err := c.mapper.NativePath(sf.Keyword, sf.RelPath)
	if err != nil {
		return "", err
	}
	if err := c.restoreTo(sf, target, false); err != nil {
		return "", err
	}
	return target, nil
}

// ReplaceNative decrypts sf over an existing native file at target.
func (c *Codec) ReplaceNative(sf *SyncFile, target string) error {
	return c.restoreTo(sf, target, true)
}

func (c *Codec) restoreTo(sf *SyncFile, target string, overwrite bool) (err error) {
	if !overwrite {
		if _, err := os.Lstat(target); err == nil {
			return fmt.Errorf("%s: %w", target, ErrNativeExists)
		} else if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("stat native file: %w", err)
		}
	}

	tmp, err := utils.CreateTempBeside(target)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	if err = sf.DecryptTo(tmp); err != nil {
		return err
	}
	if err = tmp.Chmod(0o644); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	if !overwrite {
		if _, serr := os.Lstat(target); serr == nil {
			err = fmt.Errorf("%s: %w", target, ErrNativeExists)
			return err
		}
	}
	if err = os.Rename(tmpPath, target); err != nil {
		return fmt.Errorf("rename %s: %w", filepath.Base(target), err)
	}
	return nil
}

// MetadataHash returns the clear and decrypted header fields of a syncfile
// for inspection.
func (c *Codec) MetadataHash(path string) (map[string]string, error) {
	sf, err := c.Open(path)
	if err != nil {
		return nil, err
	}

	fields := map[string]string{
		"syftcrypt": strconv.Itoa(formatVersion),
		"syncid":    sf.ID.String(),
		"binary":    strconv.FormatBool(sf.Binary),
		"size":      strconv.FormatInt(sf.Size, 10),
		"origin":    sf.Origin,
		"created":   sf.Created.Format(time.RFC3339),
		"keyword":   sf.Keyword,
		"path":      sf.RelPath,
		"revguid":   sf.RevGUID.String(),
	}
	if native, err := c.mapper.NativePath(sf.Keyword, sf.RelPath); err == nil {
		fields["native_path"] = native
	}
	return fields, nil
}

func authData(hdr, iv []byte) []byte {
	aad := make([]byte, 0, len(hdr)+len(iv))
	aad = append(aad, hdr...)
	return append(aad, iv...)
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n += int64(n)
	return n, err
}
