package syncfile

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/openmined/syftcrypt/internal/crypt"
	"gopkg.in/yaml.v3"
)

const (
	formatVersion = 1

	// the clear header is a handful of short lines
	maxHeaderSize = 64 * 1024
)

// header is the clear text block at the top of a syncfile.
type header struct {
	Version int    `yaml:"syftcrypt"`
	SyncID  SyncID `yaml:"syncid"`
	Binary  bool   `yaml:"binary"`
	Size    int64  `yaml:"size"`
	Origin  string `yaml:"origin"`
	Created string `yaml:"created"`
	Meta    string `yaml:"meta"`
}

// metadata is the encrypted part of the header.
type metadata struct {
	Keyword string `json:"keyword"`
	Path    string `json:"path"`
	RevGUID string `json:"revguid"`
}

// marshal writes the header in a fixed field order, terminated by an empty line.
func (h *header) marshal() []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "syftcrypt: %d\n", h.Version)
	fmt.Fprintf(&b, "syncid: %s\n", h.SyncID)
	fmt.Fprintf(&b, "binary: %t\n", h.Binary)
	fmt.Fprintf(&b, "size: %d\n", h.Size)
	fmt.Fprintf(&b, "origin: %s\n", h.Origin)
	fmt.Fprintf(&b, "created: %s\n", h.Created)
	fmt.Fprintf(&b, "meta: %s\n", h.Meta)
	b.WriteString("\n")
	return b.Bytes()
}

// readHeader consumes the header from r and returns it with its raw bytes.
func readHeader(r *bufio.Reader) (*header, []byte, error) {
	var raw bytes.Buffer
	for {
		line, err := r.ReadBytes('\n')
		raw.Write(line)
		if err != nil {
			if err == io.EOF {
				return nil, nil, fmt.Errorf("%w: header is not terminated", ErrDecode)
			}
			return nil, nil, fmt.Errorf("read header: %w", err)
		}
		if raw.Len() > maxHeaderSize {
			return nil, nil, fmt.Errorf("%w: header too large", ErrDecode)
		}
		if len(line) == 1 {
			break
		}
	}

	var h header
	if err := yaml.Unmarshal(raw.Bytes(), &h); err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	if h.Version != formatVersion {
		return nil, nil, fmt.Errorf("%w: unsupported format version %d", ErrDecode, h.Version)
	}
	if !h.SyncID.Valid() {
		return nil, nil, fmt.Errorf("%w: invalid syncid %q", ErrDecode, h.SyncID)
	}
	if h.Size < 0 {
		return nil, nil, fmt.Errorf("%w: negative size", ErrDecode)
	}
	if h.Meta == "" {
		return nil, nil, fmt.Errorf("%w: missing meta", ErrDecode)
	}
	if _, err := time.Parse(time.RFC3339, h.Created); err != nil {
		return nil, nil, fmt.Errorf("%w: created: %w", ErrDecode, err)
	}
	return &h, raw.Bytes(), nil
}

// sealMetadata encrypts m into the base64 blob stored in the header:
// iv || ciphertext || tag.
func sealMetadata(key []byte, m *metadata) (string, error) {
	plain, err := jsonMarshal(m)
	if err != nil {
		return "", fmt.Errorf("marshal metadata: %w", err)
	}

	iv, err := crypt.NewIV()
	if err != nil {
		return "", err
	}

	var blob bytes.Buffer
	blob.Write(iv)
	tag, _, err := crypt.EncryptStream(&blob, bytes.NewReader(plain), key, iv, iv)
	if err != nil {
		return "", err
	}
	blob.Write(tag)

	return base64.StdEncoding.EncodeToString(blob.Bytes()), nil
}

// openMetadata reverses sealMetadata. Any authentication failure is reported as ErrWrongKey.
func openMetadata(key []byte, sealed string) (*metadata, error) {
	blob, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return nil, fmt.Errorf("%w: meta: %w", ErrDecode, err)
	}
	if len(blob) < crypt.IVSize+crypt.TagSize || (len(blob)-crypt.IVSize-crypt.TagSize)%crypt.IVSize != 0 {
		return nil, fmt.Errorf("%w: meta has bad length %d", ErrDecode, len(blob))
	}

	iv := blob[:crypt.IVSize]
	ct := blob[crypt.IVSize : len(blob)-crypt.TagSize]
	want := blob[len(blob)-crypt.TagSize:]

	var plain bytes.Buffer
	got, err := crypt.DecryptStream(&plain, bytes.NewReader(ct), int64(len(ct)), key, iv, iv)
	if err != nil || !crypt.TagEqual(got, want) {
		return nil, ErrWrongKey
	}

	var m metadata
	if err := jsonUnmarshal(plain.Bytes(), &m); err != nil {
		return nil, fmt.Errorf("%w: meta: %w", ErrDecode, err)
	}
	if _, err := uuid.Parse(m.RevGUID); err != nil {
		return nil, fmt.Errorf("%w: revguid: %w", ErrDecode, err)
	}
	if m.Keyword == "" || m.Path == "" {
		return nil, fmt.Errorf("%w: meta lacks keyword or path", ErrDecode)
	}
	return &m, nil
}
