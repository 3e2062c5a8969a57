// Package crypt implements the streaming authenticated encryption used for syncfiles:
// AES-256-CBC with PKCS#7 padding and a running HMAC-SHA-256 over the ciphertext.
package crypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"
	"fmt"
	"hash"
)

const (
	// KeySize is the size of the symmetric key in bytes.
	KeySize = 32
	// IVSize is the size of the initialization vector in bytes.
	IVSize = aes.BlockSize
	// TagSize is the size of the authentication tag in bytes.
	TagSize = sha256.Size
	// bufferSize bounds how much input is pushed through the block cipher at once.
	bufferSize = 4096
)

// stream holds what Encrypter and Decrypter have in common.
type stream struct {
	mode    cipher.BlockMode
	mac     hash.Hash
	pending []byte // bytes not yet processed because they do not fill a block
	final   bool
}

func newStream(key, iv []byte, newMode func(cipher.Block, []byte) cipher.BlockMode) (*stream, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: key must be %d bytes, got %d", ErrCrypto, KeySize, len(key))
	}
	if len(iv) != IVSize {
		return nil, fmt.Errorf("%w: iv must be %d bytes, got %d", ErrCrypto, IVSize, len(iv))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCrypto, err)
	}
	return &stream{
		mode: newMode(block, iv),
		mac:  hmac.New(sha256.New, key),
	}, nil
}

// AddAuthData feeds associated data into the MAC. It must be called before the first Update.
func (s *stream) AddAuthData(b []byte) {
	s.mac.Write(b)
}

// Sum returns the HMAC tag over associated data and ciphertext seen so far.
func (s *stream) Sum() []byte {
	return s.mac.Sum(nil)
}

// crypt runs the block mode over whole blocks of src, bufferSize bytes at a time.
func (s *stream) crypt(src []byte) []byte {
	out := make([]byte, 0, len(src))
	buf := make([]byte, bufferSize)
	for len(src) > 0 {
		n := min(len(src), bufferSize)
		s.mode.CryptBlocks(buf[:n], src[:n])
		out = append(out, buf[:n]...)
		src = src[n:]
	}
	return out
}

// Encrypter encrypts a plaintext stream chunk by chunk.
type Encrypter struct {
	*stream
}

// NewEncrypter returns an Encrypter for the given 32-byte key and 16-byte IV.
func NewEncrypter(key, iv []byte) (*Encrypter, error) {
	s, err := newStream(key, iv, cipher.NewCBCEncrypter)
	if err != nil {
		return nil, err
	}
	return &Encrypter{stream: s}, nil
}

// Update encrypts chunk and returns the ciphertext that became available.
// The final call pads the stream; any later call fails with ErrFinalized.
func (e *Encrypter) Update(chunk []byte, final bool) ([]byte, error) {
	if e.final {
		return nil, ErrFinalized
	}

	e.pending = append(e.pending, chunk...)
	if final {
		e.pending = pad(e.pending)
		e.final = true
	}

	whole := len(e.pending) - len(e.pending)%aes.BlockSize
	out := e.crypt(e.pending[:whole])
	e.pending = append(e.pending[:0], e.pending[whole:]...)

	e.mac.Write(out)
	return out, nil
}

// Decrypter decrypts a ciphertext stream chunk by chunk.
type Decrypter struct {
	*stream
}

// NewDecrypter returns a Decrypter for the given 32-byte key and 16-byte IV.
func NewDecrypter(key, iv []byte) (*Decrypter, error) {
	s, err := newStream(key, iv, cipher.NewCBCDecrypter)
	if err != nil {
		return nil, err
	}
	return &Decrypter{stream: s}, nil
}

// Update decrypts chunk and returns the plaintext that became available.
// The last block is held back until the final call so its padding can be removed.
// The MAC is updated with chunk before anything else, so Sum covers all consumed
// ciphertext even when Update fails.
func (d *Decrypter) Update(chunk []byte, final bool) ([]byte, error) {
	if d.final {
		return nil, ErrFinalized
	}

	d.mac.Write(chunk)
	d.pending = append(d.pending, chunk...)

	if !final {
		// keep at least one full block back for unpadding
		whole := len(d.pending) - len(d.pending)%aes.BlockSize
		if whole == len(d.pending) {
			whole -= aes.BlockSize
		}
		if whole <= 0 {
			return nil, nil
		}
		out := d.crypt(d.pending[:whole])
		d.pending = append(d.pending[:0], d.pending[whole:]...)
		return out, nil
	}

	d.final = true
	if len(d.pending) == 0 || len(d.pending)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: ciphertext is not a whole number of blocks", ErrCrypto)
	}
	out := d.crypt(d.pending)
	d.pending = nil
	return unpad(out)
}

// pad applies PKCS#7 padding.
func pad(b []byte) []byte {
	n := aes.BlockSize - len(b)%aes.BlockSize
	for range n {
		b = append(b, byte(n))
	}
	return b
}

// unpad strips and validates PKCS#7 padding.
func unpad(b []byte) ([]byte, error) {
	if len(b) == 0 || len(b)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: invalid padded length", ErrCrypto)
	}
	n := int(b[len(b)-1])
	if n == 0 || n > aes.BlockSize {
		return nil, fmt.Errorf("%w: invalid padding", ErrCrypto)
	}
	for _, c := range b[len(b)-n:] {
		if int(c) != n {
			return nil, fmt.Errorf("%w: invalid padding", ErrCrypto)
		}
	}
	return b[:len(b)-n], nil
}
