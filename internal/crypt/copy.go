package crypt

import (
	"crypto/hmac"
	"fmt"
	"io"
)

// EncryptStream encrypts everything read from src into dst. aad is fed into the
// MAC before the ciphertext. It returns the tag and the number of plaintext bytes read.
func EncryptStream(dst io.Writer, src io.Reader, key, iv, aad []byte) ([]byte, int64, error) {
	enc, err := NewEncrypter(key, iv)
	if err != nil {
		return nil, 0, err
	}
	enc.AddAuthData(aad)

	var total int64
	buf := make([]byte, bufferSize)
	for {
		n, rerr := src.Read(buf)
		total += int64(n)
		final := rerr == io.EOF
		if rerr != nil && !final {
			return nil, total, fmt.Errorf("read plaintext: %w", rerr)
		}

		if n > 0 || final {
			out, err := enc.Update(buf[:n], final)
			if err != nil {
				return nil, total, err
			}
			if _, err := dst.Write(out); err != nil {
				return nil, total, fmt.Errorf("write ciphertext: %w", err)
			}
		}
		if final {
			return enc.Sum(), total, nil
		}
	}
}

// DecryptStream decrypts exactly n ciphertext bytes from src into dst and returns
// the recomputed tag. When decryption fails the tag over the consumed
// ciphertext is still returned together with the error, so callers can tell
// tampering apart from other failures.
func DecryptStream(dst io.Writer, src io.Reader, n int64, key, iv, aad []byte) ([]byte, error) {
	dec, err := NewDecrypter(key, iv)
	if err != nil {
		return nil, err
	}
	dec.AddAuthData(aad)

	buf := make([]byte, bufferSize)
	remaining := n
	for {
		want := int64(len(buf))
		if remaining < want {
			want = remaining
		}
		read, rerr := io.ReadFull(src, buf[:want])
		remaining -= int64(read)
		if rerr != nil {
			if rerr == io.EOF || rerr == io.ErrUnexpectedEOF {
				return nil, fmt.Errorf("%w: ciphertext truncated, %d bytes missing: %w", ErrCrypto, remaining, io.ErrUnexpectedEOF)
			}
			return nil, fmt.Errorf("read ciphertext: %w", rerr)
		}

		final := remaining == 0
		out, err := dec.Update(buf[:read], final)
		if err != nil {
			if final {
				return dec.Sum(), err
			}
			return nil, err
		}
		if len(out) > 0 {
			if _, err := dst.Write(out); err != nil {
				return nil, fmt.Errorf("write plaintext: %w", err)
			}
		}
		if final {
			return dec.Sum(), nil
		}
	}
}

// TagEqual compares two tags in constant time.
func TagEqual(a, b []byte) bool {
	return len(a) == TagSize && hmac.Equal(a, b)
}
