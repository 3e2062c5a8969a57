package crypt

import (
	"errors"
	"fmt"
)

var (
	// ErrCrypto is the root of every failure raised by the cipher layer:
	// wrong key size, misaligned input, corrupt padding.
	ErrCrypto = errors.New("crypto error")

	// ErrFinalized is returned when Update is called after the final chunk.
	ErrFinalized = fmt.Errorf("%w: stream already finalized", ErrCrypto)
)
