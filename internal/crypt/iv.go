package crypt

import (
	crand "crypto/rand"
	"encoding/binary"
	"fmt"
	"math/rand/v2"
	"sync"
)

// secondary is an independently seeded generator that fills the second half of
// every IV, so a predictable OS source alone does not make IVs predictable.
var secondary = struct {
	once sync.Once
	mu   sync.Mutex
	rng  *rand.ChaCha8
	err  error
}{}

func seedSecondary() {
	var seed [32]byte
	if _, err := crand.Read(seed[:16]); err != nil {
		secondary.err = err
		return
	}
	binary.LittleEndian.PutUint64(seed[16:24], rand.Uint64())
	binary.LittleEndian.PutUint64(seed[24:32], rand.Uint64())
	secondary.rng = rand.NewChaCha8(seed)
}

// NewIV returns a fresh 16-byte IV: the first half from the OS CSPRNG, the
// second half from the secondary generator.
func NewIV() ([]byte, error) {
	iv := make([]byte, IVSize)
	half := IVSize / 2

	if _, err := crand.Read(iv[:half]); err != nil {
		return nil, fmt.Errorf("%w: read os entropy: %w", ErrCrypto, err)
	}

	secondary.once.Do(seedSecondary)
	if secondary.err != nil {
		return nil, fmt.Errorf("%w: seed secondary rng: %w", ErrCrypto, secondary.err)
	}

	secondary.mu.Lock()
	_, _ = secondary.rng.Read(iv[half:])
	secondary.mu.Unlock()

	return iv, nil
}
