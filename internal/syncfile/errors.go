package syncfile

import (
	"errors"
	"fmt"

	"github.com/openmined/syftcrypt/internal/crypt"
)

var (
	ErrDecode       = errors.New("malformed syncfile")
	ErrIntegrity    = errors.New("syncfile failed integrity check")
	ErrNativeExists = errors.New("native file already exists")
	ErrWrongKey     = fmt.Errorf("%w: cannot decrypt syncfile metadata (wrong key or password?)", crypt.ErrCrypto)
)
