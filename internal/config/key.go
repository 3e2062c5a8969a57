package config

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/openmined/syftcrypt/internal/crypt"
	"github.com/openmined/syftcrypt/internal/utils"
	"golang.org/x/crypto/argon2"
)

const (
	// SaltFileName lives in the shared sync dir so every machine derives the same key.
	SaltFileName = "syftcrypt.salt"
	// KeyCheckFileName lives in the shared sync dir and lets a machine detect a wrong password.
	KeyCheckFileName = "syftcrypt.keycheck"

	saltSize = 16

	// argon2id parameters
	argonTime    = 3
	argonMemory  = 64 * 1024
	argonThreads = 4
)

var keyCheckLabel = []byte("syftcrypt keycheck v1")

// ErrWrongPassword is returned when the resolved key does not match the key check in the sync dir.
var ErrWrongPassword = fmt.Errorf("%w: key does not match this sync directory (wrong password?)", crypt.ErrCrypto)

// PasswordPrompt asks the user for a password. It is only consulted when neither a key
// nor a password is configured.
type PasswordPrompt func(prompt string) (string, error)

// ParseHexKey decodes a 64 character hex key.
func ParseHexKey(s string) ([]byte, error) {
	key, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("%w: key is not valid hex: %w", ErrConfig, err)
	}
	if len(key) != crypt.KeySize {
		return nil, fmt.Errorf("%w: key must be %d bytes (%d hex chars), got %d bytes", ErrConfig, crypt.KeySize, crypt.KeySize*2, len(key))
	}
	return key, nil
}

// DeriveKey turns a password into a 256-bit key with argon2id.
func DeriveKey(password string, salt []byte) []byte {
	return argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, crypt.KeySize)
}

// ResolveKey returns the symmetric key: the configured hex key, else a key derived from
// the configured password, else a key derived from a prompted password.
func (c *Config) ResolveKey(prompt PasswordPrompt) ([]byte, error) {
	if c.Key != "" {
		return ParseHexKey(c.Key)
	}

	password := c.Password
	if password == "" {
		if prompt == nil {
			return nil, fmt.Errorf("%w: no key or password configured", ErrConfig)
		}
		p, err := prompt("Password: ")
		if err != nil {
			return nil, fmt.Errorf("%w: read password: %w", ErrConfig, err)
		}
		if p == "" {
			return nil, fmt.Errorf("%w: empty password", ErrConfig)
		}
		password = p
	}

	salt, err := LoadOrCreateSalt(c.SyncDir)
	if err != nil {
		return nil, err
	}
	return DeriveKey(password, salt), nil
}

// LoadOrCreateSalt reads the shared salt, creating it on first use.
func LoadOrCreateSalt(syncDir string) ([]byte, error) {
	path := filepath.Join(syncDir, SaltFileName)

	data, err := os.ReadFile(path)
	if err == nil {
		salt, err := hex.DecodeString(strings.TrimSpace(string(data)))
		if err != nil || len(salt) != saltSize {
			return nil, fmt.Errorf("%w: malformed salt file %s", ErrConfig, path)
		}
		return salt, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read salt: %w", err)
	}

	return NewSalt(syncDir)
}

// NewSalt writes a fresh random salt to the sync dir and returns it.
func NewSalt(syncDir string) ([]byte, error) {
	salt, err := GenerateSalt()
	if err != nil {
		return nil, err
	}
	if err := WriteSalt(syncDir, salt); err != nil {
		return nil, err
	}
	return salt, nil
}

func GenerateSalt() ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	return salt, nil
}

// WriteSalt replaces the shared salt. Every machine must re-derive its key afterwards.
func WriteSalt(syncDir string, salt []byte) error {
	path := filepath.Join(syncDir, SaltFileName)
	err := utils.WriteFileAtomic(path, 0o644, func(w io.Writer) error {
		_, err := io.WriteString(w, hex.EncodeToString(salt)+"\n")
		return err
	})
	if err != nil {
		return fmt.Errorf("write salt: %w", err)
	}
	return nil
}

func keyCheckValue(key []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write(keyCheckLabel)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyKeyCheck compares key against the key check file in syncDir. The first
// machine to run writes the file.
func VerifyKeyCheck(syncDir string, key []byte) error {
	path := filepath.Join(syncDir, KeyCheckFileName)

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return WriteKeyCheck(syncDir, key)
	}
	if err != nil {
		return fmt.Errorf("read key check: %w", err)
	}

	want := strings.TrimSpace(string(data))
	if !hmac.Equal([]byte(want), []byte(keyCheckValue(key))) {
		return ErrWrongPassword
	}
	return nil
}

// WriteKeyCheck (re)writes the key check file for key.
func WriteKeyCheck(syncDir string, key []byte) error {
	path := filepath.Join(syncDir, KeyCheckFileName)
	err := utils.WriteFileAtomic(path, 0o644, func(w io.Writer) error {
		_, err := io.WriteString(w, keyCheckValue(key)+"\n")
		return err
	})
	if err != nil {
		return fmt.Errorf("write key check: %w", err)
	}
	return nil
}
