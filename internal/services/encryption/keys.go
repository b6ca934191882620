package encryption

import (
	"crypto/sha256"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/crypto/pbkdf2"
)

const (
	keySize       = 32
	kdfIterations = 100_000
	// The salt is derived from the passphrase so no salt has to be stored.
	// Identical passphrases therefore share keys across files.
	saltPrefix    = "MongoBackupRestore.Salt."
	saltKeyPrefix = 8
)

// MinKeyLength is the minimum accepted passphrase length.
const MinKeyLength = 16

type derivedKeys struct {
	cipher []byte
	mac    []byte
}

func deriveKeys(passphrase string) derivedKeys {
	material := pbkdf2.Key([]byte(passphrase), deriveSalt(passphrase), kdfIterations, 2*keySize, sha256.New)
	return derivedKeys{
		cipher: material[:keySize],
		mac:    material[keySize:],
	}
}

func deriveSalt(passphrase string) []byte {
	prefix := passphrase
	if utf8.RuneCountInString(passphrase) > saltKeyPrefix {
		prefix = string([]rune(passphrase)[:saltKeyPrefix])
	}
	return []byte(saltPrefix + prefix)
}

// ValidateKey checks that passphrase is usable for encryption.
func ValidateKey(passphrase string) error {
	if strings.TrimSpace(passphrase) == "" {
		return fmt.Errorf("%w: key must not be empty", ErrInvalidKey)
	}
	if utf8.RuneCountInString(passphrase) < MinKeyLength {
		return fmt.Errorf("%w: key must be at least %d characters", ErrInvalidKey, MinKeyLength)
	}
	return nil
}
