// Package cryptox hashes and verifies the shared secrets that gate file
// sessions. Secrets are never stored in clear text: each one is stretched
// with Argon2id under a per-file random salt and compared in constant time.
package cryptox

import (
	"crypto/subtle"

	"github.com/dmitrijs2005/devsync/internal/common"
	"golang.org/x/crypto/argon2"
)

const saltSize = 16

// DeriveKey stretches password with Argon2id (1 pass, 64 MiB, 4 lanes, 32-byte key).
func DeriveKey(password []byte, salt []byte) []byte {
	return argon2.IDKey(password, salt, 1, 64*1024, 4, 32)
}

// HashSecret returns a fresh salt and the derived hash for secret.
// An empty secret means "public" and yields nil, nil.
func HashSecret(secret string) (salt, hash []byte) {
	if secret == "" {
		return nil, nil
	}
	salt = common.GenerateRandByteArray(saltSize)
	password := []byte(secret)
	defer common.WipeByteArray(password)
	return salt, DeriveKey(password, salt)
}

// VerifySecret reports whether candidate hashes to hash under salt.
func VerifySecret(candidate string, salt, hash []byte) bool {
	if len(hash) == 0 {
		return false
	}
	password := []byte(candidate)
	defer common.WipeByteArray(password)
	return subtle.ConstantTimeCompare(DeriveKey(password, salt), hash) == 1
}
