package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/KintaMiao/WebPGP/internal/misc"
)

// ErrAuthentication is returned when the AEAD tag does not verify, which for
// a password-derived key means the password is wrong (or the ciphertext was
// tampered with; the two are indistinguishable at this layer).
var ErrAuthentication = errors.New("authentication failed")

// ErrMalformed is returned when the ciphertext cannot even be parsed into
// salt, nonce and payload. Distinguishable from ErrAuthentication so callers
// can treat structural corruption differently from a wrong password.
var ErrMalformed = errors.New("malformed ciphertext")

// EncryptWithPassword encrypts data under a password using Argon2id key
// derivation and ChaCha20-Poly1305. A fresh random salt and nonce are
// generated on every call, so the output is never deterministic.
//
// Output layout: [16 bytes salt][12 bytes nonce][ciphertext + tag].
func EncryptWithPassword(data []byte, password string) ([]byte, error) {
	salt := make([]byte, misc.SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	key := deriveKey([]byte(password), salt)

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err = rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := aead.Seal(nil, nonce, data, nil)

	// Combine: salt + nonce + ciphertext
	result := make([]byte, len(salt)+len(nonce)+len(ciphertext))
	copy(result[:len(salt)], salt)
	copy(result[len(salt):len(salt)+len(nonce)], nonce)
	copy(result[len(salt)+len(nonce):], ciphertext)

	return result, nil
}

// DecryptWithPassword reverses EncryptWithPassword. It returns ErrMalformed
// when the input is structurally invalid and ErrAuthentication when the tag
// check fails.
func DecryptWithPassword(encryptedData []byte, password string) ([]byte, error) {
	const nonceSize = chacha20poly1305.NonceSize
	if len(encryptedData) < misc.SaltSize+nonceSize+chacha20poly1305.Overhead {
		return nil, fmt.Errorf("%w: encrypted data too short", ErrMalformed)
	}

	salt := encryptedData[:misc.SaltSize]
	nonce := encryptedData[misc.SaltSize : misc.SaltSize+nonceSize]
	ciphertext := encryptedData[misc.SaltSize+nonceSize:]

	key := deriveKey([]byte(password), salt)

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthentication, err)
	}

	return plaintext, nil
}

func deriveKey(password, salt []byte) []byte {
	return argon2.IDKey(
		password,
		salt,
		misc.ArgonTime,
		misc.ArgonMemory,
		misc.ArgonThreads,
		misc.ArgonKeyLen,
	)
}

// CalculateChecksum calculates the SHA-256 checksum of data
func CalculateChecksum(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// ConstantTimeEquals compares two byte slices without leaking the position
// of the first mismatch.
func ConstantTimeEquals(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}
