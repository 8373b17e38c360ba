// Package engine isolates every cryptographic primitive the key manager
// depends on behind a narrow interface: key parsing, passphrase unlocking,
// password-based symmetric wrapping, and the asymmetric sign/verify and
// encrypt/decrypt operations. The rest of the system treats this package as
// a black box so the storage and workflow layers can be tested against
// fakes and the underlying OpenPGP implementation can be swapped out.
package engine

import (
	"errors"
	"time"
)

var (
	// ErrParse indicates the supplied text is not a usable armored key or message.
	ErrParse = errors.New("malformed key material")

	// ErrWrongPassphrase indicates a per-key passphrase failed to unlock a
	// private identity. Retryable by re-prompting the user.
	ErrWrongPassphrase = errors.New("wrong key passphrase")

	// ErrWrongPassword indicates the symmetric unwrap primitive failed
	// authentication, i.e. the supplied vault password does not match the
	// one the ciphertext was wrapped under.
	ErrWrongPassword = errors.New("wrong vault password")

	// ErrCorruptData indicates the symmetric unwrap primitive could not even
	// parse the ciphertext. Distinct from ErrWrongPassword because a single
	// corrupt record is skippable while a wrong password is fatal to a load.
	ErrCorruptData = errors.New("corrupt ciphertext")
)

// Identity is one cryptographic identity, public or private. The two arms of
// the variant (PublicIdentity, PrivateIdentity) both satisfy it, so callers
// can query capabilities without caring which arm they hold.
type Identity interface {
	// ID returns the stable fingerprint of the identity, upper-case hex.
	ID() string

	// UserIdentities returns the human-readable identity strings carried by
	// the key, primary first. Never empty: when the key carries none a
	// placeholder derived from the fingerprint is synthesized.
	UserIdentities() []string

	// PrimaryUserIdentity returns the first entry of UserIdentities.
	PrimaryUserIdentity() string

	// CreatedAt returns the creation time embedded in the key material
	// itself, not the time the key was imported.
	CreatedAt() time.Time

	// IsPrivate reports whether the identity carries private material.
	IsPrivate() bool

	// IsLocked reports whether using the identity requires a passphrase.
	// Always false for public identities.
	IsLocked() bool

	// KeyIDs returns the 64-bit OpenPGP key IDs of the primary key and all
	// subkeys, used to match an encrypted message's stated recipients.
	KeyIDs() []uint64

	// Armored returns the identity's portable textual encoding.
	Armored() string
}

// Engine is the cryptographic collaborator consumed by the vault, the key
// store and the unlock workflows.
type Engine interface {
	// ParseKey parses an armored key block of either kind.
	// Fails with ErrParse on malformed input.
	ParseKey(armored string) (Identity, error)

	// ParsePublic parses an armored public key block. A private key block is
	// rejected with ErrParse; callers that accept both use ParseKey.
	ParsePublic(armored string) (Identity, error)

	// ParsePrivate parses an armored private key block. The result may be
	// locked; parsing never requires the key passphrase.
	ParsePrivate(armored string) (*PrivateIdentity, error)

	// Unlock produces a usable private identity from a possibly-locked one.
	// The passphrase is ignored for keys that are not locked. A wrong
	// passphrase fails with ErrWrongPassphrase. The returned identity is an
	// independent copy: unlocking never mutates the input, so one caller's
	// unlock is not visible to another holding the same PrivateIdentity.
	Unlock(key *PrivateIdentity, passphrase string) (*UnlockedIdentity, error)

	// SymmetricWrap encrypts plaintext under a password. Fresh random
	// parameters are generated per call, so output is never deterministic.
	SymmetricWrap(plaintext []byte, password string) (string, error)

	// SymmetricUnwrap reverses SymmetricWrap. Fails with ErrWrongPassword on
	// authentication failure and ErrCorruptData on any structural failure.
	SymmetricUnwrap(ciphertext string, password string) ([]byte, error)

	// Sign produces an armored detached signature over message.
	Sign(key *UnlockedIdentity, message []byte) (string, error)

	// Verify checks an armored detached signature against a keyring and
	// returns the signer's fingerprint on success.
	Verify(keyring []Identity, message []byte, armoredSignature string) (string, error)

	// Encrypt produces an armored message readable by every recipient.
	Encrypt(recipients []Identity, message []byte) (string, error)

	// Decrypt decrypts an armored message with the given unlocked identity.
	Decrypt(key *UnlockedIdentity, armoredMessage string) ([]byte, error)

	// RecipientKeyIDs lists the key IDs an armored message is addressed to,
	// in the order they appear. A zero entry is a wildcard ("anonymous
	// recipient") that any private key may be able to satisfy.
	RecipientKeyIDs(armoredMessage string) ([]uint64, error)
}
