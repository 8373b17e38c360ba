// Package webpgp is a master-password gated store of OpenPGP identities.
//
// The Vault owns the master-password verifier and the password-based
// wrap/unwrap primitive protecting private key material at rest. The KeyStore
// owns the record collection and its merge invariants. UnlockWorkflow drives
// any operation that may need a locked private key through an explicit
// prompt-and-retry state machine. Session ties the three together with an
// explicit lock/unlock lifecycle.
package webpgp

import (
	"errors"
	"fmt"
	"os"

	"github.com/KintaMiao/WebPGP/audit"
	"github.com/KintaMiao/WebPGP/engine"
	"github.com/KintaMiao/WebPGP/internal/crypto"
	"github.com/KintaMiao/WebPGP/internal/misc"
	"github.com/KintaMiao/WebPGP/persist"
)

// Vault manages the master-password verifier and wraps secrets at rest. It
// never stores the password itself: the verifier is the fixed marker wrapped
// under the password, and checking a password means unwrapping the verifier
// and comparing the result against the marker.
type Vault struct {
	store  persist.Store
	engine engine.Engine
	audit  audit.Logger
}

// NewVault wires a vault to its storage backend and cryptographic engine.
// A nil audit logger is replaced with a no-op one.
func NewVault(store persist.Store, eng engine.Engine, auditor audit.Logger) *Vault {
	if auditor == nil {
		auditor = audit.NewNoOpLogger()
	}
	return &Vault{store: store, engine: eng, audit: auditor}
}

// HasVerifier reports whether a verifier has been persisted, i.e. whether
// the vault has been initialized.
func (v *Vault) HasVerifier() (bool, error) {
	exists, err := v.store.VerifierExists()
	if err != nil {
		return false, fmt.Errorf("failed to check verifier presence: %w", err)
	}
	return exists, nil
}

// Create initializes the vault by wrapping the fixed marker under password
// and persisting the result. Wrapping generates fresh random parameters per
// call, so two vaults created with the same password carry different
// verifiers.
//
// Fails with ErrAlreadyInitialized when a verifier exists. Callers are
// expected to check HasVerifier first; the check here is a precondition, not
// an atomic guard.
func (v *Vault) Create(password string) error {
	exists, err := v.HasVerifier()
	if err != nil {
		return err
	}
	if exists {
		return ErrAlreadyInitialized
	}

	ciphertext, err := v.engine.SymmetricWrap([]byte(misc.VerifierMarker), password)
	if err != nil {
		return fmt.Errorf("failed to create verifier: %w", err)
	}

	if err = v.store.SaveVerifier([]byte(ciphertext)); err != nil {
		v.logEvent(audit.ActionVaultCreate, false, map[string]interface{}{"error": err.Error()})
		return fmt.Errorf("%w: saving verifier: %v", ErrStorageFailure, err)
	}

	v.logEvent(audit.ActionVaultCreate, true, nil)
	return nil
}

// Verify reports whether password unwraps the stored verifier to the fixed
// marker. Any unwrap failure, wrong password and corrupt blob alike, yields
// false rather than an error; only storage access problems are errors.
func (v *Vault) Verify(password string) (bool, error) {
	data, err := v.store.LoadVerifier()
	if err != nil {
		if isNotFound(err) {
			return false, ErrNotInitialized
		}
		return false, fmt.Errorf("failed to load verifier: %w", err)
	}

	plaintext, err := v.engine.SymmetricUnwrap(string(data), password)
	if err != nil {
		v.logEvent(audit.ActionVaultVerify, false, nil)
		return false, nil
	}

	ok := crypto.ConstantTimeEquals(plaintext, []byte(misc.VerifierMarker))
	v.logEvent(audit.ActionVaultVerify, ok, nil)
	return ok, nil
}

// Wrap encrypts plaintext under password. Non-deterministic: fresh salt and
// nonce per call.
func (v *Vault) Wrap(plaintext []byte, password string) (string, error) {
	return v.engine.SymmetricWrap(plaintext, password)
}

// Unwrap reverses Wrap. Fails with ErrWrongPassword when authentication
// fails and ErrCorruptData when the ciphertext is structurally invalid. The
// two are distinct on purpose: a wrong password is fatal to a whole-vault
// load while a corrupt record is skippable.
func (v *Vault) Unwrap(ciphertext string, password string) ([]byte, error) {
	return v.engine.SymmetricUnwrap(ciphertext, password)
}

// Reset irreversibly deletes the verifier and all persisted records.
// Confirmation is a caller concern.
func (v *Vault) Reset() error {
	if err := v.store.Reset(); err != nil {
		v.logEvent(audit.ActionVaultReset, false, map[string]interface{}{"error": err.Error()})
		return fmt.Errorf("%w: resetting vault: %v", ErrStorageFailure, err)
	}
	v.logEvent(audit.ActionVaultReset, true, nil)
	return nil
}

// logEvent records an audit event. A failed audit write never fails the
// operation being audited.
func (v *Vault) logEvent(action string, success bool, metadata map[string]interface{}) {
	_ = v.audit.Log(action, success, metadata)
}

// isNotFound reports whether err marks a missing stored object, across the
// different shapes the storage backends produce.
func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	var nf persist.NotFoundError
	return errors.Is(err, os.ErrNotExist) || errors.As(err, &nf) || misc.IsNotFoundError(err)
}
