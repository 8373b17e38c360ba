package webpgp

import (
	"errors"

	"github.com/KintaMiao/WebPGP/engine"
)

// Error taxonomy. Password-class errors are never swallowed; corruption of a
// single non-essential record is recovered locally (skip + audit log) while
// everything else propagates to the caller. Test with errors.Is; values are
// wrapped with context on the way up.
var (
	// ErrWrongPassword reports a master-password mismatch. Fatal to a vault
	// load, retryable by re-prompting the user.
	ErrWrongPassword = engine.ErrWrongPassword

	// ErrWrongPassphrase reports a per-key passphrase failure. Retryable
	// within an UnlockWorkflow.
	ErrWrongPassphrase = engine.ErrWrongPassphrase

	// ErrCorruptData reports undecodable stored ciphertext. Skippable for a
	// single record during load, fatal when it is the verifier itself.
	ErrCorruptData = engine.ErrCorruptData

	// ErrParse reports malformed key or message text. Non-retryable without
	// new input.
	ErrParse = engine.ErrParse

	// ErrKeyConflict reports an attempt to overwrite a stored private record.
	// Private records are immutable: the user must remove the existing record
	// first.
	ErrKeyConflict = errors.New("a private key with this ID already exists")

	// ErrNotFound reports a lookup or remove miss.
	ErrNotFound = errors.New("key record not found")

	// ErrStorageFailure reports a failed write to the persistent medium.
	// In-memory state is preserved and the operation may be retried.
	ErrStorageFailure = errors.New("storage write failed")

	// ErrAlreadyInitialized reports a Create call against a vault that
	// already holds a verifier.
	ErrAlreadyInitialized = errors.New("vault is already initialized")

	// ErrNotInitialized reports an unlock attempt against a vault with no
	// verifier.
	ErrNotInitialized = errors.New("vault is not initialized")

	// ErrSessionLocked reports an operation that requires an unlocked session.
	ErrSessionLocked = errors.New("session is locked")

	// ErrCancelled reports a workflow aborted by the user before a
	// passphrase was supplied.
	ErrCancelled = errors.New("operation aborted, no passphrase supplied")

	// ErrWorkflowBusy reports a Start against a workflow instance that has an
	// attempt in flight.
	ErrWorkflowBusy = errors.New("workflow already has an attempt in flight")
)
