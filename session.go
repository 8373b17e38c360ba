package webpgp

import (
	"errors"
	"fmt"

	"github.com/awnumar/memguard"

	"github.com/KintaMiao/WebPGP/audit"
	"github.com/KintaMiao/WebPGP/engine"
	"github.com/KintaMiao/WebPGP/internal/mem"
	"github.com/KintaMiao/WebPGP/persist"
)

// Session wires Vault, KeyStore and the unlock workflows behind an explicit
// lock/unlock lifecycle. There is no ambient global state: the master
// password lives sealed in a memguard enclave for the unlocked span of the
// session and nowhere else, opened only for the moment a wrap or unwrap
// needs it.
type Session struct {
	options Options
	store   persist.Store
	audit   audit.Logger
	engine  engine.Engine
	vault   *Vault
	keys    *KeyStore

	password *memguard.Enclave
	unlocked bool
}

// NewSession builds a session from options. The session starts locked; call
// Initialize on first run, Unlock afterwards.
func NewSession(options Options) (*Session, error) {
	if err := options.Validate(); err != nil {
		return nil, err
	}

	if options.EnableMemoryLock {
		// best effort: a platform without mlock support must not block startup
		_, _ = mem.Lock()
	}

	store, err := persist.NewStore(options.Store, options.ProfileID)
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}

	auditor, err := audit.NewLogger(options.Audit)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to create audit logger: %w", err)
	}

	eng := engine.NewOpenPGP()
	vault := NewVault(store, eng, auditor)

	return &Session{
		options: options,
		store:   store,
		audit:   auditor,
		engine:  eng,
		vault:   vault,
		keys:    NewKeyStore(vault, eng, store, auditor),
	}, nil
}

// Vault exposes the session's vault for verifier queries.
func (s *Session) Vault() *Vault { return s.vault }

// Store exposes the persistence backend for status queries.
func (s *Session) Store() persist.Store { return s.store }

// Audit exposes the audit logger for querying.
func (s *Session) Audit() audit.Logger { return s.audit }

// Initialized reports whether the vault holds a verifier.
func (s *Session) Initialized() (bool, error) {
	return s.vault.HasVerifier()
}

// Initialize creates the vault verifier under password and unlocks the
// session. Fails with ErrAlreadyInitialized when a verifier exists.
func (s *Session) Initialize(password string) error {
	if err := s.vault.Create(password); err != nil {
		return err
	}
	return s.Unlock(password)
}

// Unlock verifies password against the vault verifier, hydrates the key
// store, and retains the password sealed for wrap-on-persist. A wrong
// password fails with ErrWrongPassword and leaves the session locked.
func (s *Session) Unlock(password string) error {
	ok, err := s.vault.Verify(password)
	if err != nil {
		return err
	}
	if !ok {
		_ = s.audit.Log(audit.ActionSessionUnlock, false, nil)
		return ErrWrongPassword
	}

	if _, err = s.keys.Load(password); err != nil {
		return err
	}

	s.password = memguard.NewEnclave([]byte(password))
	s.unlocked = true
	_ = s.audit.Log(audit.ActionSessionUnlock, true, nil)
	return nil
}

// Lock wipes the sealed password and drops the hydrated records. The
// persisted medium is untouched.
func (s *Session) Lock() {
	s.password = nil
	s.unlocked = false
	s.keys.Clear()
	_ = s.audit.Log(audit.ActionSessionLock, true, nil)
}

// IsUnlocked reports the lifecycle state.
func (s *Session) IsUnlocked() bool { return s.unlocked }

// withPassword opens the sealed password for the duration of fn. The open
// buffer is destroyed before withPassword returns.
func (s *Session) withPassword(fn func(password string) error) error {
	if !s.unlocked || s.password == nil {
		return ErrSessionLocked
	}

	buf, err := s.password.Open()
	if err != nil {
		return fmt.Errorf("failed to open sealed password: %w", err)
	}
	defer buf.Destroy()

	return fn(buf.String())
}

// Records lists the hydrated key records. Empty until the session unlocks.
func (s *Session) Records() ([]KeyRecord, error) {
	if !s.unlocked {
		return nil, ErrSessionLocked
	}
	return s.keys.Records(), nil
}

// Export returns the armored serialized form of the record with the given
// ID. For private records this is the private key block; callers decide
// whether that is appropriate to emit.
func (s *Session) Export(id string) (string, error) {
	if !s.unlocked {
		return "", ErrSessionLocked
	}
	record, err := s.keys.Get(id)
	if err != nil {
		return "", err
	}
	_ = s.audit.Log(audit.ActionKeyExport, true,
		map[string]interface{}{"fingerprint": id, "kind": string(record.kind())})
	return record.SerializedForm, nil
}

// Remove deletes the record with the given ID and persists the collection.
func (s *Session) Remove(id string) error {
	return s.withPassword(func(password string) error {
		return s.keys.Remove(id, password)
	})
}

// Reset irreversibly deletes the verifier and every persisted record, then
// locks the session. Confirmation is the caller's job.
func (s *Session) Reset() error {
	if err := s.vault.Reset(); err != nil {
		return err
	}
	s.Lock()
	return nil
}

// Import parses armored key text and adds it to the store under the merge
// rules. Public keys and unlocked private keys import directly; a
// passphrase-locked private key returns an UnlockWorkflow parked in
// AwaitingPassphrase, because reading the key's usability requires its
// passphrase. The caller drives the workflow; on success the record has been
// added and persisted.
func (s *Session) Import(armored string) (*UnlockWorkflow, error) {
	if !s.unlocked {
		return nil, ErrSessionLocked
	}

	identity, err := s.engine.ParseKey(armored)
	if err != nil {
		return nil, err
	}

	if !identity.IsPrivate() || !identity.IsLocked() {
		if err = s.addRecord(newKeyRecord(identity)); err != nil {
			return nil, err
		}
		return nil, nil
	}

	private, err := s.engine.ParsePrivate(armored)
	if err != nil {
		return nil, err
	}

	// The record keeps the original locked armored form: the passphrase
	// proves the key is usable but the stored material stays as imported.
	op := func(key *engine.UnlockedIdentity, payload []byte) ([]byte, error) {
		if err := s.addRecord(newKeyRecord(private)); err != nil {
			return nil, err
		}
		return nil, nil
	}

	workflow := NewUnlockWorkflow(s.engine, s.audit)
	if err = workflow.Start(op, []*engine.PrivateIdentity{private}, nil); err != nil {
		return nil, err
	}
	return workflow, nil
}

func (s *Session) addRecord(record KeyRecord) error {
	return s.withPassword(func(password string) error {
		return s.keys.Add(record, password)
	})
}

// SignOperation starts a workflow producing an armored detached signature
// over message with the private record identified by keyID. If the key is
// not passphrase-protected the workflow resolves immediately.
func (s *Session) SignOperation(keyID string, message []byte) (*UnlockWorkflow, error) {
	if !s.unlocked {
		return nil, ErrSessionLocked
	}

	record, err := s.keys.Get(keyID)
	if err != nil {
		return nil, err
	}
	if !record.IsPrivate {
		return nil, fmt.Errorf("%w: %s is not a private key", ErrNotFound, keyID)
	}

	private, err := s.engine.ParsePrivate(record.SerializedForm)
	if err != nil {
		return nil, err
	}

	op := func(key *engine.UnlockedIdentity, payload []byte) ([]byte, error) {
		signature, err := s.engine.Sign(key, payload)
		if err != nil {
			return nil, err
		}
		return []byte(signature), nil
	}

	workflow := NewUnlockWorkflow(s.engine, s.audit)
	if err = workflow.Start(op, []*engine.PrivateIdentity{private}, message); err != nil {
		return nil, err
	}
	return workflow, nil
}

// DecryptOperation starts a workflow decrypting an armored message. The
// candidate keys are the private records matching the message's stated
// recipients, in the order the message lists them; a zero recipient ID is a
// wildcard that makes every private record a candidate.
func (s *Session) DecryptOperation(armoredMessage string) (*UnlockWorkflow, error) {
	if !s.unlocked {
		return nil, ErrSessionLocked
	}

	candidates, err := s.decryptCandidates(armoredMessage)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: no private key matches the message recipients", ErrNotFound)
	}

	op := func(key *engine.UnlockedIdentity, payload []byte) ([]byte, error) {
		return s.engine.Decrypt(key, string(payload))
	}

	workflow := NewUnlockWorkflow(s.engine, s.audit)
	if err = workflow.Start(op, candidates, []byte(armoredMessage)); err != nil {
		return nil, err
	}
	return workflow, nil
}

// decryptCandidates orders the private records by the message's recipient
// key IDs.
func (s *Session) decryptCandidates(armoredMessage string) ([]*engine.PrivateIdentity, error) {
	recipientIDs, err := s.engine.RecipientKeyIDs(armoredMessage)
	if err != nil {
		return nil, err
	}

	privates := make([]*engine.PrivateIdentity, 0)
	byKeyID := make(map[uint64][]*engine.PrivateIdentity)
	for _, record := range s.keys.Records() {
		if !record.IsPrivate {
			continue
		}
		private, err := s.engine.ParsePrivate(record.SerializedForm)
		if err != nil {
			// an unparseable stored record cannot be a candidate
			continue
		}
		privates = append(privates, private)
		for _, kid := range private.KeyIDs() {
			byKeyID[kid] = append(byKeyID[kid], private)
		}
	}

	var candidates []*engine.PrivateIdentity
	seen := make(map[string]bool)
	appendCandidate := func(p *engine.PrivateIdentity) {
		if !seen[p.ID()] {
			seen[p.ID()] = true
			candidates = append(candidates, p)
		}
	}

	for _, kid := range recipientIDs {
		if kid == 0 {
			// anonymous recipient: any private key may be able to decrypt
			for _, p := range privates {
				appendCandidate(p)
			}
			continue
		}
		for _, p := range byKeyID[kid] {
			appendCandidate(p)
		}
	}
	return candidates, nil
}

// Encrypt produces an armored message readable by each recipient record.
// Needs no unlock beyond the session itself: encryption uses public material.
func (s *Session) Encrypt(recipientIDs []string, message []byte) (string, error) {
	if !s.unlocked {
		return "", ErrSessionLocked
	}

	recipients := make([]engine.Identity, 0, len(recipientIDs))
	for _, id := range recipientIDs {
		record, err := s.keys.Get(id)
		if err != nil {
			return "", err
		}
		identity, err := s.engine.ParseKey(record.SerializedForm)
		if err != nil {
			return "", err
		}
		recipients = append(recipients, identity)
	}

	return s.engine.Encrypt(recipients, message)
}

// Verify checks an armored detached signature against every stored record
// and returns the signer's fingerprint.
func (s *Session) Verify(message []byte, armoredSignature string) (string, error) {
	if !s.unlocked {
		return "", ErrSessionLocked
	}

	var keyring []engine.Identity
	for _, record := range s.keys.Records() {
		identity, err := s.engine.ParseKey(record.SerializedForm)
		if err != nil {
			continue
		}
		keyring = append(keyring, identity)
	}
	if len(keyring) == 0 {
		return "", fmt.Errorf("%w: no keys available for verification", ErrNotFound)
	}

	return s.engine.Verify(keyring, message, armoredSignature)
}

// Close locks the session and releases the store and audit resources.
func (s *Session) Close() error {
	if s.unlocked {
		s.Lock()
	}

	var errs []error
	if err := s.store.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := s.audit.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
