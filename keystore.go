package webpgp

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/KintaMiao/WebPGP/audit"
	"github.com/KintaMiao/WebPGP/engine"
	"github.com/KintaMiao/WebPGP/persist"
)

// KeyStore owns the canonical key-record collection and its merge
// invariants: at most one record per ID, private records immutable once
// stored, and a public record upgradeable to private exactly once.
//
// All mutations go through Add/Remove/Load; callers only ever see copies.
type KeyStore struct {
	vault  *Vault
	engine engine.Engine
	store  persist.Store
	audit  audit.Logger

	mu      sync.RWMutex
	records map[string]KeyRecord
	loaded  bool
}

// NewKeyStore creates an empty key store. Records become visible after Load.
func NewKeyStore(vault *Vault, eng engine.Engine, store persist.Store, auditor audit.Logger) *KeyStore {
	if auditor == nil {
		auditor = audit.NewNoOpLogger()
	}
	return &KeyStore{
		vault:   vault,
		engine:  eng,
		store:   store,
		audit:   auditor,
		records: make(map[string]KeyRecord),
	}
}

// Load hydrates the collection from the persistent medium.
//
// Public records are parsed directly; private records are unwrapped with the
// master password first. A wrong password on any single record aborts the
// whole load with ErrWrongPassword and leaves the in-memory collection
// untouched: one wrong-password record means the vault password itself is
// wrong, so a partial result would be a lie. Corruption is the opposite case,
// scoped to one record, so a corrupt or unparseable record is skipped with an
// audit entry and the rest of the load continues.
//
// The record's kind is trusted from the persisted flag; all other metadata
// is recomputed from the parsed key material, never from the persisted cache.
func (ks *KeyStore) Load(password string) ([]KeyRecord, error) {
	exists, err := ks.store.KeyringExists()
	if err != nil {
		return nil, fmt.Errorf("failed to check keyring presence: %w", err)
	}

	var persisted []PersistedRecord
	if exists {
		versioned, err := ks.store.LoadKeyring()
		if err != nil {
			return nil, fmt.Errorf("failed to load keyring: %w", err)
		}
		if err = json.Unmarshal(versioned.Data, &persisted); err != nil {
			return nil, fmt.Errorf("%w: keyring is not valid JSON: %v", ErrCorruptData, err)
		}
	}

	hydrated := make(map[string]KeyRecord, len(persisted))
	skipped := 0
	for _, pr := range persisted {
		record, err := ks.hydrate(pr, password)
		if err != nil {
			if errors.Is(err, ErrWrongPassword) {
				ks.logEvent(audit.ActionKeyringLoad, false,
					map[string]interface{}{"fingerprint": pr.ID, "error": err.Error()})
				return nil, fmt.Errorf("record %s: %w", pr.ID, err)
			}
			// Corrupt or unparseable single record: skip it and keep going.
			skipped++
			ks.logEvent(audit.ActionKeyringLoad, false,
				map[string]interface{}{"fingerprint": pr.ID, "skipped": true, "error": err.Error()})
			continue
		}
		hydrated[record.ID] = record
	}

	ks.mu.Lock()
	ks.records = hydrated
	ks.loaded = true
	ks.mu.Unlock()

	ks.logEvent(audit.ActionKeyringLoad, true,
		map[string]interface{}{"records": len(hydrated), "skipped": skipped})
	return ks.snapshot(), nil
}

// hydrate converts one persisted record back into a KeyRecord.
func (ks *KeyStore) hydrate(pr PersistedRecord, password string) (KeyRecord, error) {
	armored := pr.Data
	if pr.Kind == PrivateRecord {
		plaintext, err := ks.vault.Unwrap(pr.Data, password)
		if err != nil {
			return KeyRecord{}, err
		}
		armored = string(plaintext)
	}

	identity, err := ks.engine.ParseKey(armored)
	if err != nil {
		return KeyRecord{}, err
	}

	record := newKeyRecord(identity)
	// Kind comes from the persisted flag, not the parsed capability.
	record.IsPrivate = pr.Kind == PrivateRecord
	return record, nil
}

// Records returns a snapshot of the collection, sorted by primary identity
// for stable listings.
func (ks *KeyStore) Records() []KeyRecord {
	return ks.snapshot()
}

// Get returns a copy of the record with the given ID.
func (ks *KeyStore) Get(id string) (KeyRecord, error) {
	ks.mu.RLock()
	defer ks.mu.RUnlock()

	record, ok := ks.records[id]
	if !ok {
		return KeyRecord{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return copyRecord(record), nil
}

// Add imports a record, applying the merge rule, and persists the updated
// collection:
//
//   - existing record is private: rejected with ErrKeyConflict, whatever the
//     incoming kind; private records are immutable once stored;
//   - existing is public, incoming is private: in-place upgrade, the only
//     permitted overwrite;
//   - both public: no-op, not an error.
//
// A persist failure leaves the in-memory change in place (memory may run
// ahead of the medium, never behind) and surfaces as a retryable error.
func (ks *KeyStore) Add(record KeyRecord, password string) error {
	ks.mu.Lock()
	existing, ok := ks.records[record.ID]
	if ok {
		if existing.IsPrivate {
			ks.mu.Unlock()
			ks.logEvent(audit.ActionKeyImport, false,
				map[string]interface{}{"fingerprint": record.ID, "error": "private record exists"})
			return fmt.Errorf("%w: %s", ErrKeyConflict, record.ID)
		}
		if !record.IsPrivate {
			// Public over public: nothing to do.
			ks.mu.Unlock()
			return nil
		}
		// Public upgraded to private.
		ks.records[record.ID] = copyRecord(record)
		ks.mu.Unlock()
		ks.logEvent(audit.ActionKeyUpgrade, true,
			map[string]interface{}{"fingerprint": record.ID})
		return ks.Persist(password)
	}

	ks.records[record.ID] = copyRecord(record)
	ks.mu.Unlock()

	ks.logEvent(audit.ActionKeyImport, true, map[string]interface{}{
		"fingerprint": record.ID,
		"kind":        string(record.kind()),
	})
	return ks.Persist(password)
}

// Remove deletes the record with the given ID and persists the updated
// collection. A miss fails with ErrNotFound.
func (ks *KeyStore) Remove(id string, password string) error {
	ks.mu.Lock()
	if _, ok := ks.records[id]; !ok {
		ks.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(ks.records, id)
	ks.mu.Unlock()

	ks.logEvent(audit.ActionKeyRemove, true, map[string]interface{}{"fingerprint": id})
	return ks.Persist(password)
}

// Persist writes the whole collection back to the medium, wrapping every
// private record's serialized form under the master password.
//
// The complete persisted set is prepared before anything is written: a
// failure wrapping any single record aborts the persist with no partial
// write. The write itself replaces the collection, it is not an incremental
// diff. On failure the in-memory collection is untouched and the caller may
// retry.
func (ks *KeyStore) Persist(password string) error {
	ks.mu.RLock()
	persisted := make([]PersistedRecord, 0, len(ks.records))
	for _, record := range ks.records {
		pr, err := ks.dehydrate(record, password)
		if err != nil {
			ks.mu.RUnlock()
			ks.logEvent(audit.ActionKeyringSave, false,
				map[string]interface{}{"fingerprint": record.ID, "error": err.Error()})
			return fmt.Errorf("failed to prepare record %s: %w", record.ID, err)
		}
		persisted = append(persisted, pr)
	}
	ks.mu.RUnlock()

	sort.Slice(persisted, func(i, j int) bool { return persisted[i].ID < persisted[j].ID })

	data, err := json.Marshal(persisted)
	if err != nil {
		return fmt.Errorf("failed to serialize keyring: %w", err)
	}

	if err = ks.store.SaveKeyring(data); err != nil {
		ks.logEvent(audit.ActionKeyringSave, false, map[string]interface{}{"error": err.Error()})
		return fmt.Errorf("%w: saving keyring: %v", ErrStorageFailure, err)
	}

	ks.logEvent(audit.ActionKeyringSave, true,
		map[string]interface{}{"records": len(persisted)})
	return nil
}

// dehydrate converts one record to its persisted projection.
func (ks *KeyStore) dehydrate(record KeyRecord, password string) (PersistedRecord, error) {
	data := record.SerializedForm
	if record.IsPrivate {
		wrapped, err := ks.vault.Wrap([]byte(record.SerializedForm), password)
		if err != nil {
			return PersistedRecord{}, err
		}
		data = wrapped
	}

	return PersistedRecord{
		ID:                  record.ID,
		Kind:                record.kind(),
		Data:                data,
		UserIdentities:      append([]string(nil), record.UserIdentities...),
		PrimaryUserIdentity: record.PrimaryUserIdentity,
		CreatedAt:           record.CreatedAt,
	}, nil
}

// Clear drops the in-memory collection without touching the medium. Used by
// the session on lock.
func (ks *KeyStore) Clear() {
	ks.mu.Lock()
	ks.records = make(map[string]KeyRecord)
	ks.loaded = false
	ks.mu.Unlock()
}

func (ks *KeyStore) snapshot() []KeyRecord {
	ks.mu.RLock()
	defer ks.mu.RUnlock()

	out := make([]KeyRecord, 0, len(ks.records))
	for _, record := range ks.records {
		out = append(out, copyRecord(record))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PrimaryUserIdentity != out[j].PrimaryUserIdentity {
			return out[i].PrimaryUserIdentity < out[j].PrimaryUserIdentity
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (ks *KeyStore) logEvent(action string, success bool, metadata map[string]interface{}) {
	_ = ks.audit.Log(action, success, metadata)
}
