package webpgp

import (
	"time"

	"github.com/KintaMiao/WebPGP/engine"
)

// RecordKind tags the persisted form of a key record.
type RecordKind string

const (
	PublicRecord  RecordKind = "public"
	PrivateRecord RecordKind = "private"
)

// KeyRecord is the in-memory representation of one cryptographic identity.
// The KeyStore exclusively owns the canonical collection; callers receive
// copies and propose mutations through the KeyStore API.
type KeyRecord struct {
	// ID is the stable fingerprint of the identity, unique within the store.
	ID string

	// SerializedForm is the identity's portable armored encoding. For private
	// keys this is the unwrapped form and exists only in memory; at rest it is
	// wrapped under the master password.
	SerializedForm string

	// IsPrivate is true iff the record carries private material. It reflects
	// the persisted decision, not a recomputation.
	IsPrivate bool

	// UserIdentities holds the key's human-readable identity strings, primary
	// first. Never empty.
	UserIdentities []string

	PrimaryUserIdentity string

	// CreatedAt is taken from the key material itself, not the import time.
	CreatedAt time.Time
}

// PersistedRecord is the on-disk projection of a KeyRecord. Data holds the
// armored public form, or vault-wrapped ciphertext for private records. The
// denormalized metadata fields are a listing cache only: hydrated records
// always recompute them from the parsed key material.
type PersistedRecord struct {
	ID                  string     `json:"id"`
	Kind                RecordKind `json:"kind"`
	Data                string     `json:"data"`
	UserIdentities      []string   `json:"userIdentities"`
	PrimaryUserIdentity string     `json:"primaryUserIdentity"`
	CreatedAt           time.Time  `json:"createdAt"`
}

// newKeyRecord builds a KeyRecord from a parsed identity. All metadata comes
// from the key material.
func newKeyRecord(id engine.Identity) KeyRecord {
	return KeyRecord{
		ID:                  id.ID(),
		SerializedForm:      id.Armored(),
		IsPrivate:           id.IsPrivate(),
		UserIdentities:      id.UserIdentities(),
		PrimaryUserIdentity: id.PrimaryUserIdentity(),
		CreatedAt:           id.CreatedAt(),
	}
}

func (r KeyRecord) kind() RecordKind {
	if r.IsPrivate {
		return PrivateRecord
	}
	return PublicRecord
}

// copyRecord returns a deep copy so callers cannot mutate the store's
// canonical collection through a returned snapshot.
func copyRecord(r KeyRecord) KeyRecord {
	out := r
	out.UserIdentities = append([]string(nil), r.UserIdentities...)
	return out
}
