package webpgp

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/KintaMiao/WebPGP/engine"
)

const testPassword = "master-pass"

func TestKeyStoreMergeInvariant(t *testing.T) {
	ks, _, _ := newTestKeyStore(t)
	eng := engine.NewOpenPGP()
	priv, pub := generateKey(t, "Alice", "alice@example.com", "")

	// public first
	require.NoError(t, ks.Add(parseRecord(t, eng, pub), testPassword))
	records := ks.Records()
	require.Len(t, records, 1)
	require.False(t, records[0].IsPrivate)

	// upgraded to private: still exactly one record
	require.NoError(t, ks.Add(parseRecord(t, eng, priv), testPassword))
	records = ks.Records()
	require.Len(t, records, 1)
	require.True(t, records[0].IsPrivate)

	// a second private import for the same ID is rejected and changes nothing
	err := ks.Add(parseRecord(t, eng, priv), testPassword)
	require.ErrorIs(t, err, ErrKeyConflict)

	// so is a public one: private records are immutable
	err = ks.Add(parseRecord(t, eng, pub), testPassword)
	require.ErrorIs(t, err, ErrKeyConflict)

	records = ks.Records()
	require.Len(t, records, 1)
	require.True(t, records[0].IsPrivate)
}

func TestKeyStorePublicOverPublicIsNoop(t *testing.T) {
	ks, _, _ := newTestKeyStore(t)
	eng := engine.NewOpenPGP()
	_, pub := generateKey(t, "Alice", "alice@example.com", "")

	require.NoError(t, ks.Add(parseRecord(t, eng, pub), testPassword))
	require.NoError(t, ks.Add(parseRecord(t, eng, pub), testPassword))
	require.Len(t, ks.Records(), 1)
}

func TestKeyStoreRemove(t *testing.T) {
	ks, _, _ := newTestKeyStore(t)
	eng := engine.NewOpenPGP()
	_, pub := generateKey(t, "Alice", "alice@example.com", "")
	record := parseRecord(t, eng, pub)

	require.ErrorIs(t, ks.Remove(record.ID, testPassword), ErrNotFound)

	require.NoError(t, ks.Add(record, testPassword))
	require.NoError(t, ks.Remove(record.ID, testPassword))
	require.Empty(t, ks.Records())

	_, err := ks.Get(record.ID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestKeyStorePersistAndReload(t *testing.T) {
	ks, vault, store := newTestKeyStore(t)
	eng := engine.NewOpenPGP()
	priv, _ := generateKey(t, "Alice", "alice@example.com", "key-pass")
	_, pubB := generateKey(t, "Bob", "bob@example.com", "")

	require.NoError(t, ks.Add(parseRecord(t, eng, priv), testPassword))
	require.NoError(t, ks.Add(parseRecord(t, eng, pubB), testPassword))

	// private data at rest is wrapped, not armored plaintext
	versioned, err := store.LoadKeyring()
	require.NoError(t, err)
	var persisted []PersistedRecord
	require.NoError(t, json.Unmarshal(versioned.Data, &persisted))
	require.Len(t, persisted, 2)
	for _, pr := range persisted {
		if pr.Kind == PrivateRecord {
			require.NotContains(t, pr.Data, "PGP PRIVATE KEY BLOCK")
		}
	}

	// a fresh store hydrates both records with metadata from the key material
	fresh := NewKeyStore(vault, eng, store, nil)
	records, err := fresh.Load(testPassword)
	require.NoError(t, err)
	require.Len(t, records, 2)

	byID := map[string]KeyRecord{}
	for _, r := range records {
		byID[r.ID] = r
	}
	original := parseRecord(t, eng, priv)
	hydrated := byID[original.ID]
	require.True(t, hydrated.IsPrivate)
	require.Equal(t, original.SerializedForm, hydrated.SerializedForm)
	require.Equal(t, original.PrimaryUserIdentity, hydrated.PrimaryUserIdentity)
	require.Equal(t, original.CreatedAt.Unix(), hydrated.CreatedAt.Unix())
}

func TestKeyStoreLoadAbortsOnWrongPassword(t *testing.T) {
	ks, vault, store := newTestKeyStore(t)
	eng := engine.NewOpenPGP()
	priv, _ := generateKey(t, "Alice", "alice@example.com", "")
	_, pub := generateKey(t, "Bob", "bob@example.com", "")

	require.NoError(t, ks.Add(parseRecord(t, eng, priv), testPassword))
	require.NoError(t, ks.Add(parseRecord(t, eng, pub), testPassword))

	fresh := NewKeyStore(vault, eng, store, nil)
	records, err := fresh.Load("wrong-password")
	require.ErrorIs(t, err, ErrWrongPassword)
	require.Nil(t, records, "a wrong-password load yields no partial record list")
	require.Empty(t, fresh.Records())
}

func TestKeyStoreLoadSkipsCorruptRecords(t *testing.T) {
	ks, vault, store := newTestKeyStore(t)
	eng := engine.NewOpenPGP()
	priv, _ := generateKey(t, "Alice", "alice@example.com", "")
	_, pub := generateKey(t, "Bob", "bob@example.com", "")

	require.NoError(t, ks.Add(parseRecord(t, eng, priv), testPassword))
	require.NoError(t, ks.Add(parseRecord(t, eng, pub), testPassword))

	// corrupt the public record in place
	versioned, err := store.LoadKeyring()
	require.NoError(t, err)
	var persisted []PersistedRecord
	require.NoError(t, json.Unmarshal(versioned.Data, &persisted))
	for i := range persisted {
		if persisted[i].Kind == PublicRecord {
			persisted[i].Data = "garbage, not a key"
		}
	}
	data, err := json.Marshal(persisted)
	require.NoError(t, err)
	require.NoError(t, store.SaveKeyring(data))

	fresh := NewKeyStore(vault, eng, store, nil)
	records, err := fresh.Load(testPassword)
	require.NoError(t, err, "single-record corruption is skipped, not fatal")
	require.Len(t, records, 1)
	require.True(t, records[0].IsPrivate)
}

func TestKeyStoreLoadRecomputesMetadata(t *testing.T) {
	ks, vault, store := newTestKeyStore(t)
	eng := engine.NewOpenPGP()
	_, pub := generateKey(t, "Alice", "alice@example.com", "")

	record := parseRecord(t, eng, pub)
	require.NoError(t, ks.Add(record, testPassword))

	// tamper with the denormalized listing cache
	versioned, err := store.LoadKeyring()
	require.NoError(t, err)
	var persisted []PersistedRecord
	require.NoError(t, json.Unmarshal(versioned.Data, &persisted))
	persisted[0].PrimaryUserIdentity = "Mallory <mallory@example.com>"
	persisted[0].UserIdentities = []string{"Mallory <mallory@example.com>"}
	data, err := json.Marshal(persisted)
	require.NoError(t, err)
	require.NoError(t, store.SaveKeyring(data))

	fresh := NewKeyStore(vault, eng, store, nil)
	records, err := fresh.Load(testPassword)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, record.PrimaryUserIdentity, records[0].PrimaryUserIdentity,
		"hydrated metadata comes from the key material, never the cache")
}

func TestKeyStoreLoadEmptyMedium(t *testing.T) {
	ks, _, _ := newTestKeyStore(t)

	records, err := ks.Load(testPassword)
	require.NoError(t, err)
	require.Empty(t, records)
}

func TestKeyStorePersistFailureKeepsMemory(t *testing.T) {
	vault, store, eng := newTestVault(t)
	failing := &failingStore{Store: store}
	ks := NewKeyStore(vault, eng, failing, nil)
	_, pub := generateKey(t, "Alice", "alice@example.com", "")
	record := parseRecord(t, eng, pub)

	failing.failSaves = true
	err := ks.Add(record, testPassword)
	require.ErrorIs(t, err, ErrStorageFailure)

	// memory runs ahead of the medium: the record is there and a retry works
	require.Len(t, ks.Records(), 1)
	failing.failSaves = false
	require.NoError(t, ks.Persist(testPassword))

	fresh := NewKeyStore(vault, eng, store, nil)
	records, err := fresh.Load(testPassword)
	require.NoError(t, err)
	require.Len(t, records, 1)
}
