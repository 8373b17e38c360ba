package webpgp

import (
	"bytes"
	"testing"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
	"github.com/stretchr/testify/require"

	"github.com/KintaMiao/WebPGP/engine"
	"github.com/KintaMiao/WebPGP/persist"
)

// generateKey creates a fresh key pair for tests. When passphrase is not
// empty the private material is locked under it before serialization.
func generateKey(t *testing.T, name, email, passphrase string) (armoredPriv, armoredPub string) {
	t.Helper()

	entity, err := openpgp.NewEntity(name, "", email, nil)
	require.NoError(t, err)

	if passphrase != "" {
		require.NoError(t, entity.PrivateKey.Encrypt([]byte(passphrase)))
		for _, sub := range entity.Subkeys {
			if sub.PrivateKey != nil {
				require.NoError(t, sub.PrivateKey.Encrypt([]byte(passphrase)))
			}
		}
	}

	var priv bytes.Buffer
	aw, err := armor.Encode(&priv, openpgp.PrivateKeyType, nil)
	require.NoError(t, err)
	require.NoError(t, entity.SerializePrivateWithoutSigning(aw, nil))
	require.NoError(t, aw.Close())

	var pub bytes.Buffer
	aw, err = armor.Encode(&pub, openpgp.PublicKeyType, nil)
	require.NoError(t, err)
	require.NoError(t, entity.Serialize(aw))
	require.NoError(t, aw.Close())

	return priv.String(), pub.String()
}

func testStoreConfig(t *testing.T) persist.StoreConfig {
	t.Helper()
	return persist.StoreConfig{
		Type:   persist.StoreTypeFileSystem,
		Config: map[string]interface{}{"base_path": t.TempDir()},
	}
}

func newTestStore(t *testing.T) persist.Store {
	t.Helper()
	store, err := persist.NewStore(testStoreConfig(t), "test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newTestVault(t *testing.T) (*Vault, persist.Store, engine.Engine) {
	t.Helper()
	store := newTestStore(t)
	eng := engine.NewOpenPGP()
	return NewVault(store, eng, nil), store, eng
}

func newTestKeyStore(t *testing.T) (*KeyStore, *Vault, persist.Store) {
	t.Helper()
	vault, store, eng := newTestVault(t)
	return NewKeyStore(vault, eng, store, nil), vault, store
}

func newTestSession(t *testing.T) *Session {
	t.Helper()
	session, err := NewSession(Options{
		ProfileID: "test",
		Store:     testStoreConfig(t),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = session.Close() })
	return session
}

// parseRecord turns armored key text into a KeyRecord the way Import does,
// without the session machinery.
func parseRecord(t *testing.T, eng engine.Engine, armored string) KeyRecord {
	t.Helper()
	identity, err := eng.ParseKey(armored)
	require.NoError(t, err)
	return newKeyRecord(identity)
}

// failingStore wraps a Store and fails keyring writes on demand.
type failingStore struct {
	persist.Store
	failSaves bool
}

func (f *failingStore) SaveKeyring(data []byte) error {
	if f.failSaves {
		return &storageQuotaError{}
	}
	return f.Store.SaveKeyring(data)
}

type storageQuotaError struct{}

func (*storageQuotaError) Error() string { return "storage quota exceeded" }
