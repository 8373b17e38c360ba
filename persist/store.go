package persist

import (
	"fmt"
	"time"
)

// VersionedData represents stored data with its version information
type VersionedData struct {
	Data      []byte
	Version   string // content hash of the stored bytes
	Timestamp time.Time
}

// Store defines the interface for persisting keyring data. All key material
// passed through this interface is assumed to be armored public text or
// vault-wrapped ciphertext; the store never sees plaintext private keys.
//
// Writes are last-write-wins: concurrent writers can clobber each other and
// no optimistic concurrency token is modeled.
type Store interface {

	// Profiles

	// ListProfiles retrieves the profile IDs that have data under this store.
	ListProfiles() ([]string, error)

	// DeleteProfile removes all data for the given profile. It is an error
	// to delete the profile the store is currently bound to.
	DeleteProfile(profileID string) error

	// Verifier: the master-password check value, stored under a key
	// distinct from the record collection.

	SaveVerifier(data []byte) error

	// LoadVerifier retrieves the verifier ciphertext. The returned error
	// satisfies os.IsNotExist checks when no verifier has been created.
	LoadVerifier() ([]byte, error)

	VerifierExists() (bool, error)

	// Keyring: the serialized record collection, written as a whole
	// (replace-the-collection semantics, never an incremental diff).

	SaveKeyring(data []byte) error

	LoadKeyring() (*VersionedData, error)

	KeyringExists() (bool, error)

	// Reset irreversibly deletes the verifier and the keyring for the
	// bound profile. Confirmation is a caller concern.
	Reset() error

	// Health and utilities

	// Ping tests connectivity for remote backends.
	Ping() error

	// Close closes the store and releases any resources it holds.
	Close() error

	// GetType retrieves the type of store being used.
	GetType() string
}

// StoreConfig provides configuration for the different storage backends.
type StoreConfig struct {
	// Type specifies the storage backend to be used.
	Type StoreType `json:"type"`

	// Config contains backend-specific settings, e.g. "base_path" for the
	// filesystem store or "bucket" and credentials for the S3 store.
	Config map[string]interface{} `json:"config"`
}

// StoreType represents the different types of storage backends that can be used.
type StoreType string

// Supported storage types.
const (
	// StoreTypeFileSystem stores data under a local directory tree.
	StoreTypeFileSystem StoreType = "filesystem"

	// StoreTypeS3 stores data in an S3-compatible object store.
	StoreTypeS3 StoreType = "s3"
)

// NotFoundError reports a missing stored object in a backend-agnostic way.
type NotFoundError struct {
	What string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s does not exist", e.What)
}
