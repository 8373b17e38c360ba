package misc

const (
	// KeyringFormatVersion defines the current version of the persisted keyring layout
	KeyringFormatVersion = 1

	// ArgonTime key derivation parameters for the password-based wrap primitive
	ArgonTime    uint32 = 4
	ArgonMemory  uint32 = 128 * 1024
	ArgonThreads uint8  = 4
	ArgonKeyLen  uint32 = 32
	SaltSize            = 16

	// VerifierMarker is the fixed plaintext wrapped under the master password
	// to produce the vault verifier. Unwrapping the verifier must yield this
	// exact value for a password to be considered correct.
	VerifierMarker = "WebPGP/verifier/v1"

	FilePermissions = 0600 // user read + write
)
