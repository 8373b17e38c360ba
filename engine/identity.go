package engine

import (
	"fmt"
	"sort"
	"time"

	"github.com/ProtonMail/go-crypto/openpgp"
)

// keyInfo holds the metadata extracted once from a parsed entity. Both
// identity arms embed it so capability queries behave identically.
type keyInfo struct {
	id        string
	userIDs   []string
	createdAt time.Time
	keyIDs    []uint64
	armored   string
}

func (k keyInfo) ID() string        { return k.id }
func (k keyInfo) Armored() string   { return k.armored }
func (k keyInfo) KeyIDs() []uint64  { return append([]uint64(nil), k.keyIDs...) }
func (k keyInfo) CreatedAt() time.Time { return k.createdAt }

func (k keyInfo) UserIdentities() []string {
	return append([]string(nil), k.userIDs...)
}

func (k keyInfo) PrimaryUserIdentity() string {
	return k.userIDs[0]
}

// PublicIdentity is the public arm of the identity variant.
type PublicIdentity struct {
	keyInfo
	entity *openpgp.Entity
}

func (p *PublicIdentity) IsPrivate() bool { return false }
func (p *PublicIdentity) IsLocked() bool  { return false }

// PrivateIdentity is the private arm of the identity variant. It may be
// locked: the key material parses without a passphrase but cannot be used
// for signing or decryption until unlocked.
type PrivateIdentity struct {
	keyInfo
	entity *openpgp.Entity
}

func (p *PrivateIdentity) IsPrivate() bool { return true }

func (p *PrivateIdentity) IsLocked() bool {
	if p.entity.PrivateKey == nil {
		return false
	}
	return p.entity.PrivateKey.Encrypted
}

// UnlockedIdentity is a private identity whose key material has been
// decrypted. It is a capability: holders can sign and decrypt, so it must
// never be persisted and should be dropped as soon as the operation that
// needed it resolves.
type UnlockedIdentity struct {
	*PrivateIdentity
}

func (u *UnlockedIdentity) IsLocked() bool { return false }

// newKeyInfo extracts stable metadata from a parsed entity. The armored
// form is kept verbatim so round-tripping an import never rewrites key
// material.
func newKeyInfo(e *openpgp.Entity, armored string) keyInfo {
	info := keyInfo{
		id:        fmt.Sprintf("%X", e.PrimaryKey.Fingerprint),
		createdAt: e.PrimaryKey.CreationTime,
		armored:   armored,
	}

	info.keyIDs = append(info.keyIDs, e.PrimaryKey.KeyId)
	for _, sub := range e.Subkeys {
		if sub.PublicKey != nil {
			info.keyIDs = append(info.keyIDs, sub.PublicKey.KeyId)
		}
	}

	info.userIDs = orderedUserIDs(e)
	if len(info.userIDs) == 0 {
		info.userIDs = []string{placeholderIdentity(info.id)}
	}

	return info
}

// orderedUserIDs returns the entity's user IDs with the self-declared
// primary one first and the rest in lexical order for determinism (the
// underlying representation is an unordered map).
func orderedUserIDs(e *openpgp.Entity) []string {
	var primary string
	var rest []string

	for name, ident := range e.Identities {
		if ident.SelfSignature != nil &&
			ident.SelfSignature.IsPrimaryId != nil &&
			*ident.SelfSignature.IsPrimaryId &&
			primary == "" {
			primary = name
			continue
		}
		rest = append(rest, name)
	}

	sort.Strings(rest)
	if primary == "" {
		return rest
	}
	return append([]string{primary}, rest...)
}

// placeholderIdentity synthesizes a display name for keys that carry no
// user IDs, derived from the fingerprint so it is stable across imports.
func placeholderIdentity(id string) string {
	short := id
	if len(short) > 16 {
		short = short[len(short)-16:]
	}
	return fmt.Sprintf("anonymous key %s", short)
}
