package engine

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
	"github.com/ProtonMail/go-crypto/openpgp/packet"

	"github.com/KintaMiao/WebPGP/internal/crypto"
)

// Ensure OpenPGP implements the Engine interface
var _ Engine = (*OpenPGP)(nil)

// OpenPGP implements Engine on top of ProtonMail's go-crypto OpenPGP
// library. It is stateless; a single instance can be shared freely.
type OpenPGP struct{}

func NewOpenPGP() *OpenPGP {
	return &OpenPGP{}
}

func (o *OpenPGP) ParseKey(armored string) (Identity, error) {
	entity, err := readFirstEntity(armored)
	if err != nil {
		return nil, err
	}

	if entity.PrivateKey != nil {
		return &PrivateIdentity{keyInfo: newKeyInfo(entity, armored), entity: entity}, nil
	}
	return &PublicIdentity{keyInfo: newKeyInfo(entity, armored), entity: entity}, nil
}

func (o *OpenPGP) ParsePublic(armored string) (Identity, error) {
	entity, err := readFirstEntity(armored)
	if err != nil {
		return nil, err
	}

	if entity.PrivateKey != nil {
		return nil, fmt.Errorf("%w: expected a public key block, got a private key", ErrParse)
	}
	return &PublicIdentity{keyInfo: newKeyInfo(entity, armored), entity: entity}, nil
}

func (o *OpenPGP) ParsePrivate(armored string) (*PrivateIdentity, error) {
	entity, err := readFirstEntity(armored)
	if err != nil {
		return nil, err
	}

	if entity.PrivateKey == nil {
		return nil, fmt.Errorf("%w: expected a private key block, got a public key", ErrParse)
	}
	return &PrivateIdentity{keyInfo: newKeyInfo(entity, armored), entity: entity}, nil
}

// Unlock re-parses the armored form so the returned identity owns a fresh
// entity: decrypting it never mutates the caller's copy, which keeps one
// workflow's unlock invisible to others holding the same PrivateIdentity.
func (o *OpenPGP) Unlock(key *PrivateIdentity, passphrase string) (*UnlockedIdentity, error) {
	if key == nil {
		return nil, fmt.Errorf("no private identity supplied")
	}

	fresh, err := o.ParsePrivate(key.Armored())
	if err != nil {
		return nil, err
	}

	if !fresh.IsLocked() {
		return &UnlockedIdentity{PrivateIdentity: fresh}, nil
	}

	pass := []byte(passphrase)
	if err = fresh.entity.PrivateKey.Decrypt(pass); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWrongPassphrase, err)
	}
	for _, sub := range fresh.entity.Subkeys {
		if sub.PrivateKey != nil && sub.PrivateKey.Encrypted {
			if err = sub.PrivateKey.Decrypt(pass); err != nil {
				return nil, fmt.Errorf("%w: subkey %X: %v", ErrWrongPassphrase, sub.PublicKey.KeyId, err)
			}
		}
	}

	return &UnlockedIdentity{PrivateIdentity: fresh}, nil
}

func (o *OpenPGP) SymmetricWrap(plaintext []byte, password string) (string, error) {
	encrypted, err := crypto.EncryptWithPassword(plaintext, password)
	if err != nil {
		return "", fmt.Errorf("failed to wrap data: %w", err)
	}
	return base64.StdEncoding.EncodeToString(encrypted), nil
}

func (o *OpenPGP) SymmetricUnwrap(ciphertext string, password string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid base64 encoding: %v", ErrCorruptData, err)
	}

	plaintext, err := crypto.DecryptWithPassword(raw, password)
	if err != nil {
		switch {
		case errors.Is(err, crypto.ErrAuthentication):
			return nil, fmt.Errorf("%w: %v", ErrWrongPassword, err)
		case errors.Is(err, crypto.ErrMalformed):
			return nil, fmt.Errorf("%w: %v", ErrCorruptData, err)
		default:
			return nil, fmt.Errorf("%w: %v", ErrCorruptData, err)
		}
	}
	return plaintext, nil
}

func (o *OpenPGP) Sign(key *UnlockedIdentity, message []byte) (string, error) {
	if key == nil || key.entity.PrivateKey == nil {
		return "", fmt.Errorf("signing requires an unlocked private identity")
	}
	if key.entity.PrivateKey.Encrypted {
		return "", fmt.Errorf("private key is still locked")
	}

	var buf bytes.Buffer
	if err := openpgp.ArmoredDetachSign(&buf, key.entity, bytes.NewReader(message), nil); err != nil {
		return "", fmt.Errorf("failed to sign message: %w", err)
	}
	return buf.String(), nil
}

func (o *OpenPGP) Verify(keyring []Identity, message []byte, armoredSignature string) (string, error) {
	var el openpgp.EntityList
	for _, id := range keyring {
		if e := entityOf(id); e != nil {
			el = append(el, e)
		}
	}
	if len(el) == 0 {
		return "", fmt.Errorf("no verification keys supplied")
	}

	signer, err := openpgp.CheckArmoredDetachedSignature(
		el, bytes.NewReader(message), strings.NewReader(armoredSignature), nil)
	if err != nil {
		return "", fmt.Errorf("signature verification failed: %w", err)
	}
	return fmt.Sprintf("%X", signer.PrimaryKey.Fingerprint), nil
}

func (o *OpenPGP) Encrypt(recipients []Identity, message []byte) (string, error) {
	var to []*openpgp.Entity
	for _, id := range recipients {
		if e := entityOf(id); e != nil {
			to = append(to, e)
		}
	}
	if len(to) == 0 {
		return "", fmt.Errorf("no recipients supplied")
	}

	var buf bytes.Buffer
	aw, err := armor.Encode(&buf, "PGP MESSAGE", nil)
	if err != nil {
		return "", fmt.Errorf("failed to create armorer: %w", err)
	}

	pw, err := openpgp.Encrypt(aw, to, nil, nil, nil)
	if err != nil {
		return "", fmt.Errorf("failed to encrypt message: %w", err)
	}
	if _, err = pw.Write(message); err != nil {
		return "", fmt.Errorf("failed to write message: %w", err)
	}
	if err = pw.Close(); err != nil {
		return "", fmt.Errorf("failed to finalize message: %w", err)
	}
	if err = aw.Close(); err != nil {
		return "", fmt.Errorf("failed to finalize armor: %w", err)
	}

	return buf.String(), nil
}

func (o *OpenPGP) Decrypt(key *UnlockedIdentity, armoredMessage string) ([]byte, error) {
	if key == nil || key.entity.PrivateKey == nil {
		return nil, fmt.Errorf("decryption requires an unlocked private identity")
	}

	block, err := armor.Decode(strings.NewReader(armoredMessage))
	if err != nil {
		return nil, fmt.Errorf("%w: invalid armored message: %v", ErrParse, err)
	}

	md, err := openpgp.ReadMessage(block.Body, openpgp.EntityList{key.entity}, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to read message: %w", err)
	}

	plaintext, err := io.ReadAll(md.UnverifiedBody)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt message body: %w", err)
	}
	return plaintext, nil
}

// RecipientKeyIDs walks the packet stream up to the first encrypted payload
// and collects the key IDs of the session-key packets in front of it.
func (o *OpenPGP) RecipientKeyIDs(armoredMessage string) ([]uint64, error) {
	block, err := armor.Decode(strings.NewReader(armoredMessage))
	if err != nil {
		return nil, fmt.Errorf("%w: invalid armored message: %v", ErrParse, err)
	}

	var ids []uint64
	reader := packet.NewReader(block.Body)
	for {
		p, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			if len(ids) > 0 {
				// Payload packets past the session keys may use features we
				// cannot parse; the recipient list is already complete.
				break
			}
			return nil, fmt.Errorf("%w: %v", ErrParse, err)
		}

		switch pkt := p.(type) {
		case *packet.EncryptedKey:
			ids = append(ids, pkt.KeyId)
		case *packet.SymmetricallyEncrypted, *packet.AEADEncrypted:
			return ids, nil
		}
	}

	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: message has no recipients", ErrParse)
	}
	return ids, nil
}

func readFirstEntity(armored string) (*openpgp.Entity, error) {
	entities, err := openpgp.ReadArmoredKeyRing(strings.NewReader(armored))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	if len(entities) == 0 {
		return nil, fmt.Errorf("%w: armored block contains no keys", ErrParse)
	}
	return entities[0], nil
}

func entityOf(id Identity) *openpgp.Entity {
	switch v := id.(type) {
	case *PublicIdentity:
		return v.entity
	case *PrivateIdentity:
		return v.entity
	case *UnlockedIdentity:
		return v.entity
	default:
		return nil
	}
}
