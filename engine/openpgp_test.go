package engine

import (
	"bytes"
	"errors"
	"testing"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
	"github.com/stretchr/testify/require"
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

func TestParseKeyKinds(t *testing.T) {
	eng := NewOpenPGP()
	priv, pub := generateKey(t, "Alice", "alice@example.com", "")

	id, err := eng.ParseKey(pub)
	require.NoError(t, err)
	require.False(t, id.IsPrivate())
	require.False(t, id.IsLocked())
	require.NotEmpty(t, id.ID())
	require.Contains(t, id.PrimaryUserIdentity(), "alice@example.com")

	pid, err := eng.ParseKey(priv)
	require.NoError(t, err)
	require.True(t, pid.IsPrivate())
	require.Equal(t, id.ID(), pid.ID(), "public and private forms share the fingerprint")
}

func TestParsePublicRejectsPrivateBlock(t *testing.T) {
	eng := NewOpenPGP()
	priv, pub := generateKey(t, "Alice", "alice@example.com", "")

	_, err := eng.ParsePublic(priv)
	require.ErrorIs(t, err, ErrParse)

	_, err = eng.ParsePrivate(pub)
	require.ErrorIs(t, err, ErrParse)
}

func TestParseRejectsGarbage(t *testing.T) {
	eng := NewOpenPGP()

	_, err := eng.ParseKey("not a key at all")
	require.ErrorIs(t, err, ErrParse)

	_, err = eng.ParseKey("")
	require.ErrorIs(t, err, ErrParse)
}

func TestArmoredRoundTripPreservesInput(t *testing.T) {
	eng := NewOpenPGP()
	_, pub := generateKey(t, "Alice", "alice@example.com", "")

	id, err := eng.ParsePublic(pub)
	require.NoError(t, err)
	require.Equal(t, pub, id.Armored(), "parsing never rewrites key material")
}

func TestUnlock(t *testing.T) {
	eng := NewOpenPGP()
	priv, _ := generateKey(t, "Alice", "alice@example.com", "s3cret")

	key, err := eng.ParsePrivate(priv)
	require.NoError(t, err)
	require.True(t, key.IsLocked())

	t.Run("wrong passphrase", func(t *testing.T) {
		_, err := eng.Unlock(key, "wrong")
		require.ErrorIs(t, err, ErrWrongPassphrase)
		require.True(t, key.IsLocked(), "failed unlock must not mutate the input")
	})

	t.Run("correct passphrase", func(t *testing.T) {
		unlocked, err := eng.Unlock(key, "s3cret")
		require.NoError(t, err)
		require.False(t, unlocked.IsLocked())
		require.True(t, key.IsLocked(), "unlock returns an independent copy")
	})

	t.Run("unprotected key ignores passphrase", func(t *testing.T) {
		plainArmored, _ := generateKey(t, "Bob", "bob@example.com", "")
		plain, err := eng.ParsePrivate(plainArmored)
		require.NoError(t, err)
		require.False(t, plain.IsLocked())

		unlocked, err := eng.Unlock(plain, "anything")
		require.NoError(t, err)
		require.False(t, unlocked.IsLocked())
	})
}

func TestSymmetricWrapUnwrap(t *testing.T) {
	eng := NewOpenPGP()

	t.Run("round trip", func(t *testing.T) {
		ct, err := eng.SymmetricWrap([]byte("secret payload"), "password")
		require.NoError(t, err)

		pt, err := eng.SymmetricUnwrap(ct, "password")
		require.NoError(t, err)
		require.Equal(t, []byte("secret payload"), pt)
	})

	t.Run("wrong password", func(t *testing.T) {
		ct, err := eng.SymmetricWrap([]byte("secret payload"), "password")
		require.NoError(t, err)

		_, err = eng.SymmetricUnwrap(ct, "other")
		require.ErrorIs(t, err, ErrWrongPassword)
	})

	t.Run("structural corruption", func(t *testing.T) {
		_, err := eng.SymmetricUnwrap("!!! not base64 !!!", "password")
		require.ErrorIs(t, err, ErrCorruptData)

		_, err = eng.SymmetricUnwrap("c2hvcnQ=", "password") // valid base64, too short
		require.ErrorIs(t, err, ErrCorruptData)
	})

	t.Run("non-deterministic", func(t *testing.T) {
		a, err := eng.SymmetricWrap([]byte("same"), "password")
		require.NoError(t, err)
		b, err := eng.SymmetricWrap([]byte("same"), "password")
		require.NoError(t, err)
		require.NotEqual(t, a, b)
	})
}

func TestSignAndVerify(t *testing.T) {
	eng := NewOpenPGP()
	priv, pub := generateKey(t, "Alice", "alice@example.com", "s3cret")
	message := []byte("the quick brown fox")

	key, err := eng.ParsePrivate(priv)
	require.NoError(t, err)
	unlocked, err := eng.Unlock(key, "s3cret")
	require.NoError(t, err)

	signature, err := eng.Sign(unlocked, message)
	require.NoError(t, err)
	require.Contains(t, signature, "PGP SIGNATURE")

	pubID, err := eng.ParsePublic(pub)
	require.NoError(t, err)

	signer, err := eng.Verify([]Identity{pubID}, message, signature)
	require.NoError(t, err)
	require.Equal(t, pubID.ID(), signer)

	_, err = eng.Verify([]Identity{pubID}, []byte("tampered message"), signature)
	require.Error(t, err)

	_, otherPub := generateKey(t, "Bob", "bob@example.com", "")
	otherID, err := eng.ParsePublic(otherPub)
	require.NoError(t, err)
	_, err = eng.Verify([]Identity{otherID}, message, signature)
	require.Error(t, err, "signature must not verify against an unrelated key")
}

func TestSignRequiresUnlockedKey(t *testing.T) {
	eng := NewOpenPGP()
	priv, _ := generateKey(t, "Alice", "alice@example.com", "s3cret")

	key, err := eng.ParsePrivate(priv)
	require.NoError(t, err)

	still := &UnlockedIdentity{PrivateIdentity: key}
	_, err = eng.Sign(still, []byte("message"))
	require.Error(t, err)
}

func TestEncryptDecrypt(t *testing.T) {
	eng := NewOpenPGP()
	priv, pub := generateKey(t, "Alice", "alice@example.com", "s3cret")
	message := []byte("for alice's eyes only")

	pubID, err := eng.ParsePublic(pub)
	require.NoError(t, err)

	armored, err := eng.Encrypt([]Identity{pubID}, message)
	require.NoError(t, err)
	require.Contains(t, armored, "PGP MESSAGE")

	key, err := eng.ParsePrivate(priv)
	require.NoError(t, err)
	unlocked, err := eng.Unlock(key, "s3cret")
	require.NoError(t, err)

	plaintext, err := eng.Decrypt(unlocked, armored)
	require.NoError(t, err)
	require.Equal(t, message, plaintext)

	otherPriv, _ := generateKey(t, "Bob", "bob@example.com", "")
	other, err := eng.ParsePrivate(otherPriv)
	require.NoError(t, err)
	otherUnlocked, err := eng.Unlock(other, "")
	require.NoError(t, err)

	_, err = eng.Decrypt(otherUnlocked, armored)
	require.Error(t, err, "a non-recipient must not decrypt")
}

func TestRecipientKeyIDs(t *testing.T) {
	eng := NewOpenPGP()
	privA, pubA := generateKey(t, "Alice", "alice@example.com", "")
	_, pubB := generateKey(t, "Bob", "bob@example.com", "")

	idA, err := eng.ParsePublic(pubA)
	require.NoError(t, err)
	idB, err := eng.ParsePublic(pubB)
	require.NoError(t, err)

	armored, err := eng.Encrypt([]Identity{idA, idB}, []byte("both of you"))
	require.NoError(t, err)

	ids, err := eng.RecipientKeyIDs(armored)
	require.NoError(t, err)
	require.Len(t, ids, 2)

	// The stated recipients must be key IDs the keys actually carry.
	keyA, err := eng.ParsePrivate(privA)
	require.NoError(t, err)
	found := false
	for _, recipient := range ids {
		for _, kid := range keyA.KeyIDs() {
			if recipient == kid {
				found = true
			}
		}
	}
	require.True(t, found, "alice's key must appear among the recipients")

	_, err = eng.RecipientKeyIDs("garbage")
	require.ErrorIs(t, err, ErrParse)
}

func TestPlaceholderIdentity(t *testing.T) {
	require.Equal(t, "anonymous key 0123456789ABCDEF",
		placeholderIdentity("FFFF0123456789ABCDEF"))
	require.Equal(t, "anonymous key ABCD", placeholderIdentity("ABCD"))
}

func TestErrorsAreDistinguishable(t *testing.T) {
	require.False(t, errors.Is(ErrWrongPassword, ErrCorruptData))
	require.False(t, errors.Is(ErrWrongPassphrase, ErrWrongPassword))
}
