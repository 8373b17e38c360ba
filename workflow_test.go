package webpgp

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/KintaMiao/WebPGP/engine"
)

// echoOp is an Operation that returns the payload, recording the key it ran
// with.
func echoOp(ranWith *string) Operation {
	return func(key *engine.UnlockedIdentity, payload []byte) ([]byte, error) {
		if ranWith != nil {
			*ranWith = key.ID()
		}
		return payload, nil
	}
}

func parsePrivate(t *testing.T, armored string) *engine.PrivateIdentity {
	t.Helper()
	key, err := engine.NewOpenPGP().ParsePrivate(armored)
	require.NoError(t, err)
	return key
}

func TestWorkflowUnlockedKeyNeverPrompts(t *testing.T) {
	priv, _ := generateKey(t, "Alice", "alice@example.com", "")
	key := parsePrivate(t, priv)
	w := NewUnlockWorkflow(engine.NewOpenPGP(), nil)

	var ranWith string
	err := w.Start(echoOp(&ranWith), []*engine.PrivateIdentity{key}, []byte("payload"))
	require.NoError(t, err)
	require.Equal(t, StateSucceeded, w.State())
	require.Equal(t, key.ID(), ranWith)

	result, err := w.Result()
	require.NoError(t, err)
	require.Equal(t, []byte("payload"), result)
}

func TestWorkflowLockedKeyAwaitsPassphrase(t *testing.T) {
	priv, _ := generateKey(t, "Alice", "alice@example.com", "s3cret")
	key := parsePrivate(t, priv)
	w := NewUnlockWorkflow(engine.NewOpenPGP(), nil)

	require.NoError(t, w.Start(echoOp(nil), []*engine.PrivateIdentity{key}, []byte("payload")))
	require.Equal(t, StateAwaitingPassphrase, w.State())

	result, err := w.Result()
	require.Nil(t, result)
	require.NoError(t, err)

	require.NoError(t, w.SubmitPassphrase("s3cret"))
	require.Equal(t, StateSucceeded, w.State())
	require.Nil(t, w.pending, "pending context is cleared on success")

	result, err = w.Result()
	require.NoError(t, err)
	require.Equal(t, []byte("payload"), result)
}

func TestWorkflowWrongPassphraseFails(t *testing.T) {
	priv, _ := generateKey(t, "Alice", "alice@example.com", "s3cret")
	key := parsePrivate(t, priv)
	w := NewUnlockWorkflow(engine.NewOpenPGP(), nil)

	require.NoError(t, w.Start(echoOp(nil), []*engine.PrivateIdentity{key}, []byte("payload")))
	require.NoError(t, w.SubmitPassphrase("nope"))

	require.Equal(t, StateFailed, w.State())
	require.Nil(t, w.pending, "pending context is cleared on failure")

	_, err := w.Result()
	require.ErrorIs(t, err, ErrWrongPassphrase)

	// terminal states are restartable as fresh invocations
	require.NoError(t, w.Start(echoOp(nil), []*engine.PrivateIdentity{key}, []byte("again")))
	require.Equal(t, StateAwaitingPassphrase, w.State())
	require.NoError(t, w.SubmitPassphrase("s3cret"))
	require.Equal(t, StateSucceeded, w.State())
}

func TestWorkflowCancel(t *testing.T) {
	priv, _ := generateKey(t, "Alice", "alice@example.com", "s3cret")
	key := parsePrivate(t, priv)
	w := NewUnlockWorkflow(engine.NewOpenPGP(), nil)

	invoked := false
	op := func(k *engine.UnlockedIdentity, payload []byte) ([]byte, error) {
		invoked = true
		return nil, nil
	}

	require.NoError(t, w.Start(op, []*engine.PrivateIdentity{key}, []byte("payload")))
	require.NoError(t, w.Cancel())
	require.Equal(t, StateCancelled, w.State())
	require.False(t, invoked, "cancel never invokes the operation")
	require.Nil(t, w.pending, "pending context is cleared on cancel")

	_, err := w.Result()
	require.ErrorIs(t, err, ErrCancelled)

	// cancel is only valid while awaiting a passphrase
	require.Error(t, w.Cancel())

	// a subsequent start is a completely fresh invocation
	require.NoError(t, w.Start(echoOp(nil), []*engine.PrivateIdentity{key}, []byte("fresh")))
	require.Equal(t, StateAwaitingPassphrase, w.State())
	require.NoError(t, w.SubmitPassphrase("s3cret"))
	result, err := w.Result()
	require.NoError(t, err)
	require.Equal(t, []byte("fresh"), result)
}

func TestWorkflowReentrancyGuard(t *testing.T) {
	priv, _ := generateKey(t, "Alice", "alice@example.com", "s3cret")
	key := parsePrivate(t, priv)
	w := NewUnlockWorkflow(engine.NewOpenPGP(), nil)

	require.NoError(t, w.Start(echoOp(nil), []*engine.PrivateIdentity{key}, nil))
	require.Equal(t, StateAwaitingPassphrase, w.State())

	err := w.Start(echoOp(nil), []*engine.PrivateIdentity{key}, nil)
	require.ErrorIs(t, err, ErrWorkflowBusy)
}

func TestWorkflowSessionUnlockCache(t *testing.T) {
	priv, _ := generateKey(t, "Alice", "alice@example.com", "s3cret")
	key := parsePrivate(t, priv)
	w := NewUnlockWorkflow(engine.NewOpenPGP(), nil)

	require.NoError(t, w.Start(echoOp(nil), []*engine.PrivateIdentity{key}, []byte("one")))
	require.NoError(t, w.SubmitPassphrase("s3cret"))
	require.Equal(t, StateSucceeded, w.State())

	// the same workflow remembers the unlock; a new invocation with the same
	// candidate runs without prompting
	require.NoError(t, w.Start(echoOp(nil), []*engine.PrivateIdentity{key}, []byte("two")))
	require.Equal(t, StateSucceeded, w.State())

	// a different workflow instance does not inherit the unlock
	other := NewUnlockWorkflow(engine.NewOpenPGP(), nil)
	require.NoError(t, other.Start(echoOp(nil), []*engine.PrivateIdentity{key}, []byte("three")))
	require.Equal(t, StateAwaitingPassphrase, other.State())
}

func TestWorkflowContinuesPastFailingCandidates(t *testing.T) {
	privA, _ := generateKey(t, "Alice", "alice@example.com", "pass-a")
	privB, _ := generateKey(t, "Bob", "bob@example.com", "pass-b")
	keyA := parsePrivate(t, privA)
	keyB := parsePrivate(t, privB)
	w := NewUnlockWorkflow(engine.NewOpenPGP(), nil)

	var ranWith string
	require.NoError(t, w.Start(echoOp(&ranWith),
		[]*engine.PrivateIdentity{keyA, keyB}, []byte("payload")))
	require.Equal(t, StateAwaitingPassphrase, w.State())

	// keyA rejects this passphrase; the workflow moves on and keyB succeeds
	require.NoError(t, w.SubmitPassphrase("pass-b"))
	require.Equal(t, StateSucceeded, w.State())
	require.Equal(t, keyB.ID(), ranWith)
}

func TestWorkflowContinuesPastOperationErrors(t *testing.T) {
	privA, _ := generateKey(t, "Alice", "alice@example.com", "shared")
	privB, _ := generateKey(t, "Bob", "bob@example.com", "shared")
	keyA := parsePrivate(t, privA)
	keyB := parsePrivate(t, privB)
	w := NewUnlockWorkflow(engine.NewOpenPGP(), nil)

	// the operation fails for keyA with a non-passphrase error; candidates
	// after it must still be tried
	op := func(key *engine.UnlockedIdentity, payload []byte) ([]byte, error) {
		if key.ID() == keyA.ID() {
			return nil, fmt.Errorf("transient failure")
		}
		return payload, nil
	}

	require.NoError(t, w.Start(op, []*engine.PrivateIdentity{keyA, keyB}, []byte("payload")))
	require.NoError(t, w.SubmitPassphrase("shared"))
	require.Equal(t, StateSucceeded, w.State())

	result, err := w.Result()
	require.NoError(t, err)
	require.Equal(t, []byte("payload"), result)
}

func TestWorkflowPrefersWrongPassphraseError(t *testing.T) {
	privA, _ := generateKey(t, "Alice", "alice@example.com", "pass-a")
	privB, _ := generateKey(t, "Bob", "bob@example.com", "pass-b")
	keyA := parsePrivate(t, privA)
	keyB := parsePrivate(t, privB)
	w := NewUnlockWorkflow(engine.NewOpenPGP(), nil)

	// keyA unlocks but its operation fails generically; keyB rejects the
	// passphrase. The final error must be the actionable one.
	op := func(key *engine.UnlockedIdentity, payload []byte) ([]byte, error) {
		return nil, errors.New("disk on fire")
	}

	require.NoError(t, w.Start(op, []*engine.PrivateIdentity{keyA, keyB}, nil))
	require.NoError(t, w.SubmitPassphrase("pass-a"))
	require.Equal(t, StateFailed, w.State())

	_, err := w.Result()
	require.ErrorIs(t, err, ErrWrongPassphrase)
}

func TestWorkflowDirectPathOperationFailure(t *testing.T) {
	priv, _ := generateKey(t, "Alice", "alice@example.com", "")
	key := parsePrivate(t, priv)
	w := NewUnlockWorkflow(engine.NewOpenPGP(), nil)

	op := func(k *engine.UnlockedIdentity, payload []byte) ([]byte, error) {
		return nil, errors.New("operation failed")
	}

	require.NoError(t, w.Start(op, []*engine.PrivateIdentity{key}, nil))
	require.Equal(t, StateFailed, w.State())

	_, err := w.Result()
	require.Error(t, err)
}

func TestWorkflowStartValidation(t *testing.T) {
	w := NewUnlockWorkflow(engine.NewOpenPGP(), nil)

	err := w.Start(echoOp(nil), nil, nil)
	require.ErrorIs(t, err, ErrNotFound)
	require.Equal(t, StateIdle, w.State())

	priv, _ := generateKey(t, "Alice", "alice@example.com", "")
	key := parsePrivate(t, priv)
	require.Error(t, w.Start(nil, []*engine.PrivateIdentity{key}, nil))
}
