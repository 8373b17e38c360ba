package webpgp

import (
	"errors"
	"fmt"
	"sync"

	"github.com/KintaMiao/WebPGP/audit"
	"github.com/KintaMiao/WebPGP/engine"
)

// WorkflowState is the observable state of an UnlockWorkflow invocation.
type WorkflowState string

const (
	StateIdle               WorkflowState = "idle"
	StateAttempting         WorkflowState = "attempting"
	StateAwaitingPassphrase WorkflowState = "awaiting-passphrase"
	StateRetrying           WorkflowState = "retrying"
	StateSucceeded          WorkflowState = "succeeded"
	StateFailed             WorkflowState = "failed"
	StateCancelled          WorkflowState = "cancelled"
)

// terminal reports whether the state ends an invocation.
func (s WorkflowState) terminal() bool {
	switch s {
	case StateSucceeded, StateFailed, StateCancelled:
		return true
	}
	return false
}

// Operation is the work an UnlockWorkflow performs once it holds a usable
// private key: signing, decrypting, or completing an import. The payload is
// the operation's staged input (message bytes, armored text).
type Operation func(key *engine.UnlockedIdentity, payload []byte) ([]byte, error)

// pendingContext stages an in-flight attempt across the asynchronous
// passphrase prompt. It lives for exactly one retry cycle and is cleared on
// every resolution path so staged material never outlives the attempt.
type pendingContext struct {
	op         Operation
	candidates []*engine.PrivateIdentity
	payload    []byte
}

// UnlockWorkflow drives one operation that may need a locked private key:
// attempt, detect lock, prompt, retry, resolve.
//
//	Idle → Attempting → {Succeeded | Failed | AwaitingPassphrase}
//	AwaitingPassphrase → Retrying → {Succeeded | Failed}
//	AwaitingPassphrase → Cancelled
//
// Succeeded, Failed and Cancelled are terminal for the invocation; a new
// Start begins a fresh one. A workflow instance keeps its own cache of keys
// it unlocked this session; unlocking here never leaks into other instances.
type UnlockWorkflow struct {
	engine engine.Engine
	audit  audit.Logger

	mu       sync.Mutex
	state    WorkflowState
	pending  *pendingContext
	unlocked map[string]*engine.UnlockedIdentity
	result   []byte
	err      error
}

// NewUnlockWorkflow creates a workflow in the Idle state.
func NewUnlockWorkflow(eng engine.Engine, auditor audit.Logger) *UnlockWorkflow {
	if auditor == nil {
		auditor = audit.NewNoOpLogger()
	}
	return &UnlockWorkflow{
		engine:   eng,
		audit:    auditor,
		state:    StateIdle,
		unlocked: make(map[string]*engine.UnlockedIdentity),
	}
}

// State returns the current state.
func (w *UnlockWorkflow) State() WorkflowState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Result returns the operation output once the workflow has resolved. Before
// resolution it returns nil and a nil error; after Failed or Cancelled it
// returns the final error.
func (w *UnlockWorkflow) Result() ([]byte, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.result, w.err
}

// Start begins a new invocation with the candidate keys tried in the given
// order. If the first candidate is already usable (not passphrase-protected,
// or unlocked earlier by this same workflow) the operation runs immediately
// and no prompt is ever shown. Otherwise the workflow parks in
// AwaitingPassphrase holding the pending context until SubmitPassphrase or
// Cancel.
//
// Fails with ErrWorkflowBusy while a previous invocation is still in flight
// (reentrancy guard); terminal states are restartable.
func (w *UnlockWorkflow) Start(op Operation, candidates []*engine.PrivateIdentity, payload []byte) error {
	w.mu.Lock()

	if w.state != StateIdle && !w.state.terminal() {
		w.mu.Unlock()
		return ErrWorkflowBusy
	}
	if op == nil {
		w.mu.Unlock()
		return fmt.Errorf("operation is required")
	}
	if len(candidates) == 0 {
		w.mu.Unlock()
		return fmt.Errorf("%w: no candidate keys", ErrNotFound)
	}

	// Fresh invocation: drop any previous result.
	w.state = StateAttempting
	w.result, w.err = nil, nil

	first := candidates[0]
	if unlocked := w.usable(first); unlocked != nil {
		w.runLocked(unlocked, op, payload)
		w.mu.Unlock()
		return nil
	}

	w.pending = &pendingContext{op: op, candidates: candidates, payload: payload}
	w.state = StateAwaitingPassphrase
	w.mu.Unlock()
	return nil
}

// SubmitPassphrase resumes an invocation parked in AwaitingPassphrase. Every
// candidate is tried in order: a wrong passphrase on one candidate moves on
// to the next, and so does any other per-candidate failure: no error aborts
// the loop while candidates remain. The first candidate that unlocks and
// completes the operation resolves the invocation as Succeeded; exhausting
// all candidates resolves it as Failed with the most specific error seen,
// preferring a wrong-passphrase error over a generic one since it is the
// actionable kind.
//
// The pending context is cleared on both outcomes.
func (w *UnlockWorkflow) SubmitPassphrase(passphrase string) error {
	w.mu.Lock()

	if w.state != StateAwaitingPassphrase {
		w.mu.Unlock()
		return fmt.Errorf("cannot submit a passphrase in state %q", w.state)
	}
	pending := w.pending
	w.state = StateRetrying
	w.mu.Unlock()

	var passphraseErr, otherErr error
	for _, candidate := range pending.candidates {
		w.mu.Lock()
		unlocked := w.usable(candidate)
		w.mu.Unlock()

		if unlocked == nil {
			fresh, err := w.engine.Unlock(candidate, passphrase)
			if err != nil {
				if errors.Is(err, ErrWrongPassphrase) {
					passphraseErr = err
				} else if otherErr == nil {
					otherErr = err
				}
				w.logEvent(audit.ActionUnlockAttempt, false,
					map[string]interface{}{"fingerprint": candidate.ID(), "error": err.Error()})
				continue
			}
			unlocked = fresh

			w.mu.Lock()
			w.unlocked[candidate.ID()] = fresh
			w.mu.Unlock()
			w.logEvent(audit.ActionUnlockAttempt, true,
				map[string]interface{}{"fingerprint": candidate.ID()})
		}

		result, err := pending.op(unlocked, pending.payload)
		if err != nil {
			if otherErr == nil {
				otherErr = err
			}
			continue
		}

		w.resolve(StateSucceeded, result, nil)
		return nil
	}

	// Exhausted every candidate. Wrong-passphrase is the most actionable
	// failure, so it wins when both kinds occurred.
	final := otherErr
	if passphraseErr != nil {
		final = passphraseErr
	}
	if final == nil {
		final = fmt.Errorf("no candidate key could complete the operation")
	}
	w.resolve(StateFailed, nil, final)
	return nil
}

// Cancel aborts an invocation parked in AwaitingPassphrase without ever
// invoking the operation. The pending context is cleared, so a later Start
// behaves as a completely fresh invocation.
func (w *UnlockWorkflow) Cancel() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state != StateAwaitingPassphrase {
		return fmt.Errorf("cannot cancel in state %q", w.state)
	}

	w.pending = nil
	w.state = StateCancelled
	w.err = ErrCancelled
	_ = w.audit.Log(audit.ActionUnlockCancel, true, nil)
	return nil
}

// usable returns a ready-to-use unlocked identity for the candidate, or nil
// when a passphrase is still needed. Callers hold w.mu.
func (w *UnlockWorkflow) usable(candidate *engine.PrivateIdentity) *engine.UnlockedIdentity {
	if cached, ok := w.unlocked[candidate.ID()]; ok {
		return cached
	}
	if !candidate.IsLocked() {
		return &engine.UnlockedIdentity{PrivateIdentity: candidate}
	}
	return nil
}

// runLocked executes the operation on the no-prompt path. Callers hold w.mu.
func (w *UnlockWorkflow) runLocked(key *engine.UnlockedIdentity, op Operation, payload []byte) {
	result, err := op(key, payload)
	w.pending = nil
	if err != nil {
		w.state = StateFailed
		w.result, w.err = nil, err
		return
	}
	w.state = StateSucceeded
	w.result, w.err = result, nil
}

// resolve finishes an invocation, clearing the pending context.
func (w *UnlockWorkflow) resolve(state WorkflowState, result []byte, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pending = nil
	w.state = state
	w.result, w.err = result, err
}

func (w *UnlockWorkflow) logEvent(action string, success bool, metadata map[string]interface{}) {
	_ = w.audit.Log(action, success, metadata)
}
