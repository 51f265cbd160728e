package testutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/itemsync/internal/changeq"
	"github.com/roach88/itemsync/internal/entity"
)

// NotifyAttempt is one recorded notification attempt.
type NotifyAttempt struct {
	Entity     entity.Entity
	Action     entity.ProtocolAction
	UI         changeq.UIContext
	Remembered entity.Outcome
}

// ScriptedNotifier answers notification attempts from a script.
//
// Per-entity scripts are consumed in order. Without a script the remembered
// group outcome is reused, then the fallback applies. Hold makes every
// attempt block until Release, which keeps a change in its notification step.
type ScriptedNotifier struct {
	mu       sync.Mutex
	fallback entity.Outcome
	scripts  map[entity.ID][]entity.Outcome
	attempts []NotifyAttempt
	gate     chan struct{}
}

// NewScriptedNotifier creates a notifier answering fallback by default.
func NewScriptedNotifier(fallback entity.Outcome) *ScriptedNotifier {
	return &ScriptedNotifier{
		fallback: fallback,
		scripts:  make(map[entity.ID][]entity.Outcome),
	}
}

// Script queues outcomes for attempts on id.
func (n *ScriptedNotifier) Script(id entity.ID, outcomes ...entity.Outcome) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.scripts[id] = append(n.scripts[id], outcomes...)
}

// Hold makes later attempts block until Release.
func (n *ScriptedNotifier) Hold() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.gate = make(chan struct{})
}

// Release lets one held attempt finish.
func (n *ScriptedNotifier) Release(t testing.TB) {
	t.Helper()
	n.mu.Lock()
	gate := n.gate
	n.mu.Unlock()
	require.NotNil(t, gate, "Release called without Hold")

	select {
	case gate <- struct{}{}:
	case <-time.After(WaitTimeout):
		t.Fatalf("no held notification attempt to release")
	}
}

// Attempt implements changeq.Notifier.
func (n *ScriptedNotifier) Attempt(ctx context.Context, e entity.Entity, action entity.ProtocolAction, ui changeq.UIContext, remembered entity.Outcome) entity.Outcome {
	n.mu.Lock()
	n.attempts = append(n.attempts, NotifyAttempt{Entity: e, Action: action, UI: ui, Remembered: remembered})
	gate := n.gate
	n.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return entity.FailedAbortEdit
		}
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if script := n.scripts[e.ID]; len(script) > 0 {
		n.scripts[e.ID] = script[1:]
		return script[0]
	}
	if remembered != entity.OutcomeNone {
		return remembered
	}
	return n.fallback
}

// Attempts returns a copy of the recorded attempts.
func (n *ScriptedNotifier) Attempts() []NotifyAttempt {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]NotifyAttempt(nil), n.attempts...)
}

// WaitForAttempts blocks until at least k attempts were made.
func (n *ScriptedNotifier) WaitForAttempts(t testing.TB, k int) []NotifyAttempt {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(n.Attempts()) >= k
	}, WaitTimeout, time.Millisecond, "expected %d notification attempts", k)
	return n.Attempts()
}
