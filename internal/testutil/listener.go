package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/itemsync/internal/changeq"
)

// SignalKind names a listener callback.
type SignalKind string

const (
	SignalChangeFinished SignalKind = "change_finished"
	SignalDeleteFinished SignalKind = "delete_finished"
	SignalEntityGone     SignalKind = "entity_gone"
)

// Signal is one recorded listener callback.
type Signal struct {
	Kind   SignalKind
	Result changeq.Result
	Gone   changeq.Gone
}

// RecordingListener records every signal in delivery order.
type RecordingListener struct {
	mu      sync.Mutex
	signals []Signal
}

// NewRecordingListener creates an empty recorder.
func NewRecordingListener() *RecordingListener {
	return &RecordingListener{}
}

func (l *RecordingListener) ChangeFinished(r changeq.Result) {
	l.add(Signal{Kind: SignalChangeFinished, Result: r})
}

func (l *RecordingListener) DeleteFinished(r changeq.Result) {
	l.add(Signal{Kind: SignalDeleteFinished, Result: r})
}

func (l *RecordingListener) EntityGone(g changeq.Gone) {
	l.add(Signal{Kind: SignalEntityGone, Gone: g})
}

func (l *RecordingListener) add(s Signal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.signals = append(l.signals, s)
}

// Signals returns a copy of everything recorded so far.
func (l *RecordingListener) Signals() []Signal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Signal(nil), l.signals...)
}

// Of returns the recorded signals of one kind.
func (l *RecordingListener) Of(kind SignalKind) []Signal {
	var out []Signal
	for _, s := range l.Signals() {
		if s.Kind == kind {
			out = append(out, s)
		}
	}
	return out
}

// WaitForSignals blocks until at least n signals were recorded.
func (l *RecordingListener) WaitForSignals(t testing.TB, n int) []Signal {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(l.Signals()) >= n
	}, WaitTimeout, time.Millisecond, "expected %d signals", n)
	return l.Signals()
}
