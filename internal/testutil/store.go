package testutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/itemsync/internal/entity"
	"github.com/roach88/itemsync/internal/job"
)

// WaitTimeout bounds every Wait helper in this package.
const WaitTimeout = 2 * time.Second

// StoreCall is one request received by FakeStore.
type StoreCall struct {
	Kind       job.Kind
	Entity     entity.Entity
	Collection entity.CollectionID
	Job        *job.Job
}

// FakeStore records store requests and resolves their jobs on demand.
//
// In manual mode (NewFakeStore) jobs stay pending until Succeed or Fail is
// called, which lets tests hold an entity's change in flight. In auto mode
// (NewAutoStore) every job succeeds before the call returns.
type FakeStore struct {
	mu    sync.Mutex
	calls []*StoreCall
	ids   *Sequence
	auto  bool
}

// NewFakeStore creates a manual store. New entities get ids 1001, 1002, ...
func NewFakeStore() *FakeStore {
	return &FakeStore{ids: NewSequence(1000)}
}

// NewAutoStore creates a store that succeeds immediately.
func NewAutoStore() *FakeStore {
	s := NewFakeStore()
	s.auto = true
	return s
}

func (s *FakeStore) Create(_ context.Context, e entity.Entity, collection entity.CollectionID) *job.Job {
	return s.record(job.KindCreate, e, collection)
}

func (s *FakeStore) Modify(_ context.Context, e entity.Entity) *job.Job {
	return s.record(job.KindModify, e, e.Collection)
}

func (s *FakeStore) Delete(_ context.Context, e entity.Entity) *job.Job {
	return s.record(job.KindDelete, e, e.Collection)
}

func (s *FakeStore) record(kind job.Kind, e entity.Entity, collection entity.CollectionID) *job.Job {
	call := &StoreCall{Kind: kind, Entity: e.Clone(), Collection: collection, Job: job.New(kind)}

	s.mu.Lock()
	s.calls = append(s.calls, call)
	auto := s.auto
	s.mu.Unlock()

	if auto {
		_ = call.Job.Resolve(s.successFor(call), nil)
	}
	return call.Job
}

// successFor is the snapshot a real store would return for call.
func (s *FakeStore) successFor(call *StoreCall) entity.Entity {
	switch call.Kind {
	case job.KindCreate:
		e := call.Entity.Clone()
		if e.ID == 0 {
			e.ID = entity.ID(s.ids.Next())
		}
		e.Collection = call.Collection
		e.Revision = 1
		return e
	case job.KindModify:
		e := call.Entity.Clone()
		e.Revision++
		return e
	default:
		return entity.Entity{}
	}
}

// Calls returns a copy of the recorded calls.
func (s *FakeStore) Calls() []StoreCall {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]StoreCall, len(s.calls))
	for i, c := range s.calls {
		out[i] = *c
	}
	return out
}

// Call returns call i.
func (s *FakeStore) Call(t testing.TB, i int) StoreCall {
	t.Helper()
	calls := s.Calls()
	require.Less(t, i, len(calls), "store call %d not received", i)
	return calls[i]
}

// WaitForCalls blocks until at least n calls were received.
func (s *FakeStore) WaitForCalls(t testing.TB, n int) []StoreCall {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(s.Calls()) >= n
	}, WaitTimeout, time.Millisecond, "expected %d store calls", n)
	return s.Calls()
}

// Succeed resolves call i the way a real store would and returns the snapshot.
func (s *FakeStore) Succeed(t testing.TB, i int) entity.Entity {
	t.Helper()
	s.mu.Lock()
	require.Less(t, i, len(s.calls), "store call %d not received", i)
	call := s.calls[i]
	s.mu.Unlock()

	e := s.successFor(call)
	require.NoError(t, call.Job.Resolve(e, nil))
	return e
}

// SucceedWith resolves call i with e.
func (s *FakeStore) SucceedWith(t testing.TB, i int, e entity.Entity) {
	t.Helper()
	call := s.Call(t, i)
	require.NoError(t, call.Job.Resolve(e, nil))
}

// Fail resolves call i with err.
func (s *FakeStore) Fail(t testing.TB, i int, err error) {
	t.Helper()
	call := s.Call(t, i)
	require.NoError(t, call.Job.Resolve(entity.Entity{}, err))
}
