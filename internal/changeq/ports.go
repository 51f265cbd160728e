package changeq

import (
	"context"

	"github.com/roach88/itemsync/internal/entity"
	"github.com/roach88/itemsync/internal/job"
)

// UIContext is the opaque caller context captured at request time.
// Every signal and rejection for the request carries it back.
type UIContext string

// Store is the asynchronous entity store. Each call returns immediately with
// a job that resolves exactly once.
type Store interface {
	Create(ctx context.Context, e entity.Entity, collection entity.CollectionID) *job.Job
	Modify(ctx context.Context, e entity.Entity) *job.Job
	Delete(ctx context.Context, e entity.Entity) *job.Job
}

// Permissions answers rights and existence questions from the client-side
// cache. Calls are made on the loop goroutine and must not block for long.
type Permissions interface {
	CanCreate(collection entity.CollectionID) bool
	CanEdit(e entity.Entity) bool
	CanDelete(e entity.Entity) bool

	// IsKnown reports whether the cache still holds id.
	IsKnown(id entity.ID) bool
}

// Notifier decides whether to tell other participants about a change and
// reports how that went. It may block for a human-scale duration; the
// coordinator calls it off the loop goroutine.
//
// remembered is the outcome already recorded for the request's atomic
// operation, or entity.OutcomeNone.
type Notifier interface {
	Attempt(ctx context.Context, e entity.Entity, action entity.ProtocolAction, ui UIContext, remembered entity.Outcome) entity.Outcome
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, e entity.Entity, action entity.ProtocolAction, ui UIContext, remembered entity.Outcome) entity.Outcome

// Attempt calls f.
func (f NotifierFunc) Attempt(ctx context.Context, e entity.Entity, action entity.ProtocolAction, ui UIContext, remembered entity.Outcome) entity.Outcome {
	return f(ctx, e, action, ui, remembered)
}

// Result is delivered once per terminal change or delete job.
type Result struct {
	RequestID string
	ID        entity.ID
	Action    entity.Action
	UI        UIContext
	AtomicOp  AtomicOpID

	// Previous is the caller's snapshot before the change; on failure it
	// remains the caller's source of truth.
	Previous entity.Entity

	// New is the store's snapshot on success, or the requested snapshot on failure.
	New entity.Entity

	Success bool
	Err     error

	// NotificationSuppressed is set when the user declined to notify participants.
	NotificationSuppressed bool
}

// GoneReason explains an EntityGone signal.
type GoneReason string

const (
	// GoneDeletedInFlight: an edit finished after the entity's delete completed.
	GoneDeletedInFlight GoneReason = "deleted-while-in-flight"

	// GoneForgotten: a queued change was dropped because the cache no longer
	// knows the entity or it is being deleted.
	GoneForgotten GoneReason = "forgotten-by-cache"

	// GoneOrphaned: a job completed for a slot that no longer exists.
	GoneOrphaned GoneReason = "orphaned-completion"
)

// Gone reports an entity that disappeared while work for it was queued or running.
type Gone struct {
	ID        entity.ID
	RequestID string
	Action    entity.Action
	UI        UIContext
	Reason    GoneReason
}

// Listener receives coordinator signals. Methods run on the loop goroutine
// and must not call back into blocking Coordinator operations.
type Listener interface {
	ChangeFinished(Result)
	DeleteFinished(Result)
	EntityGone(Gone)
}

// ListenerFuncs adapts optional functions to Listener. Nil fields are skipped.
type ListenerFuncs struct {
	OnChangeFinished func(Result)
	OnDeleteFinished func(Result)
	OnEntityGone     func(Gone)
}

func (l ListenerFuncs) ChangeFinished(r Result) {
	if l.OnChangeFinished != nil {
		l.OnChangeFinished(r)
	}
}

func (l ListenerFuncs) DeleteFinished(r Result) {
	if l.OnDeleteFinished != nil {
		l.OnDeleteFinished(r)
	}
}

func (l ListenerFuncs) EntityGone(g Gone) {
	if l.OnEntityGone != nil {
		l.OnEntityGone(g)
	}
}

// NopListener discards every signal.
type NopListener struct{}

func (NopListener) ChangeFinished(Result) {}
func (NopListener) DeleteFinished(Result) {}
func (NopListener) EntityGone(Gone)       {}
