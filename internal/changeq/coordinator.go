package changeq

import (
	"context"
	"errors"
	"log/slog"

	"github.com/roach88/itemsync/internal/entity"
)

// Coordinator is the single-writer change queue for one store session.
//
// Thread-safety model:
//   - AddEntity, ChangeEntity, DeleteEntity, DeleteEntities, RequestChange,
//     EndAtomicOperation, IsChangeInProgress, Flush, Stats: safe from any goroutine
//   - BeginAtomicOperation: safe from any goroutine (atomic counter)
//   - Run: must be called from exactly one goroutine
//
// Construct one Coordinator per store session and pass it to every call site.
type Coordinator struct {
	store    Store
	perms    Permissions
	notifier Notifier
	listener Listener
	ids      RequestIDGenerator
	counter  *Counter
	queue    *eventQueue

	// Loop-owned state. Touched only from Run.
	runCtx       context.Context
	slots        *slotTable
	adds         map[string]*ChangeRecord
	revisions    *RevisionTable
	deletions    *DeletionSet
	atomics      *AtomicTracker
	notifying    int
	flushWaiters []chan struct{}
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithRequestIDs overrides the request id generator (default UUIDv7Generator).
func WithRequestIDs(gen RequestIDGenerator) Option {
	return func(c *Coordinator) {
		c.ids = gen
	}
}

// WithCounter sets the atomic operation id counter, e.g. to continue after
// ids handed out by a previous session.
func WithCounter(counter *Counter) Option {
	return func(c *Coordinator) {
		c.counter = counter
	}
}

// New creates a coordinator. A nil notifier disables the notification step;
// a nil listener discards signals.
func New(store Store, perms Permissions, notifier Notifier, listener Listener, opts ...Option) *Coordinator {
	if listener == nil {
		listener = NopListener{}
	}

	c := &Coordinator{
		store:     store,
		perms:     perms,
		notifier:  notifier,
		listener:  listener,
		ids:       UUIDv7Generator{},
		counter:   NewCounter(),
		queue:     newEventQueue(),
		runCtx:    context.Background(),
		slots:     newSlotTable(),
		adds:      make(map[string]*ChangeRecord),
		revisions: NewRevisionTable(),
		deletions: NewDeletionSet(),
	}

	for _, opt := range opts {
		opt(c)
	}

	c.atomics = NewAtomicTracker(c.counter)
	return c
}

// Run starts the event loop and blocks until ctx is cancelled or Stop is called.
//
// Processing failures are logged with full event context and the loop
// continues; the coordinator never aborts the process.
func (c *Coordinator) Run(ctx context.Context) error {
	slog.Info("coordinator starting")
	c.runCtx = ctx

	for {
		ev, ok := c.queue.TryDequeue()
		if ok {
			if err := c.process(ev); err != nil {
				logEventError(ev, err)
			}
			c.releaseFlushWaiters()
			continue
		}

		select {
		case <-ctx.Done():
			slog.Info("coordinator stopping: context cancelled")
			c.queue.Close()
			c.drain()
			return ctx.Err()

		case <-c.queue.Wait():
			if c.queue.Closed() && c.queue.Len() == 0 {
				slog.Info("coordinator stopping: queue closed")
				c.drain()
				return nil
			}
		}
	}
}

// Stop closes the event queue; Run returns once queued events are processed.
func (c *Coordinator) Stop() {
	c.queue.Close()
}

// RequestChange submits a mutation and waits for the loop's verdict.
//
// A nil error means the request was accepted: a job was started, or the
// request was queued behind the entity's in-flight change. Rejections are
// *RejectError values. For group-shared entities the verdict waits for the
// notification step, which may involve the user.
func (c *Coordinator) RequestChange(ctx context.Context, req Request) (string, error) {
	rec := &ChangeRecord{
		RequestID: c.ids.Generate(),
		Action:    req.Action,
		Previous:  req.Previous.Clone(),
		Requested: req.Requested.Clone(),
		UI:        req.UI,
		AtomicOp:  req.AtomicOp,
		verdict:   make(chan error, 1),
	}
	rec.ID = rec.Requested.ID
	if rec.ID == 0 && rec.Action != entity.Added {
		rec.ID = rec.Previous.ID
	}

	requestID := rec.RequestID
	verdict := rec.verdict

	if !c.queue.Enqueue(event{typ: eventRequest, record: rec}) {
		return requestID, reject(ErrCodeStopped, rec, "coordinator is not running")
	}

	select {
	case err := <-verdict:
		return requestID, err
	case <-ctx.Done():
		return requestID, ctx.Err()
	}
}

// AddEntity creates e in collection.
func (c *Coordinator) AddEntity(ctx context.Context, e entity.Entity, collection entity.CollectionID, op AtomicOpID, ui UIContext) (string, error) {
	e.Collection = collection
	return c.RequestChange(ctx, Request{
		Action:    entity.Added,
		Requested: e,
		AtomicOp:  op,
		UI:        ui,
	})
}

// ChangeEntity replaces previous with requested.
func (c *Coordinator) ChangeEntity(ctx context.Context, previous, requested entity.Entity, op AtomicOpID, ui UIContext) (string, error) {
	return c.RequestChange(ctx, Request{
		Action:    entity.Edited,
		Previous:  previous,
		Requested: requested,
		AtomicOp:  op,
		UI:        ui,
	})
}

// DeleteEntity removes e.
func (c *Coordinator) DeleteEntity(ctx context.Context, e entity.Entity, op AtomicOpID, ui UIContext) (string, error) {
	return c.RequestChange(ctx, Request{
		Action:    entity.Deleted,
		Previous:  e,
		Requested: e,
		AtomicOp:  op,
		UI:        ui,
	})
}

// DeleteEntities removes es as one atomic operation, so every shared entity
// in the batch reuses the first notification decision. Entities that are
// rejected do not stop the others; their errors are joined.
//
// With op == 0 the operation is begun and ended here. A non-zero op belongs
// to the caller, who ends it with EndAtomicOperation.
func (c *Coordinator) DeleteEntities(ctx context.Context, es []entity.Entity, op AtomicOpID, ui UIContext) (AtomicOpID, error) {
	if op == 0 {
		op = c.BeginAtomicOperation()
		defer c.EndAtomicOperation(op)
	}

	var errs []error
	for _, e := range es {
		if _, err := c.DeleteEntity(ctx, e, op, ui); err != nil {
			errs = append(errs, err)
			if ctx.Err() != nil {
				break
			}
		}
	}
	return op, errors.Join(errs...)
}

// BeginAtomicOperation allocates a new correlation id. Ids are never reused.
func (c *Coordinator) BeginAtomicOperation() AtomicOpID {
	return c.counter.Next()
}

// EndAtomicOperation forgets the outcome remembered for op.
func (c *Coordinator) EndAtomicOperation(op AtomicOpID) {
	if op == 0 {
		return
	}
	c.queue.Enqueue(event{typ: eventEndAtomic, op: op})
}

// IsChangeInProgress reports whether id has a change or delete in flight or queued.
func (c *Coordinator) IsChangeInProgress(ctx context.Context, id entity.ID) bool {
	result := make(chan bool, 1)
	ok := c.queue.Enqueue(event{typ: eventQuery, query: func() {
		s := c.slots.get(id)
		result <- s != nil && s.busy()
	}})
	if !ok {
		return false
	}

	select {
	case v := <-result:
		return v
	case <-ctx.Done():
		return false
	}
}

// Flush waits until every event enqueued before the call, and every
// notification attempt they started, has been processed.
func (c *Coordinator) Flush(ctx context.Context) error {
	done := make(chan struct{})
	ok := c.queue.Enqueue(event{typ: eventQuery, query: func() {
		c.flushWaiters = append(c.flushWaiters, done)
	}})
	if !ok {
		return &RejectError{Code: ErrCodeStopped, Message: "coordinator is not running"}
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats is a point-in-time view of the coordinator tables.
type Stats struct {
	Slots            int
	PendingAdds      int
	TrackedRevisions int
	Deleting         int
	AtomicOps        int
	Notifying        int
}

// Stats returns table sizes, mainly for tests and diagnostics.
func (c *Coordinator) Stats(ctx context.Context) (Stats, error) {
	result := make(chan Stats, 1)
	ok := c.queue.Enqueue(event{typ: eventQuery, query: func() {
		result <- Stats{
			Slots:            c.slots.len(),
			PendingAdds:      len(c.adds),
			TrackedRevisions: c.revisions.Len(),
			Deleting:         c.deletions.Len(),
			AtomicOps:        c.atomics.Len(),
			Notifying:        c.notifying,
		}
	}})
	if !ok {
		return Stats{}, &RejectError{Code: ErrCodeStopped, Message: "coordinator is not running"}
	}

	select {
	case s := <-result:
		return s, nil
	case <-ctx.Done():
		return Stats{}, ctx.Err()
	}
}

// TrackedRevision returns the revision table entry for id.
func (c *Coordinator) TrackedRevision(ctx context.Context, id entity.ID) (entity.Revision, bool) {
	type answer struct {
		rev entity.Revision
		ok  bool
	}
	result := make(chan answer, 1)
	ok := c.queue.Enqueue(event{typ: eventQuery, query: func() {
		rev, found := c.revisions.Get(id)
		result <- answer{rev, found}
	}})
	if !ok {
		return 0, false
	}

	select {
	case a := <-result:
		return a.rev, a.ok
	case <-ctx.Done():
		return 0, false
	}
}

func (c *Coordinator) releaseFlushWaiters() {
	if len(c.flushWaiters) == 0 || c.notifying > 0 || c.queue.Len() > 0 {
		return
	}
	for _, done := range c.flushWaiters {
		close(done)
	}
	c.flushWaiters = nil
}

// drain answers everything still waiting once the loop stops.
func (c *Coordinator) drain() {
	for {
		ev, ok := c.queue.TryDequeue()
		if !ok {
			break
		}
		switch ev.typ {
		case eventRequest:
			ev.record.answer(reject(ErrCodeStopped, ev.record, "coordinator stopped"))
		case eventQuery:
			ev.query()
		}
	}

	stopped := func(rec *ChangeRecord) {
		if rec != nil {
			rec.answer(reject(ErrCodeStopped, rec, "coordinator stopped"))
		}
	}
	for _, s := range c.slots.slots {
		stopped(s.current)
		stopped(s.deleting)
	}
	for _, rec := range c.adds {
		stopped(rec)
	}

	for _, done := range c.flushWaiters {
		close(done)
	}
	c.flushWaiters = nil
}
