package changeq

import (
	"fmt"
	"log/slog"

	"github.com/roach88/itemsync/internal/entity"
	"github.com/roach88/itemsync/internal/job"
)

// process dispatches one event. Runs on the loop goroutine only.
func (c *Coordinator) process(ev event) error {
	switch ev.typ {
	case eventRequest:
		c.handleRequest(ev.record)
		return nil
	case eventNotified:
		return c.handleNotified(ev)
	case eventJobDone:
		return c.handleJobDone(ev)
	case eventEndAtomic:
		c.atomics.End(ev.op)
		slog.Debug("atomic operation ended", "atomic_op", ev.op)
		return nil
	case eventQuery:
		ev.query()
		return nil
	default:
		return fmt.Errorf("unknown event type: %d", ev.typ)
	}
}

func (c *Coordinator) handleRequest(rec *ChangeRecord) {
	if rerr := c.validate(rec); rerr != nil {
		slog.Info("change rejected",
			"request_id", rec.RequestID,
			"entity_id", rec.ID,
			"action", rec.Action.String(),
			"code", string(rerr.Code),
			"reason", rerr.Message,
		)
		rec.answer(rerr)
		return
	}

	slog.Debug("change accepted",
		"request_id", rec.RequestID,
		"entity_id", rec.ID,
		"action", rec.Action.String(),
		"atomic_op", rec.AtomicOp,
	)

	switch rec.Action {
	case entity.Added:
		rec.kind = job.KindCreate
		c.adds[rec.RequestID] = rec
		c.begin(rec)

	case entity.Edited:
		rec.kind = job.KindModify
		s := c.slots.getOrCreate(rec.ID)
		if s.current != nil {
			if s.pending != nil {
				slog.Debug("queued change superseded",
					"entity_id", rec.ID,
					"discarded_request_id", s.pending.RequestID,
					"request_id", rec.RequestID,
				)
			}
			rec.stage = stageQueued
			s.pending = rec
			rec.answer(nil)
			return
		}
		s.current = rec
		c.begin(rec)

	case entity.Deleted:
		rec.kind = job.KindDelete
		s := c.slots.getOrCreate(rec.ID)
		c.deletions.Mark(rec.ID)
		if s.pending != nil {
			slog.Debug("queued change discarded by delete",
				"entity_id", rec.ID,
				"discarded_request_id", s.pending.RequestID,
			)
			s.pending = nil
		}
		s.deleting = rec
		c.begin(rec)
	}
}

// validate applies the rejection checks in order. The first failing check wins.
func (c *Coordinator) validate(rec *ChangeRecord) *RejectError {
	switch rec.Action {
	case entity.NoChange:
		return reject(ErrCodeNoChange, rec, "request carries no change")

	case entity.Added:
		if rec.ID != 0 && c.deletions.Contains(rec.ID) {
			return reject(ErrCodeStaleState, rec, "entity is being deleted")
		}
		if !c.perms.CanCreate(rec.Requested.Collection) {
			return reject(ErrCodePermissionDenied, rec, "no create rights in collection %d", rec.Requested.Collection)
		}
		return nil

	case entity.Edited:
		if rec.ID == 0 {
			return reject(ErrCodeInvalidRequest, rec, "edit requires an entity id")
		}
		if rec.Previous.ID != 0 && rec.Previous.ID != rec.ID {
			return reject(ErrCodeInvalidRequest, rec, "previous snapshot names entity %d", rec.Previous.ID)
		}
		if rerr := c.checkAlive(rec); rerr != nil {
			return rerr
		}
		if !c.perms.CanEdit(rec.Requested) {
			return reject(ErrCodePermissionDenied, rec, "no edit rights")
		}
		if entity.SameSnapshot(rec.Previous, rec.Requested) {
			return reject(ErrCodeNoChange, rec, "requested snapshot equals previous")
		}
		return nil

	case entity.Deleted:
		if rec.ID == 0 {
			return reject(ErrCodeInvalidRequest, rec, "delete requires an entity id")
		}
		if rerr := c.checkAlive(rec); rerr != nil {
			return rerr
		}
		if !c.perms.CanDelete(rec.Previous) {
			return reject(ErrCodePermissionDenied, rec, "no delete rights")
		}
		return nil

	default:
		return reject(ErrCodeInvalidRequest, rec, "unknown action %d", int(rec.Action))
	}
}

func (c *Coordinator) checkAlive(rec *ChangeRecord) *RejectError {
	if c.deletions.Contains(rec.ID) {
		return reject(ErrCodeStaleState, rec, "entity is being deleted")
	}
	if s := c.slots.get(rec.ID); s != nil && s.gone {
		return reject(ErrCodeStaleState, rec, "entity was deleted")
	}
	if !c.perms.IsKnown(rec.ID) {
		return reject(ErrCodeStaleState, rec, "entity is unknown to the cache")
	}
	return nil
}

// begin runs the notification step for shared entities, then starts the job.
func (c *Coordinator) begin(rec *ChangeRecord) {
	if c.notifier == nil || !rec.Requested.Shared {
		c.startJob(rec)
		return
	}

	if !c.atomics.acquire(rec.AtomicOp, rec.ref()) {
		rec.stage = stageWaitingTurn
		slog.Debug("notification waiting for atomic operation",
			"request_id", rec.RequestID,
			"atomic_op", rec.AtomicOp,
		)
		return
	}
	c.launchAttempt(rec)
}

// launchAttempt runs the notifier off the loop; the outcome comes back as an event.
func (c *Coordinator) launchAttempt(rec *ChangeRecord) {
	rec.stage = stageNotifying
	c.notifying++

	remembered, _ := c.atomics.LookupOutcome(rec.AtomicOp)
	snapshot := rec.Requested.Clone()
	action := entity.ProtocolFor(rec.Action, snapshot)
	ref := rec.ref()
	op := rec.AtomicOp
	ui := rec.UI
	ctx := c.runCtx

	slog.Debug("notification attempt started",
		"request_id", rec.RequestID,
		"entity_id", rec.ID,
		"protocol_action", action.String(),
		"remembered", remembered.String(),
	)

	go func() {
		outcome := c.notifier.Attempt(ctx, snapshot, action, ui, remembered)
		if !c.queue.Enqueue(event{typ: eventNotified, ref: ref, op: op, outcome: outcome}) {
			slog.Warn("notification outcome dropped: coordinator stopped",
				"request_id", ref.requestID,
				"outcome", outcome.String(),
			)
		}
	}()
}

func (c *Coordinator) handleNotified(ev event) error {
	c.notifying--
	group := c.atomics.RecordOutcome(ev.op, ev.outcome)
	defer c.passTurn(ev.op)

	rec := c.lookup(ev.ref)
	if rec == nil || rec.stage != stageNotifying {
		return fmt.Errorf("notification outcome for unknown request %s", ev.ref.requestID)
	}

	slog.Info("notification attempted",
		"request_id", rec.RequestID,
		"entity_id", rec.ID,
		"outcome", ev.outcome.String(),
		"atomic_op", ev.op,
		"group_outcome", group.String(),
	)

	switch ev.outcome {
	case entity.FailedAbortEdit:
		c.abort(rec)
		return nil
	case entity.CanceledByUser:
		rec.SuppressNotification = true
	}

	// A delete may have been accepted, or even finished, while this edit was in its notification step.
	if rec.kind == job.KindModify && c.entityDeleted(rec.ID) {
		c.dropCurrent(rec)
		return nil
	}

	c.startJob(rec)
	return nil
}

// passTurn hands the atomic operation's attempt turn to the next waiter.
func (c *Coordinator) passTurn(op AtomicOpID) {
	for {
		next, ok := c.atomics.handOff(op)
		if !ok {
			return
		}
		rec := c.lookup(next)
		if rec == nil || rec.stage != stageWaitingTurn {
			continue
		}
		if rec.kind == job.KindModify && c.entityDeleted(rec.ID) {
			c.dropCurrent(rec)
			continue
		}
		c.launchAttempt(rec)
		return
	}
}

// entityDeleted reports whether a delete of id is running or has already succeeded.
func (c *Coordinator) entityDeleted(id entity.ID) bool {
	if c.deletions.Contains(id) {
		return true
	}
	s := c.slots.get(id)
	return s != nil && s.gone
}

// lookup resolves a ref to the record currently owning that role.
func (c *Coordinator) lookup(ref recordRef) *ChangeRecord {
	var rec *ChangeRecord
	switch ref.kind {
	case job.KindCreate:
		rec = c.adds[ref.requestID]
	case job.KindModify:
		if s := c.slots.get(ref.id); s != nil {
			rec = s.current
		}
	case job.KindDelete:
		if s := c.slots.get(ref.id); s != nil {
			rec = s.deleting
		}
	}
	if rec == nil || rec.RequestID != ref.requestID {
		return nil
	}
	return rec
}

// abort rolls the record back after the notifier vetoed the write.
func (c *Coordinator) abort(rec *ChangeRecord) {
	rollback := rec.Previous.Clone()
	rerr := reject(ErrCodeNotificationAborted, rec, "notification failed, change rolled back")
	rerr.Rollback = &rollback

	slog.Warn("change aborted by notification",
		"request_id", rec.RequestID,
		"entity_id", rec.ID,
		"action", rec.Action.String(),
	)

	switch rec.kind {
	case job.KindCreate:
		delete(c.adds, rec.RequestID)
	case job.KindModify:
		c.slots.get(rec.ID).current = nil
	case job.KindDelete:
		c.slots.get(rec.ID).deleting = nil
		c.deletions.Clear(rec.ID)
	}

	if rec.verdict != nil {
		rec.answer(rerr)
	} else {
		// Promoted change: the caller was answered when it was queued.
		res := c.result(rec)
		res.New = rollback
		res.Err = rerr
		c.listener.ChangeFinished(res)
	}

	if rec.kind == job.KindModify {
		c.promote(rec.ID)
	}
	if rec.kind != job.KindCreate {
		c.slots.release(rec.ID)
	}
}

// dropCurrent abandons an edit whose entity started or finished deleting during notification.
func (c *Coordinator) dropCurrent(rec *ChangeRecord) {
	c.slots.get(rec.ID).current = nil

	slog.Info("change dropped: entity is being deleted",
		"request_id", rec.RequestID,
		"entity_id", rec.ID,
	)

	if rec.verdict != nil {
		reason := "entity is being deleted"
		if !c.deletions.Contains(rec.ID) {
			reason = "entity was deleted"
		}
		rec.answer(reject(ErrCodeStaleState, rec, "%s", reason))
	} else {
		c.listener.EntityGone(Gone{
			ID:        rec.ID,
			RequestID: rec.RequestID,
			Action:    rec.Action,
			UI:        rec.UI,
			Reason:    GoneForgotten,
		})
	}
	c.slots.release(rec.ID)
}

// startJob repairs revisions and hands the write to the store.
func (c *Coordinator) startJob(rec *ChangeRecord) {
	if c.revisions.Repair(&rec.Requested) {
		slog.Debug("revision repaired",
			"request_id", rec.RequestID,
			"entity_id", rec.ID,
			"revision", rec.Requested.Revision,
		)
	}
	c.revisions.Repair(&rec.Previous)

	rec.stage = stageRunning
	ctx := c.runCtx

	var j *job.Job
	switch rec.kind {
	case job.KindCreate:
		j = c.store.Create(ctx, rec.Requested.Clone(), rec.Requested.Collection)
	case job.KindModify:
		j = c.store.Modify(ctx, rec.Requested.Clone())
	default:
		j = c.store.Delete(ctx, rec.Requested.Clone())
	}

	slog.Info("job started",
		"request_id", rec.RequestID,
		"entity_id", rec.ID,
		"job", string(rec.kind),
		"revision", rec.Requested.Revision,
	)

	rec.answer(nil)

	ref := rec.ref()
	j.Then(func(e entity.Entity, err error) {
		if !c.queue.Enqueue(event{typ: eventJobDone, ref: ref, entity: e, err: err}) {
			slog.Warn("job completion dropped: coordinator stopped",
				"request_id", ref.requestID,
				"entity_id", ref.id,
			)
		}
	})
}

func (c *Coordinator) handleJobDone(ev event) error {
	switch ev.ref.kind {
	case job.KindCreate:
		c.finishCreate(ev)
	case job.KindModify:
		c.finishModify(ev)
	case job.KindDelete:
		c.finishDelete(ev)
	default:
		return fmt.Errorf("unknown job kind %q", ev.ref.kind)
	}
	return nil
}

func (c *Coordinator) finishCreate(ev event) {
	rec, ok := c.adds[ev.ref.requestID]
	if !ok {
		c.orphan(ev.ref, entity.Added)
		return
	}
	delete(c.adds, ev.ref.requestID)

	res := c.result(rec)
	if ev.err != nil {
		res.New = rec.Requested
		res.Err = ev.err
	} else {
		res.Success = true
		res.New = ev.entity
		res.ID = ev.entity.ID
		c.revisions.Observe(ev.entity.ID, ev.entity.Revision)
	}

	logFinished(res)
	c.listener.ChangeFinished(res)
}

func (c *Coordinator) finishModify(ev event) {
	s := c.slots.get(ev.ref.id)
	if s == nil || s.current == nil || s.current.RequestID != ev.ref.requestID {
		c.orphan(ev.ref, entity.Edited)
		return
	}

	rec := s.current
	s.current = nil

	switch {
	case s.gone:
		slog.Info("change finished after entity was deleted",
			"request_id", rec.RequestID,
			"entity_id", rec.ID,
		)
		c.listener.EntityGone(Gone{
			ID:        rec.ID,
			RequestID: rec.RequestID,
			Action:    rec.Action,
			UI:        rec.UI,
			Reason:    GoneDeletedInFlight,
		})

	default:
		res := c.result(rec)
		if ev.err != nil {
			res.New = rec.Requested
			res.Err = ev.err
		} else {
			res.Success = true
			res.New = ev.entity
			if !c.revisions.Observe(rec.ID, ev.entity.Revision) {
				slog.Warn("store returned an older revision than tracked",
					"entity_id", rec.ID,
					"revision", ev.entity.Revision,
				)
			}
		}
		logFinished(res)
		c.listener.ChangeFinished(res)
	}

	c.promote(ev.ref.id)
	c.slots.release(ev.ref.id)
}

func (c *Coordinator) finishDelete(ev event) {
	c.deletions.Clear(ev.ref.id)

	s := c.slots.get(ev.ref.id)
	if s == nil || s.deleting == nil || s.deleting.RequestID != ev.ref.requestID {
		c.orphan(ev.ref, entity.Deleted)
		return
	}

	rec := s.deleting
	s.deleting = nil

	res := c.result(rec)
	if ev.err != nil {
		res.New = rec.Requested
		res.Err = ev.err
	} else {
		res.Success = true
		c.revisions.Forget(rec.ID)
		if s.current != nil {
			s.gone = true
		}
	}

	logFinished(res)
	c.listener.DeleteFinished(res)
	c.slots.release(ev.ref.id)
}

// promote starts the pending change once the slot's current one finished.
func (c *Coordinator) promote(id entity.ID) {
	s := c.slots.get(id)
	if s == nil || s.current != nil || s.pending == nil {
		return
	}

	next := s.pending
	s.pending = nil

	if s.gone || c.deletions.Contains(id) || !c.perms.IsKnown(id) {
		slog.Info("queued change dropped: entity gone",
			"request_id", next.RequestID,
			"entity_id", id,
		)
		c.listener.EntityGone(Gone{
			ID:        id,
			RequestID: next.RequestID,
			Action:    next.Action,
			UI:        next.UI,
			Reason:    GoneForgotten,
		})
		return
	}

	slog.Debug("queued change promoted",
		"request_id", next.RequestID,
		"entity_id", id,
	)
	s.current = next
	c.begin(next)
}

func (c *Coordinator) orphan(ref recordRef, action entity.Action) {
	slog.Warn("job completed without a matching record",
		"request_id", ref.requestID,
		"entity_id", ref.id,
		"job", string(ref.kind),
	)
	c.listener.EntityGone(Gone{
		ID:        ref.id,
		RequestID: ref.requestID,
		Action:    action,
		Reason:    GoneOrphaned,
	})
}

func (c *Coordinator) result(rec *ChangeRecord) Result {
	return Result{
		RequestID:              rec.RequestID,
		ID:                     rec.ID,
		Action:                 rec.Action,
		UI:                     rec.UI,
		AtomicOp:               rec.AtomicOp,
		Previous:               rec.Previous,
		NotificationSuppressed: rec.SuppressNotification,
	}
}

func logFinished(res Result) {
	if res.Success {
		slog.Info("job finished",
			"request_id", res.RequestID,
			"entity_id", res.ID,
			"action", res.Action.String(),
			"revision", res.New.Revision,
		)
		return
	}
	slog.Warn("job failed",
		"request_id", res.RequestID,
		"entity_id", res.ID,
		"action", res.Action.String(),
		"error", res.Err,
	)
}

// logEventError logs an event processing failure with full context.
func logEventError(ev event, err error) {
	slog.Error("event processing failed",
		"error", err,
		"event_type", ev.typ.String(),
		"request_id", ev.ref.requestID,
		"entity_id", ev.ref.id,
	)
}
