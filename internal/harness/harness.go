package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/roach88/itemsync/internal/changeq"
	"github.com/roach88/itemsync/internal/entity"
	"github.com/roach88/itemsync/internal/notify"
	"github.com/roach88/itemsync/internal/store"
	"github.com/roach88/itemsync/internal/workspace"
)

// stepTimeout bounds each step, including the flush that follows it.
const stepTimeout = 10 * time.Second

// Harness is the scenario execution engine.
// It runs a real coordinator against a SQLite store whose jobs are held
// until a release step, with sequential request ids, so every run of a
// scenario produces the same trace.
type Harness struct {
	store      *store.Store
	dispatcher *store.ManualDispatcher
	coord      *changeq.Coordinator
	perms      *cachePermissions
	outbox     *notify.Outbox
	ws         *workspace.Workspace
	logger     *slog.Logger

	mu      sync.Mutex
	result  *Result
	view    map[entity.ID]entity.Entity // what the client believes each entity looks like
	answers []bool                      // remaining prompt answers

	atomics map[string]changeq.AtomicOpID
}

// Run executes a scenario against a fresh database in a temp directory.
//
// Execution flow:
// 1. Load the CUE workspace and seed a fresh store
// 2. Start a coordinator wired to the store, a policy notifier and the trace
// 3. Execute steps, flushing the coordinator after each one
// 4. Evaluate assertions against the trace and the store tables
func Run(scenario *Scenario) (*Result, error) {
	dir, err := os.MkdirTemp("", "itemsync-scenario-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create scenario dir: %w", err)
	}
	defer os.RemoveAll(dir)

	return RunAt(scenario, filepath.Join(dir, "scenario.db"))
}

// RunAt executes a scenario against the database at dbPath. The database is
// left in place so its journal can be inspected afterwards.
func RunAt(scenario *Scenario, dbPath string) (*Result, error) {
	loaded, err := workspace.Load(scenario.Workspace)
	if err != nil {
		return nil, fmt.Errorf("failed to load workspace: %w", err)
	}

	dispatcher := store.NewManualDispatcher()
	st, err := store.Open(dbPath, store.WithDispatcher(dispatcher))
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	ctx := context.Background()
	if err := loaded.Workspace.Apply(ctx, st); err != nil {
		return nil, fmt.Errorf("failed to seed workspace: %w", err)
	}

	h := &Harness{
		store:      st,
		dispatcher: dispatcher,
		perms:      newCachePermissions(store.NewPermissions(st)),
		outbox:     notify.NewOutbox(),
		ws:         loaded.Workspace,
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)), // Suppress logs in tests
		result:     NewResult(),
		view:       make(map[entity.ID]entity.Entity),
		answers:    append([]bool(nil), scenario.Notify.Confirm...),
		atomics:    make(map[string]changeq.AtomicOpID),
	}
	for _, e := range loaded.Workspace.Entities {
		h.view[e.ID] = e.Clone()
	}

	notifier, err := h.newNotifier(scenario.Notify)
	if err != nil {
		return nil, err
	}

	h.coord = changeq.New(st, h.perms, notifier, changeq.ListenerFuncs{
		OnChangeFinished: h.onChangeFinished,
		OnDeleteFinished: h.onDeleteFinished,
		OnEntityGone:     h.onEntityGone,
	}, changeq.WithRequestIDs(changeq.NewSequenceGenerator("req")))

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- h.coord.Run(runCtx) }()
	defer func() {
		h.coord.Stop()
		cancel()
		<-done
	}()

	for i, step := range scenario.Steps {
		if err := h.executeStep(ctx, i, step); err != nil {
			return nil, fmt.Errorf("step %d (%s): %w", i, step.Op, err)
		}
		if err := h.flush(ctx); err != nil {
			return nil, fmt.Errorf("step %d (%s): flush: %w", i, step.Op, err)
		}
		h.logger.Info("step completed", "step", i, "op", step.Op)
	}

	journal, err := st.ReadJournal(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read journal: %w", err)
	}

	h.mu.Lock()
	result := h.result
	h.mu.Unlock()

	for _, entry := range journal {
		result.Journal = append(result.Journal, formatJournalEntry(entry))
	}

	actx := &AssertionContext{
		Store: st,
		Ctx:   ctx,
	}
	for _, errMsg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(errMsg)
	}

	return result, nil
}

// executeStep runs one step. Rejected requests are not errors; they are
// recorded in the trace and checked against the step's expect clause.
func (h *Harness) executeStep(ctx context.Context, index int, st Step) error {
	ctx, cancel := context.WithTimeout(ctx, stepTimeout)
	defer cancel()

	switch st.Op {
	case OpAdd:
		collection, ok := h.ws.CollectionIDs[st.Collection]
		if !ok {
			return fmt.Errorf("unknown collection %q", st.Collection)
		}
		payload, err := convertPayload(st.Payload)
		if err != nil {
			return fmt.Errorf("payload: %w", err)
		}
		op, err := h.atomicOp(st.Atomic)
		if err != nil {
			return err
		}
		e := entity.Entity{Kind: st.Kind, Shared: st.Shared, Organizer: true, Payload: payload}
		reqID, reqErr := h.coord.AddEntity(ctx, e, collection, op, changeq.UIContext(st.UI))
		return h.recordVerdict(index, st, entity.Added, 0, reqID, reqErr)

	case OpChange:
		previous, err := h.snapshot(st)
		if err != nil {
			return err
		}
		fields, err := convertPayload(st.Payload)
		if err != nil {
			return fmt.Errorf("payload: %w", err)
		}
		op, err := h.atomicOp(st.Atomic)
		if err != nil {
			return err
		}
		requested := previous.Clone()
		if requested.Payload == nil {
			requested.Payload = entity.Payload{}
		}
		for k, v := range fields {
			requested.Payload[k] = v
		}
		reqID, reqErr := h.coord.ChangeEntity(ctx, previous, requested, op, changeq.UIContext(st.UI))
		if reqErr == nil {
			h.remember(requested)
		}
		return h.recordVerdict(index, st, entity.Edited, previous.ID, reqID, reqErr)

	case OpDelete:
		previous, err := h.snapshot(st)
		if err != nil {
			return err
		}
		op, err := h.atomicOp(st.Atomic)
		if err != nil {
			return err
		}
		reqID, reqErr := h.coord.DeleteEntity(ctx, previous, op, changeq.UIContext(st.UI))
		return h.recordVerdict(index, st, entity.Deleted, previous.ID, reqID, reqErr)

	case OpDeleteMany:
		es := make([]entity.Entity, 0, len(st.Entities))
		for _, id := range st.Entities {
			e, ok := h.lookup(entity.ID(id))
			if !ok {
				return fmt.Errorf("entity %d is not in the client view", id)
			}
			es = append(es, e)
		}
		_, reqErr := h.coord.DeleteEntities(ctx, es, 0, changeq.UIContext(st.UI))
		return h.recordVerdict(index, st, entity.Deleted, 0, "", reqErr)

	case OpBegin:
		if _, exists := h.atomics[st.Atomic]; exists {
			return fmt.Errorf("atomic operation %q already open", st.Atomic)
		}
		h.atomics[st.Atomic] = h.coord.BeginAtomicOperation()
		return nil

	case OpEnd:
		op, err := h.atomicOp(st.Atomic)
		if err != nil {
			return err
		}
		h.coord.EndAtomicOperation(op)
		delete(h.atomics, st.Atomic)
		return nil

	case OpRelease:
		return h.dispatcher.Release(st.Job)

	case OpReleaseAll:
		// One job at a time, so each completion is processed before the next.
		for {
			pending := h.dispatcher.Pending()
			if len(pending) == 0 {
				return nil
			}
			if err := h.dispatcher.Release(pending[0]); err != nil {
				return err
			}
			if err := h.flush(ctx); err != nil {
				return err
			}
		}

	case OpForget:
		h.perms.Forget(entity.ID(st.Entity))
		return nil

	case OpFailSends:
		h.outbox.FailNext(st.Count)
		return nil

	default:
		return fmt.Errorf("unknown op %q", st.Op)
	}
}

// recordVerdict traces a request verdict and checks it against the step's
// expect clause. Errors other than rejections abort the run.
func (h *Harness) recordVerdict(index int, st Step, action entity.Action, id entity.ID, reqID string, reqErr error) error {
	code := CaseAccepted
	if reqErr != nil {
		var re *changeq.RejectError
		if !errors.As(reqErr, &re) {
			return reqErr
		}
		code = string(re.Code)
	}

	ev := TraceEvent{
		Type:    EventRequest,
		Action:  action.String(),
		Entity:  int64(id),
		Request: reqID,
		Code:    code,
	}
	if st.Op == OpDeleteMany {
		ev.Detail = fmt.Sprintf("entities=%s", joinIDs(st.Entities))
	}
	h.record(ev)

	if st.Expect != nil && st.Expect.Case != code {
		h.mu.Lock()
		h.result.AddError(fmt.Sprintf("steps[%d] (%s entity %d): expected %s, got %s",
			index, st.Op, id, st.Expect.Case, code))
		h.mu.Unlock()
	}
	return nil
}

func (h *Harness) flush(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, stepTimeout)
	defer cancel()
	return h.coord.Flush(ctx)
}

// record appends ev to the trace and stamps its seq.
func (h *Harness) record(ev TraceEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ev.Seq = len(h.result.Trace) + 1
	h.result.Trace = append(h.result.Trace, ev)
}

func (h *Harness) lookup(id entity.ID) (entity.Entity, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	e, ok := h.view[id]
	return e.Clone(), ok
}

func (h *Harness) remember(e entity.Entity) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.view[e.ID] = e.Clone()
}

// snapshot returns the client's view of the step's entity, with the step's
// revision override applied.
func (h *Harness) snapshot(st Step) (entity.Entity, error) {
	e, ok := h.lookup(entity.ID(st.Entity))
	if !ok {
		return entity.Entity{}, fmt.Errorf("entity %d is not in the client view", st.Entity)
	}
	if st.Revision != 0 {
		e.Revision = entity.Revision(st.Revision)
	}
	return e, nil
}

func (h *Harness) atomicOp(label string) (changeq.AtomicOpID, error) {
	if label == "" {
		return 0, nil
	}
	op, ok := h.atomics[label]
	if !ok {
		return 0, fmt.Errorf("atomic operation %q is not open", label)
	}
	return op, nil
}

func (h *Harness) onChangeFinished(r changeq.Result) {
	ev := resultEvent(EventChangeFinished, r)
	if r.Success {
		ev.Revision = int64(r.New.Revision)
		h.remember(r.New)
	} else if r.Previous.ID != 0 {
		h.remember(r.Previous)
	}
	h.record(ev)
}

// onDeleteFinished leaves the client view alone: a client that still holds
// the snapshot is how later stale requests are produced.
func (h *Harness) onDeleteFinished(r changeq.Result) {
	h.record(resultEvent(EventDeleteFinished, r))
}

func (h *Harness) onEntityGone(g changeq.Gone) {
	h.record(TraceEvent{
		Type:    EventEntityGone,
		Action:  g.Action.String(),
		Entity:  int64(g.ID),
		Request: g.RequestID,
		Detail:  "reason=" + string(g.Reason),
	})
}

func resultEvent(typ string, r changeq.Result) TraceEvent {
	ev := TraceEvent{
		Type:    typ,
		Action:  r.Action.String(),
		Entity:  int64(r.ID),
		Request: r.RequestID,
		Code:    "ok",
	}
	if !r.Success {
		ev.Code = failureClass(r.Err)
	}
	if r.NotificationSuppressed {
		ev.Detail = "suppressed"
	}
	return ev
}

// failureClass names a job failure without the store's message text.
func failureClass(err error) string {
	var re *changeq.RejectError
	switch {
	case err == nil:
		return "failed"
	case errors.As(err, &re):
		return string(re.Code)
	case errors.Is(err, store.ErrRevisionConflict):
		return "conflict"
	case errors.Is(err, store.ErrPermission):
		return "denied"
	case errors.Is(err, store.ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}

func (h *Harness) newNotifier(cfg NotifyConfig) (*notify.Notifier, error) {
	policy := notify.PolicySend
	if cfg.Policy != "" {
		p, err := notify.ParsePolicy(cfg.Policy)
		if err != nil {
			return nil, err
		}
		policy = p
	}
	failMode := notify.FailKeep
	if cfg.FailMode != "" {
		m, err := notify.ParseFailMode(cfg.FailMode)
		if err != nil {
			return nil, err
		}
		failMode = m
	}

	prompter := notify.PrompterFunc(func(context.Context, entity.Entity, entity.ProtocolAction, changeq.UIContext) (bool, error) {
		h.mu.Lock()
		defer h.mu.Unlock()
		if len(h.answers) == 0 {
			return true, nil
		}
		answer := h.answers[0]
		h.answers = h.answers[1:]
		return answer, nil
	})

	return notify.New(policy, failMode, prompter, &traceSender{h: h})
}

// traceSender delivers to the harness outbox and traces each delivered message.
type traceSender struct {
	h *Harness
}

func (s *traceSender) Send(ctx context.Context, msg notify.Message) error {
	if err := s.h.outbox.Send(ctx, msg); err != nil {
		return err
	}
	s.h.record(TraceEvent{
		Type:   EventNotify,
		Action: msg.Action.String(),
		Entity: int64(msg.EntityID),
	})
	return nil
}

// cachePermissions layers a forgettable client cache over the store's
// rights checks.
type cachePermissions struct {
	*store.Permissions

	mu        sync.Mutex
	forgotten map[entity.ID]bool
}

func newCachePermissions(p *store.Permissions) *cachePermissions {
	return &cachePermissions{Permissions: p, forgotten: make(map[entity.ID]bool)}
}

// Forget makes IsKnown report false for id from now on.
func (p *cachePermissions) Forget(id entity.ID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.forgotten[id] = true
}

func (p *cachePermissions) IsKnown(id entity.ID) bool {
	p.mu.Lock()
	forgotten := p.forgotten[id]
	p.mu.Unlock()
	if forgotten {
		return false
	}
	return p.Permissions.IsKnown(id)
}

func formatJournalEntry(e store.JournalEntry) string {
	line := fmt.Sprintf("job %d %s entity=%d rev=%d %s", e.Seq, e.Kind, e.EntityID, e.RequestRevision, e.Status)
	if e.Status == store.JobSucceeded && e.ResultRevision != 0 {
		line += fmt.Sprintf(" result=%d", e.ResultRevision)
	}
	return line
}

func joinIDs(ids []int64) string {
	var out string
	for i, id := range ids {
		if i > 0 {
			out += ","
		}
		out += fmt.Sprintf("%d", id)
	}
	return out
}

// convertPayload converts a YAML-parsed map to an entity payload.
func convertPayload(args map[string]any) (entity.Payload, error) {
	result := make(entity.Payload, len(args))
	for key, val := range args {
		v, err := convertValue(val)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", key, err)
		}
		result[key] = v
	}
	return result, nil
}

// convertValue converts a YAML-parsed value to a payload value.
// Returns an error for null values and non-integral numbers, which the
// canonical payload encoding rejects.
func convertValue(val any) (any, error) {
	switch v := val.(type) {
	case nil:
		return nil, fmt.Errorf("null values are not allowed in payloads")
	case string:
		return v, nil
	case int:
		return int64(v), nil
	case int64:
		return v, nil
	case float64:
		if v == float64(int64(v)) {
			return int64(v), nil
		}
		return nil, fmt.Errorf("floats are not allowed in payloads: %v", v)
	case bool:
		return v, nil
	case []any:
		arr := make([]any, len(v))
		for i, elem := range v {
			conv, err := convertValue(elem)
			if err != nil {
				return nil, fmt.Errorf("array[%d]: %w", i, err)
			}
			arr[i] = conv
		}
		return arr, nil
	case map[string]any:
		return convertPayload(v)
	default:
		return nil, fmt.Errorf("unsupported type %T", val)
	}
}
