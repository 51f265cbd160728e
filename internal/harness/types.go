package harness

import (
	"fmt"
	"strings"
)

// Trace event types.
const (
	EventRequest        = "request"
	EventNotify         = "notify"
	EventChangeFinished = "change_finished"
	EventDeleteFinished = "delete_finished"
	EventEntityGone     = "entity_gone"
)

// TraceEvent is one observable step of a scenario run: a request verdict,
// an outgoing notification, or a coordinator signal.
type TraceEvent struct {
	Seq      int    `json:"seq"`
	Type     string `json:"type"`
	Action   string `json:"action"`
	Entity   int64  `json:"entity"`
	Request  string `json:"request,omitempty"`
	Revision int64  `json:"revision,omitempty"`

	// Code is "accepted" for accepted requests, "ok" for successful jobs,
	// otherwise a reject code or a store failure class.
	Code string `json:"code,omitempty"`

	// Detail carries the gone reason, the ids of a batch delete, or
	// "suppressed" for results whose notification the user declined.
	Detail string `json:"detail,omitempty"`
}

// Key is "type:entity", the form used by trace_order and trace_count.
func (e TraceEvent) Key() string {
	return fmt.Sprintf("%s:%d", e.Type, e.Entity)
}

// Fields exposes the event for subset matching in assertions.
func (e TraceEvent) Fields() map[string]any {
	return map[string]any{
		"type":     e.Type,
		"action":   e.Action,
		"entity":   e.Entity,
		"request":  e.Request,
		"revision": e.Revision,
		"code":     e.Code,
		"detail":   e.Detail,
	}
}

// String renders the event as one golden trace line.
func (e TraceEvent) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d %s %s entity=%d", e.Seq, e.Type, e.Action, e.Entity)
	if e.Request != "" {
		fmt.Fprintf(&b, " req=%s", e.Request)
	}
	if e.Code != "" {
		fmt.Fprintf(&b, " %s", e.Code)
	}
	if e.Revision != 0 {
		fmt.Fprintf(&b, " rev=%d", e.Revision)
	}
	if e.Detail != "" {
		fmt.Fprintf(&b, " %s", e.Detail)
	}
	return b.String()
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass indicates overall test success.
	// True if every expect clause and assertion held.
	Pass bool `json:"pass"`

	// Trace contains every event in observation order.
	Trace []TraceEvent `json:"trace"`

	// Journal is the store's job journal after the last step, one line per job.
	Journal []string `json:"journal"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
// Used as the starting point for test execution.
func NewResult() *Result {
	return &Result{
		Pass:    true,
		Trace:   []TraceEvent{},
		Journal: []string{},
		Errors:  []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Render formats the trace and journal as the golden file body.
func (r *Result) Render(name string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "scenario: %s\n", name)
	b.WriteString("trace:\n")
	for _, ev := range r.Trace {
		b.WriteString("  ")
		b.WriteString(ev.String())
		b.WriteString("\n")
	}
	b.WriteString("journal:\n")
	for _, line := range r.Journal {
		b.WriteString("  ")
		b.WriteString(line)
		b.WriteString("\n")
	}
	return []byte(b.String())
}
