package entity

import "fmt"

// ID identifies an entity within the store. Unique across the whole store and
// never reused after a deletion completes. Zero means "not yet assigned".
type ID int64

// Revision is the store-owned optimistic concurrency counter.
type Revision int64

// CollectionID identifies the collection (calendar, folder) an entity lives in.
type CollectionID int64

// Entity is a snapshot of a single store item.
type Entity struct {
	ID         ID           `json:"id"`
	Revision   Revision     `json:"revision"`
	Collection CollectionID `json:"collection"`
	Kind       string       `json:"kind"` // "event", "todo", "journal", "message"

	// Shared marks group-shared entities (other participants exist).
	// Only shared entities go through the notification step.
	Shared bool `json:"shared,omitempty"`

	// Organizer is true when this user owns the shared entity.
	Organizer bool `json:"organizer,omitempty"`

	Payload Payload `json:"payload"`
}

// Clone returns a deep copy of the entity so records never alias caller maps.
func (e Entity) Clone() Entity {
	c := e
	c.Payload = e.Payload.Clone()
	return c
}

// String renders a short identifier for logs and errors.
func (e Entity) String() string {
	return fmt.Sprintf("%s#%d@%d", e.Kind, e.ID, e.Revision)
}

// Action is the kind of mutation a change record carries.
type Action int

const (
	// NoChange is a request that carries no mutation; it never starts a job.
	NoChange Action = iota
	// Added creates a new entity in a collection.
	Added
	// Edited modifies an existing entity.
	Edited
	// Deleted removes an existing entity.
	Deleted
)

func (a Action) String() string {
	switch a {
	case NoChange:
		return "no-change"
	case Added:
		return "added"
	case Edited:
		return "edited"
	case Deleted:
		return "deleted"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// ParseAction maps the textual form used by scenarios and the CLI.
func ParseAction(s string) (Action, error) {
	switch s {
	case "no-change", "none":
		return NoChange, nil
	case "added", "add":
		return Added, nil
	case "edited", "edit", "change":
		return Edited, nil
	case "deleted", "delete":
		return Deleted, nil
	default:
		return NoChange, fmt.Errorf("unknown action %q", s)
	}
}

// ProtocolAction is the participant-facing message a change implies.
type ProtocolAction int

const (
	// ProtocolRequest invites participants or announces an update.
	ProtocolRequest ProtocolAction = iota + 1
	// ProtocolReply answers the organizer.
	ProtocolReply
	// ProtocolCancel withdraws the entity from participants.
	ProtocolCancel
)

func (p ProtocolAction) String() string {
	switch p {
	case ProtocolRequest:
		return "request"
	case ProtocolReply:
		return "reply"
	case ProtocolCancel:
		return "cancel"
	default:
		return fmt.Sprintf("protocol(%d)", int(p))
	}
}

// ProtocolFor returns the protocol action implied by mutating e with a.
//
//	Added            -> request
//	Edited           -> request (organizer) | reply (attendee)
//	Deleted          -> cancel  (organizer) | reply (attendee)
func ProtocolFor(a Action, e Entity) ProtocolAction {
	switch a {
	case Added:
		return ProtocolRequest
	case Deleted:
		if e.Organizer {
			return ProtocolCancel
		}
		return ProtocolReply
	default:
		if e.Organizer {
			return ProtocolRequest
		}
		return ProtocolReply
	}
}

// Outcome is the result of a notification attempt.
type Outcome int

const (
	// OutcomeNone means no outcome is known (nothing remembered yet).
	OutcomeNone Outcome = iota
	// Succeeded means the notification was sent.
	Succeeded
	// NotNeeded means no notification was required for this entity.
	NotNeeded
	// CanceledByUser means the user declined to notify; the edit proceeds.
	CanceledByUser
	// FailedKeepEdit means sending failed but the edit proceeds.
	FailedKeepEdit
	// FailedAbortEdit means sending failed and the edit must be rolled back.
	FailedAbortEdit
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNone:
		return "none"
	case Succeeded:
		return "succeeded"
	case NotNeeded:
		return "not-needed"
	case CanceledByUser:
		return "canceled-by-user"
	case FailedKeepEdit:
		return "failed-keep-edit"
	case FailedAbortEdit:
		return "failed-abort-edit"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// ParseOutcome maps the textual form used by scenarios and config files.
func ParseOutcome(s string) (Outcome, error) {
	for o := Succeeded; o <= FailedAbortEdit; o++ {
		if o.String() == s {
			return o, nil
		}
	}
	if s == "" || s == "none" {
		return OutcomeNone, nil
	}
	return OutcomeNone, fmt.Errorf("unknown notification outcome %q", s)
}
