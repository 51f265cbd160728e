// Package notify implements the coordinator's notification step: deciding
// whether other participants of a shared entity hear about a change, asking
// the user when policy says so, and sending the message.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/itemsync/internal/changeq"
	"github.com/roach88/itemsync/internal/entity"
)

// Policy selects how a notifier treats shared entities.
type Policy string

const (
	// PolicySend notifies without asking.
	PolicySend Policy = "send"
	// PolicyAsk asks the Prompter first.
	PolicyAsk Policy = "ask"
	// PolicySkip never notifies; changes proceed as if the user declined.
	PolicySkip Policy = "skip"
	// PolicyAbort refuses every shared change. Used to exercise rollbacks.
	PolicyAbort Policy = "abort"
)

// ParsePolicy maps a config value to a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(s); p {
	case PolicySend, PolicyAsk, PolicySkip, PolicyAbort:
		return p, nil
	default:
		return "", fmt.Errorf("unknown notify policy %q (want send, ask, skip or abort)", s)
	}
}

// FailMode decides what a failed send does to the change.
type FailMode string

const (
	// FailKeep lets the change proceed.
	FailKeep FailMode = "keep"
	// FailAbort rolls the change back.
	FailAbort FailMode = "abort"
)

// ParseFailMode maps a config value to a FailMode.
func ParseFailMode(s string) (FailMode, error) {
	switch m := FailMode(s); m {
	case FailKeep, FailAbort:
		return m, nil
	default:
		return "", fmt.Errorf("unknown notify fail mode %q (want keep or abort)", s)
	}
}

// Prompter asks the user whether to notify participants.
type Prompter interface {
	Confirm(ctx context.Context, e entity.Entity, action entity.ProtocolAction, ui changeq.UIContext) (bool, error)
}

// PrompterFunc adapts a function to Prompter.
type PrompterFunc func(ctx context.Context, e entity.Entity, action entity.ProtocolAction, ui changeq.UIContext) (bool, error)

// Confirm calls f.
func (f PrompterFunc) Confirm(ctx context.Context, e entity.Entity, action entity.ProtocolAction, ui changeq.UIContext) (bool, error) {
	return f(ctx, e, action, ui)
}

// Sender delivers the notification message.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Message is one outgoing notification.
type Message struct {
	EntityID  entity.ID             `json:"entity_id"`
	Kind      string                `json:"kind"`
	Action    entity.ProtocolAction `json:"action"`
	Organizer bool                  `json:"organizer"`
	UI        changeq.UIContext     `json:"ui,omitempty"`
}

// Notifier is the policy-driven changeq.Notifier.
type Notifier struct {
	policy   Policy
	failMode FailMode
	prompter Prompter
	sender   Sender
}

// New creates a notifier. prompter may be nil unless policy is PolicyAsk.
func New(policy Policy, failMode FailMode, prompter Prompter, sender Sender) (*Notifier, error) {
	if policy == PolicyAsk && prompter == nil {
		return nil, fmt.Errorf("notify policy %q requires a prompter", policy)
	}
	if sender == nil && (policy == PolicySend || policy == PolicyAsk) {
		return nil, fmt.Errorf("notify policy %q requires a sender", policy)
	}
	return &Notifier{policy: policy, failMode: failMode, prompter: prompter, sender: sender}, nil
}

// Attempt implements changeq.Notifier.
//
// A remembered group decision is reused without asking again: a group the
// user declined stays declined, and a group that was sent keeps sending.
func (n *Notifier) Attempt(ctx context.Context, e entity.Entity, action entity.ProtocolAction, ui changeq.UIContext, remembered entity.Outcome) entity.Outcome {
	if !e.Shared {
		return entity.NotNeeded
	}

	switch remembered {
	case entity.CanceledByUser, entity.FailedAbortEdit:
		return remembered
	case entity.Succeeded, entity.FailedKeepEdit:
		return n.send(ctx, e, action, ui)
	}

	switch n.policy {
	case PolicySkip:
		return entity.CanceledByUser
	case PolicyAbort:
		return entity.FailedAbortEdit
	case PolicyAsk:
		ok, err := n.prompter.Confirm(ctx, e, action, ui)
		if err != nil {
			slog.Warn("notification prompt failed", "entity_id", e.ID, "error", err)
			return n.failed()
		}
		if !ok {
			return entity.CanceledByUser
		}
	}
	return n.send(ctx, e, action, ui)
}

func (n *Notifier) send(ctx context.Context, e entity.Entity, action entity.ProtocolAction, ui changeq.UIContext) entity.Outcome {
	msg := Message{EntityID: e.ID, Kind: e.Kind, Action: action, Organizer: e.Organizer, UI: ui}
	if err := n.sender.Send(ctx, msg); err != nil {
		slog.Warn("notification send failed",
			"entity_id", e.ID,
			"protocol_action", action.String(),
			"error", err,
		)
		return n.failed()
	}
	slog.Debug("notification sent", "entity_id", e.ID, "protocol_action", action.String())
	return entity.Succeeded
}

func (n *Notifier) failed() entity.Outcome {
	if n.failMode == FailAbort {
		return entity.FailedAbortEdit
	}
	return entity.FailedKeepEdit
}
