package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/itemsync/internal/changeq"
	"github.com/roach88/itemsync/internal/entity"
)

// Compile-time check that Notifier satisfies the coordinator port.
var _ changeq.Notifier = (*Notifier)(nil)

func shared(id entity.ID) entity.Entity {
	return entity.Entity{ID: id, Kind: "event", Shared: true, Organizer: true}
}

func TestParsePolicy(t *testing.T) {
	for _, s := range []string{"send", "ask", "skip", "abort"} {
		p, err := ParsePolicy(s)
		require.NoError(t, err)
		assert.Equal(t, Policy(s), p)
	}
	_, err := ParsePolicy("maybe")
	assert.Error(t, err)

	m, err := ParseFailMode("abort")
	require.NoError(t, err)
	assert.Equal(t, FailAbort, m)
	_, err = ParseFailMode("retry")
	assert.Error(t, err)
}

func TestNew_ValidatesCollaborators(t *testing.T) {
	_, err := New(PolicyAsk, FailKeep, nil, NewOutbox())
	assert.Error(t, err)

	_, err = New(PolicySend, FailKeep, nil, nil)
	assert.Error(t, err)

	_, err = New(PolicySkip, FailKeep, nil, nil)
	assert.NoError(t, err)
}

func TestAttempt_UnsharedNotNeeded(t *testing.T) {
	outbox := NewOutbox()
	n, err := New(PolicySend, FailKeep, nil, outbox)
	require.NoError(t, err)

	e := shared(1)
	e.Shared = false
	assert.Equal(t, entity.NotNeeded, n.Attempt(context.Background(), e, entity.ProtocolRequest, "", entity.OutcomeNone))
	assert.Empty(t, outbox.Messages())
}

func TestAttempt_Policies(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name   string
		policy Policy
		answer bool
		want   entity.Outcome
		sent   int
	}{
		{"send", PolicySend, false, entity.Succeeded, 1},
		{"skip", PolicySkip, false, entity.CanceledByUser, 0},
		{"abort", PolicyAbort, false, entity.FailedAbortEdit, 0},
		{"ask yes", PolicyAsk, true, entity.Succeeded, 1},
		{"ask no", PolicyAsk, false, entity.CanceledByUser, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			outbox := NewOutbox()
			prompter := PrompterFunc(func(context.Context, entity.Entity, entity.ProtocolAction, changeq.UIContext) (bool, error) {
				return tt.answer, nil
			})
			n, err := New(tt.policy, FailKeep, prompter, outbox)
			require.NoError(t, err)

			got := n.Attempt(ctx, shared(3), entity.ProtocolCancel, "ui-1", entity.OutcomeNone)
			assert.Equal(t, tt.want, got)
			require.Len(t, outbox.Messages(), tt.sent)
			if tt.sent > 0 {
				msg := outbox.Messages()[0]
				assert.Equal(t, entity.ID(3), msg.EntityID)
				assert.Equal(t, entity.ProtocolCancel, msg.Action)
				assert.Equal(t, changeq.UIContext("ui-1"), msg.UI)
			}
		})
	}
}

func TestAttempt_SendFailureFollowsFailMode(t *testing.T) {
	ctx := context.Background()

	outbox := NewOutbox()
	keep, err := New(PolicySend, FailKeep, nil, outbox)
	require.NoError(t, err)
	outbox.FailNext(1)
	assert.Equal(t, entity.FailedKeepEdit, keep.Attempt(ctx, shared(1), entity.ProtocolRequest, "", entity.OutcomeNone))

	abort, err := New(PolicySend, FailAbort, nil, outbox)
	require.NoError(t, err)
	outbox.Close()
	assert.Equal(t, entity.FailedAbortEdit, abort.Attempt(ctx, shared(1), entity.ProtocolRequest, "", entity.OutcomeNone))
}

func TestAttempt_PromptErrorCountsAsFailure(t *testing.T) {
	prompter := PrompterFunc(func(context.Context, entity.Entity, entity.ProtocolAction, changeq.UIContext) (bool, error) {
		return false, errors.New("no display")
	})
	n, err := New(PolicyAsk, FailAbort, prompter, NewOutbox())
	require.NoError(t, err)
	assert.Equal(t, entity.FailedAbortEdit, n.Attempt(context.Background(), shared(1), entity.ProtocolRequest, "", entity.OutcomeNone))
}

func TestAttempt_RememberedDecisionSkipsPrompt(t *testing.T) {
	asked := 0
	prompter := PrompterFunc(func(context.Context, entity.Entity, entity.ProtocolAction, changeq.UIContext) (bool, error) {
		asked++
		return true, nil
	})
	outbox := NewOutbox()
	n, err := New(PolicyAsk, FailKeep, prompter, outbox)
	require.NoError(t, err)
	ctx := context.Background()

	assert.Equal(t, entity.CanceledByUser, n.Attempt(ctx, shared(1), entity.ProtocolCancel, "", entity.CanceledByUser))
	assert.Equal(t, entity.Succeeded, n.Attempt(ctx, shared(2), entity.ProtocolCancel, "", entity.Succeeded))
	assert.Equal(t, entity.FailedAbortEdit, n.Attempt(ctx, shared(3), entity.ProtocolCancel, "", entity.FailedAbortEdit))

	assert.Equal(t, 0, asked)
	assert.Len(t, outbox.Messages(), 1)
}
