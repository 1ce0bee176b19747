package responder

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/replyflow/internal/runtime/chatevent"
)

func TestRoleResolver(t *testing.T) {
	r := NewRoleResolver([]string{"owner-1", "owner-2"})

	owner := chatevent.Event{Payload: chatevent.Payload{From: "owner-2"}}
	contact := chatevent.Event{Payload: chatevent.Payload{From: "A"}}
	anonymous := chatevent.Event{}

	assert.Equal(t, RoleOwner, r.Resolve(owner))
	assert.Equal(t, RoleContact, r.Resolve(contact))
	assert.Equal(t, RoleContact, r.Resolve(anonymous))
	assert.Equal(t, RoleContact, NewRoleResolver(nil).Resolve(owner))
}

func TestNewRequest(t *testing.T) {
	e := chatevent.Event{
		ID:        "e1",
		Aggregate: chatevent.Aggregate{ID: "chat1"},
		Payload:   chatevent.Payload{From: "A", To: "B", Text: "hi"},
	}

	req := NewRequest(e, RoleContact)

	assert.Equal(t, Request{
		EventID:        "e1",
		ConversationID: "chat1",
		SenderRole:     RoleContact,
		SenderName:     "A",
		ReceiverName:   "B",
		Text:           "hi",
	}, req)
}

func TestEcho(t *testing.T) {
	out, err := Echo{}.Generate(context.Background(), Request{Text: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "echo: hi", out)
}

func TestFunc(t *testing.T) {
	var f Responder = Func(func(ctx context.Context, req Request) (string, error) {
		return req.ConversationID, nil
	})
	out, err := f.Generate(context.Background(), Request{ConversationID: "chat1"})
	require.NoError(t, err)
	assert.Equal(t, "chat1", out)
}
