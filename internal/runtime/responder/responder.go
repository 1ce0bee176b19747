// Package responder produces reply text for inbound chat events.
package responder

import (
	"context"
	"errors"
	"slices"

	"github.com/drblury/replyflow/internal/runtime/chatevent"
)

// ErrResponder marks every failure that came from a responder backend.
var ErrResponder = errors.New("responder: generation failed")

// Role is the sender's relation to the assisted owner.
type Role string

const (
	// RoleOwner is the person being assisted. Their messages are recorded but
	// never answered.
	RoleOwner   Role = "owner"
	RoleContact Role = "contact"
)

// Request is everything a backend needs to answer one message.
type Request struct {
	EventID        string
	ConversationID string
	SenderRole     Role
	SenderName     string
	ReceiverName   string
	Text           string
}

// Responder generates a reply. Calls may block for a long time and are never
// retried by the caller; every error is a processing failure.
type Responder interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// Func adapts a plain function to Responder.
type Func func(ctx context.Context, req Request) (string, error)

func (f Func) Generate(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// RoleResolver decides whether an event was sent by the owner.
type RoleResolver struct {
	owners []string
}

func NewRoleResolver(ownerIDs []string) RoleResolver {
	return RoleResolver{owners: slices.Clone(ownerIDs)}
}

// Resolve returns RoleOwner when payload.from is one of the owner ids.
func (r RoleResolver) Resolve(e chatevent.Event) Role {
	if e.Payload.From != "" && slices.Contains(r.owners, e.Payload.From) {
		return RoleOwner
	}
	return RoleContact
}

// NewRequest builds the Request for e.
func NewRequest(e chatevent.Event, role Role) Request {
	return Request{
		EventID:        e.ID,
		ConversationID: e.ConversationID(),
		SenderRole:     role,
		SenderName:     e.Payload.From,
		ReceiverName:   e.Payload.To,
		Text:           e.Payload.Text,
	}
}
