package consumer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/drblury/replyflow/internal/runtime/chatevent"
	"github.com/drblury/replyflow/internal/runtime/deadletter"
	rferrors "github.com/drblury/replyflow/internal/runtime/errors"
	"github.com/drblury/replyflow/internal/runtime/responder"
	"github.com/drblury/replyflow/internal/runtime/store"
)

// Outcome is the resolution of a single inbound message. It decides whether
// the message goes to the dead-letter topic; every outcome is committed.
type Outcome int

const (
	OutcomeProcessed Outcome = iota
	OutcomeSkippedDuplicate
	OutcomeSkippedMalformed
	OutcomeSkippedSelfEcho
	OutcomeFailed
)

var outcomeNames = [...]string{
	OutcomeProcessed:        "processed",
	OutcomeSkippedDuplicate: "skipped_duplicate",
	OutcomeSkippedMalformed: "skipped_malformed",
	OutcomeSkippedSelfEcho:  "skipped_self_echo",
	OutcomeFailed:           "failed",
}

func (o Outcome) String() string {
	if o < 0 || int(o) >= len(outcomeNames) {
		return "unknown"
	}
	return outcomeNames[o]
}

// Outcomes lists every outcome in declaration order.
func Outcomes() []Outcome {
	return []Outcome{
		OutcomeProcessed,
		OutcomeSkippedDuplicate,
		OutcomeSkippedMalformed,
		OutcomeSkippedSelfEcho,
		OutcomeFailed,
	}
}

// Result carries everything known about a processed message through to
// logging and dead-letter routing.
type Result struct {
	Outcome Outcome
	Err     error
	// Event is the decoded event; zero when the message was malformed.
	Event chatevent.Event
	Raw   []byte
	// Response is the derived reply, set only when one was persisted.
	Response *chatevent.Event
}

// DeadLetter returns the dead-letter record for a failed result.
func (r Result) DeadLetter() deadletter.Record {
	return deadletter.Record{EventID: r.Event.ID, Raw: r.Raw, Err: r.Err}
}

// Store is the slice of the durable store the processor needs.
type Store interface {
	Source() string
	HasProcessed(ctx context.Context, eventID string) (bool, error)
	RecordProcessed(ctx context.Context, derived chatevent.Event) error
	AppendMessage(ctx context.Context, entry chatevent.HistoryEntry) error
}

// ProcessorConfig wires a Processor.
type ProcessorConfig struct {
	Store     Store
	Responder responder.Responder
	OwnerIDs  []string
}

// Processor turns one raw inbound message into an Outcome.
type Processor struct {
	store     Store
	responder responder.Responder
	roles     responder.RoleResolver
	now       func() time.Time
}

func NewProcessor(cfg ProcessorConfig) (*Processor, error) {
	if cfg.Store == nil {
		return nil, rferrors.ErrStoreRequired
	}
	if cfg.Responder == nil {
		return nil, rferrors.ErrResponderRequired
	}
	return &Processor{
		store:     cfg.Store,
		responder: cfg.Responder,
		roles:     responder.NewRoleResolver(cfg.OwnerIDs),
		now:       time.Now,
	}, nil
}

// Process runs the full pipeline for raw. It never panics on bad input and
// never returns without an outcome.
func (p *Processor) Process(ctx context.Context, raw []byte) Result {
	res := Result{Raw: raw}

	event, err := chatevent.Decode(raw)
	if err != nil {
		res.Outcome = OutcomeSkippedMalformed
		res.Err = err
		return res
	}
	res.Event = event

	done, err := p.store.HasProcessed(ctx, event.ID)
	if err != nil {
		return res.fail(fmt.Errorf("idempotency check: %w", err))
	}
	if done {
		res.Outcome = OutcomeSkippedDuplicate
		return res
	}

	role := p.roles.Resolve(event)
	if err := p.store.AppendMessage(ctx, chatevent.NewHistoryEntry(event, string(role), p.now())); err != nil {
		return res.fail(fmt.Errorf("append history: %w", err))
	}

	if event.Payload.IsFromSelf {
		return p.recordWithoutReply(ctx, res, OutcomeSkippedSelfEcho)
	}
	if role == responder.RoleOwner {
		return p.recordWithoutReply(ctx, res, OutcomeProcessed)
	}

	text, err := p.responder.Generate(ctx, responder.NewRequest(event, role))
	if err != nil {
		return res.fail(fmt.Errorf("generate reply: %w", err))
	}

	response, err := chatevent.NewResponse(event, p.store.Source(), text, p.now())
	if err != nil {
		return res.fail(fmt.Errorf("derive reply: %w", err))
	}
	if err := p.store.RecordProcessed(ctx, response); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			// Another consumer persisted a reply for this event first.
			res.Outcome = OutcomeSkippedDuplicate
			return res
		}
		return res.fail(fmt.Errorf("persist reply: %w", err))
	}

	res.Outcome = OutcomeProcessed
	res.Response = &response
	return res
}

func (p *Processor) recordWithoutReply(ctx context.Context, res Result, outcome Outcome) Result {
	marker := chatevent.NewProcessedMarker(res.Event, p.store.Source(), p.now())
	if err := p.store.RecordProcessed(ctx, marker); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			res.Outcome = OutcomeSkippedDuplicate
			return res
		}
		return res.fail(fmt.Errorf("record processed: %w", err))
	}
	res.Outcome = outcome
	return res
}

func (r Result) fail(err error) Result {
	r.Outcome = OutcomeFailed
	r.Err = err
	return r
}
