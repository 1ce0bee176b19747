package chatevent

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/drblury/replyflow/internal/runtime/ids"
)

const (
	SchemaVersion = "1"

	ResponseEventType = "whatsup.message.generated"
	ResponseSubType   = "MessageGenerated"

	// MarkerEventType tags event-store documents that only record that a
	// trigger was handled without a reply.
	MarkerEventType = "whatsup.message.recorded"
	MarkerSubType   = "MessageRecorded"
)

// NextSequenceNr returns seq+1. An empty sequence counts as zero.
func NextSequenceNr(seq string) (string, error) {
	seq = strings.TrimSpace(seq)
	if seq == "" {
		return "1", nil
	}
	n, err := strconv.ParseInt(seq, 10, 64)
	if err != nil {
		return "", fmt.Errorf("chatevent: sequenceNr %q: %w", seq, err)
	}
	if n == math.MaxInt64 {
		return "", fmt.Errorf("chatevent: sequenceNr %q: %w", seq, strconv.ErrRange)
	}
	return strconv.FormatInt(n+1, 10), nil
}

// NewResponse derives the reply event for trigger. The reply goes back to
// the trigger's sender, its causationId is the trigger id and its sequence
// number follows the trigger's.
func NewResponse(trigger Event, source, text string, now time.Time) (Event, error) {
	next, err := NextSequenceNr(trigger.Aggregate.SequenceNr)
	if err != nil {
		return Event{}, err
	}
	e := derive(trigger, source, now)
	e.EventType = ResponseEventType
	e.Aggregate.SubType = ResponseSubType
	e.Aggregate.SequenceNr = next
	e.Payload.Text = text
	return e, nil
}

// NewProcessedMarker derives the fingerprint document written for triggers
// that are handled without a reply (self echoes, owner messages).
func NewProcessedMarker(trigger Event, source string, now time.Time) Event {
	e := derive(trigger, source, now)
	e.EventType = MarkerEventType
	e.Aggregate.SubType = MarkerSubType
	e.Aggregate.SequenceNr = trigger.Aggregate.SequenceNr
	return e
}

func derive(trigger Event, source string, now time.Time) Event {
	chatID := trigger.Payload.ChatID
	if chatID == "" {
		chatID = trigger.Aggregate.ID
	}
	return Event{
		ID: ids.NewEventID(),
		Metadata: Metadata{
			SchemaVersion: SchemaVersion,
			Source:        source,
			TraceID:       trigger.Metadata.TraceID,
			CorrelationID: trigger.Metadata.CorrelationID,
			CausationID:   trigger.ID,
			OccurredAt:    now.UTC(),
		},
		Aggregate: Aggregate{
			Type: trigger.Aggregate.Type,
			ID:   trigger.Aggregate.ID,
		},
		Payload: Payload{
			ChatID:     chatID,
			From:       trigger.Payload.To,
			To:         trigger.Payload.From,
			IsFromSelf: true,
		},
	}
}
