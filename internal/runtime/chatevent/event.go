// Package chatevent holds the chat event model consumed from the inbound
// stream and the documents derived from it.
package chatevent

import "time"

// Event is the unit of work read from the inbound topic. The same shape is
// used for derived responses and processed markers written to the event store.
type Event struct {
	ID        string    `json:"_id" bson:"_id"`
	EventType string    `json:"eventType" bson:"eventType"`
	Metadata  Metadata  `json:"metadata" bson:"metadata"`
	Aggregate Aggregate `json:"aggregate" bson:"aggregate"`
	Payload   Payload   `json:"payload" bson:"payload"`
}

// Metadata carries the causal chain. (CausationID, Source) of a derived event
// is the idempotency fingerprint of its trigger.
type Metadata struct {
	SchemaVersion string    `json:"schemaVersion,omitempty" bson:"schemaVersion,omitempty"`
	Source        string    `json:"source,omitempty" bson:"source,omitempty"`
	TraceID       string    `json:"traceId,omitempty" bson:"traceId,omitempty"`
	CorrelationID string    `json:"correlationId,omitempty" bson:"correlationId,omitempty"`
	CausationID   string    `json:"causationId,omitempty" bson:"causationId,omitempty"`
	OccurredAt    time.Time `json:"occurredAt" bson:"occurredAt"`
}

// Aggregate identifies the conversation an event belongs to.
type Aggregate struct {
	Type string `json:"type,omitempty" bson:"type,omitempty"`
	// ID is the conversation id.
	ID      string `json:"id,omitempty" bson:"id,omitempty"`
	SubType string `json:"subType,omitempty" bson:"subType,omitempty"`
	// SequenceNr is a decimal counter kept as a string on the wire.
	SequenceNr string `json:"sequenceNr,omitempty" bson:"sequenceNr,omitempty"`
}

type Payload struct {
	ChatID     string `json:"chatId,omitempty" bson:"chatId,omitempty"`
	From       string `json:"from,omitempty" bson:"from,omitempty"`
	To         string `json:"to,omitempty" bson:"to,omitempty"`
	Text       string `json:"text" bson:"text"`
	IsFromSelf bool   `json:"isFromSelf" bson:"isFromSelf"`
}

// ConversationID returns the aggregate id, falling back to the payload chat id.
func (e Event) ConversationID() string {
	if e.Aggregate.ID != "" {
		return e.Aggregate.ID
	}
	return e.Payload.ChatID
}

// HistoryEntry is the read-model document appended to the messages
// collection for every decoded, non-duplicate event.
type HistoryEntry struct {
	ChatID     string    `json:"chatId" bson:"chatId"`
	From       string    `json:"from" bson:"from"`
	To         string    `json:"to" bson:"to"`
	Text       string    `json:"text" bson:"text"`
	IsFromSelf bool      `json:"isFromSelf" bson:"isFromSelf"`
	SenderRole string    `json:"senderRole" bson:"senderRole"`
	Timestamp  time.Time `json:"timestamp" bson:"timestamp"`
	EventID    string    `json:"event_id" bson:"event_id"`
	EventType  string    `json:"eventType" bson:"eventType"`
}

// NewHistoryEntry builds the history document for e. Events without an
// occurredAt are stamped with now.
func NewHistoryEntry(e Event, senderRole string, now time.Time) HistoryEntry {
	ts := e.Metadata.OccurredAt
	if ts.IsZero() {
		ts = now.UTC()
	}
	return HistoryEntry{
		ChatID:     e.ConversationID(),
		From:       e.Payload.From,
		To:         e.Payload.To,
		Text:       e.Payload.Text,
		IsFromSelf: e.Payload.IsFromSelf,
		SenderRole: senderRole,
		Timestamp:  ts,
		EventID:    e.ID,
		EventType:  e.EventType,
	}
}
