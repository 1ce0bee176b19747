package chatevent

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/replyflow/internal/runtime/ids"
)

func fixedIDs(t *testing.T, id string) {
	t.Helper()
	orig := ids.NewEventID
	ids.NewEventID = func() string { return id }
	t.Cleanup(func() { ids.NewEventID = orig })
}

func trigger() Event {
	return Event{
		ID:        "e1",
		EventType: "whatsup.message.received",
		Metadata:  Metadata{TraceID: "t1", CorrelationID: "c1", Source: "gateway"},
		Aggregate: Aggregate{Type: "chat", ID: "chat1", SequenceNr: "3"},
		Payload:   Payload{ChatID: "chat1", From: "A", To: "B", Text: "hi"},
	}
}

func TestNewResponseIsCausallyLinked(t *testing.T) {
	fixedIDs(t, "r1")
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	resp, err := NewResponse(trigger(), "whatsup-assistant", "hello A", now)
	require.NoError(t, err)

	assert.Equal(t, "r1", resp.ID)
	assert.Equal(t, ResponseEventType, resp.EventType)
	assert.Equal(t, "e1", resp.Metadata.CausationID)
	assert.Equal(t, "whatsup-assistant", resp.Metadata.Source)
	assert.Equal(t, "t1", resp.Metadata.TraceID)
	assert.Equal(t, "c1", resp.Metadata.CorrelationID)
	assert.Equal(t, SchemaVersion, resp.Metadata.SchemaVersion)
	assert.Equal(t, now, resp.Metadata.OccurredAt)
	assert.Equal(t, Aggregate{Type: "chat", ID: "chat1", SubType: ResponseSubType, SequenceNr: "4"}, resp.Aggregate)
	assert.Equal(t, Payload{ChatID: "chat1", From: "B", To: "A", Text: "hello A", IsFromSelf: true}, resp.Payload)
}

func TestNewResponseRejectsUnparsableSequence(t *testing.T) {
	e := trigger()
	e.Aggregate.SequenceNr = "three"

	_, err := NewResponse(e, "whatsup-assistant", "x", time.Now())
	assert.Error(t, err)
}

func TestNextSequenceNr(t *testing.T) {
	got, err := NextSequenceNr("")
	require.NoError(t, err)
	assert.Equal(t, "1", got)

	got, err = NextSequenceNr(" 41 ")
	require.NoError(t, err)
	assert.Equal(t, "42", got)

	got, err = NextSequenceNr("9223372036854775806")
	require.NoError(t, err)
	assert.Equal(t, "9223372036854775807", got)

	_, err = NextSequenceNr("9223372036854775807")
	assert.ErrorIs(t, err, strconv.ErrRange)
}

func TestNewProcessedMarkerKeepsFingerprint(t *testing.T) {
	fixedIDs(t, "m1")

	e := trigger()
	e.Aggregate.SequenceNr = "not-a-number"
	marker := NewProcessedMarker(e, "whatsup-assistant", time.Now())

	assert.Equal(t, "m1", marker.ID)
	assert.Equal(t, MarkerEventType, marker.EventType)
	assert.Equal(t, MarkerSubType, marker.Aggregate.SubType)
	assert.Equal(t, "e1", marker.Metadata.CausationID)
	assert.Equal(t, "whatsup-assistant", marker.Metadata.Source)
	assert.Equal(t, "not-a-number", marker.Aggregate.SequenceNr)
	assert.Empty(t, marker.Payload.Text)
}

func TestNewHistoryEntry(t *testing.T) {
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	e := trigger()
	e.Aggregate.ID = ""

	h := NewHistoryEntry(e, "contact", now)

	assert.Equal(t, "chat1", h.ChatID)
	assert.Equal(t, "A", h.From)
	assert.Equal(t, "B", h.To)
	assert.Equal(t, "hi", h.Text)
	assert.Equal(t, "contact", h.SenderRole)
	assert.Equal(t, "e1", h.EventID)
	assert.Equal(t, now, h.Timestamp)

	occurred := now.Add(-time.Hour)
	e.Metadata.OccurredAt = occurred
	assert.Equal(t, occurred, NewHistoryEntry(e, "owner", now).Timestamp)
}
