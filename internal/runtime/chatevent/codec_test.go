package chatevent

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleEvent = `{
	"_id": "e1",
	"eventType": "whatsup.message.received",
	"metadata": {
		"schemaVersion": "1",
		"source": "whatsup-gateway",
		"traceId": "t1",
		"correlationId": "c1",
		"causationId": "",
		"occurredAt": "2025-03-01T10:00:00.123456+00:00"
	},
	"aggregate": {"type": "chat", "id": "chat1", "subType": "MessageReceived", "sequenceNr": "3"},
	"payload": {"chatId": "chat1", "from": "A", "to": "B", "text": "hi", "isFromSelf": false},
	"extra": {"ignored": true}
}`

func TestDecodeFullEvent(t *testing.T) {
	e, err := Decode([]byte(sampleEvent))
	require.NoError(t, err)

	assert.Equal(t, "e1", e.ID)
	assert.Equal(t, "whatsup.message.received", e.EventType)
	assert.Equal(t, "t1", e.Metadata.TraceID)
	assert.Equal(t, "c1", e.Metadata.CorrelationID)
	assert.Equal(t, time.Date(2025, 3, 1, 10, 0, 0, 123456000, time.UTC), e.Metadata.OccurredAt.UTC())
	assert.Equal(t, "chat1", e.Aggregate.ID)
	assert.Equal(t, "3", e.Aggregate.SequenceNr)
	assert.Equal(t, Payload{ChatID: "chat1", From: "A", To: "B", Text: "hi"}, e.Payload)
}

func TestDecodeToleratesMissingOptionalFields(t *testing.T) {
	e, err := Decode([]byte(`{"_id":"e2"}`))
	require.NoError(t, err)
	assert.Equal(t, "e2", e.ID)
	assert.True(t, e.Metadata.OccurredAt.IsZero())
	assert.Empty(t, e.Aggregate.SequenceNr)
}

func TestDecodeAcceptsBareIDAndLegacyFields(t *testing.T) {
	e, err := Decode([]byte(`{"id":"e3","metadata":{"schema_version":"1"},"aggregate":{"sequenceNr":7}}`))
	require.NoError(t, err)
	assert.Equal(t, "e3", e.ID)
	assert.Equal(t, "1", e.Metadata.SchemaVersion)
	assert.Equal(t, "7", e.Aggregate.SequenceNr)
}

func TestDecodeMalformed(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"empty", ""},
		{"not json", "hello there"},
		{"array", `[1,2,3]`},
		{"null", `null`},
		{"string", `"e1"`},
		{"truncated", `{"_id":"e1"`},
		{"wrong field type", `{"_id":"e1","payload":{"isFromSelf":"yes"}}`},
		{"bad sequence", `{"_id":"e1","aggregate":{"sequenceNr":1.5}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotPanics(t, func() {
				_, err := Decode([]byte(tt.raw))
				assert.ErrorIs(t, err, ErrMalformed)
				assert.NotErrorIs(t, err, ErrMissingID)
			})
		})
	}
}

func TestDecodeOccurredAtFormats(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  time.Time
	}{
		{"rfc3339", `"2024-05-01T12:00:00+02:00"`, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)},
		{"zone-less iso", `"2024-05-01T10:00:00.123456"`, time.Date(2024, 5, 1, 10, 0, 0, 123456000, time.UTC)},
		{"space separated", `"2024-05-01 10:00:00"`, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)},
		{"epoch millis", `1714557600000`, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)},
		{"epoch seconds", `1714557600`, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := Decode([]byte(`{"_id":"e1","metadata":{"occurredAt":` + tt.value + `}}`))
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(e.Metadata.OccurredAt), "got %s", e.Metadata.OccurredAt)
		})
	}
}

func TestDecodeUnreadableOccurredAtIsZero(t *testing.T) {
	for _, value := range []string{`"yesterday"`, `""`, `null`, `true`, `{"ts":1}`} {
		e, err := Decode([]byte(`{"_id":"e1","metadata":{"occurredAt":` + value + `},"payload":{"text":"hi"}}`))
		require.NoError(t, err, value)
		assert.Equal(t, "e1", e.ID, value)
		assert.Equal(t, "hi", e.Payload.Text, value)
		assert.True(t, e.Metadata.OccurredAt.IsZero(), value)
	}
}

func TestDecodeMissingID(t *testing.T) {
	for _, raw := range []string{`{}`, `{"_id":""}`, `{"payload":{"text":"hi"}}`} {
		e, err := Decode([]byte(raw))
		assert.ErrorIs(t, err, ErrMissingID, raw)
		assert.NotErrorIs(t, err, ErrMalformed, raw)
		assert.Empty(t, e.ID)
	}
}

func TestEncodeDecodes(t *testing.T) {
	in, err := Decode([]byte(sampleEvent))
	require.NoError(t, err)

	raw, err := Encode(in)
	require.NoError(t, err)

	out, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, in.ID, out.ID)
	assert.Equal(t, in.Payload, out.Payload)
	assert.Equal(t, in.Aggregate, out.Aggregate)
	assert.True(t, in.Metadata.OccurredAt.Equal(out.Metadata.OccurredAt))
}
