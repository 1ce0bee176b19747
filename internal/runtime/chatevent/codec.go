package chatevent

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/drblury/replyflow/internal/runtime/jsoncodec"
)

var (
	// ErrMalformed is returned for payloads that are not a JSON object or
	// whose known fields have the wrong shape.
	ErrMalformed = errors.New("chatevent: malformed event")
	// ErrMissingID is returned for well-formed events without an id.
	ErrMissingID = errors.New("chatevent: event id is missing")
)

type wireEvent struct {
	ID        *string       `json:"_id"`
	AltID     *string       `json:"id"`
	EventType string        `json:"eventType"`
	Metadata  wireMetadata  `json:"metadata"`
	Aggregate wireAggregate `json:"aggregate"`
	Payload   Payload       `json:"payload"`
}

type wireMetadata struct {
	SchemaVersion       string   `json:"schemaVersion"`
	LegacySchemaVersion string   `json:"schema_version"`
	Source              string   `json:"source"`
	TraceID             string   `json:"traceId"`
	CorrelationID       string   `json:"correlationId"`
	CausationID         string   `json:"causationId"`
	OccurredAt          flexTime `json:"occurredAt"`
}

type wireAggregate struct {
	Type       string     `json:"type"`
	ID         string     `json:"id"`
	SubType    string     `json:"subType"`
	SequenceNr flexString `json:"sequenceNr"`
}

// flexString accepts a JSON string or number. Some producers emit
// sequenceNr as a bare number.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := jsoncodec.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	if _, err := strconv.ParseInt(string(data), 10, 64); err != nil {
		return fmt.Errorf("sequenceNr: %w", err)
	}
	*f = flexString(data)
	return nil
}

// flexTime reads occurredAt leniently. Producers send RFC 3339, zone-less
// ISO 8601 (read as UTC) or epoch seconds and milliseconds; any other value
// decodes to the zero time rather than failing the event.
type flexTime time.Time

var zonelessLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
}

// Epoch values at or above this are taken as milliseconds.
const epochMillisThreshold = 1e11

func (f *flexTime) UnmarshalJSON(data []byte) error {
	*f = flexTime(parseOccurredAt(bytes.TrimSpace(data)))
	return nil
}

func parseOccurredAt(data []byte) time.Time {
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return time.Time{}
	}
	if data[0] != '"' {
		n, err := strconv.ParseFloat(string(data), 64)
		if err != nil || math.IsInf(n, 0) || math.IsNaN(n) {
			return time.Time{}
		}
		if math.Abs(n) >= epochMillisThreshold {
			return time.UnixMilli(int64(n)).UTC()
		}
		sec, frac := math.Modf(n)
		return time.Unix(int64(sec), int64(frac*1e9)).UTC()
	}

	var s string
	if err := jsoncodec.Unmarshal(data, &s); err != nil {
		return time.Time{}
	}
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t
	}
	for _, layout := range zonelessLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// Decode parses raw into an Event. It never panics: anything that is not a
// JSON object matches ErrMalformed and an object without an id matches
// ErrMissingID. Unknown fields are ignored.
func Decode(raw []byte) (Event, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Event{}, fmt.Errorf("%w: not a JSON object", ErrMalformed)
	}

	var w wireEvent
	if err := jsoncodec.Unmarshal(trimmed, &w); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	schema := w.Metadata.SchemaVersion
	if schema == "" {
		schema = w.Metadata.LegacySchemaVersion
	}

	e := Event{
		EventType: w.EventType,
		Metadata: Metadata{
			SchemaVersion: schema,
			Source:        w.Metadata.Source,
			TraceID:       w.Metadata.TraceID,
			CorrelationID: w.Metadata.CorrelationID,
			CausationID:   w.Metadata.CausationID,
			OccurredAt:    time.Time(w.Metadata.OccurredAt),
		},
		Aggregate: Aggregate{
			Type:       w.Aggregate.Type,
			ID:         w.Aggregate.ID,
			SubType:    w.Aggregate.SubType,
			SequenceNr: string(w.Aggregate.SequenceNr),
		},
		Payload: w.Payload,
	}

	switch {
	case w.ID != nil && *w.ID != "":
		e.ID = *w.ID
	case w.AltID != nil && *w.AltID != "":
		e.ID = *w.AltID
	default:
		return e, ErrMissingID
	}
	return e, nil
}

// Encode serialises e in the wire format Decode reads.
func Encode(e Event) ([]byte, error) {
	return jsoncodec.Marshal(e)
}
