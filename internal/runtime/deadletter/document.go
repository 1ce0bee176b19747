// Package deadletter routes events whose processing failed to the
// dead-letter topic.
//
// A dead letter is the original event document with three metadata fields
// added or replaced: errorType, error and occurredAt. Every other byte of the
// original document is carried over untouched so the event can be replayed.
package deadletter

import (
	"encoding/base64"
	"errors"
	"time"
	"unicode/utf8"

	"github.com/drblury/replyflow/internal/runtime/jsoncodec"
	"github.com/drblury/replyflow/internal/runtime/responder"
	"github.com/drblury/replyflow/internal/runtime/store"
)

// Error types written to metadata.errorType.
const (
	ErrorTypeSystem    = "System Error"
	ErrorTypeStore     = "Store Error"
	ErrorTypeResponder = "Responder Error"
)

// UnknownEventID keys dead letters whose event id could not be read.
const UnknownEventID = "unknown"

// Record describes a failed event.
type Record struct {
	// EventID is the decoded event id, empty when decoding failed.
	EventID string
	// Raw holds the bytes exactly as they were received.
	Raw []byte
	// ErrorType overrides the classification of Err when set.
	ErrorType string
	Err       error
}

func (r Record) key() string {
	if r.EventID == "" {
		return UnknownEventID
	}
	return r.EventID
}

func (r Record) errorType() string {
	if r.ErrorType != "" {
		return r.ErrorType
	}
	return Classify(r.Err)
}

// Classify maps a processing error to its dead-letter error type.
func Classify(err error) string {
	switch {
	case errors.Is(err, store.ErrStore):
		return ErrorTypeStore
	case errors.Is(err, responder.ErrResponder):
		return ErrorTypeResponder
	default:
		return ErrorTypeSystem
	}
}

type failureMetadata struct {
	ErrorType  string `json:"errorType"`
	Error      string `json:"error"`
	OccurredAt string `json:"occurredAt"`
}

// rawFallback wraps payloads that are not a JSON object. Bytes that are not
// valid UTF-8 cannot survive a JSON string and travel base64-encoded instead.
type rawFallback struct {
	ID        string          `json:"_id"`
	Metadata  failureMetadata `json:"metadata"`
	Raw       *string         `json:"raw,omitempty"`
	RawBase64 string          `json:"raw_base64,omitempty"`
}

// BuildDocument renders the dead-letter document for rec. When rec.Raw is a
// JSON object the result is rec.Raw with only the metadata value rewritten;
// otherwise the raw payload is wrapped in a fallback document.
func BuildDocument(rec Record, now time.Time) ([]byte, error) {
	failure := failureMetadata{
		ErrorType:  rec.errorType(),
		OccurredAt: now.UTC().Format(time.RFC3339Nano),
	}
	if rec.Err != nil {
		failure.Error = rec.Err.Error()
	}

	if !isObject(rec.Raw) {
		return buildFallback(rec, failure)
	}

	// A non-object metadata value cannot carry the failure fields and is replaced.
	meta := []byte("{}")
	if existing, ok := memberValue(rec.Raw, "metadata"); ok && isObject(existing) {
		meta = existing
	}

	fields := make([]field, 0, 3)
	for _, kv := range [][2]string{
		{"errorType", failure.ErrorType},
		{"error", failure.Error},
		{"occurredAt", failure.OccurredAt},
	} {
		encoded, err := jsoncodec.Marshal(kv[1])
		if err != nil {
			return nil, err
		}
		fields = append(fields, field{key: kv[0], value: encoded})
	}

	merged, err := setMembers(meta, fields)
	if err != nil {
		return nil, err
	}
	return setMembers(rec.Raw, []field{{key: "metadata", value: merged}})
}

func buildFallback(rec Record, failure failureMetadata) ([]byte, error) {
	doc := rawFallback{ID: rec.key(), Metadata: failure}
	if utf8.Valid(rec.Raw) {
		raw := string(rec.Raw)
		doc.Raw = &raw
	} else {
		doc.RawBase64 = base64.StdEncoding.EncodeToString(rec.Raw)
	}
	return jsoncodec.Marshal(doc)
}
