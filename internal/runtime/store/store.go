// Package store is the durable store boundary of the consumer: the
// idempotency ledger (event store) and the conversation history (messages).
//
// Backends implement Documents; Store layers the chat semantics on top so the
// MongoDB and in-memory backends behave identically.
package store

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/drblury/replyflow/internal/runtime/chatevent"
)

var (
	// ErrStore marks every failure that came from the durable store.
	ErrStore = errors.New("store: operation failed")
	// ErrDuplicate is returned when a document violates a unique index.
	ErrDuplicate = errors.New("store: duplicate document")
)

// Query selects documents from a collection. Filter keys may use dotted
// paths into nested documents; values are matched by equality.
type Query struct {
	Filter     map[string]any
	SortBy     string
	Descending bool
	// Limit <= 0 means no limit.
	Limit int
}

// Documents is the generic collection boundary every backend provides.
type Documents interface {
	// Append inserts doc and returns its id. Unique index violations match
	// ErrDuplicate, anything else matches ErrStore.
	Append(ctx context.Context, collection string, doc any) (string, error)
	// Find decodes the matching documents into out, a pointer to a slice.
	Find(ctx context.Context, collection string, q Query, out any) error
	// EnsureUnique declares a unique constraint over fields. Documents that
	// lack the first field are not constrained.
	EnsureUnique(ctx context.Context, collection, name string, fields ...string) error
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// Collections names the two collections the consumer writes.
type Collections struct {
	EventStore string
	Messages   string
}

const (
	fieldCausationID = "metadata.causationId"
	fieldSource      = "metadata.source"
	fieldEventID     = "event_id"
	fieldChatID      = "chatId"
	fieldTimestamp   = "timestamp"
)

// Store implements the idempotency gate and the history read model.
// It is safe for concurrent use when the underlying Documents is.
type Store struct {
	docs   Documents
	cols   Collections
	source string
}

// New wires docs into a Store and declares the unique indexes the
// idempotency guarantees rely on.
func New(ctx context.Context, docs Documents, cols Collections, source string) (*Store, error) {
	if docs == nil {
		return nil, fmt.Errorf("%w: documents backend is nil", ErrStore)
	}
	if cols.EventStore == "" || cols.Messages == "" {
		return nil, fmt.Errorf("%w: collection names are required", ErrStore)
	}
	if source == "" {
		return nil, fmt.Errorf("%w: service source is required", ErrStore)
	}
	if err := docs.EnsureUnique(ctx, cols.EventStore, "fingerprint", fieldCausationID, fieldSource); err != nil {
		return nil, err
	}
	if err := docs.EnsureUnique(ctx, cols.Messages, "event_id", fieldEventID); err != nil {
		return nil, err
	}
	return &Store{docs: docs, cols: cols, source: source}, nil
}

// Source is the service source written into every fingerprint.
func (s *Store) Source() string { return s.source }

// HasProcessed reports whether the event store already holds a document
// caused by eventID and written by this service.
func (s *Store) HasProcessed(ctx context.Context, eventID string) (bool, error) {
	var found []bson.M
	err := s.docs.Find(ctx, s.cols.EventStore, Query{
		Filter: map[string]any{
			fieldCausationID: eventID,
			fieldSource:      s.source,
		},
		Limit: 1,
	}, &found)
	if err != nil {
		return false, err
	}
	return len(found) > 0, nil
}

// RecordProcessed persists a derived event (a response or a processed
// marker). A second document with the same fingerprint matches ErrDuplicate.
func (s *Store) RecordProcessed(ctx context.Context, derived chatevent.Event) error {
	if derived.Metadata.CausationID == "" {
		return fmt.Errorf("%w: derived event %s has no causationId", ErrStore, derived.ID)
	}
	_, err := s.docs.Append(ctx, s.cols.EventStore, derived)
	return err
}

// AppendMessage adds entry to the history. Appending the same event twice is
// a no-op.
func (s *Store) AppendMessage(ctx context.Context, entry chatevent.HistoryEntry) error {
	_, err := s.docs.Append(ctx, s.cols.Messages, entry)
	if errors.Is(err, ErrDuplicate) {
		return nil
	}
	return err
}

// History returns up to limit of the most recent entries of a chat, oldest first.
func (s *Store) History(ctx context.Context, chatID string, limit int) ([]chatevent.HistoryEntry, error) {
	var entries []chatevent.HistoryEntry
	err := s.docs.Find(ctx, s.cols.Messages, Query{
		Filter:     map[string]any{fieldChatID: chatID},
		SortBy:     fieldTimestamp,
		Descending: true,
		Limit:      limit,
	}, &entries)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

// Append and Find expose the generic boundary for callers outside the
// consumer, such as maintenance tooling.
func (s *Store) Append(ctx context.Context, collection string, doc any) (string, error) {
	return s.docs.Append(ctx, collection, doc)
}

func (s *Store) Find(ctx context.Context, collection string, q Query, out any) error {
	return s.docs.Find(ctx, collection, q, out)
}

func (s *Store) Ping(ctx context.Context) error {
	return s.docs.Ping(ctx)
}

func (s *Store) Close(ctx context.Context) error {
	return s.docs.Close(ctx)
}
