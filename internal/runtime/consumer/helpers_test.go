package consumer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/require"

	"github.com/drblury/replyflow/internal/runtime/chatevent"
	"github.com/drblury/replyflow/internal/runtime/ids"
	"github.com/drblury/replyflow/internal/runtime/logging"
	"github.com/drblury/replyflow/internal/runtime/responder"
	"github.com/drblury/replyflow/internal/runtime/store"
	"github.com/drblury/replyflow/transport"
)

const (
	inboundTopic = "whatsup.message.received"
	dlqTopic     = "whatsup.message.dlq"
	serviceName  = "whatsup-assistant"
	waitTimeout  = 5 * time.Second
)

var testCollections = store.Collections{EventStore: "event_store", Messages: "messages"}

func testLogger() logging.ServiceLogger {
	return logging.NewSlogServiceLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

type eventOption func(*chatevent.Event)

func fromSelf() eventOption {
	return func(e *chatevent.Event) { e.Payload.IsFromSelf = true }
}

func sentBy(from string) eventOption {
	return func(e *chatevent.Event) { e.Payload.From = from }
}

func withSequence(seq string) eventOption {
	return func(e *chatevent.Event) { e.Aggregate.SequenceNr = seq }
}

// rawEvent encodes an inbound message from alice to bob in chat1.
func rawEvent(t *testing.T, id string, opts ...eventOption) []byte {
	t.Helper()
	e := chatevent.Event{
		ID:        id,
		EventType: "whatsup.message.received",
		Metadata: chatevent.Metadata{
			SchemaVersion: "1",
			Source:        "gateway",
			TraceID:       "trace-" + id,
			CorrelationID: "corr-" + id,
			OccurredAt:    time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC),
		},
		Aggregate: chatevent.Aggregate{Type: "chat", ID: "chat1", SubType: "MessageReceived", SequenceNr: "3"},
		Payload:   chatevent.Payload{ChatID: "chat1", From: "alice", To: "bob", Text: "hello"},
	}
	for _, opt := range opts {
		opt(&e)
	}
	raw, err := chatevent.Encode(e)
	require.NoError(t, err)
	return raw
}

// chanSubscriber hands out the same channel on every Subscribe.
type chanSubscriber struct {
	ch     chan *message.Message
	closed atomic.Int32
}

func (s *chanSubscriber) Subscribe(context.Context, string) (<-chan *message.Message, error) {
	return s.ch, nil
}

func (s *chanSubscriber) Close() error {
	s.closed.Add(1)
	return nil
}

// capturePublisher records dead letters.
type capturePublisher struct {
	mu       sync.Mutex
	messages []*message.Message
	topics   []string
	err      error
	closed   atomic.Int32
}

func (p *capturePublisher) Publish(topic string, msgs ...*message.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.topics = append(p.topics, topic)
	p.messages = append(p.messages, msgs...)
	return nil
}

func (p *capturePublisher) Close() error {
	p.closed.Add(1)
	return nil
}

func (p *capturePublisher) published() []*message.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*message.Message(nil), p.messages...)
}

// countingResponder echoes and counts calls.
type countingResponder struct {
	calls atomic.Int32
	fn    func(ctx context.Context, req responder.Request) (string, error)
}

func (r *countingResponder) Generate(ctx context.Context, req responder.Request) (string, error) {
	r.calls.Add(1)
	if r.fn != nil {
		return r.fn(ctx, req)
	}
	return responder.Echo{}.Generate(ctx, req)
}

// faultyStore injects failures in front of a real store.
type faultyStore struct {
	*store.Store
	hasProcessedErr  error
	appendErr        error
	recordErr        error
	forceUnprocessed bool
}

func (s *faultyStore) HasProcessed(ctx context.Context, eventID string) (bool, error) {
	if s.hasProcessedErr != nil {
		return false, s.hasProcessedErr
	}
	if s.forceUnprocessed {
		return false, nil
	}
	return s.Store.HasProcessed(ctx, eventID)
}

func (s *faultyStore) AppendMessage(ctx context.Context, entry chatevent.HistoryEntry) error {
	if s.appendErr != nil {
		return s.appendErr
	}
	return s.Store.AppendMessage(ctx, entry)
}

func (s *faultyStore) RecordProcessed(ctx context.Context, derived chatevent.Event) error {
	if s.recordErr != nil {
		return s.recordErr
	}
	return s.Store.RecordProcessed(ctx, derived)
}

func newMemoryStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(context.Background(), store.NewMemory(), testCollections, serviceName)
	require.NoError(t, err)
	return s
}

func eventStoreDocs(t *testing.T, s *store.Store, causationID string) []chatevent.Event {
	t.Helper()
	var docs []chatevent.Event
	require.NoError(t, s.Find(context.Background(), testCollections.EventStore, store.Query{
		Filter: map[string]any{"metadata.causationId": causationID},
	}, &docs))
	return docs
}

type harness struct {
	t         *testing.T
	store     *store.Store
	responder *countingResponder
	inbound   *chanSubscriber
	dlq       *capturePublisher
	loop      *Loop
	outcomes  chan OutcomeInfo
	failedAck chan OutcomeInfo
	cancel    context.CancelFunc
	done      chan struct{}
	runErr    error
}

type harnessOption func(*harnessConfig)

type harnessConfig struct {
	store    Store
	ownerIDs []string
	cfg      Config
	connect  func(h *harness) ConnectFunc
	hooks    Hooks
}

func withStore(s Store) harnessOption {
	return func(c *harnessConfig) { c.store = s }
}

func withOwners(ids ...string) harnessOption {
	return func(c *harnessConfig) { c.ownerIDs = ids }
}

func withConfig(fn func(*Config)) harnessOption {
	return func(c *harnessConfig) { fn(&c.cfg) }
}

func withHooks(hooks Hooks) harnessOption {
	return func(c *harnessConfig) { c.hooks = hooks }
}

func withConnect(fn func(h *harness) ConnectFunc) harnessOption {
	return func(c *harnessConfig) { c.connect = fn }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()

	h := &harness{
		t:         t,
		store:     newMemoryStore(t),
		responder: &countingResponder{},
		inbound:   &chanSubscriber{ch: make(chan *message.Message, 16)},
		dlq:       &capturePublisher{},
		outcomes:  make(chan OutcomeInfo, 64),
		failedAck: make(chan OutcomeInfo, 64),
	}

	hc := harnessConfig{
		store: h.store,
		cfg: Config{
			InboundTopic:          inboundTopic,
			DeadLetterTopic:       dlqTopic,
			PollTimeout:           10 * time.Millisecond,
			MaxPollRecords:        DefaultMaxPollRecords,
			Backoff:               Backoff{Base: time.Millisecond, Max: 4 * time.Millisecond},
			FailurePause:          time.Millisecond,
			DLQFlushTimeout:       time.Second,
			PublisherCloseTimeout: 100 * time.Millisecond,
		},
		connect: func(h *harness) ConnectFunc {
			return func(context.Context) (transport.Transport, error) {
				return transport.Transport{Publisher: h.dlq, Subscriber: h.inbound}, nil
			}
		},
	}
	for _, opt := range opts {
		opt(&hc)
	}

	processor, err := NewProcessor(ProcessorConfig{Store: hc.store, Responder: h.responder, OwnerIDs: hc.ownerIDs})
	require.NoError(t, err)

	h.loop, err = New(hc.cfg, Dependencies{
		Processor: processor,
		Logger:    testLogger(),
		Connect:   hc.connect(h),
		Hooks: Hooks{
			OnOutcome:       func(info OutcomeInfo) { h.outcomes <- info },
			OnCommitFailure: func(info OutcomeInfo) { h.failedAck <- info },
		}.Merge(hc.hooks),
	})
	require.NoError(t, err)
	return h
}

func (h *harness) start() {
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.done = make(chan struct{})
	go func() {
		h.runErr = h.loop.Run(ctx)
		close(h.done)
	}()
	h.t.Cleanup(func() {
		cancel()
		select {
		case <-h.done:
		case <-time.After(waitTimeout):
		}
	})
}

func (h *harness) stop() error {
	h.t.Helper()
	h.cancel()
	select {
	case <-h.done:
		return h.runErr
	case <-time.After(waitTimeout):
		h.t.Fatal("loop did not stop")
		return nil
	}
}

func (h *harness) push(raw []byte) *message.Message {
	msg := message.NewMessage(ids.CreateULID(), raw)
	h.inbound.ch <- msg
	return msg
}

func (h *harness) nextOutcome() OutcomeInfo {
	h.t.Helper()
	select {
	case info := <-h.outcomes:
		return info
	case <-time.After(waitTimeout):
		h.t.Fatal("no outcome reported")
		return OutcomeInfo{}
	}
}

func (h *harness) requireAcked(msg *message.Message) {
	h.t.Helper()
	select {
	case <-msg.Acked():
	case <-time.After(waitTimeout):
		h.t.Fatalf("message %s was not acknowledged", msg.UUID)
	}
}

var errBoom = errors.New("boom")
