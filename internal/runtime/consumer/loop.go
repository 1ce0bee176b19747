// Package consumer runs the inbound chat stream: it connects through the
// transport registry, polls messages, resolves each one to an Outcome,
// routes failures to the dead-letter topic and acknowledges every message
// once its outcome is known.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/drblury/replyflow/internal/runtime/deadletter"
	rferrors "github.com/drblury/replyflow/internal/runtime/errors"
	"github.com/drblury/replyflow/internal/runtime/logging"
	"github.com/drblury/replyflow/transport"
)

const tracerName = "github.com/drblury/replyflow/consumer"

const (
	DefaultPollTimeout           = time.Second
	DefaultMaxPollRecords        = 50
	DefaultFailurePause          = time.Second
	DefaultPublisherCloseTimeout = 2 * time.Second
)

// ErrAlreadyRunning is returned by Run when the loop is already running.
var ErrAlreadyRunning = errors.New("consumer: loop already running")

// ConnectFunc opens a fresh pair of stream handles.
type ConnectFunc func(ctx context.Context) (transport.Transport, error)

// ConnectFactory builds the ConnectFunc used when Dependencies.Connect is
// nil. Tests replace it.
var ConnectFactory = func(cfg transport.Config, logger watermill.LoggerAdapter) ConnectFunc {
	return func(ctx context.Context) (transport.Transport, error) {
		return transport.Build(ctx, cfg, logger)
	}
}

// Config holds the loop's topics and timings. Zero durations fall back to
// the defaults.
type Config struct {
	InboundTopic    string
	DeadLetterTopic string

	PollTimeout           time.Duration
	MaxPollRecords        int
	Backoff               Backoff
	FailurePause          time.Duration
	DLQFlushTimeout       time.Duration
	PublisherCloseTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.PollTimeout <= 0 {
		c.PollTimeout = DefaultPollTimeout
	}
	if c.MaxPollRecords <= 0 {
		c.MaxPollRecords = DefaultMaxPollRecords
	}
	if c.FailurePause < 0 {
		c.FailurePause = 0
	}
	if c.PublisherCloseTimeout <= 0 {
		c.PublisherCloseTimeout = DefaultPublisherCloseTimeout
	}
	if c.DLQFlushTimeout <= 0 {
		c.DLQFlushTimeout = deadletter.DefaultFlushTimeout
	}
	return c
}

// Dependencies are the collaborators of a Loop.
type Dependencies struct {
	Processor *Processor
	Logger    logging.ServiceLogger

	// Connect opens the stream handles. When nil, ConnectFactory is applied
	// to Transport.
	Connect   ConnectFunc
	Transport transport.Config

	DeadLetterMetrics *deadletter.Metrics
	Hooks             Hooks
	// Tracer defaults to the global otel tracer provider.
	Tracer trace.Tracer
}

// Loop is the single-threaded consumer. Messages are processed strictly in
// delivery order, one at a time.
type Loop struct {
	cfg       Config
	processor *Processor
	logger    logging.ServiceLogger
	connect   ConnectFunc
	dlqStats  *deadletter.Metrics
	hooks     Hooks
	tracer    trace.Tracer

	state   atomic.Int32
	running atomic.Bool
	sleep   func(ctx context.Context, d time.Duration) bool
}

// New validates the configuration and returns an idle Loop.
func New(cfg Config, deps Dependencies) (*Loop, error) {
	if cfg.InboundTopic == "" || cfg.DeadLetterTopic == "" {
		return nil, rferrors.ErrTopicRequired
	}
	if deps.Processor == nil {
		return nil, fmt.Errorf("consumer: processor is required")
	}
	if deps.Logger == nil {
		return nil, rferrors.ErrLoggerRequired
	}
	connect := deps.Connect
	if connect == nil {
		if deps.Transport == nil {
			return nil, rferrors.ErrConfigRequired
		}
		connect = ConnectFactory(deps.Transport, logging.NewWatermillAdapter(deps.Logger))
	}
	tracer := deps.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}

	l := &Loop{
		cfg:       cfg.withDefaults(),
		processor: deps.Processor,
		logger:    deps.Logger.With(logging.LogFields{"topic": cfg.InboundTopic}),
		connect:   connect,
		dlqStats:  deps.DeadLetterMetrics,
		hooks:     deps.Hooks,
		tracer:    tracer,
		sleep:     sleepContext,
	}
	l.state.Store(int32(StateDisconnected))
	return l, nil
}

// State returns the current state. Safe for concurrent use.
func (l *Loop) State() State {
	return State(l.state.Load())
}

func (l *Loop) setState(to State) {
	from := State(l.state.Swap(int32(to)))
	if from != to && l.hooks.OnStateChange != nil {
		l.hooks.OnStateChange(from, to)
	}
}

// Run consumes until ctx is cancelled. Cancellation is observed between
// polls and during backoff, never while a message is being processed. Run
// returns nil after a cooperative shutdown.
func (l *Loop) Run(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer l.running.Store(false)
	defer l.setState(StateStopped)

	attempt := 0
	for {
		if ctx.Err() != nil {
			l.setState(StateShuttingDown)
			return nil
		}

		l.setState(StateConnecting)
		sess, err := l.open(ctx)
		if err != nil {
			if ctx.Err() != nil {
				l.setState(StateShuttingDown)
				return nil
			}
			attempt++
			l.setState(StateDisconnected)
			if !l.backoff(ctx, attempt, err) {
				l.setState(StateShuttingDown)
				return nil
			}
			continue
		}

		l.logger.Info("Consumer connected", logging.LogFields{"dead_letter_topic": l.cfg.DeadLetterTopic})
		lossErr := l.consume(ctx, sess)
		if lossErr == nil {
			l.setState(StateShuttingDown)
			l.closeSession(sess)
			l.logger.Info("Consumer stopped", nil)
			return nil
		}

		l.closeSession(sess)
		l.setState(StateDisconnected)
		if sess.delivered {
			attempt = 0
		}
		attempt++
		if !l.backoff(ctx, attempt, lossErr) {
			l.setState(StateShuttingDown)
			return nil
		}
	}
}

// backoff waits before reconnect attempt; false means shutdown was requested.
func (l *Loop) backoff(ctx context.Context, attempt int, cause error) bool {
	delay := l.cfg.Backoff.Delay(attempt)
	l.logger.Error("Stream unavailable, retrying", cause, logging.LogFields{
		"attempt":  attempt,
		"retry_in": delay.String(),
	})
	if l.hooks.OnReconnect != nil {
		l.hooks.OnReconnect(attempt, delay, cause)
	}
	return l.sleep(ctx, delay)
}

type session struct {
	transport   transport.Transport
	messages    <-chan *message.Message
	cancel      context.CancelFunc
	deadLetters *deadletter.Publisher
	delivered   bool
}

func (l *Loop) open(ctx context.Context) (*session, error) {
	t, err := l.connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if t.Subscriber == nil || t.Publisher == nil {
		_ = t.Close()
		return nil, fmt.Errorf("connect: transport is missing a publisher or subscriber")
	}

	// The subscription outlives ctx so the in-flight message can still be
	// acknowledged after shutdown was requested.
	subCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	messages, err := t.Subscriber.Subscribe(subCtx, l.cfg.InboundTopic)
	if err != nil {
		cancel()
		_ = t.Close()
		return nil, fmt.Errorf("subscribe %s: %w", l.cfg.InboundTopic, err)
	}

	dlq, err := deadletter.NewPublisher(t.Publisher, deadletter.Config{
		Topic:        l.cfg.DeadLetterTopic,
		FlushTimeout: l.cfg.DLQFlushTimeout,
		Logger:       l.logger,
		Metrics:      l.dlqStats,
	})
	if err != nil {
		cancel()
		_ = t.Close()
		return nil, err
	}

	return &session{transport: t, messages: messages, cancel: cancel, deadLetters: dlq}, nil
}

// closeSession closes the publisher within the configured timeout, then the
// subscriber.
func (l *Loop) closeSession(s *session) {
	pub, sub := s.transport.Publisher, s.transport.Subscriber

	done := make(chan error, 1)
	go func() { done <- pub.Close() }()
	timer := time.NewTimer(l.cfg.PublisherCloseTimeout)
	defer timer.Stop()
	select {
	case err := <-done:
		if err != nil {
			l.logger.Error("Error closing publisher", err, nil)
		}
	case <-timer.C:
		l.logger.Error("Publisher did not close in time", context.DeadlineExceeded, logging.LogFields{
			"timeout": l.cfg.PublisherCloseTimeout.String(),
		})
	}

	s.cancel()
	if any(sub) != any(pub) {
		if err := sub.Close(); err != nil {
			l.logger.Error("Error closing subscriber", err, nil)
		}
	}
}

var errSubscriptionClosed = errors.New("consumer: subscription closed")

// consume polls and processes until shutdown (nil) or connection loss.
func (l *Loop) consume(ctx context.Context, s *session) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		l.setState(StatePolling)
		batch, closed := l.poll(ctx, s.messages)
		for i, msg := range batch {
			if i > 0 && ctx.Err() != nil {
				// The rest of the batch stays unacknowledged and is redelivered.
				break
			}
			s.delivered = true
			l.handle(ctx, msg, s.deadLetters)
		}

		if closed {
			if ctx.Err() != nil {
				return nil
			}
			return errSubscriptionClosed
		}
	}
}

// poll waits up to PollTimeout for the first message and then drains what
// is already available, up to MaxPollRecords. closed reports that the
// subscription channel was closed.
func (l *Loop) poll(ctx context.Context, messages <-chan *message.Message) (batch []*message.Message, closed bool) {
	timer := time.NewTimer(l.cfg.PollTimeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, false
	case <-timer.C:
		return nil, false
	case msg, ok := <-messages:
		if !ok {
			return nil, true
		}
		batch = append(batch, msg)
	}

	for len(batch) < l.cfg.MaxPollRecords {
		select {
		case msg, ok := <-messages:
			if !ok {
				return batch, true
			}
			batch = append(batch, msg)
		default:
			return batch, false
		}
	}
	return batch, false
}

// handle resolves one message and acknowledges it. Processing runs on a
// context detached from ctx so a started message always completes.
func (l *Loop) handle(ctx context.Context, msg *message.Message, dlq *deadletter.Publisher) {
	procCtx, span := l.tracer.Start(context.WithoutCancel(ctx), "replyflow.consume",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.destination.name", l.cfg.InboundTopic),
			attribute.String("messaging.message.id", msg.UUID),
		),
	)
	defer span.End()

	l.setState(StateProcessing)
	started := time.Now()
	res := l.processor.Process(procCtx, msg.Payload)

	info := OutcomeInfo{
		MessageUUID: msg.UUID,
		EventID:     res.Event.ID,
		ChatID:      res.Event.ConversationID(),
		Outcome:     res.Outcome,
		Err:         res.Err,
	}
	span.SetAttributes(
		attribute.String("replyflow.event_id", info.EventID),
		attribute.String("replyflow.outcome", info.Outcome.String()),
	)
	if res.Event.Metadata.TraceID != "" {
		span.SetAttributes(attribute.String("replyflow.trace_id", res.Event.Metadata.TraceID))
	}

	if res.Outcome == OutcomeFailed {
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, res.Err.Error())
		if err := dlq.Publish(procCtx, res.DeadLetter()); err != nil {
			span.SetAttributes(attribute.Bool("replyflow.dead_letter_lost", true))
		}
	}

	info.Duration = time.Since(started)
	l.logOutcome(info, res)
	if l.hooks.OnOutcome != nil {
		l.hooks.OnOutcome(info)
	}

	l.setState(StateCommitting)
	if !msg.Ack() {
		l.logger.Error("Failed to commit message", errors.New("acknowledgement rejected"), outcomeFields(info))
		if l.hooks.OnCommitFailure != nil {
			l.hooks.OnCommitFailure(info)
		}
	}

	if res.Outcome == OutcomeFailed && l.cfg.FailurePause > 0 {
		l.sleep(ctx, l.cfg.FailurePause)
	}
}

func outcomeFields(info OutcomeInfo) logging.LogFields {
	fields := logging.LogFields{
		"message_uuid": info.MessageUUID,
		"outcome":      info.Outcome.String(),
	}
	if info.EventID != "" {
		fields["event_id"] = info.EventID
	}
	if info.ChatID != "" {
		fields["chat_id"] = info.ChatID
	}
	return fields
}

func (l *Loop) logOutcome(info OutcomeInfo, res Result) {
	fields := outcomeFields(info)
	fields["duration_ms"] = info.Duration.Milliseconds()

	switch info.Outcome {
	case OutcomeProcessed:
		if res.Response != nil {
			fields["response_id"] = res.Response.ID
			fields["sequence_nr"] = res.Response.Aggregate.SequenceNr
		}
		l.logger.Info("Event processed", fields)
	case OutcomeSkippedDuplicate:
		l.logger.Info("Skipping already-processed event", fields)
	case OutcomeSkippedSelfEcho:
		l.logger.Info("Message from self, no response needed", fields)
	case OutcomeSkippedMalformed:
		fields["reason"] = info.Err.Error()
		l.logger.Info("Skipping malformed message", fields)
	case OutcomeFailed:
		l.logger.Error("Failed processing event", info.Err, fields)
	}
}

// sleepContext waits d or until ctx is done; it reports whether the full
// duration elapsed.
func sleepContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
