package deadletter

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	rferrors "github.com/drblury/replyflow/internal/runtime/errors"
	"github.com/drblury/replyflow/internal/runtime/ids"
	"github.com/drblury/replyflow/internal/runtime/logging"
	"github.com/drblury/replyflow/transport"
)

// DefaultFlushTimeout bounds a single dead-letter publish.
const DefaultFlushTimeout = 5 * time.Second

// ErrorTypeMetadata carries the error type on the stream message so
// consumers of the dead-letter topic can filter without decoding.
const ErrorTypeMetadata = "error_type"

// Config configures a Publisher.
type Config struct {
	Topic        string
	FlushTimeout time.Duration
	Logger       logging.ServiceLogger
	// Metrics is optional.
	Metrics *Metrics
}

// Publisher writes dead letters to a stream topic.
type Publisher struct {
	pub          message.Publisher
	topic        string
	flushTimeout time.Duration
	logger       logging.ServiceLogger
	metrics      *Metrics
	now          func() time.Time
}

// NewPublisher validates cfg and returns a Publisher writing through pub.
func NewPublisher(pub message.Publisher, cfg Config) (*Publisher, error) {
	if pub == nil {
		return nil, rferrors.ErrPublisherRequired
	}
	if cfg.Topic == "" {
		return nil, rferrors.ErrTopicRequired
	}
	if cfg.Logger == nil {
		return nil, rferrors.ErrLoggerRequired
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = DefaultFlushTimeout
	}
	return &Publisher{
		pub:          pub,
		topic:        cfg.Topic,
		flushTimeout: cfg.FlushTimeout,
		logger:       cfg.Logger,
		metrics:      cfg.Metrics,
		now:          time.Now,
	}, nil
}

// Topic returns the dead-letter topic.
func (p *Publisher) Topic() string { return p.topic }

// Publish routes rec to the dead-letter topic, keyed by its event id. It
// waits at most the flush timeout. Failures are logged and counted here; the
// returned error is informational and never a reason to stop consuming.
func (p *Publisher) Publish(ctx context.Context, rec Record) error {
	errorType := rec.errorType()
	fields := logging.LogFields{
		"event_id":   rec.key(),
		"error_type": errorType,
		"topic":      p.topic,
	}
	started := time.Now()

	doc, err := BuildDocument(rec, p.now())
	if err != nil {
		err = fmt.Errorf("build dead letter: %w", err)
		p.fail(err, rec, errorType, started)
		return err
	}

	msg := message.NewMessage(ids.CreateULID(), doc)
	msg.Metadata.Set(transport.PartitionKeyMetadata, rec.key())
	msg.Metadata.Set(ErrorTypeMetadata, errorType)

	ctx, cancel := context.WithTimeout(ctx, p.flushTimeout)
	defer cancel()
	msg.SetContext(ctx)

	done := make(chan error, 1)
	go func() {
		done <- p.pub.Publish(p.topic, msg)
	}()

	select {
	case err = <-done:
	case <-ctx.Done():
		err = fmt.Errorf("dead letter not confirmed within %s: %w", p.flushTimeout, ctx.Err())
	}
	if err != nil {
		p.fail(err, rec, errorType, started)
		return err
	}

	if p.metrics != nil {
		p.metrics.RecordRouted(p.topic, errorType, time.Since(started))
	}
	p.logger.Info("Event routed to dead letter topic", fields)
	return nil
}

func (p *Publisher) fail(err error, rec Record, errorType string, started time.Time) {
	if p.metrics != nil {
		p.metrics.RecordFailure(p.topic, errorType, time.Since(started))
	}
	// The payload is logged so a lost dead letter can still be recovered by hand.
	p.logger.Error("Failed to publish dead letter", err, logging.LogFields{
		"event_id":   rec.key(),
		"error_type": errorType,
		"topic":      p.topic,
		"raw":        string(rec.Raw),
	})
}
