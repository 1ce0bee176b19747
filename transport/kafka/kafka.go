// Package kafka provides the Kafka transport: a consumer group subscriber for
// the inbound topic and a synchronous, fully acknowledged publisher whose
// messages are keyed by the transport.PartitionKeyMetadata entry.
package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/replyflow/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "kafka"

const sessionTimeout = 10 * time.Second

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg kafka.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return kafka.NewPublisher(cfg, logger)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg kafka.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return kafka.NewSubscriber(cfg, logger)
}

func init() {
	Register()
}

// Register registers the Kafka transport with the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.KafkaCapabilities)
}

// Build creates a new Kafka transport.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	brokers := cfg.GetKafkaBrokers()
	consumerGroup := cfg.GetKafkaConsumerGroup()

	subscriberSarama, err := SubscriberSaramaConfig(cfg.GetKafkaClientID(), cfg.GetKafkaOffsetReset())
	if err != nil {
		return transport.Transport{}, err
	}

	publisher, err := PublisherFactory(
		kafka.PublisherConfig{
			Brokers:               brokers,
			Marshaler:             kafka.NewWithPartitioningMarshaler(PartitionKey),
			OverwriteSaramaConfig: PublisherSaramaConfig(cfg.GetKafkaClientID()),
		},
		logger,
	)
	if err != nil {
		return transport.Transport{}, err
	}

	subscriber, err := SubscriberFactory(
		kafka.SubscriberConfig{
			Brokers:               brokers,
			Unmarshaler:           kafka.DefaultMarshaler{},
			ConsumerGroup:         consumerGroup,
			OverwriteSaramaConfig: subscriberSarama,
		},
		logger,
	)
	if err != nil {
		_ = publisher.Close()
		return transport.Transport{}, err
	}

	return transport.Transport{
		Publisher:  publisher,
		Subscriber: subscriber,
	}, nil
}

// PartitionKey keys outgoing messages by the transport.PartitionKeyMetadata
// entry. Messages without one fall back to their watermill UUID.
func PartitionKey(_ string, msg *message.Message) (string, error) {
	if key := msg.Metadata.Get(transport.PartitionKeyMetadata); key != "" {
		return key, nil
	}
	return msg.UUID, nil
}

// SubscriberSaramaConfig returns the consumer configuration. Offsets are only
// marked when the consumer loop acknowledges a message, so a message whose
// outcome was never resolved is redelivered to the group.
func SubscriberSaramaConfig(clientID, offsetReset string) (*sarama.Config, error) {
	c := kafka.DefaultSaramaSubscriberConfig()
	if clientID != "" {
		c.ClientID = clientID
	}
	switch offsetReset {
	case "", "earliest":
		c.Consumer.Offsets.Initial = sarama.OffsetOldest
	case "latest":
		c.Consumer.Offsets.Initial = sarama.OffsetNewest
	default:
		return nil, fmt.Errorf("kafka: unsupported offset reset %q", offsetReset)
	}
	c.Consumer.Group.Session.Timeout = sessionTimeout
	return c, nil
}

// PublisherSaramaConfig returns the dead-letter producer configuration: every
// in-sync replica must acknowledge before Publish returns.
func PublisherSaramaConfig(clientID string) *sarama.Config {
	c := kafka.DefaultSaramaSyncPublisherConfig()
	if clientID != "" {
		c.ClientID = clientID
	}
	c.Producer.RequiredAcks = sarama.WaitForAll
	c.Producer.Retry.Max = 5
	c.Net.MaxOpenRequests = 1
	return c
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.KafkaCapabilities
}
