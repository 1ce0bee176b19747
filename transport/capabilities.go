package transport

// Capabilities describes the delivery guarantees of a transport backend.
// The consumer loop inspects them at connect time and warns when a backend
// cannot honour ordered, acknowledged delivery.
type Capabilities struct {
	// SupportsOrdering indicates the transport guarantees message ordering.
	// When true, messages within a partition/stream are delivered in order.
	SupportsOrdering bool

	// SupportsAck indicates acknowledgements are durable, so an unacknowledged
	// message is redelivered after a restart.
	SupportsAck bool

	// SupportsNack indicates the transport supports negative acknowledgment (redelivery).
	SupportsNack bool

	// SupportsConsumerGroups indicates several processes can share the
	// inbound topic under one group name.
	SupportsConsumerGroups bool

	// SupportsPartitioning indicates published messages can be keyed, which is
	// how dead letters are keyed by event id.
	SupportsPartitioning bool

	// SupportsOffsetReset indicates the starting position of a new group can
	// be chosen (earliest/latest).
	SupportsOffsetReset bool

	// MaxMessageSize is the maximum message size in bytes (0 = unlimited/unknown).
	MaxMessageSize int64

	// Name is the human-readable name of the transport.
	Name string
}

// SupportsReliableDelivery returns true if the transport supports at-least-once
// delivery semantics (ack + nack).
func (c Capabilities) SupportsReliableDelivery() bool {
	return c.SupportsAck && c.SupportsNack
}

// Warnings lists the guarantees the consumer loop relies on that this
// transport does not give. An empty result means the backend is fully suited.
func (c Capabilities) Warnings() []string {
	var out []string
	if !c.SupportsOrdering {
		out = append(out, "messages may arrive out of order")
	}
	if !c.SupportsAck {
		out = append(out, "acknowledgements are not durable, unprocessed messages are lost on restart")
	}
	if !c.SupportsPartitioning {
		out = append(out, "dead letters cannot be keyed by event id")
	}
	return out
}

// Predefined capability sets for the built-in transports.
var (
	// ChannelCapabilities for in-memory Go channel transport.
	ChannelCapabilities = Capabilities{
		Name:             "channel",
		SupportsOrdering: true,
		SupportsAck:      false,
		SupportsNack:     true,
	}

	// KafkaCapabilities for Apache Kafka transport.
	KafkaCapabilities = Capabilities{
		Name:                   "kafka",
		SupportsOrdering:       true,
		SupportsAck:            true,
		SupportsNack:           false,
		SupportsConsumerGroups: true,
		SupportsPartitioning:   true,
		SupportsOffsetReset:    true,
		MaxMessageSize:         1048576, // Default 1MB
	}

	// RabbitMQCapabilities for RabbitMQ/AMQP transport.
	RabbitMQCapabilities = Capabilities{
		Name:                   "rabbitmq",
		SupportsOrdering:       true,
		SupportsAck:            true,
		SupportsNack:           true,
		SupportsConsumerGroups: true,
	}

	// NATSCapabilities for NATS Core transport.
	NATSCapabilities = Capabilities{
		Name:             "nats",
		SupportsOrdering: false,
		SupportsAck:      false,
		SupportsNack:     false,
		MaxMessageSize:   1048576, // Default 1MB
	}
)

// GetCapabilities returns the capabilities for a transport by name.
// Uses the registry to look up capabilities registered by each transport package.
// Returns a zero Capabilities struct if the transport is unknown.
func GetCapabilities(transportName string) Capabilities {
	return DefaultRegistry.GetCapabilities(transportName)
}
