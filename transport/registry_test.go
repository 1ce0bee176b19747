package transport

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockConfig struct {
	pubSubSystem string
}

func (m *mockConfig) GetPubSubSystem() string       { return m.pubSubSystem }
func (m *mockConfig) GetKafkaBrokers() []string     { return nil }
func (m *mockConfig) GetKafkaClientID() string      { return "" }
func (m *mockConfig) GetKafkaConsumerGroup() string { return "" }
func (m *mockConfig) GetKafkaOffsetReset() string   { return "" }
func (m *mockConfig) GetRabbitMQURL() string        { return "" }
func (m *mockConfig) GetNATSURL() string            { return "" }

type mockPublisher struct {
	closed   int
	closeErr error
}

func (m *mockPublisher) Publish(topic string, messages ...*message.Message) error {
	return nil
}

func (m *mockPublisher) Close() error {
	m.closed++
	return m.closeErr
}

type mockSubscriber struct {
	closed   int
	closeErr error
}

func (m *mockSubscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	ch := make(chan *message.Message)
	close(ch)
	return ch, nil
}

func (m *mockSubscriber) Close() error {
	m.closed++
	return m.closeErr
}

func okBuilder(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error) {
	return Transport{
		Publisher:  &mockPublisher{},
		Subscriber: &mockSubscriber{},
	}, nil
}

func TestNewRegistry(t *testing.T) {
	reg := NewRegistry()
	assert.NotNil(t, reg)
	assert.Empty(t, reg.Names())
}

func TestRegistry_RegisterWithCapabilities(t *testing.T) {
	reg := NewRegistry()

	caps := Capabilities{
		Name:             "test-transport",
		SupportsOrdering: true,
		SupportsAck:      true,
	}
	reg.RegisterWithCapabilities("test-transport", okBuilder, caps)

	assert.True(t, reg.Has("test-transport"))
	got := reg.GetCapabilities("test-transport")
	assert.Equal(t, caps, got)
}

func TestRegistry_GetCapabilities_Unknown(t *testing.T) {
	reg := NewRegistry()
	caps := reg.GetCapabilities("unknown")
	assert.Equal(t, "unknown", caps.Name)
	assert.False(t, caps.SupportsAck)
}

func TestRegistry_Build(t *testing.T) {
	reg := NewRegistry()
	reg.Register("test-transport", okBuilder)

	tr, err := reg.Build(context.Background(), &mockConfig{pubSubSystem: "test-transport"}, nil)
	require.NoError(t, err)
	assert.NotNil(t, tr.Publisher)
	assert.NotNil(t, tr.Subscriber)
}

func TestRegistry_Build_NilConfig(t *testing.T) {
	_, err := NewRegistry().Build(context.Background(), nil, nil)
	assert.ErrorIs(t, err, ErrConfigRequired)
}

func TestRegistry_Build_UnknownTransport(t *testing.T) {
	reg := NewRegistry()
	reg.Register("kafka", okBuilder)

	_, err := reg.Build(context.Background(), &mockConfig{pubSubSystem: "unknown-transport"}, nil)
	require.ErrorIs(t, err, ErrUnknownTransport)
	assert.Contains(t, err.Error(), "kafka")
}

func TestRegistry_NamesMatchCaseInsensitively(t *testing.T) {
	reg := NewRegistry()
	caps := Capabilities{Name: "kafka", SupportsOrdering: true}
	reg.RegisterWithCapabilities("kafka", okBuilder, caps)

	tr, err := reg.Build(context.Background(), &mockConfig{pubSubSystem: " Kafka "}, nil)
	require.NoError(t, err)
	assert.NotNil(t, tr.Subscriber)
	assert.True(t, reg.Has("KAFKA"))
	assert.Equal(t, caps, reg.GetCapabilities("Kafka"))
}

func TestRegistry_Build_BuilderErrorIsWrapped(t *testing.T) {
	reg := NewRegistry()

	brokerDown := errors.New("broker unreachable")
	reg.Register("failing", func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error) {
		return Transport{}, brokerDown
	})

	_, err := reg.Build(context.Background(), &mockConfig{pubSubSystem: "failing"}, nil)
	require.ErrorIs(t, err, brokerDown)
	assert.Contains(t, err.Error(), "build failing transport")
}

func TestRegistry_NamesAreSorted(t *testing.T) {
	reg := NewRegistry()
	reg.Register("rabbitmq", okBuilder)
	reg.Register("channel", okBuilder)
	reg.Register("kafka", okBuilder)

	assert.Equal(t, []string{"channel", "kafka", "rabbitmq"}, reg.Names())
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	reg := NewRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				reg.Register("transport", okBuilder)
				reg.Has("transport")
				reg.Names()
				reg.GetCapabilities("transport")
			}
		}()
	}
	wg.Wait()

	assert.True(t, reg.Has("transport"))
}

func TestPackageLevelRegisterWithCapabilities(t *testing.T) {
	caps := Capabilities{Name: "test-pkg-caps-transport", SupportsOrdering: true}
	RegisterWithCapabilities("test-pkg-caps-transport", okBuilder, caps)

	assert.True(t, DefaultRegistry.Has("test-pkg-caps-transport"))
	assert.Equal(t, caps, GetCapabilities("test-pkg-caps-transport"))

	_, err := Build(context.Background(), &mockConfig{pubSubSystem: "nonexistent"}, nil)
	assert.Error(t, err)
}
