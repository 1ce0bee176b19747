package main

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/replyflow/internal/runtime/config"
	rferrors "github.com/drblury/replyflow/internal/runtime/errors"
	"github.com/drblury/replyflow/internal/runtime/responder"
)

func missingEnvFile(t *testing.T) string {
	return filepath.Join(t.TempDir(), "missing.env")
}

func TestRunPrintConfigRedactsSecrets(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-very-secret")
	t.Setenv("MONGODB_URI", "mongodb://user:hunter2@db:27017")

	var out bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"--env-file", missingEnvFile(t), "--print-config"}, &out))

	assert.NotContains(t, out.String(), "sk-very-secret")
	assert.NotContains(t, out.String(), "hunter2")
	assert.Contains(t, out.String(), "whatsup.message.received")
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	t.Setenv("RESPONDER_BACKEND", config.ResponderBackendOpenAI)
	t.Setenv("OPENAI_API_KEY", "")

	err := run(context.Background(), []string{"--env-file", missingEnvFile(t)}, &bytes.Buffer{})
	var validation rferrors.ConfigValidationError
	require.True(t, errors.As(err, &validation), "got %v", err)
	assert.Contains(t, err.Error(), "openai: API key is required")
}

func TestRunRejectsUnknownFlag(t *testing.T) {
	assert.Error(t, run(context.Background(), []string{"--no-such-flag"}, &bytes.Buffer{}))
}

func TestRunStopsOnSignal(t *testing.T) {
	t.Setenv("PUBSUB_SYSTEM", "channel")
	t.Setenv("STORE_BACKEND", config.StoreBackendMemory)
	t.Setenv("RESPONDER_BACKEND", config.ResponderBackendEcho)
	t.Setenv("METRICS_ENABLED", "false")
	t.Setenv("CONSUMER_POLL_TIMEOUT", "10ms")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	var logs bytes.Buffer
	go func() {
		done <- run(ctx, []string{"--env-file", missingEnvFile(t), "--log-format", "text"}, &syncBuffer{buf: &logs})
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("run did not return after cancellation")
	}
}

func TestNewResponder(t *testing.T) {
	cfg := config.Default()

	cfg.ResponderBackend = config.ResponderBackendEcho
	r, err := newResponder(&cfg, nil)
	require.NoError(t, err)
	assert.IsType(t, responder.Echo{}, r)

	cfg.ResponderBackend = config.ResponderBackendOpenAI
	r, err = newResponder(&cfg, nil)
	require.NoError(t, err)
	assert.IsType(t, &responder.OpenAI{}, r)

	cfg.ResponderBackend = "oracle"
	_, err = newResponder(&cfg, nil)
	assert.Error(t, err)
}

func TestOpenStoreMemory(t *testing.T) {
	cfg := config.Default()
	cfg.StoreBackend = config.StoreBackendMemory

	s, err := openStore(context.Background(), &cfg)
	require.NoError(t, err)
	assert.Equal(t, cfg.ServiceSource, s.Source())
	assert.NoError(t, s.Ping(context.Background()))

	cfg.StoreBackend = "cassandra"
	_, err = openStore(context.Background(), &cfg)
	assert.Error(t, err)
}
