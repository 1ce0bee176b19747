// Command replyflow consumes chat events from the inbound stream, answers
// them through the configured responder and records the replies in the
// durable store. It exits non-zero when the consumer loop dies so a process
// supervisor can restart it.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"

	"github.com/drblury/replyflow/internal/runtime/config"
	"github.com/drblury/replyflow/internal/runtime/consumer"
	"github.com/drblury/replyflow/internal/runtime/deadletter"
	rferrors "github.com/drblury/replyflow/internal/runtime/errors"
	"github.com/drblury/replyflow/internal/runtime/lifecycle"
	"github.com/drblury/replyflow/internal/runtime/logging"
	"github.com/drblury/replyflow/internal/runtime/observability"
	"github.com/drblury/replyflow/transport"
	_ "github.com/drblury/replyflow/transport/transports"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "replyflow: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	flags := pflag.NewFlagSet("replyflow", pflag.ContinueOnError)
	envFiles := flags.StringSlice("env-file", []string{".env"}, "env file to load before reading the environment (repeatable)")
	logLevel := flags.String("log-level", "", "log level, overrides LOG_LEVEL")
	logFormat := flags.String("log-format", "", "log format (json, text or logrus), overrides LOG_FORMAT")
	printConfig := flags.Bool("print-config", false, "print the effective configuration with secrets redacted and exit")
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, err := config.Load(*envFiles...)
	if err != nil {
		return err
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *logFormat != "" {
		cfg.LogFormat = *logFormat
	}
	if *printConfig {
		_, err := fmt.Fprintln(stdout, cfg.String())
		return err
	}
	if err := cfg.Validate(); err != nil {
		return rferrors.NewConfigValidationError(err)
	}

	logger, err := logging.New(logging.Options{Format: cfg.LogFormat, Level: cfg.LogLevel, Out: stdout})
	if err != nil {
		return err
	}
	logger.Info("Starting replyflow", logging.LogFields{
		"transport":  cfg.PubSubSystem,
		"store":      cfg.StoreBackend,
		"responder":  cfg.ResponderBackend,
		"topic":      cfg.InboundTopic,
		"dlq_topic":  cfg.DeadLetterTopic,
		"owner_ids":  len(cfg.OwnerIDs),
		"service_id": cfg.ServiceSource,
	})
	for _, warning := range transport.GetCapabilities(cfg.PubSubSystem).Warnings() {
		logger.Info("Transport warning", logging.LogFields{"transport": cfg.PubSubSystem, "warning": warning})
	}

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := st.Close(closeCtx); err != nil {
			logger.Error("Error closing store", err, nil)
		}
	}()

	reply, err := newResponder(cfg, st)
	if err != nil {
		return err
	}
	processor, err := consumer.NewProcessor(consumer.ProcessorConfig{
		Store:     st,
		Responder: reply,
		OwnerIDs:  cfg.OwnerIDs,
	})
	if err != nil {
		return err
	}

	consumerMetrics, err := observability.NewMetrics(prometheus.DefaultRegisterer)
	if err != nil {
		return err
	}
	dlqMetrics := deadletter.NewMetrics(prometheus.DefaultRegisterer)
	if err := dlqMetrics.Register(); err != nil {
		return err
	}

	loop, err := consumer.New(consumer.Config{
		InboundTopic:          cfg.InboundTopic,
		DeadLetterTopic:       cfg.DeadLetterTopic,
		PollTimeout:           cfg.PollTimeout,
		MaxPollRecords:        cfg.MaxPollRecords,
		Backoff:               consumer.Backoff{Base: cfg.BackoffBase, Max: cfg.BackoffMax},
		FailurePause:          cfg.FailurePause,
		DLQFlushTimeout:       cfg.DLQFlushTimeout,
		PublisherCloseTimeout: cfg.PublisherCloseTimeout,
	}, consumer.Dependencies{
		Processor:         processor,
		Logger:            logger,
		Transport:         cfg,
		DeadLetterMetrics: dlqMetrics,
		Hooks:             consumerMetrics.Hooks(),
	})
	if err != nil {
		return err
	}

	controller, err := lifecycle.New(loop, lifecycle.Config{
		GracePeriod: cfg.ShutdownGracePeriod,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	if cfg.MetricsEnabled {
		server := observability.NewServer(observability.ServerConfig{
			Port:     cfg.MetricsPort,
			Gatherer: prometheus.DefaultGatherer,
			Liveness: controller,
			Store:    st,
			Logger:   logger,
		})
		if err := server.Start(); err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				logger.Error("HTTP server shutdown error", err, nil)
			}
		}()
	}

	return controller.Start(ctx)
}
