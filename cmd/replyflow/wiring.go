package main

import (
	"context"
	"fmt"

	"github.com/drblury/replyflow/internal/runtime/config"
	"github.com/drblury/replyflow/internal/runtime/responder"
	"github.com/drblury/replyflow/internal/runtime/store"
)

func openStore(ctx context.Context, cfg *config.Config) (*store.Store, error) {
	var docs store.Documents
	switch cfg.StoreBackend {
	case config.StoreBackendMemory:
		docs = store.NewMemory()
	case config.StoreBackendMongoDB:
		mongo, err := store.ConnectMongo(ctx, store.MongoConfig{
			URI:                    cfg.MongoURI,
			Database:               cfg.MongoDatabase,
			MaxPoolSize:            cfg.MongoMaxPoolSize,
			MinPoolSize:            cfg.MongoMinPoolSize,
			MaxIdleTime:            cfg.MongoMaxIdleTime,
			ConnectTimeout:         cfg.MongoConnectTimeout,
			ServerSelectionTimeout: cfg.MongoServerSelectionTimeout,
			RetryWrites:            cfg.MongoRetryWrites,
			RetryReads:             cfg.MongoRetryReads,
		})
		if err != nil {
			return nil, err
		}
		docs = mongo
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}

	s, err := store.New(ctx, docs, store.Collections{
		EventStore: cfg.MongoEventStoreCollection,
		Messages:   cfg.MongoMessagesCollection,
	}, cfg.ServiceSource)
	if err != nil {
		_ = docs.Close(ctx)
		return nil, err
	}
	return s, nil
}

func newResponder(cfg *config.Config, history responder.HistoryReader) (responder.Responder, error) {
	switch cfg.ResponderBackend {
	case config.ResponderBackendEcho:
		return responder.Echo{}, nil
	case config.ResponderBackendOpenAI:
		return responder.NewOpenAI(responder.OpenAIConfig{
			BaseURL:      cfg.OpenAIBaseURL,
			APIKey:       cfg.OpenAIAPIKey,
			Model:        cfg.OpenAIModel,
			HistoryLimit: cfg.ResponderHistoryLimit,
		}, history), nil
	default:
		return nil, fmt.Errorf("unknown responder backend %q", cfg.ResponderBackend)
	}
}
