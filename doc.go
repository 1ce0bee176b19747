// Package replyflow consumes chat events from a partitioned stream, answers
// the ones addressed to the owner and appends the replies to a durable event
// store. It is built on Watermill: the stream transport (Kafka, RabbitMQ,
// NATS, or Go Channels) is read from Config and opened by the consumer loop,
// which reconnects with exponential backoff whenever the stream is lost.
//
// Every inbound message passes the idempotency gate before any side effect.
// Redelivered events are skipped, messages sent by the owner account are
// recorded without a reply, and only events that produce a causally linked
// response advance the store. Messages that cannot be processed are copied to
// the dead-letter topic with their error classification and then committed,
// so a poison message never blocks its partition.
//
// A minimal embedding fills Config (or calls LoadConfig), opens a Store,
// picks a Responder, and hands a Processor to NewLoop; a Controller then runs
// the loop until the context is cancelled:
//
//	cfg, _ := replyflow.LoadConfig(".env")
//	st, _ := replyflow.NewStore(ctx, replyflow.NewMemoryDocuments(), replyflow.Collections{
//		EventStore: cfg.MongoEventStoreCollection,
//		Messages:   cfg.MongoMessagesCollection,
//	}, cfg.ServiceSource)
//	proc, _ := replyflow.NewProcessor(replyflow.ProcessorConfig{Store: st, Responder: replyflow.Echo{}})
//	loop, _ := replyflow.NewLoop(replyflow.LoopConfig{...}, replyflow.LoopDependencies{...})
//	ctrl, _ := replyflow.NewController(loop, replyflow.ControllerConfig{Logger: logger})
//	err := ctrl.Start(ctx)
//
// # Transports
//
// Transports register themselves with the transport registry on import.
// Import github.com/drblury/replyflow/transport/transports for all of them,
// or a single package such as transport/kafka.
//
// # Hooks
//
// LoopHooks observe state transitions, per-message outcomes, rejected
// commits and reconnect attempts. The observability package turns them into
// Prometheus collectors; custom hooks can be combined with Merge.
package replyflow
