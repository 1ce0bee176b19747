package replyflow

import (
	"github.com/drblury/replyflow/internal/runtime/chatevent"
	configpkg "github.com/drblury/replyflow/internal/runtime/config"
	"github.com/drblury/replyflow/internal/runtime/consumer"
	"github.com/drblury/replyflow/internal/runtime/deadletter"
	errspkg "github.com/drblury/replyflow/internal/runtime/errors"
	idspkg "github.com/drblury/replyflow/internal/runtime/ids"
	"github.com/drblury/replyflow/internal/runtime/jsoncodec"
	"github.com/drblury/replyflow/internal/runtime/lifecycle"
	loggingpkg "github.com/drblury/replyflow/internal/runtime/logging"
	"github.com/drblury/replyflow/internal/runtime/observability"
	"github.com/drblury/replyflow/internal/runtime/responder"
	"github.com/drblury/replyflow/internal/runtime/store"
	"github.com/drblury/replyflow/transport"
)

type (
	Config                = configpkg.Config
	ConfigValidationError = errspkg.ConfigValidationError

	Event         = chatevent.Event
	EventMetadata = chatevent.Metadata
	Aggregate     = chatevent.Aggregate
	Payload       = chatevent.Payload
	HistoryEntry  = chatevent.HistoryEntry

	Store       = store.Store
	Documents   = store.Documents
	Collections = store.Collections
	Query       = store.Query
	MongoConfig = store.MongoConfig

	Responder       = responder.Responder
	ResponderFunc   = responder.Func
	ResponseRequest = responder.Request
	Role            = responder.Role
	Echo            = responder.Echo
	OpenAIConfig    = responder.OpenAIConfig

	Processor        = consumer.Processor
	ProcessorConfig  = consumer.ProcessorConfig
	Result           = consumer.Result
	Outcome          = consumer.Outcome
	Loop             = consumer.Loop
	LoopConfig       = consumer.Config
	LoopDependencies = consumer.Dependencies
	LoopState        = consumer.State
	LoopHooks        = consumer.Hooks
	OutcomeInfo      = consumer.OutcomeInfo
	Backoff          = consumer.Backoff

	Controller       = lifecycle.Controller
	ControllerConfig = lifecycle.Config
	Runner           = lifecycle.Runner
	RunnerFunc       = lifecycle.RunnerFunc

	DeadLetterRecord   = deadletter.Record
	DeadLetterMetrics  = deadletter.Metrics
	DeadLetterSnapshot = deadletter.Snapshot

	Metrics       = observability.Metrics
	Server        = observability.Server
	ServerConfig  = observability.ServerConfig
	LogFields     = loggingpkg.LogFields
	ServiceLogger = loggingpkg.ServiceLogger
	LogOptions    = loggingpkg.Options

	Transport             = transport.Transport
	TransportConfig       = transport.Config
	TransportCapabilities = transport.Capabilities
)

var (
	DefaultConfig  = configpkg.Default
	LoadConfig     = configpkg.Load
	ValidateConfig = configpkg.ValidateConfig

	DecodeEvent      = chatevent.Decode
	EncodeEvent      = chatevent.Encode
	NewResponse      = chatevent.NewResponse
	NextSequenceNr   = chatevent.NextSequenceNr
	NewHistoryEntry  = chatevent.NewHistoryEntry
	NewProcessedMark = chatevent.NewProcessedMarker

	NewStore           = store.New
	NewMemoryDocuments = store.NewMemory
	ConnectMongo       = store.ConnectMongo

	NewOpenAIResponder = responder.NewOpenAI
	NewRoleResolver    = responder.NewRoleResolver

	NewProcessor  = consumer.NewProcessor
	NewLoop       = consumer.New
	NewController = lifecycle.New

	NewDeadLetterMetrics = deadletter.NewMetrics
	ClassifyError        = deadletter.Classify

	NewMetrics = observability.NewMetrics
	NewServer  = observability.NewServer

	NewLogger            = loggingpkg.New
	NewSlogServiceLogger = loggingpkg.NewSlogServiceLogger

	GetCapabilities = transport.GetCapabilities
	BuildTransport  = transport.Build

	Marshal   = jsoncodec.Marshal
	Unmarshal = jsoncodec.Unmarshal

	CreateULID = idspkg.CreateULID
	NewEventID = idspkg.NewEventID

	ErrStore          = store.ErrStore
	ErrDuplicate      = store.ErrDuplicate
	ErrResponder      = responder.ErrResponder
	ErrAlreadyRunning = consumer.ErrAlreadyRunning
	ErrUnexpectedExit = lifecycle.ErrUnexpectedExit
	ErrStopTimeout    = lifecycle.ErrStopTimeout

	ErrConfigRequired    = errspkg.ErrConfigRequired
	ErrLoggerRequired    = errspkg.ErrLoggerRequired
	ErrStoreRequired     = errspkg.ErrStoreRequired
	ErrResponderRequired = errspkg.ErrResponderRequired
	ErrPublisherRequired = errspkg.ErrPublisherRequired
	ErrTopicRequired     = errspkg.ErrTopicRequired
	ErrRunnerRequired    = errspkg.ErrRunnerRequired
)

const (
	OutcomeProcessed        = consumer.OutcomeProcessed
	OutcomeSkippedDuplicate = consumer.OutcomeSkippedDuplicate
	OutcomeSkippedMalformed = consumer.OutcomeSkippedMalformed
	OutcomeSkippedSelfEcho  = consumer.OutcomeSkippedSelfEcho
	OutcomeFailed           = consumer.OutcomeFailed
)

const (
	StateDisconnected = consumer.StateDisconnected
	StateConnecting   = consumer.StateConnecting
	StatePolling      = consumer.StatePolling
	StateProcessing   = consumer.StateProcessing
	StateCommitting   = consumer.StateCommitting
	StateShuttingDown = consumer.StateShuttingDown
	StateStopped      = consumer.StateStopped
)

const (
	RoleOwner   = responder.RoleOwner
	RoleContact = responder.RoleContact
)

// Dead-letter error types attached to every routed document.
const (
	ErrorTypeSystem    = deadletter.ErrorTypeSystem
	ErrorTypeStore     = deadletter.ErrorTypeStore
	ErrorTypeResponder = deadletter.ErrorTypeResponder
)
