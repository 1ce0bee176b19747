package errors

import sterrors "errors"

var (
	ErrConfigRequired    = sterrors.New("replyflow: configuration is required")
	ErrLoggerRequired    = sterrors.New("replyflow: logger is required")
	ErrStoreRequired     = sterrors.New("replyflow: durable store is required")
	ErrResponderRequired = sterrors.New("replyflow: responder is required")
	ErrPublisherRequired = sterrors.New("replyflow: publisher is required")
	ErrTopicRequired     = sterrors.New("replyflow: topic is required")
	ErrRunnerRequired    = sterrors.New("replyflow: runner is required")
)

// ConfigValidationError marks an error produced while validating Config.
type ConfigValidationError struct {
	Err error
}

func (e ConfigValidationError) Error() string {
	return "replyflow: invalid configuration: " + e.Err.Error()
}

func (e ConfigValidationError) Unwrap() error { return e.Err }

// NewConfigValidationError wraps err, returning nil when err is nil.
func NewConfigValidationError(err error) error {
	if err == nil {
		return nil
	}
	return ConfigValidationError{Err: err}
}
