package consumer

import "time"

// OutcomeInfo describes a resolved message.
type OutcomeInfo struct {
	// MessageUUID is the stream message id, EventID the decoded event id.
	MessageUUID string
	EventID     string
	ChatID      string
	Outcome     Outcome
	// Err is set for SkippedMalformed and Failed.
	Err      error
	Duration time.Duration
}

// Hooks are optional callbacks into the loop; nil hooks are not called.
// They run on the loop goroutine and must not block.
type Hooks struct {
	// OnStateChange is called on every state transition.
	OnStateChange func(from, to State)

	// OnOutcome is called once per message, before it is acknowledged.
	OnOutcome func(info OutcomeInfo)

	// OnCommitFailure is called when the acknowledgement was rejected.
	OnCommitFailure func(info OutcomeInfo)

	// OnReconnect is called before waiting delay for reconnect attempt.
	// err is the connect error or the reason the connection was lost.
	OnReconnect func(attempt int, delay time.Duration, err error)
}

// Merge combines two Hooks; the hooks from other run after those from h.
func (h Hooks) Merge(other Hooks) Hooks {
	return Hooks{
		OnStateChange:   chainStateHooks(h.OnStateChange, other.OnStateChange),
		OnOutcome:       chainOutcomeHooks(h.OnOutcome, other.OnOutcome),
		OnCommitFailure: chainOutcomeHooks(h.OnCommitFailure, other.OnCommitFailure),
		OnReconnect:     chainReconnectHooks(h.OnReconnect, other.OnReconnect),
	}
}

func chainStateHooks(a, b func(State, State)) func(State, State) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(from, to State) {
		a(from, to)
		b(from, to)
	}
}

func chainOutcomeHooks(a, b func(OutcomeInfo)) func(OutcomeInfo) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(info OutcomeInfo) {
		a(info)
		b(info)
	}
}

func chainReconnectHooks(a, b func(int, time.Duration, error)) func(int, time.Duration, error) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(attempt int, delay time.Duration, err error) {
		a(attempt, delay, err)
		b(attempt, delay, err)
	}
}
