package consumer

// State is the position of the consumer loop in its lifecycle.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StatePolling
	StateProcessing
	StateCommitting
	StateShuttingDown
	StateStopped
)

var stateNames = [...]string{
	StateDisconnected: "disconnected",
	StateConnecting:   "connecting",
	StatePolling:      "polling",
	StateProcessing:   "processing",
	StateCommitting:   "committing",
	StateShuttingDown: "shutting_down",
	StateStopped:      "stopped",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// States lists every state in declaration order.
func States() []State {
	return []State{
		StateDisconnected,
		StateConnecting,
		StatePolling,
		StateProcessing,
		StateCommitting,
		StateShuttingDown,
		StateStopped,
	}
}
