package convdispatch

// State is the scheduling state of a Dispatcher.
type State int32

const (
	// StateIdle is the state between cycles before the dispatcher sleeps, and before Run.
	StateIdle State = iota
	// StateFetching means pending events are being read from the store.
	StateFetching
	// StateDispatching means a fetched batch is being enqueued and marked.
	StateDispatching
	// StateSleeping means the next cycle is scheduled after the poll interval.
	StateSleeping
	// StateStopped is terminal.
	StateStopped
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFetching:
		return "fetching"
	case StateDispatching:
		return "dispatching"
	case StateSleeping:
		return "sleeping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Outcome is the terminal result of dispatching one event.
type Outcome int

const (
	// OutcomeProcessed means the job was enqueued and the event marked processed.
	OutcomeProcessed Outcome = iota
	// OutcomeFailed means enqueueing or marking failed and the event was marked failed.
	OutcomeFailed
	// OutcomeMalformed means the payload was invalid and the event was marked failed.
	OutcomeMalformed
)

// String implements fmt.Stringer.
func (o Outcome) String() string {
	switch o {
	case OutcomeProcessed:
		return "processed"
	case OutcomeFailed:
		return "failed"
	case OutcomeMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}
