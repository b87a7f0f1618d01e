package admission

// State is the stage a check-in reached before it was answered or dropped.
type State int

const (
	StateReceived State = iota
	StateParsed
	StateAuthenticated
	StateMatched
	StateRegistered
	StateResponded
	StateRejected
)

func (s State) String() string {
	switch s {
	case StateReceived:
		return "received"
	case StateParsed:
		return "parsed"
	case StateAuthenticated:
		return "authenticated"
	case StateMatched:
		return "matched"
	case StateRegistered:
		return "registered"
	case StateResponded:
		return "responded"
	case StateRejected:
		return "rejected"
	}
	return "unknown"
}
