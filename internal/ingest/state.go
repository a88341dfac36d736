package ingest

// State is a stage of one ingestion.
type State int

const (
	StateReceived State = iota
	StateNormalized
	StateIdentityResolved
	StateContactReady
	StateEventRecorded
	StateDealReady
	StateCompleted
	StateRejected
	StateFailed
)

var stateNames = [...]string{
	StateReceived:         "received",
	StateNormalized:       "normalized",
	StateIdentityResolved: "identity_resolved",
	StateContactReady:     "contact_ready",
	StateEventRecorded:    "event_recorded",
	StateDealReady:        "deal_ready",
	StateCompleted:        "completed",
	StateRejected:         "rejected",
	StateFailed:           "failed",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateRejected || s == StateFailed
}

// next lists the forward transitions. Failed is reachable from every
// non-terminal state and is not listed.
var next = map[State][]State{
	StateReceived:         {StateNormalized, StateRejected},
	StateNormalized:       {StateIdentityResolved},
	StateIdentityResolved: {StateContactReady},
	StateContactReady:     {StateEventRecorded},
	// Tenants without automatic deals complete straight from EventRecorded.
	StateEventRecorded: {StateDealReady, StateCompleted},
	StateDealReady:     {StateCompleted},
}

// CanTransition reports whether from -> to is a legal step.
func CanTransition(from, to State) bool {
	if from.Terminal() {
		return false
	}
	if to == StateFailed {
		return true
	}
	for _, s := range next[from] {
		if s == to {
			return true
		}
	}
	return false
}
