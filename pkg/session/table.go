// Package session implements C5 SessionController: a table-driven
// per-(camera, client_id) WebRTC negotiation state machine.
package session

// State is a SessionController state, spec §4.5.
type State int

const (
	StateIdle State = iota
	StateNegotiating
	StateConnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateNegotiating:
		return "NEGOTIATING"
	case StateConnected:
		return "CONNECTED"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Event identifies a state-machine trigger, spec §4.5's event column.
type Event int

const (
	EventInboundConnection Event = iota
	EventNegotiationNeeded
	EventInboundAnswer
	EventInboundOffer
	EventOutboundICECandidate
	EventInboundICE
	EventICEConnected
	EventClosed
)

// transitions encodes spec §4.5's table verbatim: which states accept
// which events, and where they land. Guards that depend on data the table
// itself doesn't carry — "client_id already present", the mDNS candidate
// check — are evaluated by the caller before consulting this table.
var transitions = map[State]map[Event]State{
	StateIdle: {
		EventInboundConnection: StateNegotiating,
	},
	StateNegotiating: {
		EventNegotiationNeeded:    StateNegotiating,
		EventInboundAnswer:        StateNegotiating,
		EventInboundOffer:         StateNegotiating,
		EventOutboundICECandidate: StateNegotiating,
		EventInboundICE:           StateNegotiating,
		EventICEConnected:         StateConnected,
		EventClosed:               StateClosed,
	},
	StateConnected: {
		EventClosed: StateClosed,
	},
}

// next looks up the destination state for (from, event). ok is false when
// the table has no entry — from a terminal state (CLOSED) this means the
// event is simply ignored; from a live state it signals a caller bug.
func next(from State, event Event) (State, bool) {
	row, ok := transitions[from]
	if !ok {
		return from, false
	}
	to, ok := row[event]
	return to, ok
}
