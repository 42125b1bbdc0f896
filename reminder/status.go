package reminder

// transitions is the authoritative state machine table. A status absent from
// the map is terminal.
var transitions = map[Status][]Status{
	StatusPending: {
		StatusSent,      // dispatch success
		StatusPending,   // transient failure, reschedule
		StatusFailed,    // permanent failure or retry budget exhausted
		StatusCancelled, // admin cancel
		StatusExpired,   // missed past grace with no retry budget
	},
	StatusSent: {
		StatusAcknowledged, // target acknowledged
		StatusDeclined,     // target declined, no decline-escalation
		StatusEscalated,    // decline-escalation or ack-deadline elapsed
	},
	StatusEscalated: {
		StatusEscalatedAck,
		StatusEscalatedDeclined,
	},
}

// CanTransition reports whether from -> to is a legal status transition.
// A self-transition of PENDING (retry reschedule) is legal; all other
// self-transitions are not.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			if from == to {
				return from == StatusPending
			}
			return true
		}
	}
	return false
}

// IsTerminal reports whether no transition leaves s. DECLINED is terminal
// here because decline-escalation transitions SENT directly to ESCALATED;
// a reminder only rests in DECLINED when no decline trigger is configured.
func IsTerminal(s Status) bool {
	next, ok := transitions[s]
	return !ok || len(next) == 0
}

// IsAnswered reports whether the reminder reached a human-answered terminal
// state. Reset is disallowed from these.
func IsAnswered(s Status) bool {
	switch s {
	case StatusAcknowledged, StatusEscalatedAck, StatusEscalatedDeclined:
		return true
	}
	return false
}

// responseStatus maps an inbound response type onto the target status for a
// reminder currently in from. Returns "" when the response does not cause a
// transition from that state.
func responseStatus(from Status, t ResponseType, declineEscalates bool) Status {
	switch from {
	case StatusSent:
		switch t {
		case ResponseAcknowledged:
			return StatusAcknowledged
		case ResponseDeclined:
			if declineEscalates {
				return StatusEscalated
			}
			return StatusDeclined
		}
	case StatusEscalated:
		switch t {
		case ResponseAcknowledged:
			return StatusEscalatedAck
		case ResponseDeclined:
			return StatusEscalatedDeclined
		}
	}
	return ""
}
