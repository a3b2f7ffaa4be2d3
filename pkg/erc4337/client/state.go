package client

// State is the lifecycle of one user operation through the client.
type State int

const (
	StateBuilding State = iota
	StateSigning
	StateSent
	StateWaitingForReceipt
	StateConfirmed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateBuilding:
		return "building"
	case StateSigning:
		return "signing"
	case StateSent:
		return "sent"
	case StateWaitingForReceipt:
		return "waiting_for_receipt"
	case StateConfirmed:
		return "confirmed"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == StateConfirmed || s == StateFailed
}

// CanTransition reports whether to may follow s. Every non terminal state may
// fail.
func (s State) CanTransition(to State) bool {
	if s.Terminal() {
		return false
	}
	if to == StateFailed {
		return true
	}
	return to == s+1
}
