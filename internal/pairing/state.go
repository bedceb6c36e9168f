package pairing

// State tracks one pairing attempt from QR render to terminal outcome.
type State int

const (
	StateAwaitingScan State = iota
	StateScannedPendingConfirm
	StateConfirmed
	StateDeclined
	StateExpired
	StateCanceled
	StateTimedOut
)

// Terminal reports whether no further transition is possible. A fingerprint
// is consumed by exactly one transition into a terminal state.
func (s State) Terminal() bool {
	switch s {
	case StateConfirmed, StateDeclined, StateExpired, StateCanceled, StateTimedOut:
		return true
	}
	return false
}

func (s State) String() string {
	switch s {
	case StateAwaitingScan:
		return "awaiting_scan"
	case StateScannedPendingConfirm:
		return "scanned_pending_confirm"
	case StateConfirmed:
		return "confirmed"
	case StateDeclined:
		return "declined"
	case StateExpired:
		return "expired"
	case StateCanceled:
		return "canceled"
	case StateTimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}
