package trucks

// TruckState is the closed set of states a truck moves through.
type TruckState string

const (
	StateAvailable  TruckState = "available"
	StateAssigned   TruckState = "assigned"
	StateLoading    TruckState = "loading"
	StateEnRoute    TruckState = "en_route"
	StateAtJobSite  TruckState = "at_job_site"
	StateDelivering TruckState = "delivering"
	StateReturning  TruckState = "returning"
	StateWashing    TruckState = "washing"
)

// Sequence is the fixed delivery cycle. A truck walks it front to back
// and then returns to StateAvailable.
var Sequence = []TruckState{
	StateAssigned,
	StateLoading,
	StateEnRoute,
	StateAtJobSite,
	StateDelivering,
	StateReturning,
	StateWashing,
}

// NextState returns the state after s in the delivery cycle. The second
// return is false when s is the last active state (Washing) or not part
// of the cycle; the caller then completes the cycle back to Available.
func NextState(s TruckState) (TruckState, bool) {
	for i, st := range Sequence {
		if st == s {
			if i+1 < len(Sequence) {
				return Sequence[i+1], true
			}
			return StateAvailable, false
		}
	}
	return StateAvailable, false
}

// Active reports whether the truck is anywhere in the delivery cycle.
func (s TruckState) Active() bool {
	return s != StateAvailable
}

// InFlight reports whether the truck has work underway in one of the
// timed phases. Recovery treats these as resumable after a crash.
func (s TruckState) InFlight() bool {
	switch s {
	case StateLoading, StateEnRoute, StateAtJobSite, StateDelivering, StateReturning, StateWashing:
		return true
	}
	return false
}

// Departed reports whether the truck has left the plant. Cancellation
// uses this to decide between the direct-to-washing shortcut and the
// return-first path.
func (s TruckState) Departed() bool {
	switch s {
	case StateEnRoute, StateAtJobSite, StateDelivering:
		return true
	}
	return false
}

// Valid reports whether s is one of the known states.
func (s TruckState) Valid() bool {
	if s == StateAvailable {
		return true
	}
	for _, st := range Sequence {
		if st == s {
			return true
		}
	}
	return false
}
