package mse

import "fmt"

// State is the lifecycle of a controller's binding to its surface.
type State int

const (
	Idle State = iota
	Waiting
	Normal
	Error
	Destroyed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Waiting:
		return "waiting"
	case Normal:
		return "normal"
	case Error:
		return "error"
	case Destroyed:
		return "destroyed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(b []byte) error {
	for st := Idle; st <= Destroyed; st++ {
		if st.String() == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown buffer state %q", b)
}

// CanTransition reports whether from -> to is a legal edge. Destroyed only
// leaves for Waiting or Error while recovering from a media failure; a
// closed controller never leaves it.
func CanTransition(from, to State) bool {
	switch from {
	case Idle:
		return to == Waiting || to == Destroyed
	case Waiting:
		return to == Normal || to == Error || to == Destroyed
	case Normal:
		return to == Destroyed
	case Error:
		return to == Waiting || to == Destroyed
	case Destroyed:
		return to == Waiting || to == Error
	}
	return false
}
