package jobs

import "fmt"

// State is a position in the job lifecycle:
//
//	New -> Running -> {Completed, Aborted, Canceled}
type State int

const (
	New State = iota
	Running
	Completed
	Aborted
	Canceled
)

var stateNames = [...]string{
	New:       "new",
	Running:   "running",
	Completed: "completed",
	Aborted:   "aborted",
	Canceled:  "canceled",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// Terminal reports whether the job has finished.
func (s State) Terminal() bool {
	switch s {
	case Completed, Aborted, Canceled:
		return true
	default:
		return false
	}
}

func allowedTransition(from, to State) bool {
	switch from {
	case New:
		return to == Running
	case Running:
		return to.Terminal()
	default:
		return false
	}
}
