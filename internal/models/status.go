package models

// Status is a step of the render job state machine:
// uploaded -> queued -> processing -> rendering_complete | failed.
type Status string

const (
	StatusUploaded   Status = "uploaded"
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusComplete   Status = "rendering_complete"
	StatusFailed     Status = "failed"
)

// IsTerminal reports whether no further transitions can leave s.
func (s Status) IsTerminal() bool {
	return s == StatusComplete || s == StatusFailed
}

// Valid reports whether s is one of the known states.
func (s Status) Valid() bool {
	return s.Rank() >= 0
}

// Rank orders states along the machine. Both terminal states share a rank.
func (s Status) Rank() int {
	switch s {
	case StatusUploaded:
		return 0
	case StatusQueued:
		return 1
	case StatusProcessing:
		return 2
	case StatusComplete, StatusFailed:
		return 3
	default:
		return -1
	}
}

// CanTransition reports whether a record in from may move to to.
// Staying put is always allowed; terminal states never change.
func CanTransition(from, to Status) bool {
	if !from.Valid() || !to.Valid() {
		return false
	}
	if from == to {
		return true
	}
	if from.IsTerminal() {
		return false
	}
	return to.Rank() > from.Rank()
}
