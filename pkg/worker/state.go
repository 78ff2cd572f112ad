package worker

import "fmt"

// State is a worker lifecycle state
type State int

const (
	StateInit State = iota
	StateLoadingModel
	StateReadingImage
	StateDetecting
	StateFiltering
	StateMaterializing
	StateDone
	StateFailed
)

var stateNames = [...]string{
	StateInit:          "INIT",
	StateLoadingModel:  "LOADING_MODEL",
	StateReadingImage:  "READING_IMAGE",
	StateDetecting:     "DETECTING",
	StateFiltering:     "FILTERING",
	StateMaterializing: "MATERIALIZING",
	StateDone:          "DONE",
	StateFailed:        "FAILED",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// Terminal reports whether s is DONE or FAILED
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// StageError records the state a worker was in when it failed
type StageError struct {
	State State
	Cause error
}

func (e *StageError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.State, e.Cause)
	}
	return e.State.String()
}

func (e *StageError) Unwrap() error {
	return e.Cause
}
