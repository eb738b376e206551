package asset

import "errors"

// Status represents the processing lifecycle of an item's image.
type Status string

const (
	// Non-terminal states
	StatusPending    Status = "pending"    // Record exists, no pipeline run started
	StatusProcessing Status = "processing" // Pipeline run in flight

	// Terminal states
	StatusCompleted Status = "completed" // Usable image stored and recorded
	StatusFailed    Status = "failed"    // Run failed; image_url may still hold a fallback
)

// ErrInvalidTransition is returned when a status transition is not allowed.
var ErrInvalidTransition = errors.New("invalid status transition")

// IsTerminal returns true if the status is a terminal state.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// IsActive returns true if the status indicates work in flight or queued.
func (s Status) IsActive() bool {
	return s == StatusPending || s == StatusProcessing
}

// String returns the string representation of the status.
func (s Status) String() string {
	return string(s)
}

// ValidTransitions defines allowed status transitions. Terminal states only
// leave via a fresh pipeline run (regeneration), which restarts at
// processing. A processing record may be re-entered by a double submit;
// the last writer wins.
var ValidTransitions = map[Status][]Status{
	StatusPending:    {StatusProcessing, StatusCompleted, StatusFailed},
	StatusProcessing: {StatusProcessing, StatusCompleted, StatusFailed},
	StatusCompleted:  {StatusProcessing},
	StatusFailed:     {StatusProcessing},
}

// CanTransitionTo checks if a transition from current status to target status is valid.
func (s Status) CanTransitionTo(target Status) bool {
	validTargets, ok := ValidTransitions[s]
	if !ok {
		return false
	}
	for _, t := range validTargets {
		if t == target {
			return true
		}
	}
	return false
}

// TransitionTo attempts to transition to the target status and returns error if invalid.
func (s Status) TransitionTo(target Status) (Status, error) {
	if !s.CanTransitionTo(target) {
		return s, ErrInvalidTransition
	}
	return target, nil
}
