package webhook

import "fmt"

/* Status represents the current state of a webhook record
 * Follows the lifecycle: Pending -> Processing -> Processed/Failed, or back to Pending for a retry
 */
type Status int

const (
	Pending Status = iota + 1
	Processing
	Processed
	Failed
)

// String returns the string representation of the status
func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Processing:
		return "processing"
	case Processed:
		return "processed"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// NewStatus creates a Status from a string, returning 0 for unknown values
func NewStatus(str string) Status {
	switch str {
	case "pending":
		return Pending
	case "processing":
		return Processing
	case "processed":
		return Processed
	case "failed":
		return Failed
	default:
		return 0
	}
}

// Validate checks if the status is valid
func (s Status) Validate() error {
	if s < Pending || s > Failed {
		return fmt.Errorf("invalid status: %d", s)
	}
	return nil
}

// IsFinal returns true if the status is a terminal state
func (s Status) IsFinal() bool {
	return s == Processed || s == Failed
}

var transitions = map[Status][]Status{
	Pending:    {Processing},
	Processing: {Processed, Pending, Failed},
}

// CanTransition reports whether the state machine has an edge from s to next
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Statuses lists every valid status in lifecycle order
func Statuses() []Status {
	return []Status{Pending, Processing, Processed, Failed}
}
