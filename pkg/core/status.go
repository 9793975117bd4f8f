package core

import "fmt"

// TestStatus represents the outcome of a scheduled test task
type TestStatus int

const (
	StatusPending     TestStatus = iota // Not yet started
	StatusRunning                       // Currently executing
	StatusPassed                        // Completed successfully
	StatusFailed                        // Body returned an error
	StatusTimedOut                      // Per-task deadline expired
	StatusSkipped                       // Filtered out or cancelled before start
	StatusQuarantined                   // Not run because the test is quarantined
)

// String returns the string representation of TestStatus
func (s TestStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusRunning:
		return "running"
	case StatusPassed:
		return "passed"
	case StatusFailed:
		return "failed"
	case StatusTimedOut:
		return "timed_out"
	case StatusSkipped:
		return "skipped"
	case StatusQuarantined:
		return "quarantined"
	default:
		return "unknown"
	}
}

// IsTerminal returns true if the status is a final state
func (s TestStatus) IsTerminal() bool {
	switch s {
	case StatusPassed, StatusFailed, StatusTimedOut, StatusSkipped, StatusQuarantined:
		return true
	default:
		return false
	}
}

// IsFailure returns true if the status should fail the run
func (s TestStatus) IsFailure() bool {
	return s == StatusFailed || s == StatusTimedOut
}

// MarshalText encodes the status by name.
func (s TestStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a status name written by MarshalText.
func (s *TestStatus) UnmarshalText(b []byte) error {
	for v := StatusPending; v <= StatusQuarantined; v++ {
		if v.String() == string(b) {
			*s = v
			return nil
		}
	}
	return fmt.Errorf("unknown test status %q", b)
}
