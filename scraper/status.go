package scraper

import (
	"strings"
)

// State is the lifecycle position of a scrape job.
type State int

const (
	// StateReady means no job is outstanding.
	StateReady State = iota
	StateInProgress
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInProgress:
		return "In Progress"
	case StateCompleted:
		return "Completed"
	case StateFailed:
		return "Failed"
	default:
		return "Ready"
	}
}

// Status is a job state plus the backend's failure reason, if any.
type Status struct {
	State  State
	Reason string
}

func (s Status) String() string {
	if s.State == StateFailed && s.Reason != "" {
		return "Failed: " + s.Reason
	}
	return s.State.String()
}

// Terminal reports whether the job has finished, successfully or not.
func (s Status) Terminal() bool {
	return s.State == StateCompleted || s.State == StateFailed
}

// ParseStatus maps a status string from the backend. Only a string
// mentioning "Failed" yields StateFailed.
func ParseStatus(raw string) (Status, error) {
	text := strings.TrimSpace(raw)
	switch {
	case text == "Completed":
		return Status{State: StateCompleted}, nil
	case strings.Contains(text, "Failed"):
		reason := text
		if i := strings.Index(text, "Failed"); i >= 0 {
			reason = strings.TrimSpace(strings.TrimPrefix(text[i+len("Failed"):], ":"))
		}
		return Status{State: StateFailed, Reason: reason}, nil
	case strings.Contains(text, "In Progress"):
		return Status{State: StateInProgress}, nil
	case text == "Ready":
		return Status{State: StateReady}, nil
	}
	return Status{}, &UnknownStatusError{Raw: raw}
}
