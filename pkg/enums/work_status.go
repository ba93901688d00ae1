package enums

import "fmt"

// WorkStatus is the lifecycle status shared by jobs and tasks.
type WorkStatus string

const (
	WorkStatusPending    WorkStatus = "pending"
	WorkStatusInProgress WorkStatus = "in_progress"
	WorkStatusOnHold     WorkStatus = "on_hold"
	WorkStatusCompleted  WorkStatus = "completed"
	WorkStatusCancelled  WorkStatus = "cancelled"
)

var validWorkStatuses = []WorkStatus{
	WorkStatusPending,
	WorkStatusInProgress,
	WorkStatusOnHold,
	WorkStatusCompleted,
	WorkStatusCancelled,
}

// TerminalWorkStatuses lists statuses that no longer receive deadline alerts.
var TerminalWorkStatuses = []WorkStatus{WorkStatusCompleted, WorkStatusCancelled}

// IsValid reports whether the value matches a known status.
func (s WorkStatus) IsValid() bool {
	for _, candidate := range validWorkStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the status ends the work item's lifecycle.
func (s WorkStatus) IsTerminal() bool {
	for _, candidate := range TerminalWorkStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseWorkStatus converts raw input into WorkStatus.
func ParseWorkStatus(value string) (WorkStatus, error) {
	for _, candidate := range validWorkStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid work status %q", value)
}
