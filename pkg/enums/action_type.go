package enums

import "fmt"

// ActionType classifies what happened in an activity record.
type ActionType string

const (
	ActionCreated             ActionType = "created"
	ActionAssignment          ActionType = "assignment"
	ActionStatusChange        ActionType = "status_change"
	ActionStatusRequest       ActionType = "status_request"
	ActionStatusResponse      ActionType = "status_response"
	ActionDeadlineApproaching ActionType = "deadline_approaching"
	ActionInvoiceCreated      ActionType = "invoice_created"
	ActionComment             ActionType = "comment"
)

var validActionTypes = []ActionType{
	ActionCreated,
	ActionAssignment,
	ActionStatusChange,
	ActionStatusRequest,
	ActionStatusResponse,
	ActionDeadlineApproaching,
	ActionInvoiceCreated,
	ActionComment,
}

// IsValid reports whether the value matches a known action type.
func (a ActionType) IsValid() bool {
	for _, candidate := range validActionTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// RequiresRecipient reports whether records of this action are only meaningful
// when addressed to somebody. Such records are never written without one.
func (a ActionType) RequiresRecipient() bool {
	switch a {
	case ActionStatusRequest, ActionStatusResponse, ActionDeadlineApproaching:
		return true
	}
	return false
}

// NotificationType maps the action onto the classification used by inbox icons and filters.
func (a ActionType) NotificationType() NotificationType {
	switch a {
	case ActionAssignment:
		return NotificationTypeAssignment
	case ActionStatusRequest:
		return NotificationTypeStatusRequest
	case ActionStatusResponse, ActionStatusChange:
		return NotificationTypeStatusUpdate
	case ActionDeadlineApproaching:
		return NotificationTypeDeadline
	case ActionInvoiceCreated:
		return NotificationTypeInvoice
	default:
		return NotificationTypeActivity
	}
}

// ParseActionType converts raw input into ActionType.
func ParseActionType(value string) (ActionType, error) {
	for _, candidate := range validActionTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid action type %q", value)
}
