package enums

import "fmt"

// NotificationType is the display classification of an activity record.
type NotificationType string

const (
	NotificationTypeActivity      NotificationType = "activity"
	NotificationTypeAssignment    NotificationType = "assignment"
	NotificationTypeStatusRequest NotificationType = "status_request"
	NotificationTypeStatusUpdate  NotificationType = "status_update"
	NotificationTypeDeadline      NotificationType = "deadline"
	NotificationTypeInvoice       NotificationType = "invoice"
	NotificationTypeChat          NotificationType = "chat"
)

var validNotificationTypes = []NotificationType{
	NotificationTypeActivity,
	NotificationTypeAssignment,
	NotificationTypeStatusRequest,
	NotificationTypeStatusUpdate,
	NotificationTypeDeadline,
	NotificationTypeInvoice,
	NotificationTypeChat,
}

// IsValid checks whether the given type matches the canonical enum.
func (n NotificationType) IsValid() bool {
	for _, candidate := range validNotificationTypes {
		if candidate == n {
			return true
		}
	}
	return false
}

// ParseNotificationType converts raw strings into NotificationType.
func ParseNotificationType(value string) (NotificationType, error) {
	for _, candidate := range validNotificationTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid notification type %q", value)
}
