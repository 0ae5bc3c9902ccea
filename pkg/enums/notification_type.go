package enums

import "fmt"

// NotificationType groups in-app notifications by the surface that renders them.
type NotificationType string

const (
	NotificationTypeEscrow  NotificationType = "escrow"
	NotificationTypeDispute NotificationType = "dispute"
	NotificationTypePayout  NotificationType = "payout"
)

var validNotificationTypes = []NotificationType{
	NotificationTypeEscrow,
	NotificationTypeDispute,
	NotificationTypePayout,
}

// String implements fmt.Stringer.
func (t NotificationType) String() string {
	return string(t)
}

// IsValid reports whether the value is a known NotificationType.
func (t NotificationType) IsValid() bool {
	for _, candidate := range validNotificationTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParseNotificationType converts raw input into a NotificationType.
func ParseNotificationType(value string) (NotificationType, error) {
	for _, candidate := range validNotificationTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid notification type %q", value)
}
