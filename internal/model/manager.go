package model

import (
	"fmt"
	"time"
)

// NotificationType selects which manager toggle gates a message.
type NotificationType string

const (
	NotifyNewBooking   NotificationType = "new_booking"
	NotifyCancellation NotificationType = "cancellation"
	NotifyReschedule   NotificationType = "reschedule"
)

// ParseNotificationType validates a user supplied notification type.
func ParseNotificationType(s string) (NotificationType, error) {
	switch t := NotificationType(s); t {
	case NotifyNewBooking, NotifyCancellation, NotifyReschedule:
		return t, nil
	default:
		return "", fmt.Errorf("unknown notification type %q", s)
	}
}

type Manager struct {
	ID                 int64     `json:"id" db:"id"`
	ChatID             int64     `json:"chat_id" db:"chat_id"`
	Username           string    `json:"username" db:"username"`
	IsActive           bool      `json:"is_active" db:"is_active"`
	NotifyNewBooking   bool      `json:"notify_new_booking" db:"notify_new_booking"`
	NotifyCancellation bool      `json:"notify_cancellation" db:"notify_cancellation"`
	NotifyReschedule   bool      `json:"notify_reschedule" db:"notify_reschedule"`
	CreatedAt          time.Time `json:"created_at" db:"created_at"`
}

// Wants reports whether the manager's toggle for t is on.
func (m Manager) Wants(t NotificationType) bool {
	switch t {
	case NotifyNewBooking:
		return m.NotifyNewBooking
	case NotifyCancellation:
		return m.NotifyCancellation
	case NotifyReschedule:
		return m.NotifyReschedule
	}
	return false
}
