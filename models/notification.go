package models

import "time"

type NotificationType string

const (
	NotificationReferralUsed     NotificationType = "referral_used"
	NotificationDrawEntry        NotificationType = "draw_entry"
	NotificationDrawWinner       NotificationType = "draw_winner"
	NotificationDrawReminder     NotificationType = "draw_reminder"
	NotificationPaymentClaimed   NotificationType = "payment_claimed"
	NotificationPaymentProcessed NotificationType = "payment_processed"
	NotificationEntriesExpired   NotificationType = "entries_expired"
)

// DefaultTitle is used when an event does not carry its own title.
func (t NotificationType) DefaultTitle() string {
	switch t {
	case NotificationReferralUsed:
		return "Referral Used"
	case NotificationDrawEntry:
		return "New Draw Entries"
	case NotificationDrawWinner:
		return "Draw Winner"
	case NotificationDrawReminder:
		return "Draw Reminder"
	case NotificationPaymentClaimed:
		return "Payment Details Submitted"
	case NotificationPaymentProcessed:
		return "Payment Processed"
	case NotificationEntriesExpired:
		return "Draw Entries Expired"
	default:
		return "Notification"
	}
}

type Notification struct {
	ID        string                 `gorm:"primaryKey;type:uuid" json:"id"`
	UserID    string                 `gorm:"not null;index:idx_notifications_user_read" json:"user_id"`
	Type      NotificationType       `gorm:"type:varchar(32);not null" json:"type"`
	Title     string                 `gorm:"not null" json:"title"`
	Message   string                 `gorm:"type:text;not null" json:"message"`
	Data      map[string]interface{} `gorm:"serializer:json;type:text" json:"data"`
	Read      bool                   `gorm:"column:is_read;not null;default:false;index:idx_notifications_user_read" json:"read"`
	ReadAt    *time.Time             `json:"read_at,omitempty"`
	CreatedAt time.Time              `json:"created_at" gorm:"autoCreateTime"`
}
