package models

import "time"

type EntryStatus string

const (
	EntryStatusActive  EntryStatus = "active"
	EntryStatusUsed    EntryStatus = "used"
	EntryStatusExpired EntryStatus = "expired"
)

type EntrySource string

const (
	EntrySourceSignup    EntrySource = "signup"
	EntrySourceReferral  EntrySource = "referral"
	EntrySourceListing   EntrySource = "listing"
	EntrySourcePromotion EntrySource = "promotion"
)

// DrawEntry is one ticket-ledger row. Rows are never deleted; the only
// transition is active -> expired (or used).
type DrawEntry struct {
	ID         string      `gorm:"primaryKey;type:uuid" json:"id"`
	UserID     string      `gorm:"not null;index:idx_draw_entries_user_status" json:"user_id"`
	Tickets    int64       `gorm:"not null" json:"tickets"`
	Status     EntryStatus `gorm:"type:varchar(16);not null;default:'active';index:idx_draw_entries_user_status;index" json:"status"`
	Source     EntrySource `gorm:"type:varchar(16);not null" json:"source"`
	ReferralID *string     `gorm:"index" json:"referral_id,omitempty"`
	GrantKey   *string     `gorm:"uniqueIndex" json:"-"` // idempotency key, e.g. "signup:<user>"
	ExpiryDate time.Time   `gorm:"not null;index" json:"expiry_date"`
	CreatedAt  time.Time   `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt  time.Time   `json:"updated_at" gorm:"autoUpdateTime"`
}
