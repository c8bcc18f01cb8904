package models

import "time"

// ListingMirror mirrors listing-creation events from the listing service.
// Only the fields the referral program needs are kept.
type ListingMirror struct {
	ID           string     `gorm:"primaryKey;type:varchar(64)" json:"id"` // listing service id
	OwnerID      string     `gorm:"not null;index" json:"owner_id"`        // External user ID
	Title        string     `json:"title"`
	ReferralCode *string    `gorm:"type:varchar(16)" json:"referral_code,omitempty"`
	RewardType   *string    `gorm:"type:varchar(16)" json:"reward_type,omitempty"`
	ProcessedAt  *time.Time `gorm:"index" json:"processed_at,omitempty"` // referral handling done
	CreatedAt    time.Time  `gorm:"not null" json:"created_at"`
	UpdatedAt    time.Time  `gorm:"not null" json:"updated_at"`
}
