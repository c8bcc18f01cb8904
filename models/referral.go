package models

import "time"

type ReferralStatus string

const (
	ReferralStatusPending   ReferralStatus = "pending"
	ReferralStatusConverted ReferralStatus = "converted"
	ReferralStatusRewarded  ReferralStatus = "rewarded"
)

type RewardType string

const (
	RewardTypeFreeMonth   RewardType = "free_month"
	RewardTypeDrawEntries RewardType = "draw_entries"
)

func (t RewardType) Valid() bool {
	return t == RewardTypeFreeMonth || t == RewardTypeDrawEntries
}

type RewardStatus string

const (
	RewardStatusPending   RewardStatus = "pending"
	RewardStatusClaimed   RewardStatus = "claimed"
	RewardStatusProcessed RewardStatus = "processed"
)

// ReferralCode is a shareable code owned by one user.
// At most one active code per owner, enforced by a partial unique index.
type ReferralCode struct {
	ID         string `gorm:"primaryKey;type:uuid" json:"id"`
	Code       string `gorm:"uniqueIndex;size:16;not null" json:"code"` // uppercase
	UserID     string `gorm:"not null;uniqueIndex:idx_referral_codes_active_owner,where:is_active = true" json:"user_id"`
	IsActive   bool   `gorm:"not null;default:true" json:"is_active"`
	UsageCount int64  `gorm:"not null;default:0" json:"usage_count"`

	Timestamps
}

// Referral tracks one (referrer, referred, code) relationship and its reward.
type Referral struct {
	ID           string         `gorm:"primaryKey;type:uuid" json:"id"`
	ReferrerID   string         `gorm:"not null;uniqueIndex:idx_referrals_triple;index" json:"referrer_id"` // ExternalUserID
	ReferredID   string         `gorm:"not null;uniqueIndex:idx_referrals_triple;index" json:"referred_id"` // ExternalUserID
	ReferralCode string         `gorm:"not null;uniqueIndex:idx_referrals_triple" json:"referral_code"`
	Status       ReferralStatus `gorm:"type:varchar(16);not null;default:'pending';index" json:"status"`

	RewardType   *RewardType   `gorm:"type:varchar(16)" json:"reward_type,omitempty"`
	RewardStatus *RewardStatus `gorm:"type:varchar(16)" json:"reward_status,omitempty"`
	ListingID    *string       `gorm:"index" json:"listing_id,omitempty"`
	ConvertedAt  *time.Time    `json:"converted_at,omitempty"`
	RewardedAt   *time.Time    `json:"rewarded_at,omitempty"`

	Timestamps
}
