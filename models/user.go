package models

type UserRole string

const (
	UserRoleUser  UserRole = "user"
	UserRoleAdmin UserRole = "admin"
)

type ReferralCodeStatus string

const (
	ReferralCodeStatusActive   ReferralCodeStatus = "active"
	ReferralCodeStatusInactive ReferralCodeStatus = "inactive"
)

// ReferralStats are denormalized counters maintained with atomic increments.
// ActiveDrawTickets must equal the sum of the user's active ledger entries.
type ReferralStats struct {
	ReferralsCount        int64 `json:"referrals_count" gorm:"not null;default:0"`
	SuccessfulConversions int64 `json:"successful_conversions" gorm:"not null;default:0"`
	ActiveDrawTickets     int64 `json:"active_draw_tickets" gorm:"not null;default:0"`
	FreeMonthsUsed        int64 `json:"free_months_used" gorm:"not null;default:0"`
	TotalRewards          int64 `json:"total_rewards" gorm:"not null;default:0"`
}

// User is the local snapshot of a marketplace account.
// Populated by the profile sync worker and lazily by referral operations.
type User struct {
	ID             string   `gorm:"primaryKey;type:uuid" json:"id"`
	ExternalUserID string   `gorm:"uniqueIndex;not null" json:"external_user_id"` // profile service id, used as the user key everywhere
	Username       string   `gorm:"index" json:"username"`
	FullName       string   `json:"full_name"`
	Email          string   `json:"email,omitempty"`
	Role           UserRole `gorm:"type:varchar(16);not null;default:'user';index" json:"role"`

	ReferralCode       *string             `json:"referral_code,omitempty"`
	ReferralCodeStatus *ReferralCodeStatus `gorm:"type:varchar(16)" json:"referral_code_status,omitempty"`
	ReferredBy         *string             `gorm:"index" json:"referred_by,omitempty"`

	ReferralStats `gorm:"embedded"`

	Timestamps
}
