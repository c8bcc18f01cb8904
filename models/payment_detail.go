package models

import "time"

type PaymentDetailStatus string

const (
	PaymentDetailStatusPending  PaymentDetailStatus = "pending"
	PaymentDetailStatusVerified PaymentDetailStatus = "verified"
	PaymentDetailStatusPaid     PaymentDetailStatus = "paid"
)

// PaymentDetail holds a winner's payout account. The account number is
// stored sealed; AccountNumber is only populated after an explicit open.
type PaymentDetail struct {
	ID                  string              `gorm:"primaryKey;type:uuid" json:"id"`
	UserID              string              `gorm:"not null;index" json:"user_id"`
	DrawID              string              `gorm:"not null;uniqueIndex" json:"draw_id"`
	BankName            string              `gorm:"not null" json:"bank_name"`
	AccountHolder       string              `gorm:"not null" json:"account_holder"`
	SealedAccountNumber string              `gorm:"column:account_number;type:text;not null" json:"-"`
	AccountNumber       string              `gorm:"-" json:"account_number,omitempty"`
	Status              PaymentDetailStatus `gorm:"type:varchar(16);not null;default:'pending'" json:"status"`
	VerifiedAt          *time.Time          `json:"verified_at,omitempty"`
	PaidAt              *time.Time          `json:"paid_at,omitempty"`
	Notes               string              `json:"notes"`

	Timestamps
}

// MaskedAccountNumber returns "****" plus the last four digits.
func (p *PaymentDetail) MaskedAccountNumber() string {
	n := p.AccountNumber
	if len(n) <= 4 {
		return "****" + n
	}
	return "****" + n[len(n)-4:]
}
