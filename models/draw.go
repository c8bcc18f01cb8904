package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type DrawStatus string

const (
	DrawStatusPending   DrawStatus = "pending"
	DrawStatusCompleted DrawStatus = "completed"
)

type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "pending"
	PaymentStatusClaimed PaymentStatus = "claimed"
	PaymentStatusPaid    PaymentStatus = "paid"
)

// Draw is the prize draw for one calendar month. Month is 1-12.
type Draw struct {
	ID     string     `gorm:"primaryKey;type:uuid" json:"id"`
	Month  int        `gorm:"not null;uniqueIndex:idx_draws_period" json:"month"`
	Year   int        `gorm:"not null;uniqueIndex:idx_draws_period" json:"year"`
	Status DrawStatus `gorm:"type:varchar(16);not null;default:'pending'" json:"status"`

	// Set once when the draw completes, never rewritten.
	WinnerUserID   *string `gorm:"index" json:"winner_user_id,omitempty"`
	WinnerTickets  *int64  `json:"winner_tickets,omitempty"` // winner's total active tickets at selection time
	WinningEntryID *string `json:"winning_entry_id,omitempty"`
	TotalEntries   int64   `gorm:"not null;default:0" json:"total_entries"`
	Participants   int64   `gorm:"not null;default:0" json:"participants"`

	PrizeAmount decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"prize_amount"`
	DrawnAt     *time.Time      `json:"drawn_at,omitempty"`

	PaymentStatus   PaymentStatus `gorm:"type:varchar(16);not null;default:'pending';index" json:"payment_status"`
	PaymentDetailID *string       `json:"payment_detail_id,omitempty"`
	PaidAt          *time.Time    `json:"paid_at,omitempty"`

	Timestamps
}

// Period returns the draw's (year, month) as a time at the first instant of the month.
func (d *Draw) Period(loc *time.Location) time.Time {
	return time.Date(d.Year, time.Month(d.Month), 1, 0, 0, 0, 0, loc)
}
