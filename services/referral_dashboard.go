package services

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"marketplace-rewards/models"
)

const dashboardNotificationLimit = 5

type DrawCountdown struct {
	Draw      *models.Draw `json:"draw"`
	EndsAt    time.Time    `json:"ends_at"`
	DaysLeft  int          `json:"days_left"`
	HoursLeft int          `json:"hours_left"`
}

type ReferralDashboard struct {
	Code         *string `json:"code"`
	CodeUsage    int64   `json:"code_usage"`
	ReferralLink string  `json:"referral_link,omitempty"`

	Stats            models.ReferralStats `json:"stats"`
	ConversionRate   float64              `json:"conversion_rate"`
	PendingReferrals int64                `json:"pending_referrals"`

	Referrals         []models.Referral `json:"referrals"`
	ReferralsByMonth  map[string]int    `json:"referrals_by_month"`
	ReferralsByReward map[string]int    `json:"referrals_by_reward"`

	Entries         []models.DrawEntry `json:"entries"`
	TotalTickets    int64              `json:"total_tickets"`
	TicketsBySource map[string]int64   `json:"tickets_by_source"`

	CurrentDraw   *DrawCountdown        `json:"current_draw"`
	WinnerStatus  *WinnerStatus         `json:"winner_status"`
	Notifications []models.Notification `json:"notifications"`
}

// Dashboard collects everything the referral page shows for userID.
func (s *ReferralService) Dashboard(ctx context.Context, userID string, now time.Time) (*ReferralDashboard, error) {
	user, err := s.users.EnsureUser(s.DB.WithContext(ctx), userID)
	if err != nil {
		return nil, err
	}

	dash := ReferralDashboard{
		Stats:             user.ReferralStats,
		ReferralsByMonth:  map[string]int{},
		ReferralsByReward: map[string]int{},
		TicketsBySource:   map[string]int64{},
	}

	code, err := activeCodeFor(s.DB.WithContext(ctx), userID)
	if err != nil {
		return nil, internalError(err, "failed to load referral code")
	}
	if code != nil {
		dash.Code = &code.Code
		dash.CodeUsage = code.UsageCount
		dash.ReferralLink = fmt.Sprintf("%s/referral/%s", strings.TrimRight(s.program.FrontendURL, "/"), code.Code)
	}
	if user.ReferralsCount > 0 {
		rate := float64(user.SuccessfulConversions) / float64(user.ReferralsCount) * 100
		dash.ConversionRate = math.Round(rate*100) / 100
	}

	if err := s.DB.WithContext(ctx).
		Where("referrer_id = ?", userID).
		Order("created_at DESC").
		Find(&dash.Referrals).Error; err != nil {
		return nil, internalError(err, "failed to list referrals")
	}
	for _, r := range dash.Referrals {
		if r.Status == models.ReferralStatusPending {
			dash.PendingReferrals++
		}
		dash.ReferralsByMonth[r.CreatedAt.Format("2006-01")]++
		if r.RewardType != nil {
			dash.ReferralsByReward[string(*r.RewardType)]++
		}
	}

	if dash.Entries, err = s.ledger.ListActiveEntries(userID); err != nil {
		return nil, err
	}
	for _, e := range dash.Entries {
		dash.TotalTickets += e.Tickets
		dash.TicketsBySource[string(e.Source)] += e.Tickets
	}

	current, err := s.draws.CurrentDraw(ctx, now)
	if err != nil {
		return nil, err
	}
	endsAt := s.draws.PeriodEnd(current.Month, current.Year)
	remaining := endsAt.Sub(now)
	if remaining < 0 {
		remaining = 0
	}
	dash.CurrentDraw = &DrawCountdown{
		Draw:      current,
		EndsAt:    endsAt,
		DaysLeft:  int(remaining / (24 * time.Hour)),
		HoursLeft: int(remaining%(24*time.Hour)) / int(time.Hour),
	}

	status, err := s.draws.WinnerStatus(ctx, userID)
	if err != nil {
		return nil, err
	}
	if status.IsWinner && status.Draw.PaymentStatus != models.PaymentStatusPaid {
		dash.WinnerStatus = status
	}

	if lister, ok := s.notifier.(unreadLister); ok {
		dash.Notifications, err = lister.ListUnreadByTypes(userID, []models.NotificationType{
			models.NotificationReferralUsed,
			models.NotificationDrawEntry,
			models.NotificationDrawWinner,
		}, dashboardNotificationLimit)
		if err != nil {
			return nil, err
		}
	}
	return &dash, nil
}

type unreadLister interface {
	ListUnreadByTypes(userID string, types []models.NotificationType, limit int) ([]models.Notification, error)
}
