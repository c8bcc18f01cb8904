package services

import (
	"context"
	"time"

	"marketplace-rewards/config"
	"marketplace-rewards/models"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// MaintenanceService exposes the three periodic jobs. Each takes only the
// current time and is safe to trigger more than once.
type MaintenanceService struct {
	DB       *gorm.DB
	draws    *DrawService
	ledger   *TicketLedger
	notifier Notifier
	program  config.ProgramConfig
}

func NewMaintenanceService(db *gorm.DB, draws *DrawService, ledger *TicketLedger, notifier Notifier, program config.ProgramConfig) *MaintenanceService {
	return &MaintenanceService{DB: db, draws: draws, ledger: ledger, notifier: notifier, program: program}
}

// RunScheduledDraw draws the period that ended just before now. A period
// that is already completed or has no entries is skipped without error.
func (m *MaintenanceService) RunScheduledDraw(ctx context.Context, now time.Time) (*models.Draw, error) {
	month, year := m.draws.PreviousPeriod(now)
	draw, err := m.draws.RunDraw(ctx, month, year)
	switch {
	case errors.Is(err, ErrDrawAlreadyCompleted):
		zap.L().Info("scheduled draw skipped, period already completed", zap.Int("month", month), zap.Int("year", year))
		return draw, nil
	case errors.Is(err, ErrNoEntries):
		zap.L().Info("scheduled draw skipped, no active entries", zap.Int("month", month), zap.Int("year", year))
		return nil, nil
	case err != nil:
		return nil, err
	}
	return draw, nil
}

type ticketHolder struct {
	UserID  string
	Tickets int64
}

// SendDrawReminders notifies every ticket holder that the current period is
// about to close. It does nothing when the period end is further away than
// the configured lead time.
func (m *MaintenanceService) SendDrawReminders(ctx context.Context, now time.Time) (int, error) {
	month, year := m.draws.Period(now)
	endsAt := m.draws.PeriodEnd(month, year)
	daysLeft := int(endsAt.Sub(now) / (24 * time.Hour))
	if daysLeft > m.program.ReminderLeadDays {
		zap.L().Info("draw reminders skipped, period end not within lead time",
			zap.Int("days_left", daysLeft), zap.Int("lead_days", m.program.ReminderLeadDays))
		return 0, nil
	}

	var holders []ticketHolder
	if err := m.DB.WithContext(ctx).Model(&models.DrawEntry{}).
		Select("user_id, SUM(tickets) AS tickets").
		Where("status = ?", models.EntryStatusActive).
		Group("user_id").
		Having("SUM(tickets) > 0").
		Scan(&holders).Error; err != nil {
		return 0, internalError(err, "failed to load ticket holders")
	}

	label := periodLabel(month, year)
	for _, h := range holders {
		m.notifier.Emit(ctx, h.UserID, models.NotificationDrawReminder,
			printer.Sprintf("The %s draw closes in %d %s. You have %d %s in the draw.",
				label, daysLeft, dayWord(daysLeft), h.Tickets, ticketWord(h.Tickets)),
			map[string]interface{}{
				"month":     month,
				"year":      year,
				"tickets":   h.Tickets,
				"days_left": daysLeft,
			})
	}

	zap.L().Info("draw reminders sent", zap.Int("users", len(holders)), zap.String("period", label))
	return len(holders), nil
}

// ExpireEntries runs the ledger expiry sweep.
func (m *MaintenanceService) ExpireEntries(ctx context.Context, now time.Time) (ExpirySummary, error) {
	return m.ledger.ExpireDue(ctx, now)
}

func dayWord(n int) string {
	if n == 1 {
		return "day"
	}
	return "days"
}
