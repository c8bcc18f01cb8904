package services

import (
	"context"
	"time"

	"marketplace-rewards/config"
	"marketplace-rewards/metrics"
	"marketplace-rewards/models"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TicketLedger is the append-only record of draw-ticket grants. A user's
// active_draw_tickets counter always moves in the same transaction as the
// ledger row that justifies it.
type TicketLedger struct {
	DB       *gorm.DB
	users    *UserDirectory
	notifier Notifier
	program  config.ProgramConfig
	now      func() time.Time
}

func NewTicketLedger(db *gorm.DB, users *UserDirectory, notifier Notifier, program config.ProgramConfig) *TicketLedger {
	return &TicketLedger{
		DB:       db,
		users:    users,
		notifier: notifier,
		program:  program,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

type Grant struct {
	UserID     string
	Tickets    int64
	Source     models.EntrySource
	ReferralID *string
	GrantKey   string // empty means not deduplicated
}

// grantTx writes one ledger row and bumps the owner's counter. A grant whose
// key already exists is skipped and reported with granted=false.
func (l *TicketLedger) grantTx(tx *gorm.DB, g Grant) (*models.DrawEntry, bool, error) {
	if g.Tickets < 1 {
		return nil, false, ErrInvalidTicketQuantity
	}

	now := l.now()
	entry := models.DrawEntry{
		ID:         uuid.NewString(),
		UserID:     g.UserID,
		Tickets:    g.Tickets,
		Status:     models.EntryStatusActive,
		Source:     g.Source,
		ReferralID: g.ReferralID,
		ExpiryDate: now.AddDate(0, l.program.EntryLifetimeMonths, 0),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if g.GrantKey != "" {
		key := g.GrantKey
		entry.GrantKey = &key
	}

	res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&entry)
	if res.Error != nil {
		return nil, false, errors.Wrap(res.Error, "insert draw entry")
	}
	if res.RowsAffected == 0 {
		return nil, false, nil
	}

	if err := incrementStats(tx, g.UserID, map[string]int64{"active_draw_tickets": g.Tickets}); err != nil {
		return nil, false, errors.Wrap(err, "increment active tickets")
	}
	return &entry, true, nil
}

func (l *TicketLedger) grant(ctx context.Context, g Grant) (*models.DrawEntry, bool, error) {
	var (
		entry   *models.DrawEntry
		granted bool
	)
	err := l.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := l.users.EnsureUser(tx, g.UserID); err != nil {
			return err
		}
		var err error
		entry, granted, err = l.grantTx(tx, g)
		return err
	})
	if err != nil {
		var svcErr *Error
		if errors.As(err, &svcErr) {
			return nil, false, err
		}
		return nil, false, internalError(err, "failed to grant tickets")
	}

	if granted {
		metrics.TicketsGrantedTotal.WithLabelValues(string(g.Source)).Add(float64(g.Tickets))
		zap.L().Info("draw tickets granted",
			zap.String("user_id", g.UserID),
			zap.String("source", string(g.Source)),
			zap.Int64("tickets", g.Tickets))
	}
	return entry, granted, nil
}

// GrantSignupTickets issues the one-off registration grant.
func (l *TicketLedger) GrantSignupTickets(ctx context.Context, userID string) (*models.DrawEntry, bool, error) {
	entry, granted, err := l.grant(ctx, Grant{
		UserID:   userID,
		Tickets:  l.program.SignupTickets,
		Source:   models.EntrySourceSignup,
		GrantKey: "signup:" + userID,
	})
	if err != nil || !granted {
		return entry, granted, err
	}

	l.notifier.Emit(ctx, userID, models.NotificationDrawEntry,
		printer.Sprintf("Welcome! You received %d draw %s for signing up.", entry.Tickets, ticketWord(entry.Tickets)),
		map[string]interface{}{"tickets": entry.Tickets, "source": string(entry.Source), "entry_id": entry.ID})
	return entry, true, nil
}

// GrantPromotionTickets is an admin grant. key deduplicates retries.
func (l *TicketLedger) GrantPromotionTickets(ctx context.Context, userID string, tickets int64, key string) (*models.DrawEntry, bool, error) {
	if userID == "" {
		return nil, false, ErrUserRequired
	}
	grantKey := ""
	if key != "" {
		grantKey = "promotion:" + key
	}
	entry, granted, err := l.grant(ctx, Grant{
		UserID:   userID,
		Tickets:  tickets,
		Source:   models.EntrySourcePromotion,
		GrantKey: grantKey,
	})
	if err != nil || !granted {
		return entry, granted, err
	}

	l.notifier.Emit(ctx, userID, models.NotificationDrawEntry,
		printer.Sprintf("You received %d bonus draw %s!", entry.Tickets, ticketWord(entry.Tickets)),
		map[string]interface{}{"tickets": entry.Tickets, "source": string(entry.Source), "entry_id": entry.ID})
	return entry, true, nil
}

// ActiveTickets sums the user's active ledger rows.
func (l *TicketLedger) ActiveTickets(userID string) (int64, error) {
	var total int64
	err := l.DB.Model(&models.DrawEntry{}).
		Select("COALESCE(SUM(tickets), 0)").
		Where("user_id = ? AND status = ?", userID, models.EntryStatusActive).
		Scan(&total).Error
	if err != nil {
		return 0, internalError(err, "failed to sum active tickets")
	}
	return total, nil
}

func (l *TicketLedger) ListActiveEntries(userID string) ([]models.DrawEntry, error) {
	var entries []models.DrawEntry
	err := l.DB.Where("user_id = ? AND status = ?", userID, models.EntryStatusActive).
		Order("created_at DESC").
		Find(&entries).Error
	if err != nil {
		return nil, internalError(err, "failed to list draw entries")
	}
	return entries, nil
}

// RecountActiveTickets resets the counter to the ledger sum and returns it.
func (l *TicketLedger) RecountActiveTickets(ctx context.Context, userID string) (int64, error) {
	var total int64
	err := l.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var users int64
		if err := tx.Model(&models.User{}).Where("external_user_id = ?", userID).Count(&users).Error; err != nil {
			return err
		}
		if users == 0 {
			return ErrUserNotFound
		}
		if err := tx.Model(&models.DrawEntry{}).
			Select("COALESCE(SUM(tickets), 0)").
			Where("user_id = ? AND status = ?", userID, models.EntryStatusActive).
			Scan(&total).Error; err != nil {
			return err
		}
		return tx.Model(&models.User{}).
			Where("external_user_id = ?", userID).
			Update("active_draw_tickets", total).Error
	})
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return 0, err
		}
		return 0, internalError(err, "failed to recount tickets")
	}
	zap.L().Info("active tickets recounted", zap.String("user_id", userID), zap.Int64("tickets", total))
	return total, nil
}

type ExpirySummary struct {
	Entries int   `json:"entries"`
	Tickets int64 `json:"tickets"`
	Users   int   `json:"users"`
}

// ExpireDue moves every active entry past its expiry date to expired and
// decrements the owners' counters by exactly the expired amount, never
// below zero. Entries already moved by a concurrent sweep are skipped.
func (l *TicketLedger) ExpireDue(ctx context.Context, now time.Time) (ExpirySummary, error) {
	now = now.UTC()
	var due []models.DrawEntry
	if err := l.DB.WithContext(ctx).
		Where("status = ? AND expiry_date <= ?", models.EntryStatusActive, now).
		Order("user_id, created_at").
		Find(&due).Error; err != nil {
		return ExpirySummary{}, internalError(err, "failed to load expired entries")
	}

	expiredByUser := make(map[string]int64)
	var order []string
	var summary ExpirySummary

	for _, entry := range due {
		changed := false
		err := l.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			res := tx.Model(&models.DrawEntry{}).
				Where("id = ? AND status = ?", entry.ID, models.EntryStatusActive).
				Updates(map[string]interface{}{"status": models.EntryStatusExpired, "updated_at": now})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return nil
			}
			changed = true
			return tx.Model(&models.User{}).
				Where("external_user_id = ?", entry.UserID).
				Update("active_draw_tickets", gorm.Expr(
					"CASE WHEN active_draw_tickets > ? THEN active_draw_tickets - ? ELSE 0 END",
					entry.Tickets, entry.Tickets,
				)).Error
		})
		if err != nil {
			zap.L().Error("failed to expire draw entry", zap.String("entry_id", entry.ID), zap.Error(err))
			continue
		}
		if !changed {
			continue
		}

		if _, seen := expiredByUser[entry.UserID]; !seen {
			order = append(order, entry.UserID)
		}
		expiredByUser[entry.UserID] += entry.Tickets
		summary.Entries++
		summary.Tickets += entry.Tickets
	}

	summary.Users = len(order)
	metrics.TicketsExpiredTotal.Add(float64(summary.Tickets))

	for _, userID := range order {
		n := expiredByUser[userID]
		l.notifier.Emit(ctx, userID, models.NotificationEntriesExpired,
			printer.Sprintf("%d of your draw %s expired.", n, ticketWord(n)),
			map[string]interface{}{"tickets": n})
	}

	zap.L().Info("expiry sweep finished",
		zap.Int("entries", summary.Entries),
		zap.Int64("tickets", summary.Tickets),
		zap.Int("users", summary.Users))
	return summary, nil
}

func ticketWord(n int64) string {
	if n == 1 {
		return "entry"
	}
	return "entries"
}
