package services

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"sort"
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

const pastDrawsInSummary = 10

// DrawArchiver keeps an external record of completed draws.
type DrawArchiver interface {
	Archive(ctx context.Context, draw *models.Draw) error
}

// DrawService runs the monthly prize draw. Each (month, year) has one row
// and completes at most once.
type DrawService struct {
	DB       *gorm.DB
	notifier Notifier
	archiver DrawArchiver
	program  config.ProgramConfig
	loc      *time.Location
	now      func() time.Time
	pick     func(n int64) (int64, error)
}

func NewDrawService(db *gorm.DB, notifier Notifier, archiver DrawArchiver, program config.ProgramConfig, loc *time.Location) *DrawService {
	if loc == nil {
		loc = time.UTC
	}
	return &DrawService{
		DB:       db,
		notifier: notifier,
		archiver: archiver,
		program:  program,
		loc:      loc,
		now:      func() time.Time { return time.Now().UTC() },
		pick:     cryptoPick,
	}
}

// cryptoPick returns a uniform integer in [0, n).
func cryptoPick(n int64) (int64, error) {
	v, err := rand.Int(rand.Reader, big.NewInt(n))
	if err != nil {
		return 0, err
	}
	return v.Int64(), nil
}

// Period returns the (month, year) containing t in the draw timezone.
func (s *DrawService) Period(t time.Time) (int, int) {
	local := t.In(s.loc)
	return int(local.Month()), local.Year()
}

// PreviousPeriod returns the period before the one containing t.
func (s *DrawService) PreviousPeriod(t time.Time) (int, int) {
	local := t.In(s.loc)
	first := time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, s.loc).AddDate(0, -1, 0)
	return int(first.Month()), first.Year()
}

// PeriodEnd is the first instant of the month after (month, year).
func (s *DrawService) PeriodEnd(month, year int) time.Time {
	return time.Date(year, time.Month(month), 1, 0, 0, 0, 0, s.loc).AddDate(0, 1, 0)
}

func periodLabel(month, year int) string {
	return fmt.Sprintf("%s %d", time.Month(month).String(), year)
}

// ensurePeriod creates the pending draw for the period if missing and reads it back.
func (s *DrawService) ensurePeriod(tx *gorm.DB, month, year int) (*models.Draw, error) {
	if month < 1 || month > 12 || year < 1 {
		return nil, ErrInvalidPeriod
	}

	draw := models.Draw{
		ID:            uuid.NewString(),
		Month:         month,
		Year:          year,
		Status:        models.DrawStatusPending,
		PrizeAmount:   s.program.PrizeAmount,
		PaymentStatus: models.PaymentStatusPending,
	}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&draw).Error; err != nil {
		return nil, errors.Wrap(err, "create draw period")
	}

	var out models.Draw
	if err := tx.Where("month = ? AND year = ?", month, year).First(&out).Error; err != nil {
		return nil, errors.Wrap(err, "load draw period")
	}
	return &out, nil
}

// CurrentDraw returns the draw for the period containing now.
func (s *DrawService) CurrentDraw(ctx context.Context, now time.Time) (*models.Draw, error) {
	month, year := s.Period(now)
	draw, err := s.ensurePeriod(s.DB.WithContext(ctx), month, year)
	if err != nil {
		return nil, asServiceError(err, "failed to load current draw")
	}
	return draw, nil
}

func (s *DrawService) GetDraw(ctx context.Context, id string) (*models.Draw, error) {
	var draw models.Draw
	if err := s.DB.WithContext(ctx).Where("id = ?", id).First(&draw).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDrawNotFound
		}
		return nil, internalError(err, "failed to load draw")
	}
	return &draw, nil
}

// ticketPool maps every ticket slot to the entry that owns it. Slot i
// belongs to the first entry whose cumulative count exceeds i, which is the
// same as picking from the pool flattened to one element per ticket.
type ticketPool struct {
	entries    []models.DrawEntry
	cumulative []int64
	total      int64
}

func newTicketPool(entries []models.DrawEntry) ticketPool {
	p := ticketPool{entries: entries, cumulative: make([]int64, len(entries))}
	for i, e := range entries {
		p.total += e.Tickets
		p.cumulative[i] = p.total
	}
	return p
}

func (p ticketPool) at(slot int64) *models.DrawEntry {
	i := sort.Search(len(p.cumulative), func(i int) bool { return p.cumulative[i] > slot })
	return &p.entries[i]
}

func (p ticketPool) ticketsOf(userID string) int64 {
	var n int64
	for _, e := range p.entries {
		if e.UserID == userID {
			n += e.Tickets
		}
	}
	return n
}

func (p ticketPool) participants() int64 {
	seen := make(map[string]struct{})
	for _, e := range p.entries {
		seen[e.UserID] = struct{}{}
	}
	return int64(len(seen))
}

// RunDraw selects the winner for (month, year) and completes the draw.
// When the period already completed, the stored draw is returned together
// with ErrDrawAlreadyCompleted.
func (s *DrawService) RunDraw(ctx context.Context, month, year int) (*models.Draw, error) {
	draw, err := s.ensurePeriod(s.DB.WithContext(ctx), month, year)
	if err != nil {
		return nil, asServiceError(err, "failed to load draw")
	}
	if draw.Status == models.DrawStatusCompleted {
		metrics.DrawsCompletedTotal.WithLabelValues("already_completed").Inc()
		return draw, ErrDrawAlreadyCompleted
	}

	var entries []models.DrawEntry
	if err := s.DB.WithContext(ctx).
		Where("status = ? AND tickets > 0", models.EntryStatusActive).
		Order("created_at ASC, id ASC").
		Find(&entries).Error; err != nil {
		return nil, internalError(err, "failed to load draw entries")
	}
	if len(entries) == 0 {
		metrics.DrawsCompletedTotal.WithLabelValues("no_entries").Inc()
		return nil, ErrNoEntries
	}

	pool := newTicketPool(entries)
	slot, err := s.pick(pool.total)
	if err != nil {
		return nil, internalError(err, "failed to draw random slot")
	}
	winning := pool.at(slot)
	winnerTickets := pool.ticketsOf(winning.UserID)
	now := s.now()

	res := s.DB.WithContext(ctx).Model(&models.Draw{}).
		Where("id = ? AND status = ?", draw.ID, models.DrawStatusPending).
		Updates(map[string]interface{}{
			"status":           models.DrawStatusCompleted,
			"winner_user_id":   winning.UserID,
			"winner_tickets":   winnerTickets,
			"winning_entry_id": winning.ID,
			"total_entries":    pool.total,
			"participants":     pool.participants(),
			"prize_amount":     s.program.PrizeAmount,
			"drawn_at":         now,
			"payment_status":   models.PaymentStatusPending,
		})
	if res.Error != nil {
		return nil, internalError(res.Error, "failed to complete draw")
	}

	completed, err := s.GetDraw(ctx, draw.ID)
	if err != nil {
		return nil, err
	}
	if res.RowsAffected == 0 {
		// another run completed the period between our read and update
		metrics.DrawsCompletedTotal.WithLabelValues("already_completed").Inc()
		return completed, ErrDrawAlreadyCompleted
	}

	metrics.DrawsCompletedTotal.WithLabelValues("completed").Inc()
	zap.L().Info("draw completed",
		zap.String("draw_id", completed.ID),
		zap.Int("month", month),
		zap.Int("year", year),
		zap.String("winner_id", winning.UserID),
		zap.Int64("winner_tickets", winnerTickets),
		zap.Int64("total_entries", pool.total))

	s.announceWinner(ctx, completed)
	if s.archiver != nil {
		if err := s.archiver.Archive(ctx, completed); err != nil {
			metrics.NotificationFailuresTotal.WithLabelValues("archive").Inc()
			zap.L().Warn("draw archive failed", zap.String("draw_id", completed.ID), zap.Error(err))
		}
	}
	return completed, nil
}

func (s *DrawService) announceWinner(ctx context.Context, draw *models.Draw) {
	if draw.WinnerUserID == nil {
		return
	}
	label := periodLabel(draw.Month, draw.Year)
	prize := draw.PrizeAmount.InexactFloat64()

	s.notifier.Emit(ctx, *draw.WinnerUserID, models.NotificationDrawWinner,
		printer.Sprintf("Congratulations! You won the %s draw and a prize of $%.2f. Submit your payment details to claim it.", label, prize),
		map[string]interface{}{
			"draw_id":      draw.ID,
			"month":        draw.Month,
			"year":         draw.Year,
			"prize_amount": draw.PrizeAmount.StringFixed(2),
		})
	s.notifier.Email(ctx, *draw.WinnerUserID,
		fmt.Sprintf("You won the %s draw!", label),
		printer.Sprintf("Congratulations! You won the %s prize draw.\n\nPrize: $%.2f\n\nSign in and submit your payment details to receive your prize.", label, prize))
}

type DrawSummary struct {
	CurrentDraw     *models.Draw  `json:"current_draw"`
	PastDraws       []models.Draw `json:"past_draws"`
	ActiveTickets   int64         `json:"active_tickets"`
	Participants    int64         `json:"participants"`
	ClaimedPayments int64         `json:"claimed_payments"`
}

// ManagementSummary is the admin view of the draw program.
func (s *DrawService) ManagementSummary(ctx context.Context, now time.Time) (*DrawSummary, error) {
	current, err := s.CurrentDraw(ctx, now)
	if err != nil {
		return nil, err
	}

	db := s.DB.WithContext(ctx)
	summary := DrawSummary{CurrentDraw: current}

	if err := db.Where("id <> ?", current.ID).
		Order("year DESC, month DESC").
		Limit(pastDrawsInSummary).
		Find(&summary.PastDraws).Error; err != nil {
		return nil, internalError(err, "failed to list past draws")
	}
	if err := db.Model(&models.DrawEntry{}).
		Select("COALESCE(SUM(tickets), 0)").
		Where("status = ?", models.EntryStatusActive).
		Scan(&summary.ActiveTickets).Error; err != nil {
		return nil, internalError(err, "failed to sum active tickets")
	}
	if err := db.Model(&models.DrawEntry{}).
		Where("status = ?", models.EntryStatusActive).
		Distinct("user_id").
		Count(&summary.Participants).Error; err != nil {
		return nil, internalError(err, "failed to count participants")
	}
	if err := db.Model(&models.Draw{}).
		Where("payment_status = ?", models.PaymentStatusClaimed).
		Count(&summary.ClaimedPayments).Error; err != nil {
		return nil, internalError(err, "failed to count claimed payments")
	}
	return &summary, nil
}

type WinnerStatus struct {
	IsWinner            bool         `json:"is_winner"`
	Draw                *models.Draw `json:"draw,omitempty"`
	NeedsPaymentDetails bool         `json:"needs_payment_details"`
}

// WinnerStatus reports the most recent completed draw won by the user.
func (s *DrawService) WinnerStatus(ctx context.Context, userID string) (*WinnerStatus, error) {
	var draw models.Draw
	err := s.DB.WithContext(ctx).
		Where("winner_user_id = ? AND status = ?", userID, models.DrawStatusCompleted).
		Order("drawn_at DESC").
		First(&draw).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &WinnerStatus{}, nil
	}
	if err != nil {
		return nil, internalError(err, "failed to load winner status")
	}
	return &WinnerStatus{
		IsWinner:            true,
		Draw:                &draw,
		NeedsPaymentDetails: draw.PaymentStatus == models.PaymentStatusPending,
	}, nil
}
