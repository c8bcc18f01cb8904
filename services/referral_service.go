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

// ReferralService turns code redemptions into referrals and rewards.
// Conversion and reward issuance always commit together.
type ReferralService struct {
	DB       *gorm.DB
	users    *UserDirectory
	codes    *ReferralCodeRegistry
	ledger   *TicketLedger
	draws    *DrawService
	notifier Notifier
	program  config.ProgramConfig
	now      func() time.Time
}

func NewReferralService(
	db *gorm.DB,
	users *UserDirectory,
	codes *ReferralCodeRegistry,
	ledger *TicketLedger,
	draws *DrawService,
	notifier Notifier,
	program config.ProgramConfig,
) *ReferralService {
	return &ReferralService{
		DB:       db,
		users:    users,
		codes:    codes,
		ledger:   ledger,
		draws:    draws,
		notifier: notifier,
		program:  program,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

type ApplyInput struct {
	Code       string
	RedeemerID string
	ListingID  *string
	RewardType models.RewardType // defaults to draw_entries
}

type ApplyResult struct {
	Referral     models.Referral   `json:"referral"`
	Entry        *models.DrawEntry `json:"entry,omitempty"`
	RewardIssued bool              `json:"reward_issued"`
}

// ApplyCode converts the (owner, redeemer, code) referral and issues its
// reward. A referral that already converted is rejected with
// ErrReferralAlreadyProcessed, so a retried or concurrent redemption never
// rewards twice.
func (s *ReferralService) ApplyCode(ctx context.Context, in ApplyInput) (*ApplyResult, error) {
	if in.RedeemerID == "" {
		return nil, ErrUserRequired
	}
	if normalizeCode(in.Code) == "" {
		return nil, ErrCodeRequired
	}
	rewardType := in.RewardType
	if rewardType == "" {
		rewardType = models.RewardTypeDrawEntries
	}
	if !rewardType.Valid() {
		return nil, ErrInvalidRewardType
	}

	var (
		result  ApplyResult
		created bool
	)
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rc, err := resolveCode(tx, in.Code)
		if err != nil {
			return err
		}
		if rc.UserID == in.RedeemerID {
			return ErrSelfReferral
		}
		if _, err := s.users.EnsureUser(tx, rc.UserID); err != nil {
			return err
		}
		if _, err := s.users.EnsureUser(tx, in.RedeemerID); err != nil {
			return err
		}

		now := s.now()
		pendingReward := models.RewardStatusPending
		ref, isNew, err := s.convertTx(tx, rc, in, rewardType, pendingReward, now)
		if err != nil {
			return err
		}
		created = isNew

		if !s.program.DeferRewardChoice {
			entry, err := s.rewardTx(tx, ref, rewardType, models.RewardStatusProcessed, now)
			if err != nil {
				return err
			}
			result.Entry = entry
			result.RewardIssued = true
		}

		deltas := map[string]int64{"successful_conversions": 1, "total_rewards": 1}
		if created {
			deltas["referrals_count"] = 1
		}
		if err := incrementStats(tx, rc.UserID, deltas); err != nil {
			return err
		}
		if err := tx.Model(&models.ReferralCode{}).
			Where("id = ?", rc.ID).
			Update("usage_count", gorm.Expr("usage_count + ?", 1)).Error; err != nil {
			return err
		}

		result.Referral = *ref
		return nil
	})
	if err != nil {
		return nil, asServiceError(err, "failed to apply referral code")
	}

	ref := result.Referral
	metrics.ReferralConversionsTotal.WithLabelValues(string(rewardType)).Inc()
	if result.Entry != nil {
		metrics.TicketsGrantedTotal.WithLabelValues(string(models.EntrySourceReferral)).Add(float64(result.Entry.Tickets))
	}
	zap.L().Info("referral converted",
		zap.String("referral_id", ref.ID),
		zap.String("referrer_id", ref.ReferrerID),
		zap.String("referred_id", ref.ReferredID),
		zap.String("reward_type", string(rewardType)),
		zap.Bool("reward_issued", result.RewardIssued),
		zap.Bool("created", created))

	s.notifyConversion(ctx, &ref, result.Entry, result.RewardIssued)
	return &result, nil
}

// convertTx moves the referral for the triple into converted, creating it
// when absent. Only a pending referral can transition.
func (s *ReferralService) convertTx(
	tx *gorm.DB,
	rc *models.ReferralCode,
	in ApplyInput,
	rewardType models.RewardType,
	rewardStatus models.RewardStatus,
	now time.Time,
) (*models.Referral, bool, error) {
	var existing models.Referral
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("referrer_id = ? AND referred_id = ? AND referral_code = ?", rc.UserID, in.RedeemerID, rc.Code).
		First(&existing).Error

	switch {
	case err == nil:
		if existing.Status != models.ReferralStatusPending {
			return nil, false, ErrReferralAlreadyProcessed
		}
		updates := map[string]interface{}{
			"status":        models.ReferralStatusConverted,
			"converted_at":  now,
			"reward_type":   rewardType,
			"reward_status": rewardStatus,
		}
		if in.ListingID != nil {
			updates["listing_id"] = *in.ListingID
		}
		res := tx.Model(&models.Referral{}).
			Where("id = ? AND status = ?", existing.ID, models.ReferralStatusPending).
			Updates(updates)
		if res.Error != nil {
			return nil, false, res.Error
		}
		if res.RowsAffected == 0 {
			return nil, false, ErrReferralAlreadyProcessed
		}
		existing.Status = models.ReferralStatusConverted
		existing.ConvertedAt = &now
		existing.RewardType = &rewardType
		existing.RewardStatus = &rewardStatus
		if in.ListingID != nil {
			existing.ListingID = in.ListingID
		}
		return &existing, false, nil

	case errors.Is(err, gorm.ErrRecordNotFound):
		ref := models.Referral{
			ID:           uuid.NewString(),
			ReferrerID:   rc.UserID,
			ReferredID:   in.RedeemerID,
			ReferralCode: rc.Code,
			Status:       models.ReferralStatusConverted,
			RewardType:   &rewardType,
			RewardStatus: &rewardStatus,
			ListingID:    in.ListingID,
			ConvertedAt:  &now,
		}
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&ref)
		if res.Error != nil {
			return nil, false, res.Error
		}
		if res.RowsAffected == 0 {
			// a concurrent redemption created the triple first
			return nil, false, ErrReferralAlreadyProcessed
		}
		return &ref, true, nil

	default:
		return nil, false, err
	}
}

// rewardTx issues the referrer's reward for a converted referral whose
// reward is still pending. The status guard makes issuance happen once.
func (s *ReferralService) rewardTx(
	tx *gorm.DB,
	ref *models.Referral,
	rewardType models.RewardType,
	final models.RewardStatus,
	now time.Time,
) (*models.DrawEntry, error) {
	res := tx.Model(&models.Referral{}).
		Where("id = ? AND status = ? AND reward_status = ?",
			ref.ID, models.ReferralStatusConverted, models.RewardStatusPending).
		Updates(map[string]interface{}{
			"status":        models.ReferralStatusRewarded,
			"reward_type":   rewardType,
			"reward_status": final,
			"rewarded_at":   now,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrRewardAlreadyChosen
	}

	var entry *models.DrawEntry
	switch rewardType {
	case models.RewardTypeDrawEntries:
		refID := ref.ID
		e, granted, err := s.ledger.grantTx(tx, Grant{
			UserID:     ref.ReferrerID,
			Tickets:    s.program.TicketsPerReferral,
			Source:     models.EntrySourceReferral,
			ReferralID: &refID,
			GrantKey:   "referral:" + ref.ID,
		})
		if err != nil {
			return nil, err
		}
		if !granted {
			return nil, ErrReferralAlreadyProcessed
		}
		entry = e
	case models.RewardTypeFreeMonth:
		if err := incrementStats(tx, ref.ReferrerID, map[string]int64{"free_months_used": 1}); err != nil {
			return nil, err
		}
	default:
		return nil, ErrInvalidRewardType
	}

	ref.Status = models.ReferralStatusRewarded
	ref.RewardType = &rewardType
	ref.RewardStatus = &final
	ref.RewardedAt = &now
	return entry, nil
}

// ChooseReward issues the reward for a referral converted while reward
// choice was deferred.
func (s *ReferralService) ChooseReward(ctx context.Context, referrerID, referralID string, rewardType models.RewardType) (*ApplyResult, error) {
	if !rewardType.Valid() {
		return nil, ErrInvalidRewardType
	}

	final := models.RewardStatusProcessed
	if rewardType == models.RewardTypeFreeMonth {
		// billing confirms the credit later
		final = models.RewardStatusClaimed
	}

	var result ApplyResult
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ref models.Referral
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", referralID).First(&ref).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrReferralNotFound
			}
			return err
		}
		if ref.ReferrerID != referrerID {
			return ErrNotReferrer
		}
		if ref.Status != models.ReferralStatusConverted ||
			ref.RewardStatus == nil || *ref.RewardStatus != models.RewardStatusPending {
			return ErrRewardAlreadyChosen
		}

		entry, err := s.rewardTx(tx, &ref, rewardType, final, s.now())
		if err != nil {
			return err
		}
		result.Referral = ref
		result.Entry = entry
		result.RewardIssued = true
		return nil
	})
	if err != nil {
		return nil, asServiceError(err, "failed to choose reward")
	}

	if result.Entry != nil {
		metrics.TicketsGrantedTotal.WithLabelValues(string(models.EntrySourceReferral)).Add(float64(result.Entry.Tickets))
		s.notifier.Emit(ctx, referrerID, models.NotificationDrawEntry,
			printer.Sprintf("You received %d draw %s for your referral.", result.Entry.Tickets, ticketWord(result.Entry.Tickets)),
			map[string]interface{}{"referral_id": referralID, "tickets": result.Entry.Tickets, "entry_id": result.Entry.ID})
	}
	zap.L().Info("referral reward chosen",
		zap.String("referral_id", referralID),
		zap.String("reward_type", string(rewardType)))
	return &result, nil
}

// ConfirmFreeMonth marks a claimed free-month reward as applied by billing.
func (s *ReferralService) ConfirmFreeMonth(ctx context.Context, referralID string) error {
	res := s.DB.WithContext(ctx).Model(&models.Referral{}).
		Where("id = ? AND reward_type = ? AND reward_status = ?",
			referralID, models.RewardTypeFreeMonth, models.RewardStatusClaimed).
		Update("reward_status", models.RewardStatusProcessed)
	if res.Error != nil {
		return internalError(res.Error, "failed to confirm free month")
	}
	if res.RowsAffected == 1 {
		return nil
	}

	var count int64
	if err := s.DB.WithContext(ctx).Model(&models.Referral{}).Where("id = ?", referralID).Count(&count).Error; err != nil {
		return internalError(err, "failed to load referral")
	}
	if count == 0 {
		return ErrReferralNotFound
	}
	return ErrReferralAlreadyProcessed
}

// RecordPendingReferral links a newly registered user to the code they
// signed up with. Repeating it for the same triple changes nothing.
func (s *ReferralService) RecordPendingReferral(ctx context.Context, code, redeemerID string) (*models.Referral, bool, error) {
	if redeemerID == "" {
		return nil, false, ErrUserRequired
	}

	var (
		ref     models.Referral
		created bool
	)
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rc, err := resolveCode(tx, code)
		if err != nil {
			return err
		}
		if rc.UserID == redeemerID {
			return ErrSelfReferral
		}
		if _, err := s.users.EnsureUser(tx, rc.UserID); err != nil {
			return err
		}
		if _, err := s.users.EnsureUser(tx, redeemerID); err != nil {
			return err
		}

		ref = models.Referral{
			ID:           uuid.NewString(),
			ReferrerID:   rc.UserID,
			ReferredID:   redeemerID,
			ReferralCode: rc.Code,
			Status:       models.ReferralStatusPending,
		}
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&ref)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// ref still carries the new id, which would be added to the lookup
			var existing models.Referral
			if err := tx.Where("referrer_id = ? AND referred_id = ? AND referral_code = ?",
				rc.UserID, redeemerID, rc.Code).First(&existing).Error; err != nil {
				return err
			}
			ref = existing
			return nil
		}

		created = true
		if err := incrementStats(tx, rc.UserID, map[string]int64{"referrals_count": 1}); err != nil {
			return err
		}
		return tx.Model(&models.User{}).
			Where("external_user_id = ? AND referred_by IS NULL", redeemerID).
			Update("referred_by", rc.UserID).Error
	})
	if err != nil {
		return nil, false, asServiceError(err, "failed to record referral")
	}

	if created {
		zap.L().Info("pending referral recorded",
			zap.String("referral_id", ref.ID),
			zap.String("referrer_id", ref.ReferrerID),
			zap.String("referred_id", ref.ReferredID))
	}
	return &ref, created, nil
}

func (s *ReferralService) notifyConversion(ctx context.Context, ref *models.Referral, entry *models.DrawEntry, issued bool) {
	data := map[string]interface{}{
		"referral_id":   ref.ID,
		"referral_code": ref.ReferralCode,
		"referred_id":   ref.ReferredID,
	}
	if ref.RewardType != nil {
		data["reward_type"] = string(*ref.RewardType)
	}

	var msg string
	switch {
	case !issued:
		data["choose_reward"] = true
		msg = printer.Sprintf("Your referral code %s was used! Choose your reward.", ref.ReferralCode)
	case entry != nil:
		data["tickets"] = entry.Tickets
		data["entry_id"] = entry.ID
		msg = printer.Sprintf("Your referral code %s was used! You earned %d draw %s.",
			ref.ReferralCode, entry.Tickets, ticketWord(entry.Tickets))
	default:
		msg = printer.Sprintf("Your referral code %s was used! You earned a free month.", ref.ReferralCode)
	}
	s.notifier.Emit(ctx, ref.ReferrerID, models.NotificationReferralUsed, msg, data)
}

// asServiceError passes service errors through and wraps anything else as internal.
func asServiceError(err error, msg string) error {
	var svcErr *Error
	if errors.As(err, &svcErr) {
		return err
	}
	return internalError(err, msg)
}
