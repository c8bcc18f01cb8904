package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"marketplace-rewards/metrics"
	"marketplace-rewards/models"
	"marketplace-rewards/utils"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PaymentService carries a completed draw through pending -> claimed -> paid.
type PaymentService struct {
	DB       *gorm.DB
	users    *UserDirectory
	cipher   *utils.FieldCipher
	notifier Notifier
	now      func() time.Time
}

func NewPaymentService(db *gorm.DB, users *UserDirectory, cipher *utils.FieldCipher, notifier Notifier) *PaymentService {
	return &PaymentService{
		DB:       db,
		users:    users,
		cipher:   cipher,
		notifier: notifier,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

type PaymentDetailsInput struct {
	BankName      string
	AccountHolder string
	AccountNumber string
}

// SubmitPaymentDetails records the winner's payout account and moves the
// draw to claimed.
func (s *PaymentService) SubmitPaymentDetails(ctx context.Context, userID string, in PaymentDetailsInput) (*models.PaymentDetail, *models.Draw, error) {
	in.BankName = strings.TrimSpace(in.BankName)
	in.AccountHolder = strings.TrimSpace(in.AccountHolder)
	in.AccountNumber = strings.TrimSpace(in.AccountNumber)
	if in.BankName == "" || in.AccountHolder == "" || in.AccountNumber == "" {
		return nil, nil, ErrPaymentFieldsRequired
	}

	sealed, err := s.cipher.Seal(in.AccountNumber)
	if err != nil {
		return nil, nil, internalError(err, "failed to encrypt account number")
	}

	var (
		detail models.PaymentDetail
		draw   models.Draw
	)
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("winner_user_id = ? AND status = ? AND payment_status = ?",
				userID, models.DrawStatusCompleted, models.PaymentStatusPending).
			Order("drawn_at DESC").
			First(&draw).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			var won int64
			if err := tx.Model(&models.Draw{}).
				Where("winner_user_id = ? AND status = ?", userID, models.DrawStatusCompleted).
				Count(&won).Error; err != nil {
				return err
			}
			if won > 0 {
				return ErrPaymentAlreadyClaimed
			}
			return ErrNotEligible
		}
		if err != nil {
			return err
		}

		detail = models.PaymentDetail{
			ID:                  uuid.NewString(),
			UserID:              userID,
			DrawID:              draw.ID,
			BankName:            in.BankName,
			AccountHolder:       in.AccountHolder,
			SealedAccountNumber: sealed,
			Status:              models.PaymentDetailStatusPending,
		}
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&detail)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrPaymentAlreadyClaimed
		}

		res = tx.Model(&models.Draw{}).
			Where("id = ? AND payment_status = ?", draw.ID, models.PaymentStatusPending).
			Updates(map[string]interface{}{
				"payment_status":    models.PaymentStatusClaimed,
				"payment_detail_id": detail.ID,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrPaymentAlreadyClaimed
		}
		draw.PaymentStatus = models.PaymentStatusClaimed
		draw.PaymentDetailID = &detail.ID
		return nil
	})
	if err != nil {
		return nil, nil, asServiceError(err, "failed to submit payment details")
	}

	metrics.PaymentTransitionsTotal.WithLabelValues(string(models.PaymentStatusClaimed)).Inc()
	zap.L().Info("payment details submitted",
		zap.String("draw_id", draw.ID),
		zap.String("user_id", userID),
		zap.String("payment_detail_id", detail.ID))

	s.notifyAdmins(ctx, &draw, userID)
	detail.AccountNumber = in.AccountNumber
	return &detail, &draw, nil
}

func (s *PaymentService) notifyAdmins(ctx context.Context, draw *models.Draw, winnerID string) {
	admins, err := s.users.ListAdmins()
	if err != nil {
		zap.L().Warn("admin lookup failed, payment claim not announced", zap.Error(err))
		return
	}
	msg := fmt.Sprintf("The winner of the %s draw submitted payment details.", periodLabel(draw.Month, draw.Year))
	for _, admin := range admins {
		s.notifier.Emit(ctx, admin.ExternalUserID, models.NotificationPaymentClaimed, msg,
			map[string]interface{}{"draw_id": draw.ID, "winner_id": winnerID})
	}
}

// VerifyPaymentDetail records that an admin checked the payout account.
func (s *PaymentService) VerifyPaymentDetail(ctx context.Context, drawID string) (*models.PaymentDetail, error) {
	var detail models.PaymentDetail
	if err := s.DB.WithContext(ctx).Where("draw_id = ?", drawID).First(&detail).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPaymentDetailNotFound
		}
		return nil, internalError(err, "failed to load payment details")
	}

	now := s.now()
	res := s.DB.WithContext(ctx).Model(&models.PaymentDetail{}).
		Where("id = ? AND status = ?", detail.ID, models.PaymentDetailStatusPending).
		Updates(map[string]interface{}{
			"status":      models.PaymentDetailStatusVerified,
			"verified_at": now,
		})
	if res.Error != nil {
		return nil, internalError(res.Error, "failed to verify payment details")
	}
	if res.RowsAffected == 0 {
		return nil, ErrPaymentNotPending
	}

	detail.Status = models.PaymentDetailStatusVerified
	detail.VerifiedAt = &now
	metrics.PaymentTransitionsTotal.WithLabelValues(string(models.PaymentDetailStatusVerified)).Inc()
	return &detail, nil
}

// ProcessPayment marks a claimed draw as paid.
func (s *PaymentService) ProcessPayment(ctx context.Context, drawID, notes string) (*models.Draw, error) {
	var draw models.Draw
	now := s.now()

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", drawID).First(&draw).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrDrawNotFound
			}
			return err
		}
		if draw.PaymentStatus != models.PaymentStatusClaimed {
			return ErrPaymentNotClaimed
		}

		res := tx.Model(&models.Draw{}).
			Where("id = ? AND payment_status = ?", draw.ID, models.PaymentStatusClaimed).
			Updates(map[string]interface{}{
				"payment_status": models.PaymentStatusPaid,
				"paid_at":        now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrPaymentNotClaimed
		}

		updates := map[string]interface{}{
			"status":  models.PaymentDetailStatusPaid,
			"paid_at": now,
		}
		if notes != "" {
			updates["notes"] = notes
		}
		if err := tx.Model(&models.PaymentDetail{}).
			Where("draw_id = ?", draw.ID).
			Updates(updates).Error; err != nil {
			return err
		}

		draw.PaymentStatus = models.PaymentStatusPaid
		draw.PaidAt = &now
		return nil
	})
	if err != nil {
		return nil, asServiceError(err, "failed to process payment")
	}

	metrics.PaymentTransitionsTotal.WithLabelValues(string(models.PaymentStatusPaid)).Inc()
	zap.L().Info("draw payment processed", zap.String("draw_id", draw.ID))

	s.notifyPaid(ctx, &draw)
	return &draw, nil
}

func (s *PaymentService) notifyPaid(ctx context.Context, draw *models.Draw) {
	if draw.WinnerUserID == nil {
		return
	}
	label := periodLabel(draw.Month, draw.Year)
	prize := draw.PrizeAmount.InexactFloat64()

	s.notifier.Emit(ctx, *draw.WinnerUserID, models.NotificationPaymentProcessed,
		printer.Sprintf("Your prize of $%.2f for the %s draw has been paid.", prize, label),
		map[string]interface{}{"draw_id": draw.ID, "prize_amount": draw.PrizeAmount.StringFixed(2)})

	masked := "your account"
	if detail, err := s.PaymentDetailForDraw(ctx, draw.ID); err == nil {
		masked = detail.MaskedAccountNumber()
	} else {
		zap.L().Warn("payment detail unavailable for email", zap.String("draw_id", draw.ID), zap.Error(err))
	}
	s.notifier.Email(ctx, *draw.WinnerUserID,
		fmt.Sprintf("Your %s draw prize has been paid", label),
		printer.Sprintf("Your prize of $%.2f for the %s draw has been sent to %s.", prize, label, masked))
}

// PaymentDetailForDraw returns the payout details with the account number
// decrypted. A stored value that cannot be decrypted is an internal error.
func (s *PaymentService) PaymentDetailForDraw(ctx context.Context, drawID string) (*models.PaymentDetail, error) {
	var detail models.PaymentDetail
	if err := s.DB.WithContext(ctx).Where("draw_id = ?", drawID).First(&detail).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPaymentDetailNotFound
		}
		return nil, internalError(err, "failed to load payment details")
	}

	plain, err := s.cipher.Open(detail.SealedAccountNumber)
	if err != nil {
		zap.L().Error("payment detail decryption failed", zap.String("payment_detail_id", detail.ID), zap.Error(err))
		return nil, internalError(err, "failed to decrypt payment details")
	}
	detail.AccountNumber = plain
	return &detail, nil
}
