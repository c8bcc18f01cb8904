package services

import (
	"context"
	"crypto/rand"
	"math/big"
	"strings"

	"marketplace-rewards/models"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	codeCharset        = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	codeLength         = 6
	maxCodeGenAttempts = 20
)

var errCodeSpaceExhausted = errors.New("could not generate a unique referral code")

// ReferralCodeRegistry issues and resolves per-user referral codes.
type ReferralCodeRegistry struct {
	DB       *gorm.DB
	users    *UserDirectory
	generate func() (string, error)
}

func NewReferralCodeRegistry(db *gorm.DB, users *UserDirectory) *ReferralCodeRegistry {
	return &ReferralCodeRegistry{DB: db, users: users, generate: randomCode}
}

// CodeOwner is the public identity returned by code validation.
type CodeOwner struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	FullName string `json:"full_name"`
	Code     string `json:"code"`
}

func randomCode() (string, error) {
	var sb strings.Builder
	sb.Grow(codeLength)
	size := big.NewInt(int64(len(codeCharset)))
	for i := 0; i < codeLength; i++ {
		n, err := rand.Int(rand.Reader, size)
		if err != nil {
			return "", err
		}
		sb.WriteByte(codeCharset[n.Int64()])
	}
	return sb.String(), nil
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// GenerateCode returns the user's active code, creating one on first call.
func (r *ReferralCodeRegistry) GenerateCode(ctx context.Context, userID string) (*models.ReferralCode, error) {
	var out models.ReferralCode
	created := false

	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := r.users.EnsureUser(tx, userID); err != nil {
			return err
		}

		for attempt := 0; attempt < maxCodeGenAttempts; attempt++ {
			found, err := activeCodeFor(tx, userID)
			if err != nil {
				return err
			}
			if found != nil {
				out = *found
				return nil
			}

			code, err := r.generate()
			if err != nil {
				return err
			}
			candidate := models.ReferralCode{
				ID:       uuid.NewString(),
				Code:     code,
				UserID:   userID,
				IsActive: true,
			}
			// Conflicts on either the code or the one-active-per-owner index
			// are resolved by the lookup at the top of the next attempt.
			res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&candidate)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 1 {
				out = candidate
				created = true
				status := models.ReferralCodeStatusActive
				return tx.Model(&models.User{}).
					Where("external_user_id = ?", userID).
					Updates(map[string]interface{}{
						"referral_code":        code,
						"referral_code_status": status,
					}).Error
			}
		}
		return errCodeSpaceExhausted
	})
	if err != nil {
		var svcErr *Error
		if errors.As(err, &svcErr) {
			return nil, err
		}
		return nil, internalError(err, "failed to generate referral code")
	}

	if created {
		zap.L().Info("referral code created", zap.String("user_id", userID), zap.String("code", out.Code))
	}
	return &out, nil
}

func activeCodeFor(tx *gorm.DB, userID string) (*models.ReferralCode, error) {
	var rc models.ReferralCode
	err := tx.Where("user_id = ? AND is_active = ?", userID, true).First(&rc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rc, nil
}

// resolve loads an active code. Missing and inactive codes are both NotFound.
func resolveCode(tx *gorm.DB, code string) (*models.ReferralCode, error) {
	code = normalizeCode(code)
	if code == "" {
		return nil, ErrCodeRequired
	}
	var rc models.ReferralCode
	if err := tx.Where("code = ? AND is_active = ?", code, true).First(&rc).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCodeNotFound
		}
		return nil, internalError(err, "failed to load referral code")
	}
	return &rc, nil
}

// ValidateCode checks that code is usable by callerID and returns its owner.
func (r *ReferralCodeRegistry) ValidateCode(ctx context.Context, code, callerID string) (*CodeOwner, error) {
	rc, err := resolveCode(r.DB.WithContext(ctx), code)
	if err != nil {
		return nil, err
	}
	if rc.UserID == callerID {
		return nil, ErrSelfReferral
	}

	owner := CodeOwner{UserID: rc.UserID, Code: rc.Code}
	var user models.User
	err = r.DB.WithContext(ctx).Where("external_user_id = ?", rc.UserID).First(&user).Error
	switch {
	case err == nil:
		owner.Username = user.Username
		owner.FullName = user.FullName
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, internalError(err, "failed to load code owner")
	}
	return &owner, nil
}

// DeactivateCode retires a code. The owner can generate a new one afterwards.
func (r *ReferralCodeRegistry) DeactivateCode(ctx context.Context, code string) error {
	code = normalizeCode(code)
	if code == "" {
		return ErrCodeRequired
	}

	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rc models.ReferralCode
		if err := tx.Where("code = ?", code).First(&rc).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrCodeNotFound
			}
			return err
		}
		if err := tx.Model(&models.ReferralCode{}).
			Where("id = ?", rc.ID).
			Update("is_active", false).Error; err != nil {
			return err
		}
		return tx.Model(&models.User{}).
			Where("external_user_id = ? AND referral_code = ?", rc.UserID, rc.Code).
			Update("referral_code_status", models.ReferralCodeStatusInactive).Error
	})
	if err != nil {
		if errors.Is(err, ErrCodeNotFound) {
			return err
		}
		return internalError(err, "failed to deactivate referral code")
	}
	zap.L().Info("referral code deactivated", zap.String("code", code))
	return nil
}
