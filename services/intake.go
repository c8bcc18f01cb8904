package services

import (
	"context"
	"strings"
	"time"

	"marketplace-rewards/models"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// IntakeService applies upstream marketplace events (registrations and new
// listings) to the referral program. Both the push endpoints and the sync
// workers go through it, and replaying an event is harmless.
type IntakeService struct {
	DB        *gorm.DB
	users     *UserDirectory
	ledger    *TicketLedger
	referrals *ReferralService
	now       func() time.Time
}

func NewIntakeService(db *gorm.DB, users *UserDirectory, ledger *TicketLedger, referrals *ReferralService) *IntakeService {
	return &IntakeService{
		DB:        db,
		users:     users,
		ledger:    ledger,
		referrals: referrals,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

type SignupEvent struct {
	Profile
	ReferralCode string
}

type SignupOutcome struct {
	Created         bool              `json:"created"`
	SignupEntry     *models.DrawEntry `json:"signup_entry,omitempty"`
	Referral        *models.Referral  `json:"referral,omitempty"`
	ReferralSkipped string            `json:"referral_skipped,omitempty"`
}

// HandleSignup mirrors the profile, grants the signup ticket and records the
// pending referral when the user registered with a code. A bad code does not
// fail the signup.
func (s *IntakeService) HandleSignup(ctx context.Context, ev SignupEvent) (*SignupOutcome, error) {
	if strings.TrimSpace(ev.ExternalUserID) == "" {
		return nil, ErrUserRequired
	}

	created, err := s.users.UpsertProfile(ev.Profile)
	if err != nil {
		return nil, err
	}
	out := SignupOutcome{Created: created}

	entry, _, err := s.ledger.GrantSignupTickets(ctx, ev.ExternalUserID)
	if err != nil {
		return nil, err
	}
	out.SignupEntry = entry

	if code := normalizeCode(ev.ReferralCode); code != "" {
		ref, _, err := s.referrals.RecordPendingReferral(ctx, code, ev.ExternalUserID)
		switch {
		case err == nil:
			out.Referral = ref
		case KindOf(err) == KindInternal:
			return nil, err
		default:
			out.ReferralSkipped = MessageOf(err)
			zap.L().Info("signup referral code ignored",
				zap.String("user_id", ev.ExternalUserID),
				zap.String("code", code),
				zap.Error(err))
		}
	}
	return &out, nil
}

type ListingOutcome struct {
	AlreadyProcessed bool         `json:"already_processed"`
	Result           *ApplyResult `json:"result,omitempty"`
	ReferralSkipped  string       `json:"referral_skipped,omitempty"`
}

// HandleListingCreated mirrors the listing and, when it carries a referral
// code, converts the owner's referral. A listing is processed once; store
// failures leave it unprocessed so the next delivery retries.
func (s *IntakeService) HandleListingCreated(ctx context.Context, listing models.ListingMirror) (*ListingOutcome, error) {
	if listing.ID == "" || listing.OwnerID == "" {
		return nil, newError(KindInvalidInput, "listing id and owner id are required")
	}
	if listing.CreatedAt.IsZero() {
		listing.CreatedAt = s.now()
	}
	if listing.UpdatedAt.IsZero() {
		listing.UpdatedAt = listing.CreatedAt
	}
	listing.ProcessedAt = nil

	if err := s.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"title", "updated_at"}),
	}).Create(&listing).Error; err != nil {
		return nil, internalError(err, "failed to mirror listing")
	}

	var stored models.ListingMirror
	if err := s.DB.WithContext(ctx).Where("id = ?", listing.ID).First(&stored).Error; err != nil {
		return nil, internalError(err, "failed to load listing")
	}
	if stored.ProcessedAt != nil {
		return &ListingOutcome{AlreadyProcessed: true}, nil
	}

	out := ListingOutcome{}
	if stored.ReferralCode != nil && normalizeCode(*stored.ReferralCode) != "" {
		in := ApplyInput{
			Code:       *stored.ReferralCode,
			RedeemerID: stored.OwnerID,
			ListingID:  &stored.ID,
		}
		if stored.RewardType != nil {
			in.RewardType = models.RewardType(*stored.RewardType)
		}

		res, err := s.referrals.ApplyCode(ctx, in)
		switch {
		case err == nil:
			out.Result = res
		case KindOf(err) == KindInternal:
			return nil, err
		default:
			out.ReferralSkipped = MessageOf(err)
			zap.L().Info("listing referral not applied",
				zap.String("listing_id", stored.ID),
				zap.String("owner_id", stored.OwnerID),
				zap.Error(err))
		}
	}

	now := s.now()
	if err := s.DB.WithContext(ctx).Model(&models.ListingMirror{}).
		Where("id = ? AND processed_at IS NULL", stored.ID).
		Update("processed_at", now).Error; err != nil {
		return nil, internalError(errors.Wrap(err, "mark listing processed"), "failed to update listing")
	}
	return &out, nil
}
