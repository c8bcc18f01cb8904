package services

import (
	"strings"

	"marketplace-rewards/models"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UserDirectory is the local mirror of marketplace accounts. Every
// referral-stats mutation goes through it as an atomic increment.
type UserDirectory struct {
	DB *gorm.DB
}

func NewUserDirectory(db *gorm.DB) *UserDirectory {
	return &UserDirectory{DB: db}
}

// Profile is the subset of a profile-service record the mirror keeps.
type Profile struct {
	ExternalUserID string
	Username       string
	FullName       string
	Email          string
	Roles          []string
}

// EnsureUser creates the user row if missing and returns it. tx may be a
// transaction handle or the plain DB.
func (d *UserDirectory) EnsureUser(tx *gorm.DB, externalUserID string) (*models.User, error) {
	if tx == nil {
		tx = d.DB
	}
	if strings.TrimSpace(externalUserID) == "" {
		return nil, ErrUserRequired
	}

	user := models.User{
		ID:             uuid.NewString(),
		ExternalUserID: externalUserID,
		Role:           models.UserRoleUser,
	}
	if err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "external_user_id"}},
		DoNothing: true,
	}).Create(&user).Error; err != nil {
		return nil, internalError(err, "failed to create user")
	}

	var out models.User
	if err := tx.Where("external_user_id = ?", externalUserID).First(&out).Error; err != nil {
		return nil, internalError(err, "failed to load user")
	}
	return &out, nil
}

// UpsertProfile refreshes profile fields and reports whether the row is new.
func (d *UserDirectory) UpsertProfile(p Profile) (bool, error) {
	role := models.UserRoleUser
	for _, r := range p.Roles {
		if strings.EqualFold(strings.TrimSpace(r), string(models.UserRoleAdmin)) {
			role = models.UserRoleAdmin
		}
	}

	created := false
	err := d.DB.Transaction(func(tx *gorm.DB) error {
		user := models.User{
			ID:             uuid.NewString(),
			ExternalUserID: p.ExternalUserID,
			Username:       p.Username,
			FullName:       p.FullName,
			Email:          p.Email,
			Role:           role,
		}
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "external_user_id"}},
			DoNothing: true,
		}).Create(&user)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 1 {
			created = true
			return nil
		}
		return tx.Model(&models.User{}).
			Where("external_user_id = ?", p.ExternalUserID).
			Updates(map[string]interface{}{
				"username":  p.Username,
				"full_name": p.FullName,
				"email":     p.Email,
				"role":      role,
			}).Error
	})
	if err != nil {
		return false, internalError(err, "failed to upsert user profile")
	}
	return created, nil
}

func (d *UserDirectory) Get(externalUserID string) (*models.User, error) {
	var user models.User
	if err := d.DB.Where("external_user_id = ?", externalUserID).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, internalError(err, "failed to load user")
	}
	return &user, nil
}

func (d *UserDirectory) ListAdmins() ([]models.User, error) {
	var admins []models.User
	if err := d.DB.Where("role = ?", models.UserRoleAdmin).Find(&admins).Error; err != nil {
		return nil, internalError(err, "failed to list admins")
	}
	return admins, nil
}

// incrementStats applies column += delta for each entry in one UPDATE.
func incrementStats(tx *gorm.DB, externalUserID string, deltas map[string]int64) error {
	updates := make(map[string]interface{}, len(deltas))
	for col, n := range deltas {
		updates[col] = gorm.Expr(col+" + ?", n)
	}
	return tx.Model(&models.User{}).
		Where("external_user_id = ?", externalUserID).
		Updates(updates).Error
}
