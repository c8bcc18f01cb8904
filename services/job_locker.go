package services

import (
	"context"
	"fmt"
	"time"

	"marketplace-rewards/models"

	"github.com/go-co-op/gocron/v2"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrJobLocked = errors.New("job already running on another instance")

const jobLockRetention = 30 * 24 * time.Hour

// DBJobLocker implements gocron.Locker with one row per job firing. The row
// key is the job name plus the minute the firing belongs to, so the first
// instance to insert it wins and the rest skip.
type DBJobLocker struct {
	DB    *gorm.DB
	owner string
	now   func() time.Time
}

func NewDBJobLocker(db *gorm.DB, owner string) *DBJobLocker {
	return &DBJobLocker{DB: db, owner: owner, now: func() time.Time { return time.Now().UTC() }}
}

func (l *DBJobLocker) Lock(ctx context.Context, key string) (gocron.Lock, error) {
	now := l.now()
	slot := now.Truncate(time.Minute)
	row := models.JobLock{
		Key:      fmt.Sprintf("%s@%s", key, slot.Format("200601021504")),
		Owner:    l.owner,
		LockedAt: now,
	}

	res := l.DB.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrJobLocked
	}

	if err := l.DB.WithContext(ctx).
		Where("locked_at < ?", now.Add(-jobLockRetention)).
		Delete(&models.JobLock{}).Error; err != nil {
		zap.L().Warn("failed to prune job locks", zap.Error(err))
	}
	return jobLock{}, nil
}

// jobLock is released by time: the slot key never repeats.
type jobLock struct{}

func (jobLock) Unlock(context.Context) error { return nil }
