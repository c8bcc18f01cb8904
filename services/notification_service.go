package services

import (
	"context"
	"time"

	"marketplace-rewards/metrics"
	"marketplace-rewards/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"gorm.io/gorm"
)

// Notifier receives events from the reward engine. Emit never fails the caller.
type Notifier interface {
	Emit(ctx context.Context, userID string, typ models.NotificationType, msg string, data map[string]interface{})
	Email(ctx context.Context, userID, subject, body string)
}

type NotificationService struct {
	DB     *gorm.DB
	mailer Mailer
	now    func() time.Time
}

func NewNotificationService(db *gorm.DB, mailer Mailer) *NotificationService {
	return &NotificationService{DB: db, mailer: mailer, now: func() time.Time { return time.Now().UTC() }}
}

// printer formats counts and amounts in user-facing messages.
var printer = message.NewPrinter(language.English)

func (s *NotificationService) Emit(ctx context.Context, userID string, typ models.NotificationType, msg string, data map[string]interface{}) {
	n := models.Notification{
		ID:        uuid.NewString(),
		UserID:    userID,
		Type:      typ,
		Title:     typ.DefaultTitle(),
		Message:   msg,
		Data:      data,
		CreatedAt: s.now(),
	}
	if err := s.DB.WithContext(ctx).Create(&n).Error; err != nil {
		metrics.NotificationFailuresTotal.WithLabelValues("in_app").Inc()
		zap.L().Warn("failed to store notification",
			zap.String("user_id", userID),
			zap.String("type", string(typ)),
			zap.Error(err))
	}
}

// Email looks up the user's address and sends through the mailer. Users
// without an address are skipped.
func (s *NotificationService) Email(ctx context.Context, userID, subject, body string) {
	var user models.User
	if err := s.DB.WithContext(ctx).Select("email").Where("external_user_id = ?", userID).First(&user).Error; err != nil {
		zap.L().Warn("email skipped, user lookup failed", zap.String("user_id", userID), zap.Error(err))
		return
	}
	sendMailQuietly(ctx, s.mailer, user.Email, subject, body)
}

func (s *NotificationService) ListUnread(userID string, limit int) ([]models.Notification, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	var out []models.Notification
	err := s.DB.Where("user_id = ? AND is_read = ?", userID, false).
		Order("created_at DESC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, internalError(err, "failed to list notifications")
	}
	return out, nil
}

// ListUnreadByTypes is ListUnread restricted to the given types.
func (s *NotificationService) ListUnreadByTypes(userID string, types []models.NotificationType, limit int) ([]models.Notification, error) {
	var out []models.Notification
	err := s.DB.Where("user_id = ? AND is_read = ? AND type IN ?", userID, false, types).
		Order("created_at DESC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, internalError(err, "failed to list notifications")
	}
	return out, nil
}

// StreamCursor tracks stream progress as a timestamp plus the ids already
// delivered at that timestamp, so rows sharing the newest timestamp that
// commit after a poll are still picked up.
type StreamCursor struct {
	At   time.Time
	seen map[string]struct{}
}

func NewStreamCursor(at time.Time) *StreamCursor {
	return &StreamCursor{At: at, seen: map[string]struct{}{}}
}

func (c *StreamCursor) advance(delivered []models.Notification) {
	for _, n := range delivered {
		if n.CreatedAt.After(c.At) {
			c.At = n.CreatedAt
			c.seen = map[string]struct{}{}
		}
		if n.CreatedAt.Equal(c.At) {
			c.seen[n.ID] = struct{}{}
		}
	}
}

// Since returns the user's notifications not yet delivered through cursor,
// oldest first, and moves the cursor past them.
func (s *NotificationService) Since(ctx context.Context, userID string, cursor *StreamCursor) ([]models.Notification, error) {
	var rows []models.Notification
	err := s.DB.WithContext(ctx).
		Where("user_id = ? AND created_at >= ?", userID, cursor.At).
		Order("created_at ASC, id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	out := rows[:0]
	for _, n := range rows {
		if _, ok := cursor.seen[n.ID]; ok && n.CreatedAt.Equal(cursor.At) {
			continue
		}
		out = append(out, n)
	}
	cursor.advance(out)
	return out, nil
}

func (s *NotificationService) MarkRead(userID, id string) error {
	now := s.now()
	res := s.DB.Model(&models.Notification{}).
		Where("id = ? AND user_id = ?", id, userID).
		Updates(map[string]interface{}{"is_read": true, "read_at": now})
	if res.Error != nil {
		return internalError(res.Error, "failed to mark notification read")
	}
	if res.RowsAffected == 0 {
		return ErrNotificationNotFound
	}
	return nil
}

// MarkAllRead returns the number of notifications that changed.
func (s *NotificationService) MarkAllRead(userID string) (int64, error) {
	now := s.now()
	res := s.DB.Model(&models.Notification{}).
		Where("user_id = ? AND is_read = ?", userID, false).
		Updates(map[string]interface{}{"is_read": true, "read_at": now})
	if res.Error != nil {
		return 0, internalError(res.Error, "failed to mark notifications read")
	}
	return res.RowsAffected, nil
}
