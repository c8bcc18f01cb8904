package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"marketplace-rewards/config"
	"marketplace-rewards/models"
	"marketplace-rewards/utils"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get sql.DB: %v", err)
	}
	// one connection keeps the in-memory database alive and serializes transactions
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := db.AutoMigrate(models.All()...); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return db
}

type recordingMailer struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (m *recordingMailer) Send(_ context.Context, to, subject, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, to+"|"+subject)
	return nil
}

type recordingArchiver struct {
	mu    sync.Mutex
	draws []string
	err   error
}

func (a *recordingArchiver) Archive(_ context.Context, d *models.Draw) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.draws = append(a.draws, d.ID)
	return a.err
}

type fixture struct {
	db        *gorm.DB
	program   config.ProgramConfig
	users     *UserDirectory
	notifier  *NotificationService
	mailer    *recordingMailer
	archiver  *recordingArchiver
	ledger    *TicketLedger
	codes     *ReferralCodeRegistry
	draws     *DrawService
	referrals *ReferralService
	payments  *PaymentService
	maint     *MaintenanceService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithProgram(t, config.DefaultProgram())
}

func newFixtureWithProgram(t *testing.T, program config.ProgramConfig) *fixture {
	t.Helper()

	db := newTestDB(t)
	cipher, err := utils.NewFieldCipher("test-encryption-key")
	if err != nil {
		t.Fatalf("cipher: %v", err)
	}

	f := &fixture{db: db, program: program, mailer: &recordingMailer{}, archiver: &recordingArchiver{}}
	f.users = NewUserDirectory(db)
	f.notifier = NewNotificationService(db, f.mailer)
	f.ledger = NewTicketLedger(db, f.users, f.notifier, program)
	f.codes = NewReferralCodeRegistry(db, f.users)
	f.draws = NewDrawService(db, f.notifier, f.archiver, program, time.UTC)
	f.referrals = NewReferralService(db, f.users, f.codes, f.ledger, f.draws, f.notifier, program)
	f.payments = NewPaymentService(db, f.users, cipher, f.notifier)
	f.maint = NewMaintenanceService(db, f.draws, f.ledger, f.notifier, program)
	return f
}

func (f *fixture) user(t *testing.T, id string) *models.User {
	t.Helper()
	var u models.User
	if err := f.db.Where("external_user_id = ?", id).First(&u).Error; err != nil {
		t.Fatalf("load user %s: %v", id, err)
	}
	return &u
}

func (f *fixture) ledgerSum(t *testing.T, id string) int64 {
	t.Helper()
	n, err := f.ledger.ActiveTickets(id)
	if err != nil {
		t.Fatalf("active tickets for %s: %v", id, err)
	}
	return n
}

func (f *fixture) codeFor(t *testing.T, owner string) string {
	t.Helper()
	rc, err := f.codes.GenerateCode(context.Background(), owner)
	if err != nil {
		t.Fatalf("generate code for %s: %v", owner, err)
	}
	return rc.Code
}

func (f *fixture) countNotifications(t *testing.T, userID string, typ models.NotificationType) int64 {
	t.Helper()
	var n int64
	if err := f.db.Model(&models.Notification{}).Where("user_id = ? AND type = ?", userID, typ).Count(&n).Error; err != nil {
		t.Fatalf("count notifications: %v", err)
	}
	return n
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}
