package services

import (
	"context"
	"strings"
	"testing"

	"marketplace-rewards/models"
	"marketplace-rewards/utils"

	"github.com/pkg/errors"
)

func completedDrawFor(t *testing.T, f *fixture, winner string) *models.Draw {
	t.Helper()
	grantTickets(t, f, winner, 1)
	f.draws.pick = func(int64) (int64, error) { return 0, nil }
	draw, err := f.draws.RunDraw(context.Background(), 9, 2026)
	if err != nil {
		t.Fatal(err)
	}
	return draw
}

var validDetails = PaymentDetailsInput{
	BankName:      "First Bank",
	AccountHolder: "Winner Person",
	AccountNumber: "0011223344",
}

func TestSubmitPaymentDetailsEligibility(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	draw := completedDrawFor(t, f, "winner")

	if _, _, err := f.payments.SubmitPaymentDetails(ctx, "intruder", validDetails); !errors.Is(err, ErrNotEligible) {
		t.Fatalf("non-winner: want ErrNotEligible, got %v", err)
	}
	if KindOf(ErrNotEligible) != KindUnauthorized {
		t.Errorf("ErrNotEligible kind = %s", KindOf(ErrNotEligible))
	}

	detail, updated, err := f.payments.SubmitPaymentDetails(ctx, "winner", validDetails)
	if err != nil {
		t.Fatal(err)
	}
	if updated.PaymentStatus != models.PaymentStatusClaimed || detail.DrawID != draw.ID {
		t.Errorf("draw=%+v detail=%+v", updated, detail)
	}

	var stored models.Draw
	f.db.First(&stored, "id = ?", draw.ID)
	if stored.PaymentStatus != models.PaymentStatusClaimed || stored.PaymentDetailID == nil || *stored.PaymentDetailID != detail.ID {
		t.Errorf("stored draw = %+v", stored)
	}

	if _, _, err := f.payments.SubmitPaymentDetails(ctx, "winner", validDetails); !errors.Is(err, ErrPaymentAlreadyClaimed) {
		t.Fatalf("resubmit: want ErrPaymentAlreadyClaimed, got %v", err)
	}
}

func TestSubmitPaymentDetailsRequiresFields(t *testing.T) {
	f := newFixture(t)
	completedDrawFor(t, f, "winner")
	in := validDetails
	in.AccountNumber = "  "
	if _, _, err := f.payments.SubmitPaymentDetails(context.Background(), "winner", in); KindOf(err) != KindInvalidInput {
		t.Fatalf("want invalid_input, got %v", err)
	}
}

func TestAccountNumberIsEncryptedAtRest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	draw := completedDrawFor(t, f, "winner")
	if _, _, err := f.payments.SubmitPaymentDetails(ctx, "winner", validDetails); err != nil {
		t.Fatal(err)
	}

	var raw models.PaymentDetail
	f.db.First(&raw, "draw_id = ?", draw.ID)
	if !utils.IsSealed(raw.SealedAccountNumber) || strings.Contains(raw.SealedAccountNumber, validDetails.AccountNumber) {
		t.Fatalf("account number stored in clear: %q", raw.SealedAccountNumber)
	}

	detail, err := f.payments.PaymentDetailForDraw(ctx, draw.ID)
	if err != nil {
		t.Fatal(err)
	}
	if detail.AccountNumber != validDetails.AccountNumber || detail.MaskedAccountNumber() != "****3344" {
		t.Errorf("decrypted=%q masked=%q", detail.AccountNumber, detail.MaskedAccountNumber())
	}
}

func TestCorruptCiphertextFailsClosed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	draw := completedDrawFor(t, f, "winner")
	if _, _, err := f.payments.SubmitPaymentDetails(ctx, "winner", validDetails); err != nil {
		t.Fatal(err)
	}
	f.db.Model(&models.PaymentDetail{}).Where("draw_id = ?", draw.ID).
		Update("account_number", "v1:AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA")

	if _, err := f.payments.PaymentDetailForDraw(ctx, draw.ID); KindOf(err) != KindInternal {
		t.Fatalf("want internal error, got %v", err)
	}

	f.db.Model(&models.PaymentDetail{}).Where("draw_id = ?", draw.ID).Update("account_number", "12345678")
	detail, err := f.payments.PaymentDetailForDraw(ctx, draw.ID)
	if err != nil {
		t.Fatalf("legacy plaintext: %v", err)
	}
	if detail.AccountNumber != "12345678" {
		t.Errorf("legacy value = %q", detail.AccountNumber)
	}
}

func TestPaymentWorkflow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.users.UpsertProfile(Profile{ExternalUserID: "admin-1", Roles: []string{"admin"}}); err != nil {
		t.Fatal(err)
	}
	if _, err := f.users.UpsertProfile(Profile{ExternalUserID: "winner", Email: "winner@example.com"}); err != nil {
		t.Fatal(err)
	}
	draw := completedDrawFor(t, f, "winner")

	if _, err := f.payments.ProcessPayment(ctx, "missing", ""); !errors.Is(err, ErrDrawNotFound) {
		t.Fatalf("want ErrDrawNotFound, got %v", err)
	}
	if _, err := f.payments.ProcessPayment(ctx, draw.ID, ""); !errors.Is(err, ErrPaymentNotClaimed) {
		t.Fatalf("unclaimed: want ErrPaymentNotClaimed, got %v", err)
	}

	if _, _, err := f.payments.SubmitPaymentDetails(ctx, "winner", validDetails); err != nil {
		t.Fatal(err)
	}
	if got := f.countNotifications(t, "admin-1", models.NotificationPaymentClaimed); got != 1 {
		t.Errorf("admin notifications = %d", got)
	}

	verified, err := f.payments.VerifyPaymentDetail(ctx, draw.ID)
	if err != nil {
		t.Fatal(err)
	}
	if verified.Status != models.PaymentDetailStatusVerified || verified.VerifiedAt == nil {
		t.Errorf("verified = %+v", verified)
	}
	if _, err := f.payments.VerifyPaymentDetail(ctx, draw.ID); !errors.Is(err, ErrPaymentNotPending) {
		t.Errorf("second verify: %v", err)
	}

	paid, err := f.payments.ProcessPayment(ctx, draw.ID, "wire ref 77")
	if err != nil {
		t.Fatal(err)
	}
	if paid.PaymentStatus != models.PaymentStatusPaid || paid.PaidAt == nil {
		t.Errorf("paid = %+v", paid)
	}
	if _, err := f.payments.ProcessPayment(ctx, draw.ID, ""); !errors.Is(err, ErrPaymentNotClaimed) {
		t.Errorf("second process: %v", err)
	}

	var detail models.PaymentDetail
	f.db.First(&detail, "draw_id = ?", draw.ID)
	if detail.Status != models.PaymentDetailStatusPaid || detail.Notes != "wire ref 77" {
		t.Errorf("detail = %+v", detail)
	}
	if got := f.countNotifications(t, "winner", models.NotificationPaymentProcessed); got != 1 {
		t.Errorf("winner payment notifications = %d", got)
	}

	// draw_winner and payment_processed emails
	if len(f.mailer.sent) != 2 {
		t.Errorf("emails sent = %v", f.mailer.sent)
	}
}
