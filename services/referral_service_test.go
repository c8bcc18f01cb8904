package services

import (
	"context"
	"strings"
	"sync"
	"testing"

	"marketplace-rewards/models"

	"github.com/pkg/errors"
)

func TestGenerateCodeReturnsExistingActiveCode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.codes.GenerateCode(ctx, "owner")
	if err != nil {
		t.Fatal(err)
	}
	if len(first.Code) != codeLength {
		t.Errorf("code %q has length %d", first.Code, len(first.Code))
	}
	second, err := f.codes.GenerateCode(ctx, "owner")
	if err != nil {
		t.Fatal(err)
	}
	if first.Code != second.Code {
		t.Errorf("codes differ: %s vs %s", first.Code, second.Code)
	}

	u := f.user(t, "owner")
	if u.ReferralCode == nil || *u.ReferralCode != first.Code {
		t.Errorf("user mirror not updated: %+v", u.ReferralCode)
	}
}

func TestGenerateCodeRetriesOnCollision(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	codes := []string{"AAAAAA", "AAAAAA", "BBBBBB"}
	f.codes.generate = func() (string, error) {
		c := codes[0]
		codes = codes[1:]
		return c, nil
	}

	a, err := f.codes.GenerateCode(ctx, "first")
	if err != nil {
		t.Fatal(err)
	}
	b, err := f.codes.GenerateCode(ctx, "second")
	if err != nil {
		t.Fatal(err)
	}
	if a.Code != "AAAAAA" || b.Code != "BBBBBB" {
		t.Errorf("got %s and %s", a.Code, b.Code)
	}
}

func TestValidateCode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	code := f.codeFor(t, "owner")

	tests := []struct {
		name   string
		code   string
		caller string
		want   error
	}{
		{"valid lower case", " " + strings.ToLower(code) + " ", "friend", nil},
		{"unknown", "ZZZZZZ", "friend", ErrCodeNotFound},
		{"own code", code, "owner", ErrSelfReferral},
		{"empty", "", "friend", ErrCodeRequired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			owner, err := f.codes.ValidateCode(ctx, tt.code, tt.caller)
			if tt.want != nil {
				if !errors.Is(err, tt.want) {
					t.Fatalf("want %v, got %v", tt.want, err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if owner.UserID != "owner" {
				t.Errorf("owner = %s", owner.UserID)
			}
		})
	}
}

func TestDeactivatedCodeIsNotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	code := f.codeFor(t, "owner")

	if err := f.codes.DeactivateCode(ctx, code); err != nil {
		t.Fatal(err)
	}
	if _, err := f.codes.ValidateCode(ctx, code, "friend"); !errors.Is(err, ErrCodeNotFound) {
		t.Fatalf("want ErrCodeNotFound, got %v", err)
	}
	if _, err := f.referrals.ApplyCode(ctx, ApplyInput{Code: code, RedeemerID: "friend"}); !errors.Is(err, ErrCodeNotFound) {
		t.Fatalf("apply: want ErrCodeNotFound, got %v", err)
	}

	u := f.user(t, "owner")
	if u.ReferralCodeStatus == nil || *u.ReferralCodeStatus != models.ReferralCodeStatusInactive {
		t.Errorf("user code status = %v", u.ReferralCodeStatus)
	}

	next, err := f.codes.GenerateCode(ctx, "owner")
	if err != nil {
		t.Fatal(err)
	}
	if next.Code == code {
		t.Error("expected a fresh code after deactivation")
	}
}

func TestApplyCodeDrawEntriesReward(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	code := f.codeFor(t, "referrer")

	before := f.user(t, "referrer").ActiveDrawTickets
	res, err := f.referrals.ApplyCode(ctx, ApplyInput{Code: code, RedeemerID: "friend"})
	if err != nil {
		t.Fatal(err)
	}
	if !res.RewardIssued || res.Entry == nil {
		t.Fatalf("reward not issued: %+v", res)
	}
	if res.Referral.Status != models.ReferralStatusRewarded {
		t.Errorf("referral status = %s", res.Referral.Status)
	}

	var entries []models.DrawEntry
	if err := f.db.Where("user_id = ? AND source = ?", "referrer", models.EntrySourceReferral).Find(&entries).Error; err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Tickets != 5 {
		t.Fatalf("referral entries = %+v", entries)
	}
	if entries[0].ReferralID == nil || *entries[0].ReferralID != res.Referral.ID {
		t.Errorf("entry not linked to referral")
	}

	u := f.user(t, "referrer")
	if u.ActiveDrawTickets-before != 5 {
		t.Errorf("active tickets grew by %d, want 5", u.ActiveDrawTickets-before)
	}
	if u.ReferralsCount != 1 || u.SuccessfulConversions != 1 || u.TotalRewards != 1 {
		t.Errorf("stats = %+v", u.ReferralStats)
	}

	var rc models.ReferralCode
	if err := f.db.Where("code = ?", code).First(&rc).Error; err != nil {
		t.Fatal(err)
	}
	if rc.UsageCount != 1 {
		t.Errorf("usage count = %d", rc.UsageCount)
	}
	if got := f.countNotifications(t, "referrer", models.NotificationReferralUsed); got != 1 {
		t.Errorf("referral_used notifications = %d", got)
	}
}

func TestApplyCodeFreeMonthReward(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	code := f.codeFor(t, "referrer")

	res, err := f.referrals.ApplyCode(ctx, ApplyInput{Code: code, RedeemerID: "friend", RewardType: models.RewardTypeFreeMonth})
	if err != nil {
		t.Fatal(err)
	}
	if res.Entry != nil {
		t.Errorf("free month must not create a ledger entry")
	}
	u := f.user(t, "referrer")
	if u.FreeMonthsUsed != 1 || u.ActiveDrawTickets != 0 {
		t.Errorf("stats = %+v", u.ReferralStats)
	}
}

func TestApplyCodeRejectsInvalidRewardType(t *testing.T) {
	f := newFixture(t)
	code := f.codeFor(t, "referrer")
	_, err := f.referrals.ApplyCode(context.Background(), ApplyInput{Code: code, RedeemerID: "friend", RewardType: "cash"})
	if !errors.Is(err, ErrInvalidRewardType) {
		t.Fatalf("want ErrInvalidRewardType, got %v", err)
	}
}

func TestSelfReferralCreatesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	code := f.codeFor(t, "owner")

	if _, err := f.referrals.ApplyCode(ctx, ApplyInput{Code: code, RedeemerID: "owner"}); !errors.Is(err, ErrSelfReferral) {
		t.Fatalf("apply: want ErrSelfReferral, got %v", err)
	}
	if _, _, err := f.referrals.RecordPendingReferral(ctx, code, "owner"); !errors.Is(err, ErrSelfReferral) {
		t.Fatalf("record: want ErrSelfReferral, got %v", err)
	}

	var referrals, entries int64
	f.db.Model(&models.Referral{}).Count(&referrals)
	f.db.Model(&models.DrawEntry{}).Count(&entries)
	if referrals != 0 || entries != 0 {
		t.Errorf("referrals=%d entries=%d, want none", referrals, entries)
	}
	if u := f.user(t, "owner"); u.ReferralsCount != 0 || u.ActiveDrawTickets != 0 {
		t.Errorf("stats changed: %+v", u.ReferralStats)
	}
}

func TestRedeemingTwiceRewardsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	code := f.codeFor(t, "referrer")

	if _, err := f.referrals.ApplyCode(ctx, ApplyInput{Code: code, RedeemerID: "friend"}); err != nil {
		t.Fatal(err)
	}
	_, err := f.referrals.ApplyCode(ctx, ApplyInput{Code: code, RedeemerID: "friend"})
	if !errors.Is(err, ErrReferralAlreadyProcessed) {
		t.Fatalf("want ErrReferralAlreadyProcessed, got %v", err)
	}
	if KindOf(err) != KindConflict {
		t.Errorf("kind = %s", KindOf(err))
	}

	assertSingleReward(t, f)
}

func TestConcurrentRedemptionsRewardOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	code := f.codeFor(t, "referrer")

	const attempts = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.referrals.ApplyCode(ctx, ApplyInput{Code: code, RedeemerID: "friend"})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrReferralAlreadyProcessed):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if successes != 1 || conflicts != attempts-1 {
		t.Fatalf("successes=%d conflicts=%d", successes, conflicts)
	}
	assertSingleReward(t, f)
}

func assertSingleReward(t *testing.T, f *fixture) {
	t.Helper()
	var converted, entries int64
	f.db.Model(&models.Referral{}).Where("status IN ?", []models.ReferralStatus{
		models.ReferralStatusConverted, models.ReferralStatusRewarded,
	}).Count(&converted)
	f.db.Model(&models.DrawEntry{}).Where("source = ?", models.EntrySourceReferral).Count(&entries)
	if converted != 1 || entries != 1 {
		t.Errorf("converted referrals=%d referral entries=%d, want 1 and 1", converted, entries)
	}
	u := f.user(t, "referrer")
	if u.ActiveDrawTickets != 5 || u.SuccessfulConversions != 1 {
		t.Errorf("stats = %+v", u.ReferralStats)
	}
}

func TestPendingReferralConvertsOnApply(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	code := f.codeFor(t, "referrer")

	ref, created, err := f.referrals.RecordPendingReferral(ctx, code, "friend")
	if err != nil || !created {
		t.Fatalf("record: created=%v err=%v", created, err)
	}
	replayed, again, err := f.referrals.RecordPendingReferral(ctx, code, "friend")
	if err != nil || again {
		t.Fatalf("second record: created=%v err=%v", again, err)
	}
	if replayed.ID != ref.ID || replayed.Status != models.ReferralStatusPending {
		t.Fatalf("second record returned %+v, want the stored referral %s", replayed, ref.ID)
	}
	var stored int64
	f.db.Model(&models.Referral{}).Where("referred_id = ?", "friend").Count(&stored)
	if stored != 1 {
		t.Fatalf("expected one referral row, got %d", stored)
	}
	if f.user(t, "referrer").ReferralsCount != 1 {
		t.Fatalf("referrals count not incremented once")
	}
	if rb := f.user(t, "friend").ReferredBy; rb == nil || *rb != "referrer" {
		t.Errorf("referred_by = %v", rb)
	}

	listing := "listing-9"
	res, err := f.referrals.ApplyCode(ctx, ApplyInput{Code: code, RedeemerID: "friend", ListingID: &listing})
	if err != nil {
		t.Fatal(err)
	}
	if res.Referral.ID != ref.ID {
		t.Errorf("apply created a new referral instead of converting the pending one")
	}
	if res.Referral.ListingID == nil || *res.Referral.ListingID != listing {
		t.Errorf("listing not attached")
	}

	u := f.user(t, "referrer")
	if u.ReferralsCount != 1 || u.SuccessfulConversions != 1 {
		t.Errorf("stats = %+v", u.ReferralStats)
	}
}

func TestDeferredRewardChoice(t *testing.T) {
	program := newFixture(t).program
	program.DeferRewardChoice = true
	f := newFixtureWithProgram(t, program)
	ctx := context.Background()
	code := f.codeFor(t, "referrer")

	res, err := f.referrals.ApplyCode(ctx, ApplyInput{Code: code, RedeemerID: "friend"})
	if err != nil {
		t.Fatal(err)
	}
	if res.RewardIssued || res.Referral.Status != models.ReferralStatusConverted {
		t.Fatalf("reward issued before choice: %+v", res)
	}
	if f.user(t, "referrer").ActiveDrawTickets != 0 {
		t.Fatalf("tickets granted before choice")
	}

	if _, err := f.referrals.ChooseReward(ctx, "someone-else", res.Referral.ID, models.RewardTypeDrawEntries); !errors.Is(err, ErrNotReferrer) {
		t.Fatalf("want ErrNotReferrer, got %v", err)
	}

	chosen, err := f.referrals.ChooseReward(ctx, "referrer", res.Referral.ID, models.RewardTypeDrawEntries)
	if err != nil {
		t.Fatal(err)
	}
	if chosen.Entry == nil || chosen.Entry.Tickets != 5 {
		t.Fatalf("entry = %+v", chosen.Entry)
	}
	if _, err := f.referrals.ChooseReward(ctx, "referrer", res.Referral.ID, models.RewardTypeFreeMonth); !errors.Is(err, ErrRewardAlreadyChosen) {
		t.Fatalf("want ErrRewardAlreadyChosen, got %v", err)
	}

	u := f.user(t, "referrer")
	if u.ActiveDrawTickets != 5 || u.FreeMonthsUsed != 0 {
		t.Errorf("stats = %+v", u.ReferralStats)
	}
}

func TestFreeMonthClaimIsConfirmedOnce(t *testing.T) {
	program := newFixture(t).program
	program.DeferRewardChoice = true
	f := newFixtureWithProgram(t, program)
	ctx := context.Background()
	code := f.codeFor(t, "referrer")

	res, err := f.referrals.ApplyCode(ctx, ApplyInput{Code: code, RedeemerID: "friend"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.referrals.ChooseReward(ctx, "referrer", res.Referral.ID, models.RewardTypeFreeMonth); err != nil {
		t.Fatal(err)
	}

	var ref models.Referral
	f.db.First(&ref, "id = ?", res.Referral.ID)
	if ref.RewardStatus == nil || *ref.RewardStatus != models.RewardStatusClaimed {
		t.Fatalf("reward status = %v", ref.RewardStatus)
	}

	if err := f.referrals.ConfirmFreeMonth(ctx, ref.ID); err != nil {
		t.Fatal(err)
	}
	if err := f.referrals.ConfirmFreeMonth(ctx, ref.ID); !errors.Is(err, ErrReferralAlreadyProcessed) {
		t.Fatalf("want ErrReferralAlreadyProcessed, got %v", err)
	}
	if err := f.referrals.ConfirmFreeMonth(ctx, "missing"); !errors.Is(err, ErrReferralNotFound) {
		t.Fatalf("want ErrReferralNotFound, got %v", err)
	}
	if f.user(t, "referrer").FreeMonthsUsed != 1 {
		t.Errorf("free months = %d", f.user(t, "referrer").FreeMonthsUsed)
	}
}
