package services

import (
	"context"
	"testing"
	"time"

	"marketplace-rewards/models"
)

func TestDashboard(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	code := f.codeFor(t, "referrer")

	if _, _, err := f.ledger.GrantSignupTickets(ctx, "referrer"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.referrals.ApplyCode(ctx, ApplyInput{Code: code, RedeemerID: "friend-1"}); err != nil {
		t.Fatal(err)
	}
	if _, err := f.referrals.ApplyCode(ctx, ApplyInput{Code: code, RedeemerID: "friend-2", RewardType: models.RewardTypeFreeMonth}); err != nil {
		t.Fatal(err)
	}
	if _, _, err := f.referrals.RecordPendingReferral(ctx, code, "friend-3"); err != nil {
		t.Fatal(err)
	}

	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	dash, err := f.referrals.Dashboard(ctx, "referrer", now)
	if err != nil {
		t.Fatal(err)
	}

	if dash.Code == nil || *dash.Code != code || dash.CodeUsage != 2 {
		t.Errorf("code=%v usage=%d", dash.Code, dash.CodeUsage)
	}
	if dash.ReferralLink != "http://localhost:3000/referral/"+code {
		t.Errorf("link = %s", dash.ReferralLink)
	}
	if dash.Stats.ReferralsCount != 3 || dash.Stats.SuccessfulConversions != 2 || dash.PendingReferrals != 1 {
		t.Errorf("stats=%+v pending=%d", dash.Stats, dash.PendingReferrals)
	}
	if dash.ConversionRate != 66.67 {
		t.Errorf("conversion rate = %v", dash.ConversionRate)
	}
	if dash.ReferralsByReward["draw_entries"] != 1 || dash.ReferralsByReward["free_month"] != 1 {
		t.Errorf("by reward = %v", dash.ReferralsByReward)
	}
	if dash.TotalTickets != 6 || dash.TicketsBySource["referral"] != 5 || dash.TicketsBySource["signup"] != 1 {
		t.Errorf("tickets total=%d by source=%v", dash.TotalTickets, dash.TicketsBySource)
	}
	if dash.CurrentDraw == nil || dash.CurrentDraw.Draw.Month != 10 || dash.CurrentDraw.DaysLeft != 12 || dash.CurrentDraw.HoursLeft != 12 {
		t.Errorf("countdown = %+v", dash.CurrentDraw)
	}
	if dash.WinnerStatus != nil {
		t.Errorf("unexpected winner status")
	}
	if len(dash.Notifications) == 0 || len(dash.Notifications) > dashboardNotificationLimit {
		t.Errorf("notifications = %d", len(dash.Notifications))
	}
}

func TestDashboardForNewUser(t *testing.T) {
	f := newFixture(t)
	dash, err := f.referrals.Dashboard(context.Background(), "newcomer", time.Now().UTC())
	if err != nil {
		t.Fatal(err)
	}
	if dash.Code != nil || dash.ConversionRate != 0 || len(dash.Referrals) != 0 {
		t.Errorf("dashboard = %+v", dash)
	}
}
