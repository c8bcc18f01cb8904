package services

import (
	"context"
	"testing"
	"time"

	"marketplace-rewards/models"

	"github.com/pkg/errors"
)

func grantTickets(t *testing.T, f *fixture, user string, n int64) {
	t.Helper()
	if _, _, err := f.ledger.GrantPromotionTickets(context.Background(), user, n, ""); err != nil {
		t.Fatalf("grant %d to %s: %v", n, user, err)
	}
}

func TestCurrentDrawIsCreatedOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)

	a, err := f.draws.CurrentDraw(ctx, now)
	if err != nil {
		t.Fatal(err)
	}
	b, err := f.draws.CurrentDraw(ctx, now.Add(48*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if a.ID != b.ID || a.Month != 10 || a.Year != 2026 {
		t.Errorf("draws a=%+v b=%+v", a, b)
	}
	if a.Status != models.DrawStatusPending || !a.PrizeAmount.Equal(f.program.PrizeAmount) {
		t.Errorf("unexpected new draw %+v", a)
	}

	var n int64
	f.db.Model(&models.Draw{}).Count(&n)
	if n != 1 {
		t.Errorf("draw rows = %d", n)
	}
}

func TestRunDrawRejectsInvalidPeriodAndEmptyPool(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.draws.RunDraw(ctx, 0, 2026); !errors.Is(err, ErrInvalidPeriod) {
		t.Errorf("month 0: got %v", err)
	}
	if _, err := f.draws.RunDraw(ctx, 13, 2026); !errors.Is(err, ErrInvalidPeriod) {
		t.Errorf("month 13: got %v", err)
	}
	if _, err := f.draws.RunDraw(ctx, 10, 2026); !errors.Is(err, ErrNoEntries) {
		t.Errorf("empty pool: got %v", err)
	}
}

func TestRunDrawCompletesOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	grantTickets(t, f, "alice", 3)
	grantTickets(t, f, "alice", 2)
	grantTickets(t, f, "bob", 1)

	// slot 4 falls in alice's second entry (slots 3-4)
	f.draws.pick = func(n int64) (int64, error) {
		if n != 6 {
			t.Errorf("pool size = %d, want 6", n)
		}
		return 4, nil
	}

	first, err := f.draws.RunDraw(ctx, 9, 2026)
	if err != nil {
		t.Fatal(err)
	}
	if first.Status != models.DrawStatusCompleted || first.WinnerUserID == nil || *first.WinnerUserID != "alice" {
		t.Fatalf("unexpected result %+v", first)
	}
	if first.WinnerTickets == nil || *first.WinnerTickets != 5 {
		t.Errorf("winner tickets = %v, want 5", first.WinnerTickets)
	}
	if first.TotalEntries != 6 || first.Participants != 2 {
		t.Errorf("total=%d participants=%d", first.TotalEntries, first.Participants)
	}
	if first.PaymentStatus != models.PaymentStatusPending || first.DrawnAt == nil {
		t.Errorf("payment=%s drawnAt=%v", first.PaymentStatus, first.DrawnAt)
	}

	f.draws.pick = func(int64) (int64, error) { return 5, nil } // bob's slot
	second, err := f.draws.RunDraw(ctx, 9, 2026)
	if !errors.Is(err, ErrDrawAlreadyCompleted) || KindOf(err) != KindConflict {
		t.Fatalf("want conflict, got %v", err)
	}
	if second == nil || *second.WinnerUserID != "alice" || second.TotalEntries != first.TotalEntries {
		t.Errorf("completed draw changed: %+v", second)
	}

	if got := f.countNotifications(t, "alice", models.NotificationDrawWinner); got != 1 {
		t.Errorf("winner notifications = %d", got)
	}
	if len(f.archiver.draws) != 1 {
		t.Errorf("archived %d draws, want 1", len(f.archiver.draws))
	}
}

func TestRunDrawLosingRaceReadsBackWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	grantTickets(t, f, "alice", 1)
	grantTickets(t, f, "bob", 1)

	// complete the period from "another instance" right after the pool is drawn
	f.draws.pick = func(int64) (int64, error) {
		winner := "bob"
		err := f.db.Model(&models.Draw{}).
			Where("month = ? AND year = ?", 5, 2026).
			Updates(map[string]interface{}{"status": models.DrawStatusCompleted, "winner_user_id": winner}).Error
		if err != nil {
			t.Fatal(err)
		}
		return 0, nil
	}

	draw, err := f.draws.RunDraw(ctx, 5, 2026)
	if !errors.Is(err, ErrDrawAlreadyCompleted) {
		t.Fatalf("want ErrDrawAlreadyCompleted, got %v", err)
	}
	if draw == nil || draw.WinnerUserID == nil || *draw.WinnerUserID != "bob" {
		t.Errorf("loser did not read back the stored winner: %+v", draw)
	}
	if got := f.countNotifications(t, "alice", models.NotificationDrawWinner); got != 0 {
		t.Errorf("loser announced a winner")
	}
}

func TestArchiveFailureDoesNotFailDraw(t *testing.T) {
	f := newFixture(t)
	f.archiver.err = errors.New("bucket unavailable")
	f.mailer.err = errors.New("smtp down")
	grantTickets(t, f, "alice", 1)

	if _, err := f.draws.RunDraw(context.Background(), 1, 2026); err != nil {
		t.Fatalf("draw failed on collaborator error: %v", err)
	}
}

func TestTicketPoolIsProportional(t *testing.T) {
	pool := newTicketPool([]models.DrawEntry{
		{ID: "a", UserID: "A", Tickets: 3},
		{ID: "b", UserID: "B", Tickets: 1},
	})
	if pool.total != 4 {
		t.Fatalf("total = %d", pool.total)
	}

	want := []string{"A", "A", "A", "B"}
	for slot, user := range want {
		if got := pool.at(int64(slot)).UserID; got != user {
			t.Errorf("slot %d = %s, want %s", slot, got, user)
		}
	}

	const trials = 20000
	wins := 0
	for i := 0; i < trials; i++ {
		slot, err := cryptoPick(pool.total)
		if err != nil {
			t.Fatal(err)
		}
		if pool.at(slot).UserID == "A" {
			wins++
		}
	}
	ratio := float64(wins) / trials
	if ratio < 0.72 || ratio > 0.78 {
		t.Errorf("A won %.3f of draws, want about 0.75", ratio)
	}
}

func TestManagementSummaryAndWinnerStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	grantTickets(t, f, "alice", 2)
	grantTickets(t, f, "bob", 3)
	f.draws.pick = func(int64) (int64, error) { return 0, nil }

	if _, err := f.draws.RunDraw(ctx, 9, 2026); err != nil {
		t.Fatal(err)
	}

	summary, err := f.draws.ManagementSummary(ctx, time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatal(err)
	}
	if summary.CurrentDraw.Month != 10 || len(summary.PastDraws) != 1 || summary.PastDraws[0].Month != 9 {
		t.Errorf("summary draws: current=%+v past=%d", summary.CurrentDraw, len(summary.PastDraws))
	}
	if summary.ActiveTickets != 5 || summary.Participants != 2 || summary.ClaimedPayments != 0 {
		t.Errorf("summary = %+v", summary)
	}

	status, err := f.draws.WinnerStatus(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if !status.IsWinner || !status.NeedsPaymentDetails {
		t.Errorf("alice status = %+v", status)
	}
	status, err = f.draws.WinnerStatus(ctx, "bob")
	if err != nil {
		t.Fatal(err)
	}
	if status.IsWinner {
		t.Errorf("bob reported as winner")
	}
}

func TestPreviousPeriodWrapsYear(t *testing.T) {
	f := newFixture(t)
	m, y := f.draws.PreviousPeriod(time.Date(2027, 1, 1, 0, 1, 0, 0, time.UTC))
	if m != 12 || y != 2026 {
		t.Errorf("previous period = %d/%d", m, y)
	}
}

func TestDrawArchiveKey(t *testing.T) {
	got := DrawArchiveKey(&models.Draw{Month: 10, Year: 2026})
	if got != "draws/2026/october-2026-draw.json" {
		t.Errorf("key = %s", got)
	}
}
