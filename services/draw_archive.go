package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"marketplace-rewards/models"

	"github.com/gosimple/slug"
	"go.uber.org/zap"
)

// ObjectPutter is the write side of an object store.
type ObjectPutter interface {
	Put(ctx context.Context, key, contentType string, body []byte) (string, error)
}

// ObjectDrawArchiver writes completed draw results to an object store as JSON.
type ObjectDrawArchiver struct {
	store ObjectPutter
}

func NewObjectDrawArchiver(store ObjectPutter) *ObjectDrawArchiver {
	return &ObjectDrawArchiver{store: store}
}

type drawArchiveRecord struct {
	DrawID         string     `json:"draw_id"`
	Month          int        `json:"month"`
	Year           int        `json:"year"`
	WinnerUserID   *string    `json:"winner_user_id"`
	WinnerTickets  *int64     `json:"winner_tickets"`
	WinningEntryID *string    `json:"winning_entry_id"`
	TotalEntries   int64      `json:"total_entries"`
	Participants   int64      `json:"participants"`
	PrizeAmount    string     `json:"prize_amount"`
	DrawnAt        *time.Time `json:"drawn_at"`
}

// DrawArchiveKey returns e.g. "draws/2026/october-2026-draw.json".
func DrawArchiveKey(d *models.Draw) string {
	name := slug.Make(d.Period(time.UTC).Format("January 2006") + " draw")
	return fmt.Sprintf("draws/%d/%s.json", d.Year, name)
}

func (a *ObjectDrawArchiver) Archive(ctx context.Context, d *models.Draw) error {
	body, err := json.Marshal(drawArchiveRecord{
		DrawID:         d.ID,
		Month:          d.Month,
		Year:           d.Year,
		WinnerUserID:   d.WinnerUserID,
		WinnerTickets:  d.WinnerTickets,
		WinningEntryID: d.WinningEntryID,
		TotalEntries:   d.TotalEntries,
		Participants:   d.Participants,
		PrizeAmount:    d.PrizeAmount.StringFixed(2),
		DrawnAt:        d.DrawnAt,
	})
	if err != nil {
		return err
	}

	url, err := a.store.Put(ctx, DrawArchiveKey(d), "application/json", body)
	if err != nil {
		return dependencyError(err, "failed to archive draw")
	}
	zap.L().Info("draw archived", zap.String("draw_id", d.ID), zap.String("url", url))
	return nil
}
