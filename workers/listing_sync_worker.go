package workers

import (
	"context"
	"time"

	"marketplace-rewards/models"
	"marketplace-rewards/services"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// RemoteListing is one record of the listing service change feed.
type RemoteListing struct {
	ID           string    `json:"id"`
	OwnerID      string    `json:"owner_id"`
	Title        string    `json:"title"`
	ReferralCode *string   `json:"referral_code,omitempty"`
	RewardType   *string   `json:"reward_type,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

type listingChangesResponse struct {
	Listings []RemoteListing `json:"listings"`
}

// ListingSyncWorker polls new listings and converts the referrals their
// codes carry.
type ListingSyncWorker struct {
	db           *gorm.DB
	intake       *services.IntakeService
	client       *syncClient
	endpointPath string
	interval     time.Duration
}

func NewListingSyncWorker(db *gorm.DB, intake *services.IntakeService, baseURL, serviceToken string, interval time.Duration) *ListingSyncWorker {
	if interval <= 0 {
		interval = time.Minute
	}
	return &ListingSyncWorker{
		db:           db,
		intake:       intake,
		client:       newSyncClient(baseURL, serviceToken),
		endpointPath: "/api/v1/public/listings",
		interval:     interval,
	}
}

func (w *ListingSyncWorker) Start(ctx context.Context) {
	zap.L().Info("starting listing sync worker", zap.Duration("interval", w.interval))
	go w.run(ctx)
}

func (w *ListingSyncWorker) run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := w.syncBatch(ctx); err != nil {
				zap.L().Error("listing sync batch failed", zap.Error(err))
			}
		case <-ctx.Done():
			zap.L().Info("listing sync worker stopped")
			return
		}
	}
}

// lastSyncTime resumes from the oldest listing still waiting to be processed,
// then from the newest processed one, then from one day back.
func (w *ListingSyncWorker) lastSyncTime() time.Time {
	var pending models.ListingMirror
	if err := w.db.Where("processed_at IS NULL").Order("created_at ASC").First(&pending).Error; err == nil {
		return pending.CreatedAt.Add(-time.Second)
	}
	var latest models.ListingMirror
	if err := w.db.Where("processed_at IS NOT NULL").Order("created_at DESC").First(&latest).Error; err == nil {
		return latest.CreatedAt
	}
	return time.Now().UTC().Add(-24 * time.Hour)
}

func (w *ListingSyncWorker) syncBatch(ctx context.Context) error {
	since := w.lastSyncTime()

	var response listingChangesResponse
	if err := w.client.fetch(ctx, w.endpointPath, since, &response); err != nil {
		return err
	}
	if len(response.Listings) == 0 {
		return nil
	}

	var converted, skipped, failed int
	for _, remote := range response.Listings {
		out, err := w.intake.HandleListingCreated(ctx, models.ListingMirror{
			ID:           remote.ID,
			OwnerID:      remote.OwnerID,
			Title:        remote.Title,
			ReferralCode: remote.ReferralCode,
			RewardType:   remote.RewardType,
			CreatedAt:    remote.CreatedAt.UTC(),
		})
		switch {
		case err != nil:
			failed++
			zap.L().Warn("failed to ingest listing", zap.String("listing_id", remote.ID), zap.Error(err))
		case out.Result != nil:
			converted++
		default:
			skipped++
		}
	}

	zap.L().Info("listing sync batch done",
		zap.Int("received", len(response.Listings)),
		zap.Int("converted", converted),
		zap.Int("skipped", skipped),
		zap.Int("failed", failed))
	return nil
}
