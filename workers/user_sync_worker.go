package workers

import (
	"context"
	"time"

	"marketplace-rewards/services"

	"go.uber.org/zap"
)

// RemoteProfile is one record of the profile service change feed.
type RemoteProfile struct {
	ExternalID   string    `json:"external_id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	FirstName    *string   `json:"first_name,omitempty"`
	LastName     *string   `json:"last_name,omitempty"`
	Roles        []string  `json:"roles,omitempty"`
	ReferralCode string    `json:"signup_referral_code,omitempty"` // code entered at registration
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (p RemoteProfile) fullName() string {
	var name string
	if p.FirstName != nil {
		name = *p.FirstName
	}
	if p.LastName != nil && *p.LastName != "" {
		if name != "" {
			name += " "
		}
		name += *p.LastName
	}
	return name
}

type profileChangesResponse struct {
	Users []RemoteProfile `json:"users"`
}

// UserSyncWorker mirrors profile changes and feeds new accounts through the
// signup intake. Intake is idempotent, so replaying a window is harmless.
type UserSyncWorker struct {
	intake       *services.IntakeService
	client       *syncClient
	endpointPath string
	interval     time.Duration
	cursor       time.Time
}

func NewUserSyncWorker(intake *services.IntakeService, baseURL, serviceToken string, interval time.Duration) *UserSyncWorker {
	if interval <= 0 {
		interval = time.Minute
	}
	return &UserSyncWorker{
		intake:       intake,
		client:       newSyncClient(baseURL, serviceToken),
		endpointPath: "/api/v1/public/profiles",
		interval:     interval,
	}
}

func (w *UserSyncWorker) Start(ctx context.Context) {
	zap.L().Info("starting user sync worker", zap.Duration("interval", w.interval))
	go w.run(ctx)
}

func (w *UserSyncWorker) run(ctx context.Context) {
	// initial backfill from the beginning of time
	if _, err := w.syncBatch(ctx); err != nil {
		zap.L().Warn("initial user sync failed", zap.Error(err))
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := w.syncBatch(ctx); err != nil {
				zap.L().Error("user sync batch failed", zap.Error(err))
			}
		case <-ctx.Done():
			zap.L().Info("user sync worker stopped")
			return
		}
	}
}

type syncStats struct {
	Received int
	Handled  int
	Failed   int
}

// syncBatch processes one page of the feed. The cursor only advances past
// profiles that were handled, so a failed profile is retried next tick.
func (w *UserSyncWorker) syncBatch(ctx context.Context) (syncStats, error) {
	var response profileChangesResponse
	if err := w.client.fetch(ctx, w.endpointPath, w.cursor, &response); err != nil {
		return syncStats{}, err
	}
	stats := syncStats{Received: len(response.Users)}
	if stats.Received == 0 {
		return stats, nil
	}

	next := w.cursor
	var firstFailure time.Time
	for _, remote := range response.Users {
		_, err := w.intake.HandleSignup(ctx, services.SignupEvent{
			Profile: services.Profile{
				ExternalUserID: remote.ExternalID,
				Username:       remote.Username,
				FullName:       remote.fullName(),
				Email:          remote.Email,
				Roles:          remote.Roles,
			},
			ReferralCode: remote.ReferralCode,
		})
		if err != nil {
			stats.Failed++
			if firstFailure.IsZero() || remote.UpdatedAt.Before(firstFailure) {
				firstFailure = remote.UpdatedAt
			}
			zap.L().Warn("failed to ingest profile",
				zap.String("external_id", remote.ExternalID),
				zap.Error(err))
			continue
		}
		stats.Handled++
		if remote.UpdatedAt.After(next) {
			next = remote.UpdatedAt
		}
	}

	if !firstFailure.IsZero() && !next.Before(firstFailure) {
		// stay just before the oldest failure
		next = firstFailure.Add(-time.Second)
	}
	if next.After(w.cursor) {
		w.cursor = next
	}

	zap.L().Info("user sync batch done",
		zap.Int("received", stats.Received),
		zap.Int("handled", stats.Handled),
		zap.Int("failed", stats.Failed),
		zap.Time("cursor", w.cursor))
	return stats, nil
}
