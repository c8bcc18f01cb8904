package services

import (
	"context"
	"time"

	"marketplace-rewards/config"
	"marketplace-rewards/metrics"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"
)

const jobTimeout = 10 * time.Minute

// StartMaintenanceScheduler registers the monthly draw, reminder and expiry
// jobs. With a locker, only one instance runs each firing.
func StartMaintenanceScheduler(m *MaintenanceService, sc config.ScheduleConfig, locker gocron.Locker) (gocron.Scheduler, error) {
	loc, err := time.LoadLocation(sc.Timezone)
	if err != nil {
		return nil, err
	}

	opts := []gocron.SchedulerOption{gocron.WithLocation(loc)}
	if locker != nil {
		opts = append(opts, gocron.WithDistributedLocker(locker))
	}
	sched, err := gocron.NewScheduler(opts...)
	if err != nil {
		return nil, err
	}

	jobs := []struct {
		name string
		cron string
		run  func(ctx context.Context, now time.Time) error
	}{
		{"monthly-draw", sc.DrawCron, func(ctx context.Context, now time.Time) error {
			_, err := m.RunScheduledDraw(ctx, now)
			return err
		}},
		{"draw-reminders", sc.ReminderCron, func(ctx context.Context, now time.Time) error {
			_, err := m.SendDrawReminders(ctx, now)
			return err
		}},
		{"entry-expiry", sc.ExpiryCron, func(ctx context.Context, now time.Time) error {
			_, err := m.ExpireEntries(ctx, now)
			return err
		}},
	}

	for _, j := range jobs {
		job := j
		if _, err := sched.NewJob(
			gocron.CronJob(job.cron, false),
			gocron.NewTask(func() { runJob(job.name, job.run) }),
			gocron.WithName(job.name),
		); err != nil {
			_ = sched.Shutdown()
			return nil, err
		}
		zap.L().Info("scheduled job registered", zap.String("job", job.name), zap.String("cron", job.cron))
	}

	sched.Start()
	return sched, nil
}

func runJob(name string, run func(ctx context.Context, now time.Time) error) {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	start := time.Now()
	if err := run(ctx, start.UTC()); err != nil {
		metrics.ScheduledJobRunsTotal.WithLabelValues(name, "error").Inc()
		zap.L().Error("scheduled job failed", zap.String("job", name), zap.Error(err))
		return
	}
	metrics.ScheduledJobRunsTotal.WithLabelValues(name, "ok").Inc()
	zap.L().Info("scheduled job finished", zap.String("job", name), zap.Duration("took", time.Since(start)))
}
