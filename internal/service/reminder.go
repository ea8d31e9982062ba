package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"treasury/internal/metrics"
	"treasury/internal/models"
	"treasury/internal/repository"
)

// ReminderService finds accounts whose daily reward is claimable again and
// that asked to be nudged. Delivery belongs to the chat surface; this core
// only logs the due accounts and consumes one-shot preferences.
type ReminderService struct {
	Repo   repository.Repository
	Logger *zap.Logger
	Flags  *SystemSettingsService
	// Period is the daily-claim period the scan checks against.
	Period time.Duration
}

func (s *ReminderService) Run(ctx context.Context, interval time.Duration) error {
	if s == nil || s.Repo == nil {
		return nil
	}
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		if err := s.RunOnce(ctx); err != nil && s.Logger != nil {
			s.Logger.Warn("reminder scan failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}

func (s *ReminderService) RunOnce(ctx context.Context) error {
	if s == nil || s.Repo == nil {
		return nil
	}
	if s.Flags != nil && !s.Flags.IsEnabled(ctx, FeatureReminderScan, true) {
		return nil
	}
	period := s.Period
	if period <= 0 {
		period = 24 * time.Hour
	}
	cutoff := time.Now().UTC().Add(-period)
	accounts, err := s.Repo.ListDueReminderAccounts(ctx, cutoff)
	if err != nil {
		return err
	}
	metrics.RemindersDue.Set(float64(len(accounts)))
	for _, account := range accounts {
		if s.Logger != nil {
			s.Logger.Info("daily reward available",
				zap.String("guild_id", account.GuildID),
				zap.String("user_id", account.UserID),
				zap.String("preference", account.ReminderPreference))
		}
		if account.ReminderPreference == models.ReminderOnce {
			if err := s.Repo.UpdateAccountTx(ctx, nil, account.ID, map[string]any{
				"reminder_preference": models.ReminderNever,
				"updated_at":          time.Now().UTC(),
			}); err != nil {
				return err
			}
		}
	}
	return nil
}
