package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"treasury/internal/metrics"
	"treasury/internal/models"
	"treasury/internal/repository"
)

// EconomySnapshotService periodically records aggregate economy totals for
// trend inspection and keeps the matching gauges current.
type EconomySnapshotService struct {
	Repo   repository.Repository
	Logger *zap.Logger
	Flags  *SystemSettingsService
}

func (s *EconomySnapshotService) Run(ctx context.Context, interval time.Duration) error {
	if s == nil || s.Repo == nil {
		return nil
	}
	if interval <= 0 {
		interval = 6 * time.Hour
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		if err := s.RunOnce(ctx); err != nil && s.Logger != nil {
			s.Logger.Warn("economy snapshot failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}

func (s *EconomySnapshotService) RunOnce(ctx context.Context) error {
	if s == nil || s.Repo == nil {
		return nil
	}
	if s.Flags != nil && !s.Flags.IsEnabled(ctx, FeatureEconomySnapshot, true) {
		return nil
	}
	totals, err := s.Repo.EconomyTotals(ctx)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	// Truncating to the hour makes a rerun within the same slot an upsert
	// rather than a duplicate row.
	item := &models.EconomySnapshot{
		TakenAt:           now.Truncate(time.Hour),
		AccountCount:      totals.AccountCount,
		OpenPositionCount: totals.OpenPositionCount,
		TotalCurrency:     totals.TotalCurrency,
		OpenNotional:      totals.OpenNotional,
		OpenMargin:        totals.OpenMargin,
	}
	if err := s.Repo.InsertEconomySnapshot(ctx, item); err != nil {
		return err
	}

	metrics.AccountsTotal.Set(float64(totals.AccountCount))
	metrics.CurrencyTotal.Set(totals.TotalCurrency.InexactFloat64())
	metrics.OpenPositions.Set(float64(totals.OpenPositionCount))
	metrics.OpenNotional.Set(totals.OpenNotional.InexactFloat64())
	metrics.OpenMargin.Set(totals.OpenMargin.InexactFloat64())

	if s.Logger != nil {
		s.Logger.Info("economy snapshot recorded",
			zap.Int64("accounts", totals.AccountCount),
			zap.String("total_currency", totals.TotalCurrency.String()),
			zap.Int64("open_positions", totals.OpenPositionCount))
	}
	return nil
}
