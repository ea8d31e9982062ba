package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"treasury/internal/marketdata"
	"treasury/internal/metrics"
	"treasury/internal/pricecache"
)

// PriceRefreshService pulls fresh quotes for every configured instrument and
// swaps them into the cache. A failed refresh keeps the previous snapshot in
// place; staleness is surfaced to trading through the cache timestamps.
type PriceRefreshService struct {
	Client *marketdata.Client
	Cache  *pricecache.Cache
	Logger *zap.Logger
	Flags  *SystemSettingsService
}

func (s *PriceRefreshService) Run(ctx context.Context, interval time.Duration) error {
	if s == nil || s.Client == nil || s.Cache == nil {
		return nil
	}
	if interval <= 0 {
		interval = 3 * time.Minute
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		if err := s.RunOnce(ctx); err != nil && s.Logger != nil {
			s.Logger.Warn("price refresh failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}

func (s *PriceRefreshService) RunOnce(ctx context.Context) error {
	if s == nil || s.Client == nil || s.Cache == nil {
		return nil
	}
	if s.Flags != nil && !s.Flags.IsEnabled(ctx, FeaturePriceRefresh, true) {
		return nil
	}
	symbols := s.Cache.Tickers()
	if len(symbols) == 0 {
		return nil
	}
	prices, err := s.Client.GetPrices(ctx, symbols)
	if err != nil {
		metrics.PriceRefreshTotal.WithLabelValues("error").Inc()
		return err
	}
	now := time.Now().UTC()
	s.Cache.Replace(prices, now)
	metrics.PriceRefreshTotal.WithLabelValues("ok").Inc()
	metrics.PriceLastRefresh.Set(float64(now.Unix()))
	if s.Logger != nil {
		s.Logger.Info("prices refreshed",
			zap.Int("requested", len(symbols)),
			zap.Int("updated", len(prices)))
	}
	return nil
}
