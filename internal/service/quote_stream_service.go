package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"treasury/internal/marketdata"
	"treasury/internal/metrics"
	"treasury/internal/pricecache"
)

type QuoteStreamService struct {
	Cache  *pricecache.Cache
	Logger *zap.Logger
	Flags  *SystemSettingsService
}

type QuoteStreamOptions struct {
	URL               string
	APIKey            string
	HeartbeatInterval time.Duration
}

// RunQuoteStream feeds streamed ticks into the cache between the periodic
// full refreshes. The feature switch is honored at startup; toggling it
// afterwards takes effect on the next restart.
func (s *QuoteStreamService) RunQuoteStream(ctx context.Context, opts QuoteStreamOptions) error {
	if s == nil || s.Cache == nil {
		return nil
	}
	if s.Flags != nil && !s.Flags.IsEnabled(ctx, FeatureQuoteStream, false) {
		if s.Logger != nil {
			s.Logger.Info("quote stream disabled by feature switch")
		}
		return nil
	}
	if s.Logger != nil {
		s.Logger.Info("quote stream starting",
			zap.String("url", opts.URL),
			zap.Duration("heartbeat_interval", opts.HeartbeatInterval))
	}
	stream := marketdata.NewQuoteStream(marketdata.QuoteStreamOptions{
		URL:               opts.URL,
		APIKey:            opts.APIKey,
		Symbols:           s.Cache.Tickers(),
		HeartbeatInterval: opts.HeartbeatInterval,
		Logger:            s.Logger,
	})
	return stream.Run(ctx, func(event marketdata.PriceEvent) {
		s.handlePriceEvent(event)
	})
}

func (s *QuoteStreamService) handlePriceEvent(event marketdata.PriceEvent) {
	at := event.At()
	if at.IsZero() {
		at = time.Now().UTC()
	}
	if !s.Cache.Apply(event.Symbol, event.Price, at) {
		if s.Logger != nil {
			s.Logger.Debug("quote tick dropped",
				zap.String("symbol", event.Symbol),
				zap.String("price", event.Price.String()))
		}
		return
	}
	metrics.QuoteEventsTotal.Inc()
}
