package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"treasury/internal/config"
	cronrunner "treasury/internal/cron"
	"treasury/internal/db"
	"treasury/internal/handler"
	"treasury/internal/ledger"
	"treasury/internal/logger"
	"treasury/internal/marketdata"
	"treasury/internal/metrics"
	"treasury/internal/pricecache"
	gormrepository "treasury/internal/repository/gorm"
	"treasury/internal/rewards"
	"treasury/internal/service"
	"treasury/internal/trading"
)

func main() {
	cfgPath := os.Getenv("TR_CONFIG")
	if cfgPath == "" {
		cfgPath = "config/config.yaml"
	}

	envOnly := false
	if envOnlyRaw := os.Getenv("TR_ENV_ONLY"); envOnlyRaw != "" {
		envOnly = strings.EqualFold(envOnlyRaw, "true") || envOnlyRaw == "1"
	}

	cfg, err := config.Load(cfgPath, envOnly)
	if err != nil {
		panic(err)
	}

	logger, err := logger.New(cfg.Log)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	dbConn, err := db.Open(cfg.DB)
	if err != nil {
		logger.Fatal("db open failed", zap.Error(err))
	}
	defer db.Close(dbConn)

	if err := db.SetTimezone(dbConn, cfg.DB.Timezone); err != nil {
		logger.Warn("failed to set timezone", zap.Error(err))
	}
	if err := db.AutoMigrate(dbConn); err != nil {
		logger.Fatal("auto-migrate failed", zap.Error(err))
	}

	store := gormrepository.New(dbConn.Gorm)
	settingsSvc := &service.SystemSettingsService{Repo: store}
	if err := settingsSvc.EnsureDefaultSwitches(context.Background()); err != nil {
		logger.Warn("init default system switches failed", zap.Error(err))
	}

	instruments := make([]pricecache.Instrument, 0, len(cfg.Instruments))
	for _, item := range cfg.Instruments {
		instruments = append(instruments, pricecache.Instrument{
			Ticker:         item.Ticker,
			Description:    item.Description,
			LeverageFactor: decimal.NewFromFloat(item.Leverage),
		})
	}
	priceCache := pricecache.New(instruments)

	apiKey := strings.TrimSpace(os.Getenv(cfg.MarketData.APIKeyEnv))
	if apiKey == "" {
		logger.Warn("market data api key not set, price refresh will fail",
			zap.String("env", cfg.MarketData.APIKeyEnv))
	}
	mdHTTP := &http.Client{Timeout: cfg.MarketData.Timeout}
	mdClient := marketdata.NewClient(mdHTTP, cfg.MarketData.BaseURL, apiKey)

	coord := ledger.NewCoordinator()
	ledgerStore := &ledger.Store{Repo: store, Coord: coord}
	manager := &trading.Manager{
		Repo:      store,
		Ledger:    ledgerStore,
		Coord:     coord,
		Prices:    priceCache,
		Logger:    logger,
		Staleness: cfg.Trading.StalenessThreshold,
		MinOrder:  decimal.NewFromFloat(cfg.Trading.MinOrderAmount),
	}
	rewardsEngine := rewards.NewEngine(store, ledgerStore, coord, logger, cfg.Rewards, nil,
		rewards.Blackjack{},
		rewards.Harvest{
			CatchChance: cfg.Rewards.HarvestCatchChance,
			PayoutMin:   cfg.Rewards.HarvestPayoutMin,
			PayoutMax:   cfg.Rewards.HarvestPayoutMax,
		},
	)

	refresher := &service.PriceRefreshService{
		Client: mdClient,
		Cache:  priceCache,
		Logger: logger,
		Flags:  settingsSvc,
	}
	snapshotSvc := &service.EconomySnapshotService{Repo: store, Logger: logger, Flags: settingsSvc}
	reminderSvc := &service.ReminderService{Repo: store, Logger: logger, Flags: settingsSvc, Period: cfg.Rewards.DailyPeriod}
	streamSvc := &service.QuoteStreamService{Cache: priceCache, Logger: logger, Flags: settingsSvc}

	if strings.EqualFold(cfg.App.Env, "dev") {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(corsMiddleware())
	engine.Use(handler.RequireBearerMiddleware())
	engine.Use(handler.WriteAuditMiddleware(logger))

	healthHandler := &handler.HealthHandler{DB: dbConn.Gorm}
	healthHandler.Register(engine)
	economyHandler := &handler.EconomyHandler{
		Ledger:  ledgerStore,
		Rewards: rewardsEngine,
		Repo:    store,
		Flags:   settingsSvc,
		Logger:  logger,
	}
	economyHandler.Register(engine)
	tradingHandler := &handler.TradingHandler{
		Manager: manager,
		Repo:    store,
		Flags:   settingsSvc,
		Logger:  logger,
	}
	tradingHandler.Register(engine)
	marketHandler := &handler.MarketHandler{
		Cache:     priceCache,
		Refresher: refresher,
		Staleness: cfg.Trading.StalenessThreshold,
		Logger:    logger,
	}
	marketHandler.Register(engine)
	adminHandler := &handler.AdminHandler{
		Ledger:   ledgerStore,
		Repo:     store,
		Settings: settingsSvc,
		Logger:   logger,
	}
	adminHandler.Register(engine)

	engine.GET("/metrics", gin.WrapH(metrics.Handler()))

	srv := &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: engine,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Fetch prices once up front so trading has quotes on the first tick.
	if apiKey != "" {
		bootCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		if err := refresher.RunOnce(bootCtx); err != nil {
			logger.Warn("initial price refresh failed (continuing)", zap.Error(err))
		}
		cancel()
	}

	cronRunner := cronrunner.New(logger, ctx)
	if cfg.Cron.Enabled {
		if _, err := cronRunner.Add(cfg.Cron.PriceRefresh, func(ctx context.Context) {
			if err := refresher.RunOnce(ctx); err != nil {
				logger.Warn("cron price refresh failed", zap.Error(err))
			}
		}); err != nil {
			logger.Warn("cron register price refresh failed", zap.Error(err))
		}
		if _, err := cronRunner.Add(cfg.Cron.EconomySnapshot, func(ctx context.Context) {
			if err := snapshotSvc.RunOnce(ctx); err != nil {
				logger.Warn("cron economy snapshot failed", zap.Error(err))
			}
		}); err != nil {
			logger.Warn("cron register economy snapshot failed", zap.Error(err))
		}
		if _, err := cronRunner.Add(cfg.Cron.ReminderScan, func(ctx context.Context) {
			if err := reminderSvc.RunOnce(ctx); err != nil {
				logger.Warn("cron reminder scan failed", zap.Error(err))
			}
		}); err != nil {
			logger.Warn("cron register reminder scan failed", zap.Error(err))
		}
		cronRunner.Start()
		defer cronRunner.Stop()
	}

	if settingsSvc.IsEnabled(ctx, service.FeatureQuoteStream, false) {
		go func() {
			err := streamSvc.RunQuoteStream(ctx, service.QuoteStreamOptions{
				URL:               cfg.QuoteStream.URL,
				APIKey:            apiKey,
				HeartbeatInterval: cfg.QuoteStream.HeartbeatInterval,
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("quote stream stopped", zap.Error(err))
			}
		}()
	}

	errCh := make(chan error, 2)

	go func() {
		logger.Info("http server starting", zap.String("addr", cfg.Server.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}
