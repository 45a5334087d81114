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

	"updown/internal/config"
	cronrunner "updown/internal/cron"
	"updown/internal/db"
	"updown/internal/handler"
	"updown/internal/logger"
	"updown/internal/notify"
	"updown/internal/oracle"
	gormrepository "updown/internal/repository/gorm"
	"updown/internal/service"
)

func main() {
	cfgPath := os.Getenv("UD_CONFIG")
	if cfgPath == "" {
		cfgPath = "config/config.yaml"
	}

	envOnly := false
	if envOnlyRaw := os.Getenv("UD_ENV_ONLY"); envOnlyRaw != "" {
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

	oracleHTTP := &http.Client{Timeout: cfg.Oracle.Timeout}
	oracleClient := oracle.NewClient(oracleHTTP, cfg.Oracle.BaseURL)
	notifier := &notify.Client{
		BaseURL: cfg.Notify.BaseURL,
		Token:   cfg.Notify.Token,
		HTTP:    &http.Client{Timeout: cfg.Notify.Timeout},
	}

	prices := &service.RecordedPriceSource{
		Repo:       store,
		Client:     oracleClient,
		MaxTickAge: cfg.Oracle.TickMaxAge,
	}
	settleEngine := &service.SettlementEngine{
		Repo:        store,
		Prices:      prices,
		Notifier:    notifier,
		Flags:       settingsSvc,
		Logger:      logger,
		PayoutRatio: decimal.NewFromFloat(cfg.Settlement.PayoutRatio),
		Asset:       cfg.Settlement.Asset,
	}
	placementSvc := &service.PlacementService{
		Repo:   store,
		Oracle: oracleClient,
		Flags:  settingsSvc,
		Logger: logger,
		Asset:  cfg.Settlement.Asset,
	}
	accountSvc := &service.AccountService{
		Repo:   store,
		Logger: logger,
		Asset:  cfg.Settlement.Asset,
	}
	scheduler := &service.TradeScheduler{
		Repo:   store,
		Engine: settleEngine,
		Flags:  settingsSvc,
		Config: cfg.Scheduler,
		Logger: logger,
	}
	reconciler := &service.ReconciliationService{
		Repo:   store,
		Engine: settleEngine,
		Flags:  settingsSvc,
		Logger: logger,
		Grace:  cfg.Ticks.ReconcileGrace,
		Batch:  cfg.Ticks.ReconcileBatch,
	}
	tickRecorder := &service.TickRecorderService{
		Repo: store,
		Stream: oracle.NewTickStream(oracle.TickStreamOptions{
			URL:     cfg.Oracle.StreamURL,
			Symbols: cfg.Oracle.StreamSymbols,
			Logger:  logger,
		}),
		Flags:     settingsSvc,
		Logger:    logger,
		Retention: cfg.Ticks.Retention,
	}

	if strings.EqualFold(cfg.App.Env, "dev") {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(corsMiddleware())

	healthHandler := &handler.HealthHandler{DB: dbConn.Gorm}
	healthHandler.Register(engine)
	tradesHandler := &handler.TradesHandler{
		Repo:      store,
		Placement: placementSvc,
		Engine:    settleEngine,
	}
	tradesHandler.Register(engine)
	accountsHandler := &handler.AccountsHandler{
		Repo:     store,
		Accounts: accountSvc,
	}
	accountsHandler.Register(engine)
	adminHandler := &handler.AdminHandler{
		Repo:     store,
		Settings: settingsSvc,
	}
	adminHandler.Register(engine)
	ticksHandler := &handler.TicksHandler{Repo: store}
	ticksHandler.Register(engine)

	srv := &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: engine,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cronRunner := cronrunner.New(logger, ctx)
	_, err = cronRunner.Add("reconcile", cfg.Cron.Reconcile, func(ctx context.Context) {
		if err := reconciler.RunOnce(ctx); err != nil {
			logger.Warn("cron reconcile failed", zap.Error(err))
		}
	})
	if err != nil {
		logger.Warn("cron register reconcile failed", zap.Error(err))
	}
	_, err = cronRunner.Add("prune_ticks", cfg.Cron.PruneTicks, func(ctx context.Context) {
		if err := tickRecorder.PruneOnce(ctx); err != nil {
			logger.Warn("cron prune ticks failed", zap.Error(err))
		}
	})
	if err != nil {
		logger.Warn("cron register prune ticks failed", zap.Error(err))
	}
	cronRunner.Start()
	defer cronRunner.Stop()

	go func() {
		if err := scheduler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("trade scheduler stopped", zap.Error(err))
		}
	}()

	if strings.TrimSpace(cfg.Oracle.StreamURL) != "" {
		go func() {
			if err := tickRecorder.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("tick recorder stopped", zap.Error(err))
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
