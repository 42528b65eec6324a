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
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"fundflow/internal/config"
	cronrunner "fundflow/internal/cron"
	"fundflow/internal/db"
	"fundflow/internal/events"
	"fundflow/internal/handler"
	"fundflow/internal/investment"
	"fundflow/internal/logger"
	"fundflow/internal/marketplace"
	"fundflow/internal/notify"
	"fundflow/internal/payment"
	"fundflow/internal/repository"
	gormrepository "fundflow/internal/repository/gorm"
	"fundflow/internal/repository/memory"
	"fundflow/internal/service"
	"fundflow/internal/settlement"
	"fundflow/internal/stream"

	_ "fundflow/docs"
)

func main() {
	cfgPath := os.Getenv("FF_CONFIG")
	if cfgPath == "" {
		cfgPath = "config/config.yaml"
	}

	envOnly := false
	if envOnlyRaw := os.Getenv("FF_ENV_ONLY"); envOnlyRaw != "" {
		envOnly = strings.EqualFold(envOnlyRaw, "true") || envOnlyRaw == "1"
	}

	cfg, err := config.Load(cfgPath, envOnly)
	if err != nil {
		panic(err)
	}

	logger, err := logger.New(cfg.App, cfg.Log)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	baseCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		store  repository.Repository
		gormDB *gorm.DB
	)
	if cfg.DB.DSN != "" {
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
		store = gormrepository.New(dbConn.Gorm)
		gormDB = dbConn.Gorm
	} else {
		logger.Warn("db dsn empty, using in-memory store")
		store = memory.New()
	}

	var (
		idem        settlement.Store
		redisClient redis.UniversalClient
	)
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
		idem = settlement.NewRedisStore(redisClient)
	} else {
		logger.Warn("redis addr empty, callback dedup is process-local")
		idem = settlement.NewMemoryStore()
	}

	topics := events.Topics{
		Settlement:       cfg.Kafka.SettlementTopic,
		Investment:       cfg.Kafka.InvestmentTopic,
		Market:           cfg.Kafka.MarketTopic,
		DeadLetterSuffix: cfg.Kafka.DeadLetterSuffix,
	}
	dlq := service.DeadLetterSink(store, logger)
	var tr events.Transport
	if len(cfg.Kafka.Brokers) > 0 {
		kt, err := events.NewKafkaTransport(cfg.Kafka.Brokers, topics, logger)
		if err != nil {
			logger.Fatal("kafka transport init failed", zap.Error(err))
		}
		kt.OnReject = dlq
		tr = kt
	} else {
		mt := events.NewMemoryTransport(0)
		mt.OnReject = dlq
		tr = mt
	}
	defer tr.Close()

	bridge := &events.Bridge{Transport: tr, GroupPrefix: cfg.Kafka.GroupPrefix, Logger: logger}

	router, err := payment.NewRouter([]payment.Gateway{
		payment.NewMpesaGateway(cfg.Payments.Mpesa),
		payment.NewStripeGateway(cfg.Payments.Stripe),
		payment.NewBankGateway("bank", cfg.Payments.Bank),
		payment.NewBankGateway("escrow", cfg.Payments.Escrow),
	}, cfg.Payments.Methods)
	if err != nil {
		logger.Fatal("payment router init failed", zap.Error(err))
	}

	processor := settlement.NewCallbackProcessor(idem, bridge, topics.Settlement, logger)
	processor.KeyPrefix = cfg.Idempotency.Prefix
	processor.TTL = cfg.Idempotency.TTL

	investmentSvc := investment.NewService(store, bridge, topics.Investment, logger)
	investmentSvc.CoolingOff = cfg.Investment.CoolingOff
	investmentSvc.MaxRetries = cfg.Investment.CompletionMaxRetries
	investmentSvc.RetryBackoff = cfg.Investment.CompletionBackoff
	investmentSvc.ReleaseOnRefund = cfg.Capacity.ReleaseOnRefund

	paymentSvc := payment.NewService(store, router, logger)
	paymentSvc.Investments = investmentSvc
	paymentSvc.Callbacks = processor
	if cfg.Payments.DefaultCurrency != "" {
		paymentSvc.DefaultCurrency = cfg.Payments.DefaultCurrency
	}
	if cfg.Poller.StaleAfter > 0 {
		paymentSvc.StaleAfter = cfg.Poller.StaleAfter
	}
	if cfg.Poller.BatchSize > 0 {
		paymentSvc.PollBatch = cfg.Poller.BatchSize
	}

	marketSvc := marketplace.NewService(store, bridge, topics.Market, logger)
	if cfg.Marketplace.HoldingPeriodDays > 0 {
		marketSvc.HoldingPeriodDays = cfg.Marketplace.HoldingPeriodDays
	}
	if cfg.Marketplace.ListingTTL > 0 {
		marketSvc.ListingTTL = cfg.Marketplace.ListingTTL
	}
	if raw := strings.TrimSpace(cfg.Marketplace.SellerFeeRate); raw != "" {
		rate, err := decimal.NewFromString(raw)
		if err != nil || rate.IsNegative() {
			logger.Fatal("invalid marketplace.seller_fee_rate", zap.String("value", raw))
		}
		marketSvc.FeeRate = rate
	}

	settingsSvc := &service.SystemSettingsService{Repo: store}
	if err := settingsSvc.EnsureDefaultSwitches(baseCtx); err != nil {
		logger.Warn("init default system switches failed", zap.Error(err))
	}
	sweeps := &service.Sweeps{
		Repo:        store,
		Settings:    settingsSvc,
		Investments: investmentSvc,
		Payments:    paymentSvc,
		Marketplace: marketSvc,
		Logger:      logger,
		Batch:       cfg.Poller.BatchSize,
	}

	consumer := settlement.NewConsumer(store, investmentSvc, logger)
	bridge.Route(topics.Settlement, "settlement", consumer.Handle)
	bridge.Route(topics.Investment, "audit-investment", events.AuditLog(logger))
	bridge.Route(topics.Market, "audit-market", events.AuditLog(logger))

	var notifyClient *notify.Client
	if cfg.Notify.BaseURL != "" {
		notifyClient = notify.NewClient(cfg.Notify.BaseURL, cfg.Notify.APIKey, cfg.Notify.Timeout)
		if err := notifyClient.Login(baseCtx); err != nil {
			logger.Warn("notify login failed", zap.Error(err))
		}
		notifier := &notify.Notifier{
			Sender: notifyClient,
			Logger: logger,
			Enabled: func(ctx context.Context) bool {
				return settingsSvc.IsEnabled(ctx, service.FeatureNotify, false)
			},
		}
		bridge.Route(topics.Investment, "notify-investment", notifier.Handle)
		bridge.Route(topics.Market, "notify-market", notifier.Handle)
	}

	hub := stream.NewHub(logger)
	hub.Enabled = func(ctx context.Context) bool {
		return settingsSvc.IsEnabled(ctx, service.FeatureLiveStream, true)
	}
	bridge.Route(topics.Investment, "stream-investment", hub.Handle)
	bridge.Route(topics.Market, "stream-market", hub.Handle)

	bridgeErr := make(chan error, 1)
	go func() {
		bridgeErr <- bridge.Run(baseCtx)
	}()

	cronRunner := cronrunner.New(logger, baseCtx)
	if cfg.Cron.Enabled {
		addJob := func(name, spec string, job func(context.Context) error) {
			if _, err := cronRunner.Add(name, spec, job); err != nil {
				logger.Warn("cron register failed", zap.String("job", name), zap.Error(err))
			}
		}
		addJob("cooling-off", cfg.Cron.CoolingOffSweep, func(ctx context.Context) error {
			res, err := sweeps.CoolingOff(ctx)
			if err == nil && (res.Completed+res.Cancelled+res.Deferred) > 0 {
				logger.Info("cooling-off sweep",
					zap.Int("completed", res.Completed),
					zap.Int("cancelled", res.Cancelled),
					zap.Int("deferred", res.Deferred),
				)
			}
			return err
		})
		addJob("listing-expiry", cfg.Cron.ListingExpiry, func(ctx context.Context) error {
			_, err := sweeps.ExpireListings(ctx)
			return err
		})
		addJob("payment-poll", cfg.Cron.PaymentPoll, func(ctx context.Context) error {
			_, err := sweeps.PollPayments(ctx)
			return err
		})
	}
	cronRunner.Start()
	defer cronRunner.Stop()

	if strings.EqualFold(cfg.App.Env, "dev") {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(handler.CORS())
	engine.Use(handler.RequestLogger(logger))
	engine.Use(handler.RequireBearer(cfg.Server.AuthDisabled))
	if notifyClient != nil {
		engine.Use(notify.AuditMiddleware(notifyClient, cfg.App.Name, logger))
	}

	(&handler.HealthHandler{DB: gormDB, Redis: redisClient}).Register(engine)
	(&handler.PaymentHandler{Payments: paymentSvc}).Register(engine)
	(&handler.InvestmentHandler{
		Investments: investmentSvc,
		Cancels: &service.Cancellations{
			Repo:        store,
			Investments: investmentSvc,
			Payments:    paymentSvc,
			Logger:      logger,
		},
	}).Register(engine)
	(&handler.MarketplaceHandler{Marketplace: marketSvc}).Register(engine)
	(&handler.CallbackHandler{
		Processor:           processor,
		StripeWebhookSecret: cfg.Payments.Stripe.WebhookSecret,
		Logger:              logger,
	}).Register(engine)
	(&handler.OpsHandler{Repo: store, Settings: settingsSvc}).Register(engine)
	hub.Register(engine)
	engine.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	srv := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server starting", zap.String("addr", cfg.Server.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-baseCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		logger.Error("http server error", zap.Error(err))
	case err := <-bridgeErr:
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("event bridge stopped", zap.Error(err))
		}
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", zap.Error(err))
	}
}
