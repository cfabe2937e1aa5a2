package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "signalbet/docs"
	"signalbet/internal/auth"
	"signalbet/internal/automation"
	"signalbet/internal/browser"
	"signalbet/internal/cache"
	"signalbet/internal/config"
	cronrunner "signalbet/internal/cron"
	"signalbet/internal/db"
	"signalbet/internal/handler"
	"signalbet/internal/logger"
	"signalbet/internal/notify"
	gormrepository "signalbet/internal/repository/gorm"
	"signalbet/internal/service"
	signalhub "signalbet/internal/signal"
	"signalbet/internal/site"
)

func main() {
	_ = godotenv.Load()

	cfgPath := os.Getenv("SB_CONFIG")
	if cfgPath == "" {
		cfgPath = "config/config.yaml"
	}

	envOnly := false
	if envOnlyRaw := os.Getenv("SB_ENV_ONLY"); envOnlyRaw != "" {
		envOnly = strings.EqualFold(envOnlyRaw, "true") || envOnlyRaw == "1"
	}

	cfg, err := config.Load(cfgPath, envOnly)
	if err != nil {
		panic(err)
	}

	jwtAuth := auth.JWT{Secret: []byte(cfg.Auth.JWTSecret), TokenTTL: cfg.Auth.TokenTTL}
	if len(os.Args) > 1 && os.Args[1] == "token" {
		issueToken(jwtAuth, cfg.App.UserID)
		return
	}

	logger, err := logger.New(cfg.Log)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	dbConn, err := db.Open(cfg.DB, loggerGorm(logger))
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

	var kv cache.Store = cache.NewMemoryStore()
	if addr := strings.TrimSpace(cfg.Cache.RedisAddr); addr != "" {
		rs := cache.NewRedisStore(&redis.Options{
			Addr:     addr,
			Password: cfg.Cache.RedisPassword,
			DB:       cfg.Cache.RedisDB,
		})
		defer rs.Close()
		kv = rs
		logger.Info("cache: redis", zap.String("addr", addr))
	}

	settingsSvc := &service.SettingsService{Repo: store, Cipher: service.SettingsCipherFromEnv()}
	if n, err := settingsSvc.RotateSecrets(context.Background()); err != nil {
		logger.Warn("settings secret rotation failed", zap.Error(err))
	} else if n > 0 {
		logger.Info("settings secrets re-encrypted", zap.Int("count", n))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	baseCtx := ctx

	// Events
	bus := notify.NewBus(256, logger)
	wsHub := notify.NewWSHub(nil, logger)
	bus.AddSink(wsHub)
	if cfg.Notify.TelegramChatID != 0 {
		token := settingsSvc.TelegramBotToken(baseCtx, cfg.Telegram.BotToken)
		tn, err := notify.NewTelegramNotifier(token, cfg.Notify.TelegramChatID, cfg.Notify.Events, logger)
		if err != nil {
			logger.Warn("telegram notifier disabled", zap.Error(err))
		} else {
			bus.AddSink(tn)
		}
	}
	go func() {
		if err := bus.Run(baseCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("event bus stopped", zap.Error(err))
		}
	}()

	// Signal ingestion
	hub := signalhub.NewHub(store, logger)
	if cfg.Telegram.Enabled {
		token := settingsSvc.TelegramBotToken(baseCtx, cfg.Telegram.BotToken)
		collector, err := signalhub.NewTelegramCollector(token, cfg.Telegram, logger)
		if err != nil {
			logger.Warn("telegram collector disabled", zap.Error(err))
		} else {
			hub.Register(collector)
		}
	}
	go func() {
		if err := hub.Run(baseCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("signal hub stopped", zap.Error(err))
		}
	}()
	go func() {
		for msg := range hub.Subscribe(64) {
			bus.Publish(baseCtx, notify.Event{
				Type:      notify.EventMessageReceived,
				At:        msg.Timestamp,
				MessageID: msg.ID,
			})
		}
	}()

	// Automation
	opts, err := automation.OptionsFromConfig(cfg.App, cfg.Automation)
	if err != nil {
		logger.Fatal("automation config invalid", zap.Error(err))
	}
	source := &signalhub.Source{
		Store:  store,
		Seen:   cache.Seen{Store: kv, TTL: cfg.Cache.SeenTTL},
		Limit:  cfg.Automation.FetchLimit,
		MaxAge: cfg.Automation.MaxSignalAge,
		Logger: logger,
	}
	browserOpts := browser.OptionsFromConfig(cfg.Browser)
	engine := automation.New(baseCtx, automation.Deps{
		Messages: source,
		Rules:    store,
		Ledger:   store,
		Settings: settingsSvc,
		Adapters: func(ctx context.Context, s service.AutomationSettings) (automation.SiteAdapter, error) {
			a, err := site.Open(ctx, browserOpts, site.ConfigFrom(cfg.Site, s.BetURL, cfg.Browser.ScreenshotDir), logger)
			if err != nil {
				return nil, err
			}
			return a, nil
		},
		Locks:     kv,
		Publisher: bus,
		Logger:    logger,
	}, opts)

	// Cron
	cronRunner := cronrunner.New(logger, baseCtx)
	if cfg.Cron.Enabled {
		if _, err := cronRunner.Add("daily_reset", cronSpecIn(cfg.Cron.DailyReset, cfg.Automation.Timezone), func(ctx context.Context) {
			engine.ResetDailySpend()
			logger.Info("daily spend reset")
		}); err != nil {
			logger.Warn("cron register daily reset failed", zap.Error(err))
		}
		maxAge := opts.MaxPendingAge
		if _, err := cronRunner.Add("stale_pending_sweep", cfg.Cron.StalePendingSweep, func(ctx context.Context) {
			if maxAge <= 0 {
				return
			}
			n, err := store.FlagStalePending(ctx, time.Now().UTC().Add(-maxAge), "result_timeout")
			if err != nil {
				logger.Warn("stale pending sweep failed", zap.Error(err))
				return
			}
			if n > 0 {
				logger.Info("flagged stale pending bets", zap.Int64("count", n))
			}
		}); err != nil {
			logger.Warn("cron register stale sweep failed", zap.Error(err))
		}
	}
	cronRunner.Start()
	defer cronRunner.Stop()

	// HTTP
	if strings.EqualFold(cfg.App.Env, "dev") {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	healthHandler := &handler.HealthHandler{DB: store, Hub: hub}
	healthHandler.Register(router)
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	api := router.Group("/api/v1")
	api.Use(auth.Middleware(jwtAuth))
	if !jwtAuth.Enabled() {
		logger.Warn("auth.jwt_secret is empty; the control api is unauthenticated")
	}
	(&handler.AutomationHandler{Engine: engine, Logger: logger}).Register(api)
	(&handler.RuleHandler{Repo: store, Settings: settingsSvc, UserID: cfg.App.UserID}).Register(api)
	(&handler.BetHandler{Repo: store, UserID: cfg.App.UserID, Multipliers: opts.PayoutMultipliers, Logger: logger}).Register(api)
	(&handler.MessageHandler{Repo: store}).Register(api)
	(&handler.SettingsHandler{
		Settings:      settingsSvc,
		TokenFallback: cfg.Telegram.BotToken,
		TestTelegram: func(ctx context.Context, token string) (string, error) {
			c, err := signalhub.NewTelegramCollector(token, cfg.Telegram, logger)
			if err != nil {
				return "", err
			}
			return c.TestConnection(ctx)
		},
	}).Register(api)
	(&handler.EventHandler{Hub: wsHub}).Register(api)

	srv := &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: router,
	}

	if cfg.Automation.AutoStart {
		go func() {
			if err := engine.Start(baseCtx); err != nil {
				logger.Warn("automation auto-start failed", zap.Error(err))
			}
		}()
	}

	errCh := make(chan error, 1)
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

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := engine.Stop(shutdownCtx); err != nil {
		logger.Warn("automation stop timed out", zap.Error(err))
	}
	_ = srv.Shutdown(shutdownCtx)
}

func loggerGorm(log *zap.Logger) *logger.Gorm {
	return logger.NewGorm(log.Named("gorm"))
}

// cronSpecIn pins a spec to the automation timezone so the daily reset lines
// up with the spend day.
func cronSpecIn(spec, tz string) string {
	spec = strings.TrimSpace(spec)
	tz = strings.TrimSpace(tz)
	if tz == "" || strings.HasPrefix(spec, "@") || strings.HasPrefix(spec, "CRON_TZ=") || strings.HasPrefix(spec, "TZ=") {
		return spec
	}
	return "CRON_TZ=" + tz + " " + spec
}

func issueToken(j auth.JWT, userID string) {
	if !j.Enabled() {
		fmt.Fprintln(os.Stderr, "auth.jwt_secret is not set")
		os.Exit(1)
	}
	token, exp, err := j.Sign(auth.Claims{UserID: userID, Role: "admin"})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Println(token)
	fmt.Fprintln(os.Stderr, "expires", exp.Format(time.RFC3339))
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}
