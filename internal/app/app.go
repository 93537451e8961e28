package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "pigeonfarm/docs"
	"pigeonfarm/internal/config"
	"pigeonfarm/internal/db"
	"pigeonfarm/internal/handlers"
	"pigeonfarm/internal/metrics"
	"pigeonfarm/internal/middleware"
	"pigeonfarm/internal/notify"
	"pigeonfarm/internal/repositories"
	"pigeonfarm/internal/routes"
	"pigeonfarm/internal/services"
	"pigeonfarm/internal/throttle"
)

type App struct {
	cfg    *config.Config
	log    *zap.Logger
	db     *sql.DB
	redis  *redis.Client
	server *http.Server

	// drain ждёт фоновые отправки кодов
	drain func()
}

// New поднимает зависимости: БД (и миграции), redis при наличии URL, каналы доставки.
func New(ctx context.Context, cfg *config.Config, log *zap.Logger) (*App, error) {
	a := &App{cfg: cfg, log: log}

	database, err := db.Open(ctx, cfg.Database.DSN)
	if err != nil {
		return nil, err
	}
	a.db = database

	if cfg.Database.MigrateOnStart {
		if err := db.Migrate(ctx, database); err != nil {
			a.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		log.Info("[app] migrations applied")
	}

	var limiters limiterSet
	if cfg.Redis.URL != "" {
		client, err := throttle.NewRedisClient(ctx, cfg.Redis.URL)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.redis = client
		limiters = limiterSet{
			request: throttle.NewRedisLimiter(client, cfg.Throttle.Request.Policy()),
			attempt: throttle.NewRedisLimiter(client, cfg.Throttle.Attempt.Policy()),
			ip:      throttle.NewRedisLimiter(client, cfg.Throttle.IP.Policy()),
		}
		log.Info("[app] throttle backend: redis")
	} else {
		limiters = limiterSet{
			request: throttle.NewMemoryLimiter(cfg.Throttle.Request.Policy()),
			attempt: throttle.NewMemoryLimiter(cfg.Throttle.Attempt.Policy()),
			ip:      throttle.NewMemoryLimiter(cfg.Throttle.IP.Policy()),
		}
		log.Info("[app] throttle backend: memory")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	resetMetrics := metrics.NewResetMetrics(reg)

	channels, tg, err := buildChannels(cfg, log)
	if err != nil {
		a.Close()
		return nil, err
	}
	notifier := notify.NewMultiNotifier(log, channels...)
	notifier.OnFailure = func(channel string, _ error) {
		resetMetrics.NotificationFailures.WithLabelValues(channel).Inc()
	}

	// === Repos ===
	userRepo := repositories.NewUserRepository(database)
	resetRepo := repositories.NewPasswordResetRepository(database)
	linkRepo := repositories.NewTelegramLinkRepository(database)

	// === Services ===
	authService := services.NewAuthService([]byte(cfg.Auth.JWTSecret), cfg.Auth.AccessTTL, cfg.Auth.BcryptCost)
	userService := services.NewUserService(userRepo, authService, log)
	resetService := services.NewPasswordResetService(cfg.ResetPolicy(), services.PasswordResetDeps{
		Users:          userRepo,
		Codes:          resetRepo,
		Auth:           authService,
		Notifier:       notifier,
		RequestLimiter: limiters.request,
		AttemptLimiter: limiters.attempt,
		Metrics:        resetMetrics,
		Log:            log,
	})
	if w, ok := resetService.(interface{ Wait() }); ok {
		a.drain = w.Wait
	}
	var (
		links services.TelegramLinkService
		bot   handlers.TelegramReplier
	)
	if tg != nil {
		links = services.NewTelegramLinkService(linkRepo, cfg.Telegram.LinkTTL, log)
		bot = tg
	}

	router := NewRouter(RouterDeps{
		Log:         log,
		Auth:        authService,
		Users:       userService,
		Reset:       resetService,
		Links:       links,
		Bot:         bot,
		BotSecret:   cfg.Telegram.WebhookSecret,
		IPLimiter:   limiters.ip,
		IPWindow:    cfg.Throttle.IP.Window,
		CORSOrigins: cfg.Server.CORSOrigins,
		Proxies:     cfg.Server.TrustedProxies,
		Metrics:     reg,
		Ready:       database.PingContext,
	})

	a.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return a, nil
}

type limiterSet struct {
	request, attempt, ip throttle.Limiter
}

// buildChannels возвращает каналы доставки и telegram-бота, если он настроен (нужен ещё вебхуку).
func buildChannels(cfg *config.Config, log *zap.Logger) ([]notify.Channel, *notify.TelegramNotifier, error) {
	var channels []notify.Channel
	if cfg.Email.SMTPHost != "" || cfg.Email.DryRun {
		channels = append(channels, notify.Channel{
			Name: "email",
			Notifier: notify.NewEmailNotifier(
				cfg.Email.SMTPHost,
				cfg.Email.SMTPPort,
				cfg.Email.SMTPUser,
				cfg.Email.SMTPPassword,
				cfg.Email.FromEmail,
				cfg.Email.DryRun,
				log,
			),
		})
	}
	var tg *notify.TelegramNotifier
	if cfg.Telegram.BotToken != "" {
		var err error
		tg, err = notify.NewTelegramNotifier(cfg.Telegram.BotToken)
		if err != nil {
			return nil, nil, err
		}
		channels = append(channels, notify.Channel{Name: "telegram", Notifier: tg})
	}
	return channels, tg, nil
}

type RouterDeps struct {
	Log         *zap.Logger
	Auth        services.AuthService
	Users       services.UserService
	Reset       services.PasswordResetService
	Links       services.TelegramLinkService // nil: интеграция выключена
	Bot         handlers.TelegramReplier
	BotSecret   string
	IPLimiter   throttle.Limiter
	IPWindow    time.Duration
	CORSOrigins []string
	Proxies     []string // nil: X-Forwarded-For не учитывается
	Metrics     prometheus.Gatherer
	Ready       func(ctx context.Context) error
}

func NewRouter(d RouterDeps) *gin.Engine {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}

	router := gin.New()
	if err := router.SetTrustedProxies(d.Proxies); err != nil {
		d.Log.Error("[app] bad trusted proxies, trusting none", zap.Error(err))
		_ = router.SetTrustedProxies(nil)
	}
	router.Use(middleware.RequestID())
	router.Use(middleware.Recovery(d.Log))
	router.Use(middleware.RequestLogger(d.Log))
	router.Use(middleware.CORS(d.CORSOrigins))

	router.GET("/healthz", func(c *gin.Context) {
		if d.Ready != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := d.Ready(ctx); err != nil {
				d.Log.Warn("[app][healthz] not ready", zap.Error(err))
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if d.Metrics != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.Metrics, promhttp.HandlerOpts{})))
	}

	// Swagger
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	var ipThrottle gin.HandlerFunc
	if d.IPLimiter != nil {
		ipThrottle = middleware.IPThrottle(d.IPLimiter, d.IPWindow, d.Log)
	}
	var integrations *handlers.IntegrationsHandler
	if d.Links != nil {
		integrations = handlers.NewIntegrationsHandler(d.Links, d.Bot, d.BotSecret, d.Log)
	}
	routes.SetupRoutes(router, routes.Deps{
		Auth:         d.Auth,
		AuthHandler:  handlers.NewAuthHandler(d.Users, d.Auth, d.Log),
		ResetHandler: handlers.NewPasswordResetHandler(d.Reset, d.Log),
		Integrations: integrations,
		IPThrottle:   ipThrottle,
	})
	return router
}

// Run обслуживает HTTP до отмены ctx, затем останавливается с таймаутом из конфига.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		a.log.Info("[app] server started", zap.String("addr", a.server.Addr))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	a.log.Info("[app] shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return a.waitDeliveries(shutdownCtx)
}

func (a *App) waitDeliveries(ctx context.Context) error {
	if a.drain == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		a.drain()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		a.log.Warn("[app] pending reset code deliveries abandoned")
		return fmt.Errorf("wait deliveries: %w", ctx.Err())
	}
}

func (a *App) Close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.Warn("[app] redis close", zap.Error(err))
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.Warn("[app] db close", zap.Error(err))
		}
	}
}
