package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"questionbank_go_backend/cmd/api/config"
	"questionbank_go_backend/internal/api"
	"questionbank_go_backend/internal/auth"
	"questionbank_go_backend/internal/database"
	"questionbank_go_backend/internal/metrics"
	"questionbank_go_backend/internal/pricing"
	"questionbank_go_backend/internal/services"
	"questionbank_go_backend/internal/utils/broker"
	"questionbank_go_backend/internal/wsocket"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/generative-ai-go/genai"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"google.golang.org/api/option"
)

func newServeCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg)
		},
	}
}

func runServer(ctx context.Context, cfg *config.Config) error {
	if err := cfg.ValidateServe(); err != nil {
		return err
	}

	db, err := database.Open(cfg.DB)
	if err != nil {
		return err
	}
	if err := database.Migrate(db); err != nil {
		return err
	}

	source, err := pricing.NewFileSource(cfg.PricingFile, log.Logger)
	if err != nil {
		return err
	}
	calc := pricing.NewCalculator(source)
	log.Info().Strs("models", calc.Config().KnownModels()).Msg("pricing loaded")

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg, calc.ModelLabel)

	genaiClient, err := genai.NewClient(ctx, option.WithAPIKey(cfg.GoogleAIStudioAPIKey))
	if err != nil {
		return err
	}
	defer genaiClient.Close()

	var locker services.GenerationLocker = services.NoopLocker{}
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("redis unreachable, generation lock disabled")
		} else {
			locker = services.NewRedisLocker(rdb)
		}
	}

	balanceBroker := broker.NewBroker[broker.BalanceUpdate]()

	userService := services.NewUserService(db)
	usageDB := services.NewUsageLogDB(db)
	ledger := services.NewLedgerService(db, balanceBroker, m)

	analysisService := services.NewAnalysisService(services.AnalysisDeps{
		Profiles:     userService,
		Entitlements: services.NewEntitlementService(usageDB),
		Usage:        usageDB,
		Cache:        services.NewAnalysisCacheDB(db),
		Generator:    services.NewGeminiGenerator(genaiClient, cfg.GenerationTimeout, m),
		Locker:       locker,
		Ledger:       ledger,
		Calculator:   calc,
		Metrics:      m,
		LockTTL:      cfg.LockTTL,
		LockWait:     cfg.LockWait,
	})

	var verifier auth.TokenVerifier
	if cfg.Auth0Domain != "" {
		verifier = auth.NewJWKSVerifier(cfg.Auth0Domain)
	} else {
		verifier = auth.NewSecretVerifier(cfg.AuthJWTSecret)
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(cfg.AllowedOrigins),
	}

	deps := api.Deps{
		Users:      userService,
		Verifier:   verifier,
		Analysis:   analysisService,
		Usage:      usageDB,
		Calculator: calc,
		Statements: services.NewStatementService(userService, usageDB),
		WebSocket:  wsocket.NewHandler(userService, balanceBroker, upgrader, 30*time.Second),
	}
	if cfg.StripeEnabled() {
		deps.Payments = services.NewStripeService(services.StripeConfig{
			SecretKey:     cfg.StripeSecretKey,
			WebhookSecret: cfg.StripeWebhookSecret,
			SuccessURL:    cfg.StripeSuccessURL,
			CancelURL:     cfg.StripeCancelURL,
		}, ledger)
	} else {
		log.Warn().Msg("stripe not configured, wallet top-ups disabled")
	}

	if cfg.Environment != "development" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery(), api.RequestLogger(log.Logger))

	r.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length", "Content-Disposition", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	r.GET("/healthz", func(c *gin.Context) {
		sqlDB, err := db.DB()
		if err == nil {
			err = sqlDB.PingContext(c.Request.Context())
		}
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	api.SetupRoutes(r, deps)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("port", cfg.Port).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, o := range allowed {
			if o == "*" || o == origin {
				return true
			}
		}
		return false
	}
}
