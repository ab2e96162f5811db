package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/nmbsim/nmbsim/internal/config"
	"github.com/nmbsim/nmbsim/internal/domain/pkpd"
	"github.com/nmbsim/nmbsim/internal/domain/simulation"
	"github.com/nmbsim/nmbsim/internal/platform/auth"
	"github.com/nmbsim/nmbsim/internal/platform/cache"
	"github.com/nmbsim/nmbsim/internal/platform/logging"
	"github.com/nmbsim/nmbsim/internal/platform/middleware"
	"github.com/nmbsim/nmbsim/internal/platform/openapi"
	"github.com/nmbsim/nmbsim/internal/platform/telemetry"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{now: time.Now}
	rootCmd := &cobra.Command{
		Use:          "nmbsim",
		Short:        "Rocuronium neuromuscular blockade simulator",
		Version:      version,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&opts.server, "server", os.Getenv("NMBSIM_SERVER"), "run against an nmbsim server instead of in-process")
	rootCmd.PersistentFlags().StringVar(&opts.token, "token", os.Getenv("NMBSIM_TOKEN"), "bearer token for --server")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(simulateCmd(opts))
	rootCmd.AddCommand(validateCmd(opts))
	rootCmd.AddCommand(paramsCmd(opts))
	rootCmd.AddCommand(modelsCmd(opts))
	rootCmd.AddCommand(tokenCmd())
	return rootCmd
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the simulation API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func runServer() error {
	// Config
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	// Logger
	logger := logging.New(logging.Options{
		Env:        cfg.Env,
		Level:      cfg.LogLevel,
		File:       cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
	})

	// Result cache
	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	store, err := openCache(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("failed to connect to result cache")
		return err
	}
	defer store.Close()

	e := newServer(cfg, logger, store)

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Bool("tls", cfg.TLSEnabled).Str("validation_policy", cfg.ValidationPolicy).Msg("starting server")
		var err error
		if cfg.TLSEnabled {
			err = e.StartTLS(addr, cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			err = e.Start(addr)
		}
		if err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}

// openCache dials Redis when REDIS_URL is set and otherwise falls back to an
// in-process store swept once a minute. Redis entries are sealed when
// CACHE_ENCRYPTION_KEY is set.
func openCache(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (cache.Store, error) {
	if cfg.RedisURL != "" {
		store, err := cache.DialRedis(ctx, cfg.RedisURL, "nmbsim:")
		if err != nil {
			return nil, err
		}
		logger.Info().Msg("connected to redis result cache")
		if cfg.CacheEncryptionKey == "" {
			logger.Warn().Msg("result cache encryption disabled: CACHE_ENCRYPTION_KEY is not set")
			return store, nil
		}
		enc, err := cache.NewEncrypted(store, cfg.CacheEncryptionKey)
		if err != nil {
			store.Close()
			return nil, err
		}
		logger.Info().Msg("result cache encryption enabled")
		return enc, nil
	}
	mem := cache.NewMemory()
	mem.StartCleanup(ctx, time.Minute)
	logger.Info().Msg("using in-memory result cache")
	return mem, nil
}

func newServer(cfg *config.Config, logger zerolog.Logger, store cache.Store) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	metrics := telemetry.NewProvider()

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(metrics.Middleware())
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeadersWithConfig(middleware.SecurityHeadersConfig{
		HSTS:     cfg.TLSEnabled,
		DocsPath: "/api/docs",
	}))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:  cfg.CORSOrigins,
		AllowMethods:  []string{http.MethodGet, http.MethodPost},
		AllowHeaders:  []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
		ExposeHeaders: []string{simulation.CacheHeader, echo.HeaderContentDisposition},
	}))
	e.Use(middleware.BodyLimit(cfg.BodyLimitBytes))

	// Auth middleware
	if cfg.IsDev() && cfg.AuthSigningKey == "" {
		e.Use(auth.DevAuthMiddleware())
	} else {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			SigningKey: []byte(cfg.AuthSigningKey),
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			Skipper:    auth.AuthSkipper,
		}))
	}

	// Audit middleware
	e.Use(middleware.Audit(logger))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))

	e.GET("/health", func(c echo.Context) error {
		status, cacheStatus := http.StatusOK, "ok"
		if err := store.Ping(c.Request().Context()); err != nil {
			status, cacheStatus = http.StatusServiceUnavailable, "unavailable"
		}
		return c.JSON(status, map[string]string{"status": http.StatusText(status), "cache": cacheStatus})
	})
	e.GET("/metrics", metrics.Handler())
	openapi.NewGenerator(version, "").RegisterRoutes(e.Group("/api"))

	apiV1 := e.Group("/api/v1")

	// Rate limiting middleware
	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	apiV1.Use(middleware.RateLimit(rateLimitCfg))

	svc := simulation.NewService(pkpd.NewEngine(logger), store, simulation.Options{
		Advisory: cfg.Advisory(),
		CacheTTL: cfg.CacheTTL,
		Metrics:  metrics,
	}, logger)
	simulation.NewHandler(svc).RegisterRoutes(apiV1)

	return e
}
