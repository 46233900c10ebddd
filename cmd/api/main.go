// Command api runs the call signaling HTTP server. It loads configuration,
// sets up structured logging and tracing, opens the SQLite store, constructs
// the media token issuer plus realtime and push adapters, and serves the
// versioned signaling API until interrupted.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/plugin/opentelemetry/tracing"

	"github.com/hivedesk/go-call-backend/internal/config"
	httpapi "github.com/hivedesk/go-call-backend/internal/http"
	"github.com/hivedesk/go-call-backend/internal/media"
	"github.com/hivedesk/go-call-backend/internal/observability"
	"github.com/hivedesk/go-call-backend/internal/push"
	"github.com/hivedesk/go-call-backend/internal/realtime"
	"github.com/hivedesk/go-call-backend/internal/repo"
)

// version is stamped at build time via -ldflags.
var version = "dev"

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}

	setupLogging(cfg)
	gin.SetMode(cfg.GinMode)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(rootCtx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("otel setup failed")
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(ctx); err != nil {
			log.Warn().Err(err).Msg("otel shutdown failed")
		}
	}()

	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("database open failed")
	}
	if cfg.OTEL.Enabled {
		if err := db.Use(tracing.NewPlugin(tracing.WithoutMetrics())); err != nil {
			log.Warn().Err(err).Msg("gorm tracing plugin failed")
		}
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("database migration failed")
	}

	issuer := media.NewIssuer(cfg.Media.AppID, cfg.Media.AppSecret)
	if cfg.Media.AppID == "" || cfg.Media.AppSecret == "" {
		log.Warn().Msg("media credentials not configured; call setup will fail with dependency errors")
	}

	publisher, err := realtime.NewRedisPublisher(rootCtx, cfg.Realtime.RedisAddr)
	if err != nil {
		log.Fatal().Err(err).Str("addr", cfg.Realtime.RedisAddr).Msg("redis connect failed")
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			log.Warn().Err(err).Msg("redis close failed")
		}
	}()

	notifier := push.NewHTTPNotifier(cfg.Push.Endpoint, cfg.Push.ServerKey,
		log.With().Str("component", "push").Logger())

	r := gin.New()
	httpapi.RegisterRoutes(r, db, httpapi.Deps{
		Tokens:   issuer,
		Realtime: publisher,
		Push:     notifier,
	}, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Str("version", version).Msg("api listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("http server failed")
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info().Msg("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown failed")
	}
}

// setupLogging configures the global zerolog logger from config: level,
// optional pretty console output for development, and UNIX-ms timestamps.
func setupLogging(cfg config.Config) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs

	lvl, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
}
