// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging, panic recovery, metrics, compression,
// CORS, security headers, and rate limiting.
//
// Design goals:
//   - Put observability first (OTel + Prometheus)
//   - Safe-by-default middleware ordering (RequestID → logging → recovery)
//   - Deterministic, minimal router setup; all dependencies injected
//   - Production-ready CORS and security header posture
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/hivedesk/go-call-backend/internal/config"
	"github.com/hivedesk/go-call-backend/internal/domain"
	"github.com/hivedesk/go-call-backend/internal/http/handlers"
	"github.com/hivedesk/go-call-backend/internal/http/middleware"
	"github.com/hivedesk/go-call-backend/internal/repo"
	"github.com/hivedesk/go-call-backend/internal/services"
)

// callRepoShim adapts the repository free functions to the services.CallRepo
// interface expected by the CallService. This keeps services decoupled from
// the concrete repo package while reusing existing functions.
type callRepoShim struct{}

// CreateCall proxies repo.CreateCall.
func (callRepoShim) CreateCall(ctx context.Context, db *gorm.DB, callerID, calleeID, channelName string, now time.Time) (*domain.Call, error) {
	return repo.CreateCall(ctx, db, callerID, calleeID, channelName, now)
}

// GetCall proxies repo.GetCall.
func (callRepoShim) GetCall(ctx context.Context, db *gorm.DB, id string) (*domain.Call, error) {
	return repo.GetCall(ctx, db, id)
}

// DeleteCall proxies repo.DeleteCall.
func (callRepoShim) DeleteCall(ctx context.Context, db *gorm.DB, id string) error {
	return repo.DeleteCall(ctx, db, id)
}

// AcceptCall proxies repo.AcceptCall.
func (callRepoShim) AcceptCall(ctx context.Context, db *gorm.DB, id string, startedAt time.Time) error {
	return repo.AcceptCall(ctx, db, id, startedAt)
}

// RejectCall proxies repo.RejectCall.
func (callRepoShim) RejectCall(ctx context.Context, db *gorm.DB, id string, endedAt time.Time) error {
	return repo.RejectCall(ctx, db, id, endedAt)
}

// EndCall proxies repo.EndCall.
func (callRepoShim) EndCall(ctx context.Context, db *gorm.DB, id string, endedAt time.Time) error {
	return repo.EndCall(ctx, db, id, endedAt)
}

// CountCalls proxies repo.CountCalls (pagination support).
func (callRepoShim) CountCalls(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	return repo.CountCalls(ctx, db, userID)
}

// ListCallsPage proxies repo.ListCallsPage (pagination support).
func (callRepoShim) ListCallsPage(ctx context.Context, db *gorm.DB, userID string, offset, limit int) ([]domain.Call, error) {
	return repo.ListCallsPage(ctx, db, userID, offset, limit)
}

// userDirShim adapts the user repository functions to services.UserDirectory.
type userDirShim struct{}

// GetUser proxies repo.GetUser.
func (userDirShim) GetUser(ctx context.Context, db *gorm.DB, id string) (*domain.User, error) {
	return repo.GetUser(ctx, db, id)
}

// GetUsers proxies repo.GetUsers.
func (userDirShim) GetUsers(ctx context.Context, db *gorm.DB, ids []string) (map[string]domain.User, error) {
	return repo.GetUsers(ctx, db, ids)
}

// Deps bundles the externally constructed signaling adapters injected into
// the service layer. All fields are required; unconfigured adapters should be
// passed as their no-op variants rather than nil.
type Deps struct {
	Tokens   services.TokenIssuer
	Realtime services.EventPublisher
	Push     services.PushNotifier
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine. It configures observability (tracing, metrics), compression and rate
// limiting, CORS and security headers, health and metrics endpoints, and then
// mounts the versioned public API under /api/v*.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. Structured request logging
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Gzip compression
//  7. Metrics
//  8. Rate limiter (per user/IP)
//  9. CORS and Security headers
func RegisterRoutes(r *gin.Engine, db *gorm.DB, deps Deps, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured request logging
	r.Use(middleware.Logger())

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Global body size limit (64 KiB; signaling bodies are tiny)
	r.Use(limitBody(64 << 10))

	// 6) Compression for history listings and other JSON responses
	r.Use(gzip.Gzip(gzip.DefaultCompression))

	// 7) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 8) Token-bucket rate limiter per user/IP
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByUserOrIP())
	r.Use(rl.Handler())

	// 9) CORS posture (safe defaults: allow all if none configured)
	if len(cfg.CORS.AllowedOrigins) == 0 {
		// Force ACAO: * even for requests without an Origin header (helps tests and simple health checks).
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-User-ID"},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
	} else {
		// Echo ACAO with the request Origin when it is in the allowlist (in addition to gin-contrib/cors).
		allowed := make(map[string]struct{}, len(cfg.CORS.AllowedOrigins))
		for _, o := range cfg.CORS.AllowedOrigins {
			allowed[o] = struct{}{}
		}
		r.Use(func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-User-ID"},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	// Security headers (HSTS only when enabled and request is HTTPS)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      true,
		EnablePolicy: true,
	}))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	// Swagger UI (off by default; no generated docs shipped in release builds)
	if cfg.SwaggerEnabled {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	// Dependency injection: services ← repo/db/adapters
	callSvc := services.NewCallService(db, callRepoShim{}, userDirShim{}, deps.Tokens, deps.Realtime, deps.Push)
	callSvc.TokenTTL = cfg.Media.TokenTTL
	callSvc.Log = log.With().Str("component", "call_service").Logger()

	userSvc := &services.UserService{DB: db}
	h := handlers.New(callSvc, userSvc)

	// Public API
	apiBase := cfg.APIBasePath // e.g. "/api/v1"
	api := groupWithPrefix(r, apiBase)
	{
		// Calls
		api.POST("/calls", h.InitiateCall)
		api.GET("/calls", h.CallHistory)
		api.GET("/calls/:id", h.ShowCall)
		api.POST("/calls/:id/accept", h.AcceptCall)
		api.POST("/calls/:id/reject", h.RejectCall)
		api.POST("/calls/:id/end", h.EndCall)

		// Users
		api.PUT("/users/:id", h.SyncUser)
		api.PUT("/users/:id/device", h.RegisterDevice)
	}
}

// limitBody returns a Gin middleware that caps the request body size for all
// endpoints to maxBytes using http.MaxBytesReader. Requests exceeding the cap
// will cause downstream body reads to error.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
