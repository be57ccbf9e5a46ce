// Package httpapi wires the HTTP transport (Gin) to the consensus service,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging/redaction, panic recovery, metrics,
// compression, CORS, security headers, idempotency, and rate limiting.
//
// Design goals:
//   - Put observability first (OTel + Prometheus)
//   - Safe-by-default middleware ordering (RequestID → logging → recovery)
//   - Rate limit only the routes that spend upstream quota
//   - All dependencies injected
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	_ "github.com/tbourn/x-consensus-backend/docs"
	"github.com/tbourn/x-consensus-backend/internal/config"
	"github.com/tbourn/x-consensus-backend/internal/domain"
	"github.com/tbourn/x-consensus-backend/internal/http/handlers"
	"github.com/tbourn/x-consensus-backend/internal/http/middleware"
	"github.com/tbourn/x-consensus-backend/internal/repo"
	"github.com/tbourn/x-consensus-backend/internal/services"
)

const (
	// maxBodyBytes caps request bodies; analyze requests carry one URL.
	maxBodyBytes = 64 << 10
	swaggerPath  = "/swagger/"
)

// analysisRepoShim adapts the repository free functions to the
// services.AnalysisRepo interface expected by the ConsensusService.
type analysisRepoShim struct{}

// CreateAnalysis proxies repo.CreateAnalysis.
func (analysisRepoShim) CreateAnalysis(ctx context.Context, db *gorm.DB, in repo.NewAnalysis) (*domain.Analysis, error) {
	return repo.CreateAnalysis(ctx, db, in)
}

// GetAnalysis proxies repo.GetAnalysis.
func (analysisRepoShim) GetAnalysis(ctx context.Context, db *gorm.DB, id, userID string) (*domain.Analysis, error) {
	return repo.GetAnalysis(ctx, db, id, userID)
}

// CountAnalyses proxies repo.CountAnalyses.
func (analysisRepoShim) CountAnalyses(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	return repo.CountAnalyses(ctx, db, userID)
}

// ListAnalysesPage proxies repo.ListAnalysesPage.
func (analysisRepoShim) ListAnalysesPage(ctx context.Context, db *gorm.DB, userID string, offset, limit int) ([]domain.Analysis, error) {
	return repo.ListAnalysesPage(ctx, db, userID, offset, limit)
}

// AnalysesStats proxies repo.AnalysesStats.
func (analysisRepoShim) AnalysesStats(ctx context.Context, db *gorm.DB, userID string) (int64, *time.Time, error) {
	return repo.AnalysesStats(ctx, db, userID)
}

// GetIdempotency proxies repo.GetIdempotency.
func (analysisRepoShim) GetIdempotency(ctx context.Context, db *gorm.DB, userID, key string, now time.Time) (*domain.Idempotency, error) {
	return repo.GetIdempotency(ctx, db, userID, key, now)
}

// CreateIdempotency proxies repo.CreateIdempotency.
func (analysisRepoShim) CreateIdempotency(ctx context.Context, db *gorm.DB, userID, key, analysisID string, status int, ttl time.Duration) (*domain.Idempotency, error) {
	return repo.CreateIdempotency(ctx, db, userID, key, analysisID, status, ttl)
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine, building the ConsensusService from db and the two pipeline stages.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. RedactingLogger: structured logs with secret scrubbing
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Gzip (metrics excluded)
//  7. Metrics
//  8. CORS and Security headers
//
// Idempotency validation and rate limiting are route-level, on the two
// routes that spend upstream quota.
func RegisterRoutes(r *gin.Engine, db *gorm.DB, ex services.Extractor, an services.Analyzer, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))
	r.Use(middleware.RequestID())
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		MaskHeaders: []string{"X-API-Key"},
	}))
	r.Use(middleware.Recovery())
	r.Use(limitBody(maxBodyBytes))
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/metrics"})))

	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.Use(corsMiddleware(cfg.CORS.AllowedOrigins)...)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      true,
		EnablePolicy: true,
		DocsPrefix:   swaggerPath,
	}))

	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	if cfg.SwaggerEnabled {
		r.GET(swaggerPath+"*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	svc := services.NewConsensusService(db, analysisRepoShim{}, ex, an)
	svc.IdempotencyTTL = cfg.IdempotencyTTL
	h := handlers.New(svc)

	r.GET("/health", h.Health)

	idem := middleware.IdempotencyValidator(
		middleware.IdempotencyOptions{MaxLen: 200},
		func(ctx context.Context, userID, key string, now time.Time) (bool, error) {
			if db == nil {
				return false, nil
			}
			_, err := repo.GetIdempotency(ctx, db, userID, key, now)
			if errors.Is(err, repo.ErrNotFound) {
				return false, nil
			}
			return err == nil, err
		},
	)
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByCaller())

	api := groupWithPrefix(r, cfg.APIBasePath)
	{
		api.POST("/analyze-thread", idem, rl.Handler(), h.AnalyzeThread)
		api.POST("/extract-thread", rl.Handler(), h.ExtractThread)
		api.GET("/usage-stats", h.UsageStats)
		api.GET("/analyses", h.ListAnalyses)
		api.GET("/analyses/:id", h.GetAnalysis)
		api.GET("/health", h.Health)
	}
}

// corsMiddleware returns the CORS posture: allow all origins when none are
// configured, otherwise echo allowlisted origins.
func corsMiddleware(origins []string) []gin.HandlerFunc {
	base := cors.Config{
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-User-ID", middleware.HeaderIdempotencyKey},
		ExposeHeaders:    []string{"X-Request-ID", "Content-Length", "Idempotency-Replayed", "Retry-After", "ETag"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}

	if len(origins) == 0 {
		base.AllowAllOrigins = true
		// Force ACAO: * even for requests without an Origin header.
		return []gin.HandlerFunc{
			func(c *gin.Context) {
				c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
				c.Next()
			},
			cors.New(base),
		}
	}

	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		allowed[o] = struct{}{}
	}
	base.AllowOrigins = origins
	return []gin.HandlerFunc{
		func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		},
		cors.New(base),
	}
}

// limitBody caps the request body size using http.MaxBytesReader. Requests
// exceeding the cap fail when the handler reads the body.
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
