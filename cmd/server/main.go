// Command server runs the X consensus HTTP API.
//
// @title       X Consensus API
// @version     1.0.0
// @description Finds the opposing viewpoints of an X/Twitter thread and the common ground between them.
// @BasePath    /api
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
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/tbourn/x-consensus-backend/internal/config"
	httpapi "github.com/tbourn/x-consensus-backend/internal/http"
	"github.com/tbourn/x-consensus-backend/internal/http/handlers"
	"github.com/tbourn/x-consensus-backend/internal/observability"
	"github.com/tbourn/x-consensus-backend/internal/quota"
	"github.com/tbourn/x-consensus-backend/internal/repo"
	"github.com/tbourn/x-consensus-backend/internal/services"
	"github.com/tbourn/x-consensus-backend/internal/sysutil"
	"github.com/tbourn/x-consensus-backend/internal/xai"
)

const (
	shutdownTimeout = 30 * time.Second
	purgeInterval   = time.Hour
)

func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg := config.MustLoad()
	sysutil.SetupLogger(cfg.LogLevel, cfg.LogPretty, os.Stderr)
	gin.SetMode(cfg.GinMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Error().Err(err).Msg("server stopped with error")
		os.Exit(1)
	}
	log.Info().Msg("server stopped")
}

func run(ctx context.Context, cfg config.Config) error {
	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, handlers.Version)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			log.Warn().Err(err).Msg("otel shutdown")
		}
	}()

	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		return err
	}
	if err := repo.AutoMigrate(db); err != nil {
		return err
	}

	q := quota.New(quota.Config{
		MinInterval:    cfg.XAPI.MinInterval,
		MonthlyLimit:   cfg.XAPI.MonthlyLimit,
		MonthlyCeiling: cfg.XAPI.MonthlyCeiling,
	}, quota.SystemClock{})
	ex := services.NewThreadExtractor(services.ExtractorConfig{
		BaseURL:           cfg.XAPI.BaseURL,
		BearerToken:       cfg.XAPI.BearerToken,
		Timeout:           cfg.XAPI.Timeout,
		MaxAttempts:       cfg.XAPI.MaxAttempts,
		BackoffBase:       cfg.XAPI.BackoffBase,
		DefaultRetryAfter: cfg.XAPI.DefaultRetryAfter,
	}, q)
	an := services.NewAnalysisPipeline(services.PipelineConfig{
		Model:         cfg.XAI.Model,
		SearchModel:   cfg.XAI.SearchModel,
		ImageModel:    cfg.XAI.ImageModel,
		Timeout:       cfg.XAI.Timeout,
		SearchTimeout: cfg.XAI.SearchTimeout,
		LiveSearch:    cfg.XAI.LiveSearch,
		Images:        cfg.XAI.Images,
	}, xai.NewClient(cfg.XAI.APIKey, xai.WithBaseURL(cfg.XAI.BaseURL)))

	r := gin.New()
	httpapi.RegisterRoutes(r, db, ex, an, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Str("api", cfg.APIBasePath).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	g.Go(func() error {
		purgeIdempotency(gctx, db, purgeInterval)
		return nil
	})
	return g.Wait()
}

// purgeIdempotency deletes expired idempotency keys every interval until ctx
// is done.
func purgeIdempotency(ctx context.Context, db *gorm.DB, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			n, err := repo.PurgeExpiredIdempotency(ctx, db, now.UTC())
			if err != nil {
				log.Warn().Err(err).Msg("purge idempotency keys")
				continue
			}
			if n > 0 {
				log.Debug().Int64("deleted", n).Msg("purged idempotency keys")
			}
		}
	}
}
