// Package services – ConsensusService
//
// This file implements ConsensusService, the orchestrator behind the HTTP
// surface. It extracts a thread, rejects threads too short to debate, runs
// the analysis pipeline, stamps orchestration metadata and stores the
// result so it can be listed and replayed later.
//
// Persistence is best effort: a failed insert is logged and the analysis is
// still returned.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/x-consensus-backend/internal/domain"
	"github.com/tbourn/x-consensus-backend/internal/quota"
	"github.com/tbourn/x-consensus-backend/internal/repo"
	"github.com/tbourn/x-consensus-backend/internal/utils"
)

// minPostsForAnalysis is the smallest thread worth analyzing.
const minPostsForAnalysis = 2

// Extractor produces thread snapshots and reports quota usage.
type Extractor interface {
	Extract(ctx context.Context, rawURL string) (*domain.ThreadSnapshot, error)
	UsageStats() quota.Stats
}

// Analyzer turns a snapshot into a consensus result.
type Analyzer interface {
	Analyze(ctx context.Context, snap *domain.ThreadSnapshot) (*domain.ConsensusResult, error)
}

// AnalysisRepo defines the repository contract required by ConsensusService.
type AnalysisRepo interface {
	// CreateAnalysis stores one analysis payload.
	CreateAnalysis(ctx context.Context, db *gorm.DB, in repo.NewAnalysis) (*domain.Analysis, error)

	// GetAnalysis fetches an analysis owned by userID.
	GetAnalysis(ctx context.Context, db *gorm.DB, id, userID string) (*domain.Analysis, error)

	// CountAnalyses returns the number of analyses owned by userID.
	CountAnalyses(ctx context.Context, db *gorm.DB, userID string) (int64, error)

	// ListAnalysesPage returns a page of analyses, newest first.
	ListAnalysesPage(ctx context.Context, db *gorm.DB, userID string, offset, limit int) ([]domain.Analysis, error)

	// AnalysesStats returns the count and latest update time for ETags.
	AnalysesStats(ctx context.Context, db *gorm.DB, userID string) (int64, *time.Time, error)

	// GetIdempotency returns a live idempotency record or repo.ErrNotFound.
	GetIdempotency(ctx context.Context, db *gorm.DB, userID, key string, now time.Time) (*domain.Idempotency, error)

	// CreateIdempotency records key -> analysisID, or repo.ErrDuplicate.
	CreateIdempotency(ctx context.Context, db *gorm.DB, userID, key, analysisID string, status int, ttl time.Duration) (*domain.Idempotency, error)
}

// ConsensusService coordinates extraction, analysis and history.
type ConsensusService struct {
	DB        *gorm.DB
	Repo      AnalysisRepo
	Extractor Extractor
	Analyzer  Analyzer

	// IdempotencyTTL is how long a replayable key is kept.
	IdempotencyTTL time.Duration

	// Now is the clock for timestamps. Nil means time.Now.
	Now func() time.Time
}

// NewConsensusService wires the collaborators with a 24h idempotency TTL.
func NewConsensusService(db *gorm.DB, r AnalysisRepo, ex Extractor, an Analyzer) *ConsensusService {
	return &ConsensusService{
		DB:             db,
		Repo:           r,
		Extractor:      ex,
		Analyzer:       an,
		IdempotencyTTL: 24 * time.Hour,
	}
}

func (s *ConsensusService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Analyze extracts the thread at rawURL, analyzes it and stores the result
// for userID. Extraction errors are returned unchanged; a thread with fewer
// than two posts yields ErrThreadTooShort before any analysis call.
func (s *ConsensusService) Analyze(ctx context.Context, userID, rawURL string) (*domain.ConsensusResult, error) {
	tr := otel.Tracer("services/ConsensusService")
	ctx, span := tr.Start(ctx, "Analyze",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.String("thread.url", rawURL),
		),
	)
	defer span.End()

	snap, err := s.Extractor.Extract(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	if len(snap.Posts) < minPostsForAnalysis {
		return nil, ErrThreadTooShort
	}

	res, err := s.Analyzer.Analyze(ctx, snap)
	if err != nil {
		return nil, err
	}

	res.SetMeta("thread_url", rawURL)
	res.SetMeta("thread_id", snap.ThreadID)
	res.SetMeta("total_tweets", len(snap.Posts))
	res.SetMeta("analysis_timestamp", s.now().UTC().Format(time.RFC3339))
	res.SetMeta("api_usage_stats", s.Extractor.UsageStats())
	res.SetMeta("api_calls_this_analysis", 1)

	s.store(ctx, userID, rawURL, snap, res)
	return res, nil
}

// store persists res and sets its ID. Failures are logged and ignored.
func (s *ConsensusService) store(ctx context.Context, userID, rawURL string, snap *domain.ThreadSnapshot, res *domain.ConsensusResult) {
	if s.DB == nil || s.Repo == nil {
		return
	}
	payload, err := json.Marshal(res)
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("encode analysis for storage")
		return
	}
	a, err := s.Repo.CreateAnalysis(ctx, s.DB, repo.NewAnalysis{
		UserID:     userID,
		ThreadID:   snap.ThreadID,
		ThreadURL:  rawURL,
		TotalPosts: len(snap.Posts),
		Payload:    string(payload),
	})
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("thread_id", snap.ThreadID).Msg("store analysis")
		return
	}
	res.ID = a.ID
}

// Extract returns the snapshot only, without analysis.
func (s *ConsensusService) Extract(ctx context.Context, rawURL string) (*domain.ThreadSnapshot, error) {
	tr := otel.Tracer("services/ConsensusService")
	ctx, span := tr.Start(ctx, "Extract",
		trace.WithAttributes(attribute.String("thread.url", rawURL)),
	)
	defer span.End()

	return s.Extractor.Extract(ctx, rawURL)
}

// Usage returns the content API quota counters.
func (s *ConsensusService) Usage() quota.Stats {
	return s.Extractor.UsageStats()
}

// Get returns a stored analysis owned by userID, or ErrAnalysisNotFound.
func (s *ConsensusService) Get(ctx context.Context, userID, id string) (*domain.ConsensusResult, error) {
	tr := otel.Tracer("services/ConsensusService")
	ctx, span := tr.Start(ctx, "Get",
		trace.WithAttributes(
			attribute.String("analysis.id", id),
			attribute.String("user.id", userID),
		),
	)
	defer span.End()

	a, err := s.Repo.GetAnalysis(ctx, s.DB, id, userID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrAnalysisNotFound
		}
		return nil, err
	}
	var res domain.ConsensusResult
	if err := json.Unmarshal([]byte(a.Payload), &res); err != nil {
		return nil, err
	}
	res.ID = a.ID
	return &res, nil
}

// ListPage returns a page of stored analyses for userID and the total
// count. Invalid page or size fall back to 1 and 20.
func (s *ConsensusService) ListPage(ctx context.Context, userID string, page, pageSize int) ([]domain.Analysis, int64, error) {
	tr := otel.Tracer("services/ConsensusService")
	ctx, span := tr.Start(ctx, "ListPage",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}

	total, err := s.Repo.CountAnalyses(ctx, s.DB, userID)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Analysis{}, 0, nil
	}
	items, err := s.Repo.ListAnalysesPage(ctx, s.DB, userID, utils.Offset(page, pageSize), pageSize)
	return items, total, err
}

// HistoryVersion reports the number of stored analyses and the latest
// update time, for conditional list responses.
func (s *ConsensusService) HistoryVersion(ctx context.Context, userID string) (int64, *time.Time, error) {
	return s.Repo.AnalysesStats(ctx, s.DB, userID)
}

// Replay returns the analysis previously stored under an idempotency key.
// found is false when the key is unknown or expired.
func (s *ConsensusService) Replay(ctx context.Context, userID, key string) (res *domain.ConsensusResult, found bool, err error) {
	rec, err := s.Repo.GetIdempotency(ctx, s.DB, userID, key, s.now().UTC())
	if errors.Is(err, repo.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	res, err = s.Get(ctx, userID, rec.AnalysisID)
	if errors.Is(err, ErrAnalysisNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return res, true, nil
}

// RememberIdempotent binds key to analysisID for IdempotencyTTL. A key that
// is already bound is left alone.
func (s *ConsensusService) RememberIdempotent(ctx context.Context, userID, key, analysisID string) error {
	if key == "" || analysisID == "" {
		return nil
	}
	_, err := s.Repo.CreateIdempotency(ctx, s.DB, userID, key, analysisID, 200, s.IdempotencyTTL)
	if errors.Is(err, repo.ErrDuplicate) {
		return nil
	}
	return err
}
