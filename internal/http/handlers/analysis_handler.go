// Analysis HTTP handlers.
//
// This file exposes the REST endpoints of the consensus service:
//   - POST /analyze-thread   (extract + analyze, idempotent with a key)
//   - POST /extract-thread   (extract only)
//   - GET  /usage-stats      (content API quota)
//   - GET  /analyses         (stored history, paginated, ETag support)
//   - GET  /analyses/{id}    (one stored analysis)
//   - GET  /health
//
// Handlers are transport-thin: they validate input, call the service, and
// translate results and service errors into HTTP responses.
package handlers

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/x-consensus-backend/internal/domain"
	"github.com/tbourn/x-consensus-backend/internal/http/middleware"
	"github.com/tbourn/x-consensus-backend/internal/quota"
	"github.com/tbourn/x-consensus-backend/internal/utils"
)

// Version is reported by the health endpoint.
const Version = "1.0.0"

// usageWarnPercent is the quota usage at which /usage-stats reports "warning".
const usageWarnPercent = 90

//
// Service contract (context-aware)
//

// ConsensusService defines the operations consumed by the HTTP handlers.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type ConsensusService interface {
	// Analyze extracts and analyzes the thread at url for userID.
	Analyze(ctx context.Context, userID, url string) (*domain.ConsensusResult, error)
	// Extract returns the thread snapshot only.
	Extract(ctx context.Context, url string) (*domain.ThreadSnapshot, error)
	// Usage returns the content API quota counters.
	Usage() quota.Stats
	// Get returns one stored analysis owned by userID.
	Get(ctx context.Context, userID, id string) (*domain.ConsensusResult, error)
	// ListPage returns a page of stored analyses and the total count.
	ListPage(ctx context.Context, userID string, page, pageSize int) ([]domain.Analysis, int64, error)
	// HistoryVersion returns the count and latest update time of the history.
	HistoryVersion(ctx context.Context, userID string) (int64, *time.Time, error)
	// Replay returns the analysis stored under an idempotency key, if any.
	Replay(ctx context.Context, userID, key string) (*domain.ConsensusResult, bool, error)
	// RememberIdempotent binds an idempotency key to an analysis.
	RememberIdempotent(ctx context.Context, userID, key, analysisID string) error
}

//
// Handler wiring
//

// Handlers groups the HTTP endpoints. It depends on an abstract service to
// keep transport concerns separate from business logic.
type Handlers struct {
	svc ConsensusService
	now func() time.Time
}

// New constructs a Handlers bound to svc.
func New(svc ConsensusService) *Handlers {
	return &Handlers{svc: svc, now: time.Now}
}

// userID extracts the caller id from the Gin context (set by upstream
// middleware). If absent, it falls back to the "X-User-ID" header, and
// finally to "demo-user".
func userID(c *gin.Context) string {
	if v, ok := c.Get("userID"); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	if c != nil && c.Request != nil {
		if h := strings.TrimSpace(c.GetHeader("X-User-ID")); h != "" {
			return h
		}
	}
	return "demo-user"
}

//
// DTOs
//

// ThreadRequest is the JSON payload of the analyze and extract endpoints.
type ThreadRequest struct {
	// URL of the root post, e.g. https://x.com/alice/status/42.
	URL string `json:"url" binding:"required" example:"https://x.com/alice/status/1964032860664582"`
}

// ExtractResponse wraps an extracted thread.
type ExtractResponse struct {
	Success bool                   `json:"success" example:"true"`
	Data    *domain.ThreadSnapshot `json:"data"`
}

// UsageResponse reports content API quota usage.
type UsageResponse struct {
	Success bool `json:"success" example:"true"`
	quota.Stats
	Status  string `json:"status" example:"healthy"`
	Message string `json:"message" example:"Using 12% of monthly quota"`
}

// HealthResponse is the liveness payload.
type HealthResponse struct {
	Status    string `json:"status" example:"healthy"`
	Timestamp string `json:"timestamp" example:"2025-06-10T12:00:00Z"`
	Version   string `json:"version" example:"1.0.0"`
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// ListAnalysesResponse wraps a page of stored analyses.
type ListAnalysesResponse struct {
	Analyses   []domain.Analysis `json:"analyses"`
	Pagination Pagination        `json:"pagination"`
}

//
// Helpers
//

// clampPagination parses and bounds page and page_size query params to sane
// defaults and limits, returning (page, pageSize).
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPage     = 1
		defaultPageSize = 20
		maxPageSize     = 100
	)
	page = utils.AtoiDefault(c.Query("page"), defaultPage)
	if page < 1 {
		page = 1
	}
	pageSize = utils.AtoiDefault(c.Query("page_size"), defaultPageSize)
	if pageSize < 1 {
		pageSize = 1
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return
}

// bindThreadRequest reads the {"url": ...} body; it writes a 400 and
// returns false when the body is unusable.
func bindThreadRequest(c *gin.Context) (string, bool) {
	var req ThreadRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.URL) == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "url required")
		return "", false
	}
	return strings.TrimSpace(req.URL), true
}

//
// Handlers
//

// AnalyzeThread godoc
// @ID          analyzeThread
// @Summary     Analyze a thread
// @Description Extracts the thread behind the URL, finds both sides of the debate and the common ground between them.
// @Description Supports idempotency via the Idempotency-Key header (same key returns the stored result).
// @Tags        Analysis
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID        header  string  false "User ID (demo header)"                   example(user123)
// @Param       Idempotency-Key  header  string  false "Idempotency key for safe retries"        example(7a8d9f4c-1b2a-4c3d-8e9f-0123456789ab)
// @Param       body             body    handlers.ThreadRequest  true  "Thread URL"
//
// @Success     200  {object}  domain.ConsensusResult
// @Failure     400  {object}  handlers.ErrorResponse  "Invalid URL or thread too short"
// @Failure     401  {object}  handlers.ErrorResponse  "Invalid upstream credentials"
// @Failure     404  {object}  handlers.ErrorResponse  "Thread not found or private"
// @Failure     429  {object}  handlers.ErrorResponse  "Rate limited"
// @Failure     500  {object}  handlers.ErrorResponse  "Quota, upstream or analysis failure"
// @Router      /analyze-thread [post]
func (h *Handlers) AnalyzeThread(c *gin.Context) {
	url, okURL := bindThreadRequest(c)
	if !okURL {
		return
	}
	ctx := c.Request.Context()
	uid := userID(c)

	// Idempotency (replay path).
	idemKey, _ := middleware.GetIdempotencyKey(c)
	if idemKey != "" {
		if prev, found, err := h.svc.Replay(ctx, uid, idemKey); err == nil && found {
			c.Header("Idempotency-Replayed", "true")
			ok(c, http.StatusOK, prev)
			return
		}
	}

	res, err := h.svc.Analyze(ctx, uid, url)
	if err != nil {
		failErr(c, err)
		return
	}

	// Idempotency (store path), best effort.
	if idemKey != "" && res.ID != "" {
		if err := h.svc.RememberIdempotent(ctx, uid, idemKey, res.ID); err != nil {
			middleware.LoggerFrom(c).Warn().Err(err).Msg("store idempotency key")
		}
	}
	ok(c, http.StatusOK, res)
}

// ExtractThread godoc
// @ID          extractThread
// @Summary     Extract a thread
// @Description Fetches the root post and the posts it references, without analysis.
// @Tags        Analysis
// @Accept      json
// @Produce     json
//
// @Param       body  body  handlers.ThreadRequest  true  "Thread URL"
//
// @Success     200  {object}  handlers.ExtractResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Invalid URL"
// @Failure     401  {object}  handlers.ErrorResponse  "Invalid upstream credentials"
// @Failure     404  {object}  handlers.ErrorResponse  "Thread not found or private"
// @Failure     429  {object}  handlers.ErrorResponse  "Rate limited"
// @Failure     500  {object}  handlers.ErrorResponse  "Quota or upstream failure"
// @Router      /extract-thread [post]
func (h *Handlers) ExtractThread(c *gin.Context) {
	url, okURL := bindThreadRequest(c)
	if !okURL {
		return
	}
	snap, err := h.svc.Extract(c.Request.Context(), url)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, ExtractResponse{Success: true, Data: snap})
}

// UsageStats godoc
// @ID          usageStats
// @Summary     Content API usage
// @Description Reports monthly usage of the content API and the current window's rate limit state.
// @Tags        Ops
// @Produce     json
// @Success     200  {object}  handlers.UsageResponse
// @Router      /usage-stats [get]
func (h *Handlers) UsageStats(c *gin.Context) {
	st := h.svc.Usage()
	status := "healthy"
	if st.UsagePercentage >= usageWarnPercent {
		status = "warning"
	}
	ok(c, http.StatusOK, UsageResponse{
		Success: true,
		Stats:   st,
		Status:  status,
		Message: fmt.Sprintf("Using %g%% of monthly quota", math.Round(st.UsagePercentage*10)/10),
	})
}

// ListAnalyses godoc
// @ID          listAnalyses
// @Summary     List stored analyses (paginated)
// @Description Returns a page of the caller's analyses, newest first. Supports weak ETag via If-None-Match and may return 304.
// @Tags        Analysis
// @Produce     json
//
// @Param       X-User-ID      header  string  false "User ID (demo header)"       example(user123)
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"  example(W/\"abc123\")
// @Param       page           query   int     false "Page number"                  minimum(1) default(1)
// @Param       page_size      query   int     false "Items per page"               minimum(1) maximum(100) default(20)
//
// @Success     200  {object} handlers.ListAnalysesResponse
// @Header      200  {string} ETag  "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /analyses [get]
func (h *Handlers) ListAnalyses(c *gin.Context) {
	ctx := c.Request.Context()
	uid := userID(c)
	page, pageSize := clampPagination(c)

	// ETag pre-check (best effort).
	if count, maxTS, err := h.svc.HistoryVersion(ctx, uid); err == nil {
		var ts int64
		if maxTS != nil {
			ts = maxTS.Unix()
		}
		etag := fmt.Sprintf(`W/"analyses:%s:%d:%d"`, uid, count, ts)
		c.Header("ETag", etag)
		if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
			c.Status(http.StatusNotModified)
			return
		}
	}

	items, total, err := h.svc.ListPage(ctx, uid, page, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "could not list analyses")
		return
	}

	totalPages := utils.TotalPages(total, pageSize)
	ok(c, http.StatusOK, ListAnalysesResponse{
		Analyses: items,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
		},
	})
}

// GetAnalysis godoc
// @ID          getAnalysis
// @Summary     Get a stored analysis
// @Tags        Analysis
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       id         path    string  true  "Analysis ID (UUID)"     format(uuid)
//
// @Success     200  {object}  domain.ConsensusResult
// @Failure     404  {object}  handlers.ErrorResponse  "Analysis not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /analyses/{id} [get]
func (h *Handlers) GetAnalysis(c *gin.Context) {
	res, err := h.svc.Get(c.Request.Context(), userID(c), c.Param("id"))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, res)
}

// Health godoc
// @ID          health
// @Summary     Liveness probe
// @Tags        Ops
// @Produce     json
// @Success     200  {object}  handlers.HealthResponse
// @Router      /health [get]
func (h *Handlers) Health(c *gin.Context) {
	ok(c, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: h.now().UTC().Format(time.RFC3339),
		Version:   Version,
	})
}
