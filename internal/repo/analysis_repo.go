// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for stored
// consensus analyses.
//
// All functions are context-aware and accept a *gorm.DB handle, so they can
// run inside transactions. They do no business logic: the payload is an
// opaque JSON document produced by the service layer.
//
// Error semantics:
//   - A missing analysis yields gorm.ErrRecordNotFound (ErrNotFound).
//   - Other DB errors are propagated unchanged.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/x-consensus-backend/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// NewAnalysis describes an analysis to be stored.
type NewAnalysis struct {
	UserID     string
	ThreadID   string
	ThreadURL  string
	TotalPosts int
	Payload    string
}

// CreateAnalysis inserts a new Analysis row with a random UUID primary key
// and a UTC creation time.
func CreateAnalysis(ctx context.Context, db *gorm.DB, in NewAnalysis) (*domain.Analysis, error) {
	a := &domain.Analysis{
		ID:         uuid.NewString(),
		UserID:     in.UserID,
		ThreadID:   in.ThreadID,
		ThreadURL:  in.ThreadURL,
		TotalPosts: in.TotalPosts,
		Payload:    in.Payload,
		CreatedAt:  time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(a).Error; err != nil {
		return nil, err
	}
	return a, nil
}

// GetAnalysis fetches one analysis by id owned by userID, or ErrNotFound.
func GetAnalysis(ctx context.Context, db *gorm.DB, id, userID string) (*domain.Analysis, error) {
	var a domain.Analysis
	err := db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		First(&a).Error
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// CountAnalyses returns the number of analyses owned by userID.
func CountAnalyses(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.Analysis{}).
		Where("user_id = ?", userID).
		Count(&total).Error
	return total, err
}

// ListAnalysesPage returns a page of analyses for userID, newest first.
// The caller computes offset and limit (e.g., (page-1)*pageSize).
func ListAnalysesPage(ctx context.Context, db *gorm.DB, userID string, offset, limit int) ([]domain.Analysis, error) {
	var out []domain.Analysis
	err := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at desc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}
