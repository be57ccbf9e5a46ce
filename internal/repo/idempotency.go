// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file stores Idempotency-Key records so a retried
// analyze request replays the stored analysis instead of spending quota.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/x-consensus-backend/internal/domain"
)

// ErrDuplicate indicates that a live idempotency record already exists for
// the given (user_id, key) pair.
var ErrDuplicate = errors.New("duplicate")

// GetIdempotency looks up the live record for (userID, key) at now.
// Blank keys, expired rows and missing rows all yield ErrNotFound.
func GetIdempotency(ctx context.Context, db *gorm.DB, userID, key string, now time.Time) (*domain.Idempotency, error) {
	if strings.TrimSpace(key) == "" {
		return nil, ErrNotFound
	}
	var rec domain.Idempotency
	res := db.WithContext(ctx).
		Where("user_id = ? AND key = ?", userID, key).
		Where("expires_at > ?", now).
		Limit(1).
		Find(&rec)
	switch {
	case res.Error != nil:
		return nil, res.Error
	case res.RowsAffected == 0:
		return nil, ErrNotFound
	}
	return &rec, nil
}

// CreateIdempotency binds key to analysisID for ttl. An expired row holding
// the same (user, key) is reclaimed in the same transaction; a live one
// yields ErrDuplicate.
func CreateIdempotency(ctx context.Context, db *gorm.DB, userID, key, analysisID string, status int, ttl time.Duration) (*domain.Idempotency, error) {
	now := time.Now().UTC()
	rec := &domain.Idempotency{
		ID:         uuid.NewString(),
		UserID:     userID,
		Key:        key,
		AnalysisID: analysisID,
		Status:     status,
		CreatedAt:  now,
		ExpiresAt:  now.Add(ttl),
	}

	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ? AND key = ? AND expires_at <= ?", userID, key, now).
			Delete(&domain.Idempotency{}).Error; err != nil {
			return err
		}
		return tx.Create(rec).Error
	})
	switch {
	case err == nil:
		return rec, nil
	case isUniqueViolation(err):
		return nil, ErrDuplicate
	default:
		return nil, err
	}
}

// PurgeExpiredIdempotency deletes records whose TTL has elapsed and returns
// how many rows were removed.
func PurgeExpiredIdempotency(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	res := db.WithContext(ctx).Where("expires_at <= ?", now).Delete(&domain.Idempotency{})
	return res.RowsAffected, res.Error
}

// isUniqueViolation recognizes UNIQUE failures. The pure-Go SQLite driver
// reports them as plain text unless TranslateError is enabled.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint failed") ||
		strings.Contains(msg, "constraint failed: unique")
}
