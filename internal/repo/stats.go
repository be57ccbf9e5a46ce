package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/x-consensus-backend/internal/domain"
)

// AnalysesStats reports how many analyses userID owns and when the most
// recent one changed, for the list endpoint's ETag. With no rows the time
// is nil.
func AnalysesStats(ctx context.Context, db *gorm.DB, userID string) (int64, *time.Time, error) {
	count, err := CountAnalyses(ctx, db, userID)
	if err != nil || count == 0 {
		return 0, nil, err
	}

	// Ordering by the column keeps its DATETIME affinity; MAX() would come
	// back as TEXT from SQLite.
	var latest domain.Analysis
	err = db.WithContext(ctx).
		Select("updated_at").
		Where("user_id = ?", userID).
		Order("updated_at DESC").
		Limit(1).
		Find(&latest).Error
	if err != nil {
		return 0, nil, err
	}
	return count, &latest.UpdatedAt, nil
}
