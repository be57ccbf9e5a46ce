// Package domain defines the thread and consensus data model along with the
// GORM persistence models for stored analyses and idempotency keys.
package domain

import (
	"time"

	"gorm.io/gorm"
)

// Analysis is a stored consensus result. The full ConsensusResult is kept as
// a JSON document in Payload; the thread columns exist for lookup and listing.
//
// Fields:
//   - ID: stable UUID primary key (char(36)).
//   - UserID: identifier of the requesting client; indexed.
//   - ThreadID: numeric id of the analyzed root post; indexed.
//   - ThreadURL: the URL as submitted.
//   - TotalPosts: number of posts the analysis was built from.
//   - Payload: JSON-encoded ConsensusResult.
//   - CreatedAt / UpdatedAt: timestamps managed by GORM.
//   - DeletedAt: soft deletion marker.
type Analysis struct {
	ID         string         `json:"id"          gorm:"type:char(36);primaryKey"`
	UserID     string         `json:"user_id"     gorm:"type:varchar(64);not null;index:idx_user_analyses"`
	ThreadID   string         `json:"thread_id"   gorm:"type:varchar(32);not null;index"`
	ThreadURL  string         `json:"thread_url"  gorm:"type:varchar(512);not null"`
	TotalPosts int            `json:"total_posts" gorm:"not null;default:0"`
	Payload    string         `json:"-"           gorm:"type:text;not null"`
	CreatedAt  time.Time      `json:"created_at"  gorm:"index:idx_user_analyses,sort:desc"`
	UpdatedAt  time.Time      `json:"updated_at"`
	DeletedAt  gorm.DeletedAt `json:"-"           gorm:"index"`
}

// TableName returns the database table name for Analysis.
func (Analysis) TableName() string { return "analyses" }
