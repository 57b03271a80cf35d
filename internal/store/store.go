package store

import (
	"context"
	"time"
)

// FollowRecord is kept for every account the worker has ever followed.
// UnfollowTime is set exactly when Following is false.
type FollowRecord struct {
	ID           string     `gorm:"primaryKey;column:id" json:"id"`
	Following    bool       `gorm:"not null;index;column:following" json:"following"`
	FollowTime   time.Time  `gorm:"not null;index;column:follow_time" json:"follow_time"`
	UnfollowTime *time.Time `gorm:"column:unfollow_time" json:"unfollow_time,omitempty"`
}

func (FollowRecord) TableName() string {
	return "follows"
}

// Filter selects records. Nil fields match everything.
type Filter struct {
	Following      *bool
	FollowedBefore *time.Time // strictly before
	IDs            []string
}

// Store persists follow records. Every write is durable when the call returns.
type Store interface {
	All(ctx context.Context) ([]FollowRecord, error)
	// Find returns the matching records, oldest follow first.
	Find(ctx context.Context, filter Filter) ([]FollowRecord, error)
	Exists(ctx context.Context, id string) (bool, error)
	CountFollowing(ctx context.Context) (int64, error)
	Insert(ctx context.Context, record FollowRecord) error
	MarkUnfollowed(ctx context.Context, id string, at time.Time) error
	Close() error
}
