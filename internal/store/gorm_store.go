package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// FileName is the database file created in the data directory.
const FileName = "db.sqlite"

// GormStore implements Store on top of GORM.
type GormStore struct {
	db *gorm.DB
}

// Open opens (creating if needed) the SQLite database in dataDir and migrates it.
func Open(dataDir string) (*GormStore, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data dir %s: %w", dataDir, err)
	}
	path := filepath.Join(dataDir, FileName)

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", path, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	// One connection serializes the writes.
	sqlDB.SetMaxOpenConns(1)

	s, err := New(db)
	if err != nil {
		sqlDB.Close()
		return nil, err
	}
	logrus.Infof("Opened follow store at %s", path)
	return s, nil
}

// New wraps an existing connection and migrates the follows table.
func New(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&FollowRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return &GormStore{db: db}, nil
}

func (s *GormStore) All(ctx context.Context) ([]FollowRecord, error) {
	return s.Find(ctx, Filter{})
}

func (s *GormStore) Find(ctx context.Context, filter Filter) ([]FollowRecord, error) {
	q := s.db.WithContext(ctx).Model(&FollowRecord{})
	if filter.Following != nil {
		q = q.Where("following = ?", *filter.Following)
	}
	if filter.FollowedBefore != nil {
		q = q.Where("follow_time < ?", filter.FollowedBefore.UTC())
	}
	if filter.IDs != nil {
		if len(filter.IDs) == 0 {
			return []FollowRecord{}, nil
		}
		q = q.Where("id IN ?", filter.IDs)
	}

	var records []FollowRecord
	if err := q.Order("follow_time ASC").Order("id ASC").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to query follow records: %w", err)
	}
	return records, nil
}

func (s *GormStore) Exists(ctx context.Context, id string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&FollowRecord{}).
		Where("id = ?", id).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to look up %s: %w", id, err)
	}
	return count > 0, nil
}

func (s *GormStore) CountFollowing(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&FollowRecord{}).
		Where("following = ?", true).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count follows: %w", err)
	}
	return count, nil
}

// Insert adds a record. An existing record with the same ID is left untouched
// and ErrAlreadyExists is returned.
func (s *GormStore) Insert(ctx context.Context, record FollowRecord) error {
	record.FollowTime = record.FollowTime.UTC()
	if record.UnfollowTime != nil {
		t := record.UnfollowTime.UTC()
		record.UnfollowTime = &t
	}

	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&record)
	if result.Error != nil {
		return fmt.Errorf("failed to insert %s: %w", record.ID, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrAlreadyExists
	}
	return nil
}

// MarkUnfollowed sets following=false and the unfollow time of the record.
func (s *GormStore) MarkUnfollowed(ctx context.Context, id string, at time.Time) error {
	result := s.db.WithContext(ctx).Model(&FollowRecord{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"following":     false,
			"unfollow_time": at.UTC(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to mark %s unfollowed: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
