// Package history provides read and retention operations on the
// immutable setting audit log.
package history

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/lotkeeper/lotkeeper/internal/db/models"
)

var (
	// ErrDBNil is returned when the database connection is nil.
	ErrDBNil = errors.New("database connection is nil")
	// ErrRetentionTooShort guards against purging recent audit data.
	ErrRetentionTooShort = errors.New("history retention must be at least 24h")
)

const minRetention = 24 * time.Hour

// ForKey lists audit entries for one (category, key), newest first,
// capped at limit.
func ForKey(ctx context.Context, db *gorm.DB, category, key string, limit int) ([]models.HistoryEntry, error) {
	if db == nil {
		return nil, ErrDBNil
	}

	var entries []models.HistoryEntry
	result := db.WithContext(ctx).
		Where("category = ? AND key = ?", category, key).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&entries)
	if result.Error != nil {
		return nil, result.Error
	}

	return entries, nil
}

// ForCategory lists audit entries for a whole category, newest first,
// capped at limit.
func ForCategory(ctx context.Context, db *gorm.DB, category string, limit int) ([]models.HistoryEntry, error) {
	if db == nil {
		return nil, ErrDBNil
	}

	var entries []models.HistoryEntry
	result := db.WithContext(ctx).
		Where("category = ?", category).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&entries)
	if result.Error != nil {
		return nil, result.Error
	}

	return entries, nil
}

// Purge deletes audit entries older than the retention window. This is
// the only operation that removes history rows.
func Purge(ctx context.Context, db *gorm.DB, retention time.Duration) (int64, error) {
	if db == nil {
		return 0, ErrDBNil
	}
	if retention < minRetention {
		return 0, ErrRetentionTooShort
	}

	cutoff := time.Now().Add(-retention)
	result := db.WithContext(ctx).
		Where("created_at < ?", cutoff).
		Delete(&models.HistoryEntry{})

	return result.RowsAffected, result.Error
}
