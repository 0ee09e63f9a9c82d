// Package setting provides row-level operations for stored setting
// overrides, including the transactional write path that keeps the
// audit history in step with the settings table.
package setting

import (
	"bytes"
	"context"
	"errors"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/lotkeeper/lotkeeper/internal/db/models"
)

const (
	scopeRowQuery = "category = ? AND key = ? AND scope = ? AND scope_id = ?"
)

var (
	// ErrSettingNotFound is returned when no override row exists.
	ErrSettingNotFound = errors.New("setting not found")
	// ErrCategoryEmpty is returned when the category is empty.
	ErrCategoryEmpty = errors.New("setting category cannot be empty")
	// ErrKeyEmpty is returned when the key is empty.
	ErrKeyEmpty = errors.New("setting key cannot be empty")
	// ErrScopeInvalid is returned for an unknown scope level.
	ErrScopeInvalid = errors.New("setting scope is invalid")
	// ErrDBNil is returned when the database connection is nil.
	ErrDBNil = errors.New("database connection is nil")
)

func checkKey(db *gorm.DB, category, key string) error {
	if db == nil {
		return ErrDBNil
	}
	if category == "" {
		return ErrCategoryEmpty
	}
	if key == "" {
		return ErrKeyEmpty
	}

	return nil
}

// Get retrieves the override row for one (category, key, scope,
// scope instance) coordinate.
func Get(ctx context.Context, db *gorm.DB, category, key, scope, scopeID string) (*models.Setting, error) {
	if err := checkKey(db, category, key); err != nil {
		return nil, err
	}

	var row models.Setting
	result := db.WithContext(ctx).
		Where(scopeRowQuery, category, key, scope, scopeID).
		First(&row)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrSettingNotFound
		}

		return nil, result.Error
	}

	return &row, nil
}

// GetCategory retrieves all override rows of a category at one scope
// instance, keyed by setting key.
func GetCategory(ctx context.Context, db *gorm.DB, category, scope, scopeID string) (map[string]models.Setting, error) {
	if db == nil {
		return nil, ErrDBNil
	}
	if category == "" {
		return nil, ErrCategoryEmpty
	}

	var rows []models.Setting
	result := db.WithContext(ctx).
		Where("category = ? AND scope = ? AND scope_id = ?", category, scope, scopeID).
		Find(&rows)
	if result.Error != nil {
		return nil, result.Error
	}

	out := make(map[string]models.Setting, len(rows))
	for _, row := range rows {
		out[row.Key] = row
	}

	return out, nil
}

// Upsert writes a value at a scope coordinate and appends the matching
// history entry in one transaction. Writing a value identical to the
// stored one is a no-op: no row update and no history entry.
func Upsert(ctx context.Context, db *gorm.DB, category, key, scope, scopeID string, val datatypes.JSON, actor string) (*models.Setting, error) {
	if err := checkKey(db, category, key); err != nil {
		return nil, err
	}

	var row *models.Setting

	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.Setting
		result := tx.Where(scopeRowQuery, category, key, scope, scopeID).First(&existing)

		switch {
		case errors.Is(result.Error, gorm.ErrRecordNotFound):
			row = &models.Setting{
				Category:  category,
				Key:       key,
				Scope:     scope,
				ScopeID:   scopeID,
				Value:     val,
				UpdatedBy: actor,
			}
			if err := tx.Create(row).Error; err != nil {
				return err
			}

			return tx.Create(&models.HistoryEntry{
				Category: category,
				Key:      key,
				Scope:    scope,
				ScopeID:  scopeID,
				NewValue: val,
				Actor:    actor,
			}).Error
		case result.Error != nil:
			return result.Error
		}

		if bytes.Equal(existing.Value, val) {
			// unchanged value, keep history free of no-op entries
			row = &existing

			return nil
		}

		old := existing.Value
		existing.Value = val
		existing.UpdatedBy = actor
		if err := tx.Save(&existing).Error; err != nil {
			return err
		}
		row = &existing

		return tx.Create(&models.HistoryEntry{
			Category: category,
			Key:      key,
			Scope:    scope,
			ScopeID:  scopeID,
			OldValue: old,
			NewValue: val,
			Actor:    actor,
		}).Error
	})
	if err != nil {
		return nil, err
	}

	return row, nil
}

// DeleteOverride removes the override row at a scope coordinate so
// resolution falls through to the parent scope. The removal is recorded
// in history with a null new value.
func DeleteOverride(ctx context.Context, db *gorm.DB, category, key, scope, scopeID, actor string) error {
	if err := checkKey(db, category, key); err != nil {
		return err
	}

	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.Setting
		result := tx.Where(scopeRowQuery, category, key, scope, scopeID).First(&existing)
		if result.Error != nil {
			if errors.Is(result.Error, gorm.ErrRecordNotFound) {
				return ErrSettingNotFound
			}

			return result.Error
		}

		if err := tx.Delete(&existing).Error; err != nil {
			return err
		}

		return tx.Create(&models.HistoryEntry{
			Category: category,
			Key:      key,
			Scope:    scope,
			ScopeID:  scopeID,
			OldValue: existing.Value,
			Actor:    actor,
		}).Error
	})
}
