// Package models contains database model definitions.
package models

import (
	"time"

	"gorm.io/datatypes"
)

// Setting represents one explicit configuration override stored in the
// database. At most one row exists per (category, key, scope, scope_id);
// uniqueness is enforced by the backing store.
type Setting struct {
	ID       uint64         `gorm:"primaryKey"`
	Category string         `gorm:"size:64;uniqueIndex:idx_setting_scope;not null"`
	Key      string         `gorm:"size:128;uniqueIndex:idx_setting_scope;not null"`
	Scope    string         `gorm:"size:16;uniqueIndex:idx_setting_scope;not null"`
	ScopeID  string         `gorm:"size:64;uniqueIndex:idx_setting_scope;not null;default:''"`
	Value    datatypes.JSON `gorm:"not null"`

	UpdatedBy string `gorm:"size:128"`
	CreatedAt time.Time
	UpdatedAt time.Time
}
