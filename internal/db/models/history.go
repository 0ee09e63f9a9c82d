package models

import (
	"time"

	"gorm.io/datatypes"
)

// HistoryEntry is the immutable audit record written on every effective
// setting change. Rows are never updated; deletion happens only through
// the explicit retention purge.
type HistoryEntry struct {
	ID       uint64 `gorm:"primaryKey"`
	Category string `gorm:"size:64;index:idx_history_key;not null"`
	Key      string `gorm:"size:128;index:idx_history_key;not null"`
	Scope    string `gorm:"size:16;not null"`
	ScopeID  string `gorm:"size:64;not null;default:''"`

	// OldValue is null for the first write at a scope.
	OldValue datatypes.JSON
	NewValue datatypes.JSON

	Actor     string `gorm:"size:128"`
	CreatedAt time.Time
}
