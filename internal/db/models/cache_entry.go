package models

import (
	"time"
)

// CacheEntry is a row in the durable local fallback store: the last
// successfully resolved value per fully qualified key, kept so reads can
// survive a backing store outage. Lives in a process-local database,
// never in the shared one.
type CacheEntry struct {
	Key       string `gorm:"primaryKey;size:256"`
	Value     []byte `gorm:"type:blob"`
	UpdatedAt time.Time
}
