package models

import (
	"time"

	"gorm.io/datatypes"
)

// Template is a named bundle of category/key/value mappings used to seed
// a fresh scope instance with coherent defaults, for example a newly
// opened location. Read-only at runtime except through management
// operations.
type Template struct {
	ID          uint64 `gorm:"primaryKey"`
	Name        string `gorm:"size:128;unique;not null"`
	Description string `gorm:"size:512"`

	// Payload maps category to key to codec-encoded value.
	Payload datatypes.JSON `gorm:"not null"`

	CreatedAt time.Time
	UpdatedAt time.Time
}
