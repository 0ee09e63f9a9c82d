package history

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/lotkeeper/lotkeeper/internal/db/models"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err, "failed to create test database")

	err = db.AutoMigrate(&models.HistoryEntry{})
	require.NoError(t, err, "failed to migrate test database")

	return db
}

func seedEntries(t *testing.T, db *gorm.DB, entries []models.HistoryEntry) {
	t.Helper()
	for _, entry := range entries {
		err := db.Create(&entry).Error
		require.NoError(t, err, "failed to seed test data")
	}
}

func TestForKey(t *testing.T) {
	db := setupTestDB(t)
	now := time.Now()

	seedEntries(t, db, []models.HistoryEntry{
		{Category: "business", Key: "max_stay_hours", NewValue: datatypes.JSON(`24`), Actor: "ops", CreatedAt: now.Add(-3 * time.Hour)},
		{Category: "business", Key: "max_stay_hours", OldValue: datatypes.JSON(`24`), NewValue: datatypes.JSON(`48`), Actor: "manager", CreatedAt: now.Add(-2 * time.Hour)},
		{Category: "business", Key: "max_stay_hours", OldValue: datatypes.JSON(`48`), NewValue: datatypes.JSON(`36`), Actor: "ops", CreatedAt: now.Add(-1 * time.Hour)},
		{Category: "business", Key: "grace_period_minutes", NewValue: datatypes.JSON(`15`), Actor: "ops", CreatedAt: now},
	})

	entries, err := ForKey(context.Background(), db, "business", "max_stay_hours", 10)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, `36`, string(entries[0].NewValue), "newest entry first")
	assert.Equal(t, `24`, string(entries[2].NewValue))

	limited, err := ForKey(context.Background(), db, "business", "max_stay_hours", 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
	assert.Equal(t, `36`, string(limited[0].NewValue))

	_, err = ForKey(context.Background(), nil, "business", "max_stay_hours", 10)
	assert.ErrorIs(t, err, ErrDBNil)
}

func TestForCategory(t *testing.T) {
	db := setupTestDB(t)
	now := time.Now()

	seedEntries(t, db, []models.HistoryEntry{
		{Category: "business", Key: "max_stay_hours", NewValue: datatypes.JSON(`24`), CreatedAt: now.Add(-time.Hour)},
		{Category: "business", Key: "grace_period_minutes", NewValue: datatypes.JSON(`15`), CreatedAt: now},
		{Category: "ui_theme", Key: "primary_color", NewValue: datatypes.JSON(`"#336699"`), CreatedAt: now},
	})

	entries, err := ForCategory(context.Background(), db, "business", 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "grace_period_minutes", entries[0].Key)
}

func TestPurge(t *testing.T) {
	db := setupTestDB(t)
	now := time.Now()

	seedEntries(t, db, []models.HistoryEntry{
		{Category: "business", Key: "max_stay_hours", NewValue: datatypes.JSON(`24`), CreatedAt: now.Add(-90 * 24 * time.Hour)},
		{Category: "business", Key: "max_stay_hours", NewValue: datatypes.JSON(`48`), CreatedAt: now.Add(-10 * 24 * time.Hour)},
		{Category: "business", Key: "max_stay_hours", NewValue: datatypes.JSON(`36`), CreatedAt: now},
	})

	_, err := Purge(context.Background(), db, time.Hour)
	assert.ErrorIs(t, err, ErrRetentionTooShort)

	removed, err := Purge(context.Background(), db, 30*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	remaining, err := ForKey(context.Background(), db, "business", "max_stay_hours", 10)
	require.NoError(t, err)
	assert.Len(t, remaining, 2)
}
