package template

import (
	"context"
	"testing"

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

	err = db.AutoMigrate(&models.Template{})
	require.NoError(t, err, "failed to migrate test database")

	return db
}

func TestSetAndGet(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	payload := datatypes.JSON(`{"business":{"max_stay_hours":12}}`)

	created, err := Set(ctx, db, "downtown-garage", "Dense urban lot", payload)
	require.NoError(t, err)
	assert.Equal(t, "downtown-garage", created.Name)

	got, err := Get(ctx, db, "downtown-garage")
	require.NoError(t, err)
	assert.Equal(t, "Dense urban lot", got.Description)
	assert.JSONEq(t, string(payload), string(got.Payload))

	// Replace keeps the name unique.
	updated, err := Set(ctx, db, "downtown-garage", "Updated", datatypes.JSON(`{}`))
	require.NoError(t, err)
	assert.Equal(t, created.ID, updated.ID)

	all, err := GetAll(ctx, db)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestGetErrors(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	_, err := Get(ctx, nil, "x")
	assert.ErrorIs(t, err, ErrDBNil)

	_, err = Get(ctx, db, "")
	assert.ErrorIs(t, err, ErrTemplateNameEmpty)

	_, err = Get(ctx, db, "missing")
	assert.ErrorIs(t, err, ErrTemplateNotFound)
}

func TestDelete(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	_, err := Set(ctx, db, "airport-longstay", "", datatypes.JSON(`{}`))
	require.NoError(t, err)

	require.NoError(t, Delete(ctx, db, "airport-longstay"))

	err = Delete(ctx, db, "airport-longstay")
	assert.ErrorIs(t, err, ErrTemplateNotFound)
}
