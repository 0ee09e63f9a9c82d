package fallback

import (
	"context"
	"errors"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/lotkeeper/lotkeeper/internal/db/models"
	"github.com/lotkeeper/lotkeeper/internal/settings/scope"
	"github.com/lotkeeper/lotkeeper/internal/settings/value"
)

// LocalStore persists the last successfully resolved value per key to a
// process-local sqlite file so reads survive a backing store outage.
// Sensitive settings are never written here.
type LocalStore struct {
	db *gorm.DB
}

// OpenLocalStore opens (and migrates) the durable local cache at path.
// Use ":memory:" for tests.
func OpenLocalStore(path string) (*LocalStore, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(&models.CacheEntry{}); err != nil {
		return nil, err
	}

	return &LocalStore{db: db}, nil
}

func storeKey(category, key string) string {
	return category + "/" + key
}

// Get returns the stored value for a key, or ErrMiss.
func (s *LocalStore) Get(ctx context.Context, category, key string) (value.Value, error) {
	var entry models.CacheEntry
	result := s.db.WithContext(ctx).First(&entry, "key = ?", storeKey(category, key))
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return value.Value{}, ErrMiss
		}

		return value.Value{}, result.Error
	}

	return value.Decode(entry.Value)
}

// Put stores the latest resolved value for a key.
func (s *LocalStore) Put(ctx context.Context, category, key string, v value.Value) error {
	raw, err := value.Encode(v)
	if err != nil {
		return err
	}

	entry := models.CacheEntry{Key: storeKey(category, key), Value: raw}

	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&entry).Error
}

// Step adapts the store into a chain step.
func (s *LocalStore) Step() Step {
	return localStep{store: s}
}

type localStep struct {
	store *LocalStore
}

func (l localStep) Name() string { return "local_store" }

func (l localStep) Resolve(ctx context.Context, category, key string, _ scope.Ref) (value.Value, error) {
	return l.store.Get(ctx, category, key)
}
