// Package template provides operations on named setting bundles used
// to seed new scope instances.
package template

import (
	"context"
	"errors"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/lotkeeper/lotkeeper/internal/db/models"
)

var (
	// ErrTemplateNotFound is returned when a template is not found.
	ErrTemplateNotFound = errors.New("template not found")
	// ErrTemplateNameEmpty is returned for an empty template name.
	ErrTemplateNameEmpty = errors.New("template name cannot be empty")
	// ErrDBNil is returned when the database connection is nil.
	ErrDBNil = errors.New("database connection is nil")
)

// Get retrieves a template by name.
func Get(ctx context.Context, db *gorm.DB, name string) (*models.Template, error) {
	if db == nil {
		return nil, ErrDBNil
	}
	if name == "" {
		return nil, ErrTemplateNameEmpty
	}

	var tpl models.Template
	result := db.WithContext(ctx).Where("name = ?", name).First(&tpl)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrTemplateNotFound
		}

		return nil, result.Error
	}

	return &tpl, nil
}

// GetAll retrieves all templates ordered by name.
func GetAll(ctx context.Context, db *gorm.DB) ([]models.Template, error) {
	if db == nil {
		return nil, ErrDBNil
	}

	var tpls []models.Template
	result := db.WithContext(ctx).Order("name").Find(&tpls)
	if result.Error != nil {
		return nil, result.Error
	}

	return tpls, nil
}

// Set creates or replaces a template by name (management operation).
func Set(ctx context.Context, db *gorm.DB, name, description string, payload datatypes.JSON) (*models.Template, error) {
	if db == nil {
		return nil, ErrDBNil
	}
	if name == "" {
		return nil, ErrTemplateNameEmpty
	}

	var tpl models.Template
	result := db.WithContext(ctx).Where("name = ?", name).First(&tpl)

	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		tpl = models.Template{Name: name, Description: description, Payload: payload}
		if err := db.WithContext(ctx).Create(&tpl).Error; err != nil {
			return nil, err
		}

		return &tpl, nil
	}
	if result.Error != nil {
		return nil, result.Error
	}

	tpl.Description = description
	tpl.Payload = payload
	if err := db.WithContext(ctx).Save(&tpl).Error; err != nil {
		return nil, err
	}

	return &tpl, nil
}

// Delete removes a template by name.
func Delete(ctx context.Context, db *gorm.DB, name string) error {
	if db == nil {
		return ErrDBNil
	}
	if name == "" {
		return ErrTemplateNameEmpty
	}

	result := db.WithContext(ctx).Where("name = ?", name).Delete(&models.Template{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrTemplateNotFound
	}

	return nil
}
