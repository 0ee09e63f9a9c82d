package daemon

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/lotkeeper/lotkeeper/internal/config"
	settingctl "github.com/lotkeeper/lotkeeper/internal/db/controller/setting"
	templatectl "github.com/lotkeeper/lotkeeper/internal/db/controller/template"
	"github.com/lotkeeper/lotkeeper/internal/db/models"
	"github.com/lotkeeper/lotkeeper/internal/settings/registry"
	"github.com/lotkeeper/lotkeeper/internal/settings/scope"
	"github.com/lotkeeper/lotkeeper/internal/settings/value"
)

// ErrSchemaMissing is returned when Migrate runs against a database
// without the settings tables.
var ErrSchemaMissing = errors.New("settings schema is missing, run the daemon once or apply migrations first")

const seedActor = "migration"

// MigrateReport summarizes what a migration run did, or would do in
// dry-run mode.
type MigrateReport struct {
	SeededSettings  []string
	SeededTemplates []string
	DryRun          bool
}

// Migrate seeds the settings table from the compiled-in catalog at
// system scope and installs the built-in templates. Existing rows are
// left alone. In dry-run mode everything is validated and reported but
// nothing is persisted.
func Migrate(ctx context.Context, cfg *config.Config, dryRun bool) (*MigrateReport, error) {
	db, err := OpenDB(cfg)
	if err != nil {
		return nil, err
	}

	return migrate(ctx, db, registry.Default(), dryRun)
}

func migrate(ctx context.Context, db *gorm.DB, reg *registry.Registry, dryRun bool) (*MigrateReport, error) {
	for _, table := range []any{&models.Setting{}, &models.HistoryEntry{}, &models.Template{}} {
		if !db.Migrator().HasTable(table) {
			return nil, ErrSchemaMissing
		}
	}

	report := &MigrateReport{DryRun: dryRun}

	for _, category := range reg.Categories() {
		defs, err := reg.CategoryDefinitions(category)
		if err != nil {
			return nil, err
		}

		for key, def := range defs {
			if def.Default.IsNull() {
				continue
			}

			_, err := settingctl.Get(ctx, db, category, key, string(scope.System), "")
			if err == nil {
				continue // explicit row exists, never overwrite
			}
			if !errors.Is(err, settingctl.ErrSettingNotFound) {
				return nil, err
			}

			raw, err := value.Encode(def.Default)
			if err != nil {
				return nil, err
			}

			if !dryRun {
				if _, err := settingctl.Upsert(ctx, db, category, key, string(scope.System), "", raw, seedActor); err != nil {
					return nil, err
				}
			}

			report.SeededSettings = append(report.SeededSettings, category+"/"+key)
		}
	}

	for _, tpl := range builtinTemplates() {
		_, err := templatectl.Get(ctx, db, tpl.Name)
		if err == nil {
			continue
		}
		if !errors.Is(err, templatectl.ErrTemplateNotFound) {
			return nil, err
		}

		if !dryRun {
			if _, err := templatectl.Set(ctx, db, tpl.Name, tpl.Description, tpl.Payload); err != nil {
				return nil, err
			}
		}

		report.SeededTemplates = append(report.SeededTemplates, tpl.Name)
	}

	log.Info().
		Int("settings", len(report.SeededSettings)).
		Int("templates", len(report.SeededTemplates)).
		Bool("dry_run", dryRun).
		Msg("migration finished")

	return report, nil
}

// builtinTemplates returns the location seed bundles shipped with the
// application.
func builtinTemplates() []models.Template {
	return []models.Template{
		{
			Name:        "downtown-garage",
			Description: "Dense urban garage: short stays, tight limits",
			Payload: mustPayload(map[string]map[string]value.Value{
				registry.CategoryBusiness: {
					"max_stay_hours":       value.Int(12),
					"grace_period_minutes": value.Int(10),
				},
				registry.CategorySystemLimits: {
					"max_active_vehicles": value.Int(250),
				},
			}),
		},
		{
			Name:        "airport-longstay",
			Description: "Long-stay lot: week-long parking, generous grace",
			Payload: mustPayload(map[string]map[string]value.Value{
				registry.CategoryBusiness: {
					"max_stay_hours":       value.Int(168),
					"grace_period_minutes": value.Int(60),
				},
				registry.CategorySystemLimits: {
					"max_active_vehicles": value.Int(5000),
				},
			}),
		},
	}
}

func mustPayload(bundle map[string]map[string]value.Value) []byte {
	fields := make(map[string]value.Value, len(bundle))
	for category, keys := range bundle {
		inner := make(map[string]value.Value, len(keys))
		for k, v := range keys {
			inner[k] = v
		}
		fields[category] = value.Object(inner)
	}

	raw, err := value.Encode(value.Object(fields))
	if err != nil {
		panic(err)
	}

	return raw
}
