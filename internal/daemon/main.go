// Package daemon wires the settings engine: database, live channel,
// service facade and the web API.
package daemon

import (
	"context"
	"fmt"

	"github.com/glebarez/sqlite"
	"github.com/rs/zerolog/log"
	gormmysql "gorm.io/driver/mysql"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/lotkeeper/lotkeeper/internal/config"
	"github.com/lotkeeper/lotkeeper/internal/db/dsn"
	"github.com/lotkeeper/lotkeeper/internal/db/models"
	"github.com/lotkeeper/lotkeeper/internal/settings"
	"github.com/lotkeeper/lotkeeper/internal/settings/broadcast"
	"github.com/lotkeeper/lotkeeper/internal/web"
)

// Daemon represents the main application daemon.
type Daemon struct {
	webService *web.Service
	service    *settings.Service
	notifier   broadcast.Notifier
}

// Start starts the Daemon's web service.
func (d *Daemon) Start() error {
	defer d.service.Close()
	defer func() {
		if err := d.notifier.Close(); err != nil {
			log.Warn().Err(err).Msg("closing live channel failed")
		}
	}()

	return d.webService.Start()
}

// OpenDB opens the configured backing store with gorm.
func OpenDB(cfg *config.Config) (*gorm.DB, error) {
	connString := dsn.Create(cfg)

	switch cfg.DB.GormEngine {
	case "postgres":
		return gorm.Open(gormpostgres.Open(connString), &gorm.Config{})
	case "sqlite":
		return gorm.Open(sqlite.Open(connString), &gorm.Config{})
	default:
		return gorm.Open(gormmysql.Open(connString), &gorm.Config{})
	}
}

func newNotifier(cfg *config.Config) (broadcast.Notifier, error) {
	// only postgres brings a push channel; other engines fall back to
	// in-process delivery
	if cfg.DB.GormEngine != "postgres" {
		return broadcast.NewMemoryNotifier(), nil
	}

	connString := fmt.Sprintf("postgres://%s:%s@%s:%d/%s",
		cfg.DB.User,
		cfg.DB.Password,
		cfg.DB.Host,
		cfg.DB.Port,
		cfg.DB.Name,
	)

	return broadcast.NewPGNotifier(context.Background(), connString, log.Logger)
}

// New creates a new Daemon instance with the provided configuration.
func New(cfg *config.Config) (*Daemon, error) {
	if cfg == nil {
		log.Fatal().Msg("config is nil")

		return nil, nil
	}

	db, err := OpenDB(cfg)
	if err != nil {
		return nil, err
	}

	if err = db.AutoMigrate(
		&models.Setting{},
		&models.HistoryEntry{},
		&models.Template{},
	); err != nil {
		return nil, err
	}

	notifier, err := newNotifier(cfg)
	if err != nil {
		return nil, err
	}

	service, err := settings.New(settings.Options{
		DB:             db,
		Notifier:       notifier,
		LocalStorePath: cfg.Settings.LocalStorePath,
		ClientID:       cfg.Settings.ClientID,
		StoreTimeout:   cfg.Settings.StoreTimeout,
		Logger:         log.Logger,
	})
	if err != nil {
		return nil, err
	}

	return &Daemon{
		webService: web.New(cfg, db, service),
		service:    service,
		notifier:   notifier,
	}, nil
}
