package config

import (
	"time"

	"github.com/lotkeeper/lotkeeper/internal/logger"
)

// Config overall data structure.
type Config struct {
	DevMode   bool // enable dev mode for development
	DB        DB
	Log       logger.Log
	Title     string
	Webserver Webserver
	Settings  Settings
}

// Webserver implement webserver settings.
type Webserver struct {
	Port         int    // listening port for the webserver
	ShutDownTime int    // wait time for shutdown
	URL          string // base url for the webserver
}

// Settings holds the settings engine knobs.
type Settings struct {
	// LocalStorePath is the durable fallback cache file. Empty
	// disables the durable fallback step.
	LocalStorePath string

	// StoreTimeout bounds every backing store call. A call without a
	// timeout would starve the fallback degrade path.
	StoreTimeout time.Duration

	// ClientID identifies this process on the live channel. Generated
	// at startup when empty.
	ClientID string
}
