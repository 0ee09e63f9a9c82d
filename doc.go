// Package main provides the entry point for the LotKeeper settings service.
// It runs a web server using the Fiber framework that exposes typed
// configuration values through a REST API, resolved across system, location
// and user scope. The application uses gorm for data persistence and keeps
// all connected clients consistent through change broadcasting.
package main
