// Package hbbot provides the public API for embedding the HebrewBooks bot.
// This is the stable API for external consumers.
package hbbot

import (
	"github.com/tjfontaine/hebrewbooks-bot/internal/runtime"
)

// Service is the running bot.
// See internal/runtime.Service for full documentation.
type Service = runtime.Service

// Option is a functional option for configuring a Service.
type Option = runtime.Option

// New assembles a Service with the given options.
// Example:
//
//	svc, err := hbbot.New(
//	    hbbot.WithConfigFile("config.yaml"),
//	    hbbot.WithSQLite("./data/hbbot.db"),
//	)
var New = runtime.New

// Configuration options
var (
	// Config sources
	WithConfig     = runtime.WithConfig
	WithConfigFile = runtime.WithConfigFile

	// Storage
	WithStore       = runtime.WithStore
	WithSQLite      = runtime.WithSQLite
	WithPostgres    = runtime.WithPostgres
	WithMemoryStore = runtime.WithMemoryStore

	// Advanced options
	WithLogger         = runtime.WithLogger
	WithArchive        = runtime.WithArchive
	WithPlatformClient = runtime.WithPlatformClient
)
