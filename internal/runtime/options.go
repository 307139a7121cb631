package runtime

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/tjfontaine/hebrewbooks-bot/internal/bot"
	"github.com/tjfontaine/hebrewbooks-bot/internal/config"
	"github.com/tjfontaine/hebrewbooks-bot/internal/storage"
	"github.com/tjfontaine/hebrewbooks-bot/internal/storage/memory"
	"github.com/tjfontaine/hebrewbooks-bot/internal/storage/sqldb"
)

// Option is a functional option for configuring a Service.
type Option func(*Service) error

// WithConfig uses an already loaded configuration.
func WithConfig(cfg *config.Config) Option {
	return func(s *Service) error {
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}
		s.cfg = cfg
		return nil
	}
}

// WithConfigFile loads configuration from path, overlaid with HBBOT_
// environment variables. An empty path reads config.yaml if present.
func WithConfigFile(path string) Option {
	return func(s *Service) error {
		cfg, err := config.Load(path)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		s.cfg = cfg
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) error {
		s.logger = logger
		return nil
	}
}

// WithStore sets a custom user store. The Service closes it on Shutdown.
func WithStore(store storage.Store) Option {
	return func(s *Service) error {
		s.store = store
		return nil
	}
}

// WithSQLite stores users in a SQLite database at dsn.
func WithSQLite(dsn string) Option {
	return func(s *Service) error {
		store, err := sqldb.NewSQLite(dsn)
		if err != nil {
			return fmt.Errorf("create sqlite storage: %w", err)
		}
		s.store = store
		return nil
	}
}

// WithPostgres stores users in PostgreSQL.
func WithPostgres(dsn string) Option {
	return func(s *Service) error {
		store, err := sqldb.New(sqldb.Config{Driver: "postgres", DSN: dsn})
		if err != nil {
			return fmt.Errorf("create postgres storage: %w", err)
		}
		s.store = store
		return nil
	}
}

// WithMemoryStore keeps users in memory; they are lost on restart.
func WithMemoryStore() Option {
	return func(s *Service) error {
		s.store = memory.New()
		return nil
	}
}

// WithArchive sets a custom archive client.
func WithArchive(a bot.Archive) Option {
	return func(s *Service) error {
		s.archive = a
		return nil
	}
}

// WithPlatformClient sets the HTTP client the frontdoors use for platform
// API calls.
func WithPlatformClient(c *http.Client) Option {
	return func(s *Service) error {
		s.platformClient = c
		return nil
	}
}

// OpenStore opens the store named by the storage section.
func OpenStore(cfg config.StorageConfig) (storage.Store, error) {
	if cfg.Driver == "memory" {
		return memory.New(), nil
	}
	store, err := sqldb.New(sqldb.Config{Driver: cfg.Driver, DSN: cfg.DSN})
	if err != nil {
		return nil, fmt.Errorf("create %s storage: %w", cfg.Driver, err)
	}
	return store, nil
}
