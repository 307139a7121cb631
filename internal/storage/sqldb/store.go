// Package sqldb is the SQL implementation of storage.Store. It runs on
// SQLite (modernc.org/sqlite) or PostgreSQL (lib/pq); statements live in
// queries/*.sql and are rebound per dialect.
package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/tjfontaine/hebrewbooks-bot/internal/storage"
	"github.com/tjfontaine/hebrewbooks-bot/internal/storage/dialect"
)

const (
	maxIdleConns    = 4
	connMaxIdleTime = 5 * time.Minute
	connMaxLifetime = 30 * time.Minute
)

var schema = []string{
	"create-users-table",
	"create-users-language-index",
	"create-stats-table",
}

// Store is a SQL implementation of storage.Store.
type Store struct {
	db      *sqlx.DB
	dialect dialect.Dialect
	q       *queries
	now     func() time.Time
}

var _ storage.Store = (*Store)(nil)

// Config holds database connection configuration
type Config struct {
	Driver string // Driver name: sqlite, postgres
	DSN    string // Data source name / connection string
}

// New opens the database, applies dialect pragmas and creates the schema.
func New(cfg Config) (*Store, error) {
	d, err := dialect.FromDriverName(cfg.Driver)
	if err != nil {
		return nil, fmt.Errorf("unsupported database driver: %w", err)
	}

	db, err := sqlx.Open(d.DriverName(), cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(d.MaxOpenConns())
	db.SetMaxIdleConns(min(maxIdleConns, d.MaxOpenConns()))
	db.SetConnMaxIdleTime(connMaxIdleTime)
	db.SetConnMaxLifetime(connMaxLifetime)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Run dialect-specific initialization (e.g., PRAGMA for SQLite)
	for _, stmt := range d.PragmaStatements() {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute pragma: %w", err)
		}
	}

	q, err := loadQueries(db, d)
	if err != nil {
		db.Close()
		return nil, err
	}

	store := &Store{db: db, dialect: d, q: q, now: time.Now}
	if err := store.initSchema(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

// NewSQLite creates a new SQLite store.
func NewSQLite(dsn string) (*Store, error) {
	return New(Config{Driver: "sqlite", DSN: dsn})
}

// Dialect returns the dialect being used
func (s *Store) Dialect() dialect.Dialect {
	return s.dialect
}

func (s *Store) initSchema(ctx context.Context) error {
	for _, name := range schema {
		if _, err := s.q.exec(ctx, name); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

type userRow struct {
	Platform  string `db:"platform"`
	UserID    string `db:"user_id"`
	Language  string `db:"language"`
	Active    bool   `db:"active"`
	CreatedAt int64  `db:"created_at"`
	UpdatedAt int64  `db:"updated_at"`
}

func (r userRow) user() storage.User {
	return storage.User{
		Platform:  storage.Platform(r.Platform),
		ID:        r.UserID,
		Language:  r.Language,
		Active:    r.Active,
		CreatedAt: time.Unix(r.CreatedAt, 0).UTC(),
		UpdatedAt: time.Unix(r.UpdatedAt, 0).UTC(),
	}
}

func (s *Store) AddUser(ctx context.Context, u storage.User) (bool, error) {
	now := s.now().Unix()
	res, err := s.q.exec(ctx, "insert-user", string(u.Platform), u.ID, u.Language, true, now, now)
	if err != nil {
		return false, fmt.Errorf("failed to add user: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to add user: %w", err)
	}
	return n > 0, nil
}

func (s *Store) GetUser(ctx context.Context, p storage.Platform, id string) (storage.User, error) {
	var row userRow
	if err := s.q.get(ctx, "get-user", &row, string(p), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.User{}, fmt.Errorf("user %s:%s: %w", p, id, storage.ErrNotFound)
		}
		return storage.User{}, fmt.Errorf("failed to get user: %w", err)
	}
	return row.user(), nil
}

func (s *Store) SetLanguage(ctx context.Context, p storage.Platform, id, lang string) error {
	return s.update(ctx, "update-user-language", p, id, lang)
}

func (s *Store) SetActive(ctx context.Context, p storage.Platform, id string, active bool) error {
	return s.update(ctx, "update-user-active", p, id, active)
}

func (s *Store) update(ctx context.Context, name string, p storage.Platform, id string, value any) error {
	res, err := s.q.exec(ctx, name, value, s.now().Unix(), string(p), id)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("user %s:%s: %w", p, id, storage.ErrNotFound)
	}
	return nil
}

func filterArgs(f storage.UserFilter) []any {
	return []any{string(f.Platform), string(f.Platform), f.Language, f.Language, f.ActiveOnly}
}

func (s *Store) CountUsers(ctx context.Context, f storage.UserFilter) (int, error) {
	var n int
	if err := s.q.get(ctx, "count-users", &n, filterArgs(f)...); err != nil {
		return 0, fmt.Errorf("failed to count users: %w", err)
	}
	return n, nil
}

func (s *Store) ListUsers(ctx context.Context, f storage.UserFilter) ([]storage.User, error) {
	var rows []userRow
	if err := s.q.selectAll(ctx, "list-users", &rows, filterArgs(f)...); err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	users := make([]storage.User, 0, len(rows))
	for _, r := range rows {
		users = append(users, r.user())
	}
	return users, nil
}

func (s *Store) IncrementStat(ctx context.Context, kind storage.StatKind) error {
	if _, err := s.q.exec(ctx, "increment-stat", string(kind)); err != nil {
		return fmt.Errorf("failed to increment %s: %w", kind, err)
	}
	return nil
}

func (s *Store) Stats(ctx context.Context) (storage.Stats, error) {
	var rows []struct {
		Kind  string `db:"kind"`
		Total int64  `db:"total"`
	}
	if err := s.q.selectAll(ctx, "list-stats", &rows); err != nil {
		return storage.Stats{}, fmt.Errorf("failed to read stats: %w", err)
	}
	var st storage.Stats
	for _, r := range rows {
		st.Set(storage.StatKind(r.Kind), r.Total)
	}
	return st, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
