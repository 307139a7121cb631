// Package memory is an in-process storage.Store for tests and single-run
// deployments.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/tjfontaine/hebrewbooks-bot/internal/storage"
)

type userKey struct {
	platform storage.Platform
	id       string
}

// Store is an in-memory implementation of storage.Store
type Store struct {
	mu    sync.RWMutex
	users map[userKey]*storage.User
	stats map[storage.StatKind]*atomic.Int64
	now   func() time.Time
}

var _ storage.Store = (*Store)(nil)

// New creates a new in-memory store
func New() *Store {
	s := &Store{
		users: make(map[userKey]*storage.User),
		stats: make(map[storage.StatKind]*atomic.Int64, len(storage.StatKinds)),
		now:   time.Now,
	}
	for _, k := range storage.StatKinds {
		s.stats[k] = atomic.NewInt64(0)
	}
	return s
}

func (s *Store) AddUser(ctx context.Context, u storage.User) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := userKey{u.Platform, u.ID}
	if _, exists := s.users[k]; exists {
		return false, nil
	}
	now := s.now().UTC().Truncate(time.Second)
	u.Active = true
	u.CreatedAt = now
	u.UpdatedAt = now
	s.users[k] = &u
	return true, nil
}

func (s *Store) GetUser(ctx context.Context, p storage.Platform, id string) (storage.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, exists := s.users[userKey{p, id}]
	if !exists {
		return storage.User{}, fmt.Errorf("user %s:%s: %w", p, id, storage.ErrNotFound)
	}
	return *u, nil
}

func (s *Store) SetLanguage(ctx context.Context, p storage.Platform, id, lang string) error {
	return s.update(p, id, func(u *storage.User) { u.Language = lang })
}

func (s *Store) SetActive(ctx context.Context, p storage.Platform, id string, active bool) error {
	return s.update(p, id, func(u *storage.User) { u.Active = active })
}

func (s *Store) update(p storage.Platform, id string, fn func(*storage.User)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, exists := s.users[userKey{p, id}]
	if !exists {
		return fmt.Errorf("user %s:%s: %w", p, id, storage.ErrNotFound)
	}
	fn(u)
	u.UpdatedAt = s.now().UTC().Truncate(time.Second)
	return nil
}

func matches(u *storage.User, f storage.UserFilter) bool {
	if f.Platform != "" && u.Platform != f.Platform {
		return false
	}
	if f.Language != "" && u.Language != f.Language {
		return false
	}
	return !f.ActiveOnly || u.Active
}

func (s *Store) CountUsers(ctx context.Context, f storage.UserFilter) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, u := range s.users {
		if matches(u, f) {
			n++
		}
	}
	return n, nil
}

func (s *Store) ListUsers(ctx context.Context, f storage.UserFilter) ([]storage.User, error) {
	s.mu.RLock()
	result := make([]storage.User, 0, len(s.users))
	for _, u := range s.users {
		if matches(u, f) {
			result = append(result, *u)
		}
	}
	s.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		a, b := result[i], result[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		if a.Platform != b.Platform {
			return a.Platform < b.Platform
		}
		return a.ID < b.ID
	})
	return result, nil
}

func (s *Store) IncrementStat(ctx context.Context, kind storage.StatKind) error {
	c, ok := s.stats[kind]
	if !ok {
		return fmt.Errorf("unknown stat %q", kind)
	}
	c.Inc()
	return nil
}

func (s *Store) Stats(ctx context.Context) (storage.Stats, error) {
	var st storage.Stats
	for k, c := range s.stats {
		st.Set(k, c.Load())
	}
	return st, nil
}

func (s *Store) Close() error {
	return nil
}
