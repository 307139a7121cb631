// Package storage defines the user and usage-statistics store of the bot.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a user does not exist.
var ErrNotFound = errors.New("storage: not found")

// Platform identifies the messaging platform a user came from.
type Platform string

const (
	Telegram Platform = "tg"
	WhatsApp Platform = "wa"
)

// User is one registered user of one platform.
type User struct {
	Platform  Platform
	ID        string
	Language  string
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// UserFilter narrows CountUsers and ListUsers. Zero fields match everything.
type UserFilter struct {
	Platform   Platform
	Language   string
	ActiveOnly bool
}

// StatKind names a usage counter.
type StatKind string

const (
	StatInlineSearches StatKind = "inline_searches"
	StatMsgSearches    StatKind = "msg_searches"
	StatBooksRead      StatKind = "books_read"
	StatPagesRead      StatKind = "pages_read"
	StatJumps          StatKind = "jumps"
)

// StatKinds lists every counter.
var StatKinds = []StatKind{StatInlineSearches, StatMsgSearches, StatBooksRead, StatPagesRead, StatJumps}

// Stats is a snapshot of the usage counters.
type Stats struct {
	InlineSearches int64
	MsgSearches    int64
	BooksRead      int64
	PagesRead      int64
	Jumps          int64
}

// Searches returns inline and message searches together.
func (s Stats) Searches() int64 { return s.InlineSearches + s.MsgSearches }

// Set stores n under kind. Unknown kinds are ignored.
func (s *Stats) Set(kind StatKind, n int64) {
	switch kind {
	case StatInlineSearches:
		s.InlineSearches = n
	case StatMsgSearches:
		s.MsgSearches = n
	case StatBooksRead:
		s.BooksRead = n
	case StatPagesRead:
		s.PagesRead = n
	case StatJumps:
		s.Jumps = n
	}
}

// Store persists users and counters. Implementations are safe for
// concurrent use.
type Store interface {
	// AddUser registers u and reports whether it was new. An existing user
	// is left unchanged.
	AddUser(ctx context.Context, u User) (bool, error)
	GetUser(ctx context.Context, p Platform, id string) (User, error)
	SetLanguage(ctx context.Context, p Platform, id, lang string) error
	SetActive(ctx context.Context, p Platform, id string, active bool) error
	CountUsers(ctx context.Context, f UserFilter) (int, error)
	ListUsers(ctx context.Context, f UserFilter) ([]User, error)
	IncrementStat(ctx context.Context, kind StatKind) error
	Stats(ctx context.Context) (Stats, error)
	Close() error
}
