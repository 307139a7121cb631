// Package navigation declares the button payloads the bot issues. The tags
// are part of the wire format: tokens already sitting in users' chats must
// keep decoding, so tags and enum codes are never renamed.
package navigation

import (
	"sort"
	"unicode/utf8"

	"github.com/tjfontaine/hebrewbooks-bot/internal/callback"
)

// BrowseKind selects a browsing catalog.
type BrowseKind string

const (
	BrowseSubject   BrowseKind = "subject"
	BrowseLetter    BrowseKind = "letter"
	BrowseDateRange BrowseKind = "daterange"
	BrowseShas      BrowseKind = "s"
	BrowseTursa     BrowseKind = "t"
)

// Archive reports whether the kind is served by the archive's catalog API.
func (k BrowseKind) Archive() bool {
	switch k {
	case BrowseSubject, BrowseLetter, BrowseDateRange:
		return true
	}
	return false
}

// ReadMode selects how a page is delivered.
type ReadMode string

const (
	ReadPDF   ReadMode = "p"
	ReadImage ReadMode = "i"
	ReadText  ReadMode = "t"
)

// BookType distinguishes regular books from masechet and tur sections.
type BookType string

const (
	BookRegular  BookType = "b"
	BookMasechet BookType = "m"
	BookTursa    BookType = "t"
)

var browseKinds = []BrowseKind{BrowseSubject, BrowseLetter, BrowseDateRange, BrowseShas, BrowseTursa}

// BrowseNavigation pages through the books of one catalog entry.
type BrowseNavigation struct {
	Kind   BrowseKind
	ID     string
	Offset int
	Total  int
}

// BrowseType lists the entries of one catalog, optionally from ID.
type BrowseType struct {
	ID   string
	Kind BrowseKind
}

// SearchNavigation pages through search results.
type SearchNavigation struct {
	Offset int
	Total  int
	Query  string
}

// ShowBook shows a book's card.
type ShowBook struct {
	ID int
}

// ReadBook shows one page of a book.
type ReadBook struct {
	ID       string
	Page     int
	Total    int
	Mode     ReadMode
	BookType BookType
}

// JumpToPage asks the user for a page number.
type JumpToPage struct {
	ID       int
	Page     int
	Total    int
	BookType BookType
}

// ShareBook offers a shareable link to a book.
type ShareBook struct {
	ID int
}

// Broadcast confirms or cancels an admin broadcast.
type Broadcast struct {
	Send bool
	Lang string
}

// SetLanguage changes the user's interface language.
type SetLanguage struct {
	Code string
}

// Menu is the event type of the fieldless menu buttons.
type Menu struct{}

var (
	BrowseNav = callback.NewVariant("bn",
		callback.Enum("kind", func(e *BrowseNavigation) *BrowseKind { return &e.Kind }, browseKinds...),
		callback.String("id", func(e *BrowseNavigation) *string { return &e.ID }),
		callback.Int("offset", func(e *BrowseNavigation) *int { return &e.Offset }),
		callback.Int("total", func(e *BrowseNavigation) *int { return &e.Total }),
	)

	BrowseList = callback.NewVariant("bt",
		callback.String("id", func(e *BrowseType) *string { return &e.ID }),
		callback.Enum("kind", func(e *BrowseType) *BrowseKind { return &e.Kind }, browseKinds...),
	)

	SearchNav = callback.NewVariant("sn",
		callback.Int("offset", func(e *SearchNavigation) *int { return &e.Offset }),
		callback.Int("total", func(e *SearchNavigation) *int { return &e.Total }),
		callback.String("query", func(e *SearchNavigation) *string { return &e.Query }),
	)

	Show = callback.NewVariant("sh",
		callback.Int("id", func(e *ShowBook) *int { return &e.ID }),
	)

	Read = callback.NewVariant("re",
		callback.String("id", func(e *ReadBook) *string { return &e.ID }),
		callback.Int("page", func(e *ReadBook) *int { return &e.Page }),
		callback.Int("total", func(e *ReadBook) *int { return &e.Total }),
		callback.Enum("mode", func(e *ReadBook) *ReadMode { return &e.Mode }, ReadPDF, ReadImage, ReadText),
		callback.Enum("book_type", func(e *ReadBook) *BookType { return &e.BookType }, BookRegular, BookMasechet, BookTursa),
	)

	Jump = callback.NewVariant("ju",
		callback.Int("id", func(e *JumpToPage) *int { return &e.ID }),
		callback.Int("page", func(e *JumpToPage) *int { return &e.Page }),
		callback.Int("total", func(e *JumpToPage) *int { return &e.Total }),
		callback.Enum("book_type", func(e *JumpToPage) *BookType { return &e.BookType }, BookRegular, BookMasechet, BookTursa),
	)

	Share = callback.NewVariant("share",
		callback.Int("id", func(e *ShareBook) *int { return &e.ID }),
	)

	BroadcastConfirm = callback.NewVariant("broadcast",
		callback.Bool("send", func(e *Broadcast) *bool { return &e.Send }),
		callback.String("lang", func(e *Broadcast) *string { return &e.Lang }),
	)

	Language = callback.NewVariant("lang",
		callback.String("code", func(e *SetLanguage) *string { return &e.Code }),
	)

	Start      = callback.NewVariant[Menu]("start")
	BrowseMenu = callback.NewVariant[Menu]("browse_menu")
	Stats      = callback.NewVariant[Menu]("stats")
	ChooseLang = callback.NewVariant[Menu]("choose_lang")
	JumpTip    = callback.NewVariant[Menu]("jump_tip")
)

func (e BrowseNavigation) Token() string { return BrowseNav.Encode(e) }
func (e BrowseType) Token() string       { return BrowseList.Encode(e) }
func (e SearchNavigation) Token() string { return SearchNav.Encode(e) }
func (e ShowBook) Token() string         { return Show.Encode(e) }
func (e ReadBook) Token() string         { return Read.Encode(e) }
func (e JumpToPage) Token() string       { return Jump.Encode(e) }
func (e ShareBook) Token() string        { return Share.Encode(e) }
func (e Broadcast) Token() string        { return BroadcastConfirm.Encode(e) }
func (e SetLanguage) Token() string      { return Language.Encode(e) }

// FitQuery shortens q until the search token for (offset, total, q) fits
// limit bytes. It cuts on rune boundaries of the unescaped query.
func FitQuery(limit, offset, total int, q string) string {
	if limit <= 0 {
		return q
	}
	fits := func(s string) bool {
		return len(SearchNavigation{Offset: offset, Total: total, Query: s}.Token()) <= limit
	}
	if fits(q) {
		return q
	}

	// Escaping never shrinks a string, so no more than limit bytes of q can
	// survive.
	if len(q) > limit {
		i := limit
		for i > 0 && !utf8.RuneStart(q[i]) {
			i--
		}
		q = q[:i]
	}
	ends := make([]int, 0, len(q)+1)
	for i := range q {
		ends = append(ends, i)
	}
	ends = append(ends, len(q))

	// Token length grows with the prefix, so the longest fitting prefix is
	// the one before the first that does not fit.
	n := sort.Search(len(ends), func(i int) bool { return !fits(q[:ends[i]]) })
	if n == 0 {
		return ""
	}
	return q[:ends[n-1]]
}
