package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/tjfontaine/hebrewbooks-bot/internal/archive"
	"github.com/tjfontaine/hebrewbooks-bot/internal/domain"
	"github.com/tjfontaine/hebrewbooks-bot/internal/navigation"
	"github.com/tjfontaine/hebrewbooks-bot/internal/storage"
)

// splitQuery reads "title:author". A query without a colon is a title.
func splitQuery(q string) (title, author string) {
	title, author, _ = strings.Cut(q, ":")
	return strings.TrimSpace(title), strings.TrimSpace(author)
}

// searchPage renders results offset..offset+searchPage-1 of query.
func (b *Bot) searchPage(ctx context.Context, c *call, query string, offset int) (Reply, error) {
	title, author := splitQuery(query)
	results, total, err := b.archive.Search(ctx, title, author, offset, searchPage)
	if errors.Is(err, archive.ErrEmptyQuery) {
		return Reply{Text: c.t("SearchInstructions")}, nil
	}
	if err != nil {
		return Reply{}, fmt.Errorf("search %q: %w", query, err)
	}
	if total <= 0 || len(results) == 0 {
		return Reply{}, domain.ErrNotFoundMsg("NoResultsForQ").
			WithData(map[string]any{"Query": query}).AsAlert()
	}

	kb := make([][]Button, 0, len(results)+2)
	for _, r := range results {
		show := navigation.ShowBook{ID: r.ID}.Token()
		crumb := b.searchToken(c, offset, total, query, len(show)+1)
		kb = append(kb, []Button{{Text: resultLabel(r), Data: c.join(show, crumb)}})
	}

	var nav []Button
	if offset > 1 {
		prev := max(offset-searchPage, 1)
		nav = append(nav, Button{Text: c.t("Previous"), Data: b.searchToken(c, prev, total, query, 0)})
	}
	if offset+searchPage <= total {
		nav = append(nav, Button{Text: c.t("Next"), Data: b.searchToken(c, offset+searchPage, total, query, 0)})
	}
	if len(nav) > 0 {
		kb = append(kb, nav)
	}
	kb = append(kb, []Button{{Text: c.t("SearchInline"), Switch: &Switch{Query: query, CurrentChat: true}}})

	return Reply{
		Text: c.t("XToYOfTotalForS", map[string]any{
			"From":  c.num(offset),
			"To":    c.num(offset + len(results) - 1),
			"Total": c.num(total),
			"Query": query,
		}),
		Keyboard: kb,
	}, nil
}

// searchToken encodes a results page, shortening the query so the token
// plus reserved bytes fits the platform limit.
func (b *Bot) searchToken(c *call, offset, total int, query string, reserved int) string {
	q := query
	if c.MaxDataLen > 0 {
		q = navigation.FitQuery(c.MaxDataLen-reserved, offset, total, query)
	}
	return navigation.SearchNavigation{Offset: offset, Total: total, Query: q}.Token()
}

// onSearchNav pages through results. The full query is taken from the
// message the results answer when it is still there, since the token may
// carry a shortened one.
func (b *Bot) onSearchNav(ctx context.Context, c *call, e navigation.SearchNavigation, _ string) error {
	query := strings.TrimSpace(c.QuotedText)
	if query == "" {
		query = e.Query
	}
	if query == "" {
		return domain.ErrInvalidInput("OriginalSearchDeleted").AsAlert()
	}
	reply, err := b.searchPage(ctx, c, query, max(e.Offset, 1))
	if err != nil {
		return err
	}
	reply.Edit = true
	c.reply = reply
	return nil
}

// HandleInline answers an inline query. "<id>" or "<id>:<page>" shares one
// book; anything else searches.
func (b *Bot) HandleInline(ctx context.Context, req *Request) InlineAnswer {
	c := b.begin(ctx, req)
	if b.maintenance {
		return InlineAnswer{SwitchText: c.t("Maintenance")}
	}
	if !c.registered {
		return InlineAnswer{SwitchText: c.t("NotRegistered")}
	}

	q := strings.TrimSpace(req.Text)
	if utf8.RuneCountInString(q) <= 2 {
		if _, _, ok := parseBookRef(q); !ok {
			return InlineAnswer{Results: []InlineResult{{
				ID:          "start",
				Title:       c.t("StartSearchInline"),
				Description: c.t("SearchTip"),
				Text:        c.t("SearchInstructions"),
			}}}
		}
	}

	ans, err := b.inline(ctx, c, q)
	if err != nil {
		if ue, ok := domain.AsUserError(err); ok {
			return InlineAnswer{SwitchText: c.t(ue.MessageID, ue.Data)}
		}
		b.logger.Error("inline query failed",
			slog.String("user", c.UserID),
			slog.String("query", q),
			slog.String("error", err.Error()),
		)
		return InlineAnswer{SwitchText: c.t("ServerError")}
	}
	return ans
}

func (b *Bot) inline(ctx context.Context, c *call, q string) (InlineAnswer, error) {
	if id, page, ok := parseBookRef(q); ok {
		book, err := b.archive.Book(ctx, id)
		if errors.Is(err, archive.ErrNotFound) {
			return InlineAnswer{}, domain.ErrNotFoundMsg("BookNotFound")
		}
		if err != nil {
			return InlineAnswer{}, err
		}
		if page > book.Pages {
			return InlineAnswer{}, domain.ErrInvalidInput("PageNotExist").
				WithData(map[string]any{"Min": 1, "Max": book.Pages})
		}
		b.count(ctx, storage.StatBooksRead)
		return InlineAnswer{
			Results:    []InlineResult{b.article(c, book, page)},
			SwitchText: c.t("PressToShare", map[string]any{"Title": book.Title}),
		}, nil
	}

	offset := 1
	if n, err := strconv.Atoi(c.Offset); err == nil && n > 1 {
		offset = n
	}
	title, author := splitQuery(q)
	results, total, err := b.archive.Search(ctx, title, author, offset, searchPage)
	if errors.Is(err, archive.ErrEmptyQuery) {
		return InlineAnswer{SwitchText: c.t("SearchInstructions")}, nil
	}
	if err != nil {
		return InlineAnswer{}, fmt.Errorf("inline search %q: %w", q, err)
	}
	if offset == 1 {
		b.count(ctx, storage.StatInlineSearches)
	}
	if total <= 0 {
		return InlineAnswer{SwitchText: c.t("NoResultsForQ", map[string]any{"Query": q})}, nil
	}

	ans := InlineAnswer{
		SwitchText: c.t("XResultsForS", map[string]any{"Total": c.num(total), "Query": q}),
	}
	for _, r := range results {
		book, err := b.archive.Book(ctx, r.ID)
		if err != nil {
			b.logger.Warn("inline result skipped",
				slog.Int("book", r.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		ans.Results = append(ans.Results, b.article(c, book, 1))
	}
	if offset+searchPage <= total {
		ans.NextOffset = strconv.Itoa(offset + searchPage)
	}
	return ans, nil
}

// article renders a book as an inline result opening at page.
func (b *Bot) article(c *call, book archive.Book, page int) InlineResult {
	show := navigation.ShowBook{ID: book.ID}.Token()
	read := navigation.ReadBook{
		ID:       strconv.Itoa(book.ID),
		Page:     page,
		Total:    book.Pages,
		Mode:     navigation.ReadImage,
		BookType: navigation.BookRegular,
	}.Token()
	return InlineResult{
		ID:          strconv.Itoa(book.ID),
		Title:       book.Title,
		Description: book.Description(),
		Text:        bookText(book),
		ThumbURL:    book.PageImageURL(page, 100, 100),
		Keyboard: [][]Button{
			{{Text: c.t("InstantRead"), Data: c.join(read, show)}},
			{{Text: c.t("Share"), Switch: &Switch{Query: strconv.Itoa(book.ID)}}},
			{{Text: c.t("Download"), URL: book.PDFURL()}},
		},
	}
}

// parseBookRef reads "<id>" or "<id>:<page>". A missing page is 1.
func parseBookRef(q string) (id, page int, ok bool) {
	idPart, pagePart, hasPage := strings.Cut(q, ":")
	id, err := strconv.Atoi(idPart)
	if err != nil || id <= 0 {
		return 0, 0, false
	}
	page = 1
	if hasPage {
		page, err = strconv.Atoi(pagePart)
		if err != nil || page <= 0 {
			return 0, 0, false
		}
	}
	return id, page, true
}
