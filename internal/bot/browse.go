package bot

import (
	"context"
	"fmt"

	"github.com/tjfontaine/hebrewbooks-bot/internal/archive"
	"github.com/tjfontaine/hebrewbooks-bot/internal/domain"
	"github.com/tjfontaine/hebrewbooks-bot/internal/navigation"
)

// Page sizes. Catalog pages leave room for the navigation and back rows
// within WhatsApp's ten-row list.
const (
	catalogPage = 7
	bookPage    = 5
	searchPage  = 5
)

// onBrowseList shows one page of a catalog, starting at the entry e.ID.
func (b *Bot) onBrowseList(ctx context.Context, c *call, e navigation.BrowseType, rest string) error {
	if !e.Kind.Archive() {
		return domain.ErrUnavailable()
	}
	entries, err := b.archive.List(ctx, archive.ListType(e.Kind))
	if err != nil {
		return fmt.Errorf("list %s: %w", e.Kind, err)
	}

	start := 0
	for i, en := range entries {
		if en.ID == e.ID {
			start = i
			break
		}
	}
	end := min(start+catalogPage, len(entries))
	self := navigation.BrowseType{ID: e.ID, Kind: e.Kind}.Token()

	kb := make([][]Button, 0, end-start+2)
	for _, en := range entries[start:end] {
		nav := navigation.BrowseNavigation{Kind: e.Kind, ID: en.ID, Offset: 1, Total: en.Total}
		kb = append(kb, []Button{{
			Text: fmt.Sprintf("%s (%s)", en.Name, c.num(en.Total)),
			Data: c.join(nav.Token(), self, rest),
		}})
	}

	var nav []Button
	if start > 0 {
		prev := navigation.BrowseType{Kind: e.Kind}
		if p := start - catalogPage; p > 0 {
			prev.ID = entries[p].ID
		}
		nav = append(nav, Button{Text: c.t("Previous"), Data: c.join(prev.Token(), rest)})
	}
	if end < len(entries) {
		next := navigation.BrowseType{ID: entries[end].ID, Kind: e.Kind}
		nav = append(nav, Button{Text: c.t("Next"), Data: c.join(next.Token(), rest)})
	}
	if len(nav) > 0 {
		kb = append(kb, nav)
	}
	kb = append(kb, []Button{c.back(rest, browseMenuToken)})

	c.reply = Reply{Text: c.t(browseHeading(e.Kind)), Keyboard: kb, Edit: true}
	return nil
}

// onBrowseNav shows one page of the books filed under a catalog entry.
func (b *Bot) onBrowseNav(ctx context.Context, c *call, e navigation.BrowseNavigation, rest string) error {
	if !e.Kind.Archive() {
		return domain.ErrUnavailable()
	}
	offset := max(e.Offset, 1)
	results, total, err := b.archive.Browse(ctx, archive.ListType(e.Kind), e.ID, offset, bookPage)
	if err != nil {
		return fmt.Errorf("browse %s/%s: %w", e.Kind, e.ID, err)
	}
	if total < 0 {
		total = e.Total
	}
	if len(results) == 0 {
		return domain.ErrNotFoundMsg("BookNotFound").AsAlert()
	}

	self := navigation.BrowseNavigation{Kind: e.Kind, ID: e.ID, Offset: offset, Total: total}.Token()
	kb := make([][]Button, 0, len(results)+2)
	for _, r := range results {
		kb = append(kb, []Button{{
			Text: resultLabel(r),
			Data: c.join(navigation.ShowBook{ID: r.ID}.Token(), self, rest),
		}})
	}

	page := func(o int) string {
		return c.join(navigation.BrowseNavigation{Kind: e.Kind, ID: e.ID, Offset: o, Total: total}.Token(), rest)
	}
	var nav []Button
	if offset > 1 {
		nav = append(nav, Button{Text: c.t("Previous"), Data: page(max(offset-bookPage, 1))})
	}
	if offset+bookPage <= total {
		nav = append(nav, Button{Text: c.t("Next"), Data: page(offset + bookPage)})
	}
	if len(nav) > 0 {
		kb = append(kb, nav)
	}
	kb = append(kb, []Button{c.back(rest, browseMenuToken)})

	c.reply = Reply{
		Text: c.t("XToYOfTotal", map[string]any{
			"From":  c.num(offset),
			"To":    c.num(offset + len(results) - 1),
			"Total": c.num(total),
		}),
		Keyboard: kb,
		Edit:     true,
	}
	return nil
}

func resultLabel(r archive.SearchResult) string {
	if r.Author == "" {
		return r.Title
	}
	return r.Title + " • " + r.Author
}
