package bot

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/tjfontaine/hebrewbooks-bot/internal/archive"
	"github.com/tjfontaine/hebrewbooks-bot/internal/callback"
	"github.com/tjfontaine/hebrewbooks-bot/internal/domain"
	"github.com/tjfontaine/hebrewbooks-bot/internal/navigation"
	"github.com/tjfontaine/hebrewbooks-bot/internal/ratelimit"
	"github.com/tjfontaine/hebrewbooks-bot/internal/storage"
)

// Rendered page size requested from the archive.
const (
	pageWidth  = 2138
	pageHeight = 3038
)

const rlm = "\u200f"

// bookText is the card text of a book. Lines start with a right-to-left
// mark so Hebrew titles render aligned.
func bookText(b archive.Book) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s📚 %s", rlm, b.Title)
	if b.Author != "" {
		fmt.Fprintf(&sb, "\n%s👤 %s", rlm, b.Author)
	}
	if b.Year != "" {
		fmt.Fprintf(&sb, "\n%s📅 %s", rlm, b.Year)
	}
	if b.City != "" {
		fmt.Fprintf(&sb, "\n%s🏙 %s", rlm, b.City)
	}
	fmt.Fprintf(&sb, "\n%s📄 %d", rlm, b.Pages)
	return sb.String()
}

func (b *Bot) book(ctx context.Context, id int) (archive.Book, error) {
	book, err := b.archive.Book(ctx, id)
	if errors.Is(err, archive.ErrNotFound) {
		return archive.Book{}, domain.ErrNotFoundMsg("BookNotFound").WithCause(err).AsAlert()
	}
	if err != nil {
		return archive.Book{}, fmt.Errorf("book %d: %w", id, err)
	}
	return book, nil
}

// showBook renders the card of book id with the full PDF attached.
func (b *Bot) showBook(ctx context.Context, c *call, id int, rest string) (Reply, error) {
	if err := b.allow(c, b.limits.PDFFull); err != nil {
		return Reply{}, err
	}
	book, err := b.book(ctx, id)
	if err != nil {
		return Reply{}, err
	}

	self := navigation.ShowBook{ID: book.ID}.Token()
	read := navigation.ReadBook{
		ID:       strconv.Itoa(book.ID),
		Page:     1,
		Total:    book.Pages,
		Mode:     navigation.ReadImage,
		BookType: navigation.BookRegular,
	}.Token()
	share := navigation.ShareBook{ID: book.ID}.Token()

	kb := [][]Button{
		{{Text: c.t("InstantRead"), Data: c.join(read, self, rest)}},
		{{Text: c.t("Share"), Data: share, Switch: &Switch{Query: strconv.Itoa(book.ID)}}},
		{{Text: c.t("Download"), URL: book.PDFURL()}},
	}
	if rest != "" {
		kb = append(kb, []Button{c.back(rest, "")})
	}

	b.count(ctx, storage.StatBooksRead)
	return Reply{
		Text:         bookText(book),
		Keyboard:     kb,
		DocumentURL:  book.PDFURL(),
		DocumentName: book.Title + ".pdf",
	}, nil
}

func (b *Bot) onShowBook(ctx context.Context, c *call, e navigation.ShowBook, rest string) error {
	reply, err := b.showBook(ctx, c, e.ID, rest)
	if err != nil {
		return err
	}
	reply.Edit = true
	c.reply = reply
	return nil
}

// onShare sends a link that opens the book in a chat with the bot.
func (b *Bot) onShare(ctx context.Context, c *call, e navigation.ShareBook, _ string) error {
	book, err := b.book(ctx, e.ID)
	if err != nil {
		return err
	}
	text := bookText(book)
	if c.ShareURL != "" {
		link := c.ShareURL + url.QueryEscape(bookLinkPrefix+strconv.Itoa(book.ID))
		text += "\n\n" + c.t("ShareLink", map[string]any{"URL": link})
	}
	c.reply = Reply{
		Text:     text,
		Keyboard: [][]Button{{{Text: c.t("Download"), URL: book.PDFURL()}}},
	}
	return nil
}

func (b *Bot) modeLimit(m navigation.ReadMode) ratelimit.Category {
	if m == navigation.ReadPDF {
		return b.limits.PDFPage
	}
	return b.limits.ImagePage
}

func (b *Bot) onRead(ctx context.Context, c *call, e navigation.ReadBook, rest string) error {
	if !c.registered {
		return domain.NewUserError(domain.ErrorTypeForbidden, "NotRegistered").AsAlert()
	}
	if e.BookType != navigation.BookRegular || e.Mode == navigation.ReadText {
		return domain.ErrUnavailable()
	}
	id, err := strconv.Atoi(e.ID)
	if err != nil {
		return domain.ErrExpired(err)
	}
	if err := b.allow(c, b.modeLimit(e.Mode)); err != nil {
		return err
	}
	book, err := b.book(ctx, id)
	if err != nil {
		return err
	}
	if e.Page < 1 || e.Page > book.Pages {
		return domain.ErrInvalidInput("PageNotExist").
			WithData(map[string]any{"Min": 1, "Max": book.Pages}).AsAlert()
	}

	c.reply = b.readReply(c, book, e.Page, e.Mode, rest)
	c.reply.Edit = true
	c.reply.Alert = c.t("WaitForPreview")
	b.count(ctx, storage.StatPagesRead)
	return nil
}

// readReply renders page of book in mode. The first keyboard row switches
// mode on the same page; the second pages with the jump button between.
func (b *Bot) readReply(c *call, book archive.Book, page int, mode navigation.ReadMode, rest string) Reply {
	read := func(p int, m navigation.ReadMode) string {
		return c.join(navigation.ReadBook{
			ID:       strconv.Itoa(book.ID),
			Page:     p,
			Total:    book.Pages,
			Mode:     m,
			BookType: navigation.BookRegular,
		}.Token(), rest)
	}

	switchLabel := "Document"
	if mode == navigation.ReadPDF {
		switchLabel = "Image"
	}
	jump := navigation.JumpToPage{ID: book.ID, Page: page, Total: book.Pages, BookType: navigation.BookRegular}

	nav := make([]Button, 0, 3)
	if page > 1 {
		nav = append(nav, Button{Text: c.t("Previous"), Data: read(page-1, mode)})
	}
	nav = append(nav, Button{Text: fmt.Sprintf("%s / %s", c.num(page), c.num(book.Pages)), Data: jump.Token()})
	if page < book.Pages {
		nav = append(nav, Button{Text: c.t("Next"), Data: read(page+1, mode)})
	}

	kb := [][]Button{
		{{Text: c.t(switchLabel), Data: read(page, otherMode(mode))}},
		nav,
		{{Text: c.t("ReadOnSite"), URL: book.PageURL(page)}},
	}
	if rest != "" {
		kb = append(kb, []Button{c.back(rest, "")})
	}

	r := Reply{
		Text:     bookText(book) + "\n\n" + c.t("PageXOfY", map[string]any{"Page": c.num(page), "Total": c.num(book.Pages)}),
		Keyboard: kb,
	}
	if mode == navigation.ReadPDF {
		r.DocumentURL = book.PagePDFURL(page)
		r.DocumentName = fmt.Sprintf("%s - %d.pdf", book.Title, page)
	} else {
		r.ImageURL = book.PageImageURL(page, pageWidth, pageHeight)
	}
	return r
}

func otherMode(m navigation.ReadMode) navigation.ReadMode {
	if m == navigation.ReadPDF {
		return navigation.ReadImage
	}
	return navigation.ReadPDF
}

// onJump answers a press of the page counter with how to jump.
func (b *Bot) onJump(ctx context.Context, c *call, _ navigation.JumpToPage, _ string) error {
	c.reply = Reply{Alert: c.t("JumpTip"), ShowAlert: true}
	return nil
}

// findJump inspects the buttons of a page view being replied to. It returns
// the jump token, the mode being read and the breadcrumb tail. The first
// read token is either the mode switch, which keeps the page, or a
// neighbour page in the current mode.
func findJump(data []string) (navigation.JumpToPage, navigation.ReadMode, string, bool) {
	var (
		jump     navigation.JumpToPage
		read     navigation.ReadBook
		rest     string
		haveJump bool
		haveRead bool
	)
	for _, d := range data {
		tok, tail := callback.Split(d)
		switch {
		case !haveJump && navigation.Jump.Matches(tok):
			if j, err := navigation.Jump.Decode(tok); err == nil {
				jump, haveJump = j, true
			}
		case !haveRead && navigation.Read.Matches(tok):
			if r, err := navigation.Read.Decode(tok); err == nil {
				read, rest, haveRead = r, tail, true
			}
		}
	}
	if !haveJump || !haveRead {
		return navigation.JumpToPage{}, "", "", false
	}
	mode := read.Mode
	if read.Page == jump.Page {
		mode = otherMode(mode)
	}
	return jump, mode, rest, true
}

// jump answers a page number sent in reply to a page view.
func (b *Bot) jump(ctx context.Context, c *call, j navigation.JumpToPage, mode navigation.ReadMode, rest, text string) (Reply, error) {
	page, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil {
		return Reply{}, domain.ErrInvalidInput("NumbersOnly")
	}
	if page < 1 || page > j.Total {
		return Reply{}, domain.ErrInvalidInput("PageNotExist").
			WithData(map[string]any{"Min": 1, "Max": j.Total})
	}
	if j.BookType != navigation.BookRegular {
		return Reply{}, domain.ErrUnavailable()
	}
	if err := b.allow(c, b.modeLimit(mode)); err != nil {
		return Reply{}, err
	}
	book, err := b.book(ctx, j.ID)
	if err != nil {
		return Reply{}, err
	}

	reply := b.readReply(c, book, page, mode, rest)
	reply.Edit = true
	b.count(ctx, storage.StatPagesRead)
	b.count(ctx, storage.StatJumps)
	return reply, nil
}
