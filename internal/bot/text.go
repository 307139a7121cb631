package bot

import (
	"context"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/tjfontaine/hebrewbooks-bot/internal/storage"
)

// commandPrefixes start a command on both platforms. WhatsApp has no slash
// commands, so "!" and "#" work too.
const commandPrefixes = "/!#"

// bookLinkPrefix opens a book from a share link.
const bookLinkPrefix = "!book:"

// HandleText answers a text message. Writing to the bot registers the user.
func (b *Bot) HandleText(ctx context.Context, req *Request) Reply {
	c := b.begin(ctx, req)
	text := strings.TrimSpace(req.Text)
	cmd, args := parseCommand(text)

	if cmd == "start" || cmd == "התחל" {
		b.register(ctx, c)
		return b.startReply(c)
	}
	if b.maintenance {
		return Reply{Text: c.t("Maintenance")}
	}
	b.register(ctx, c)

	reply, err := b.text(ctx, c, cmd, args, text)
	if err != nil {
		return b.fail(c, err, false)
	}
	return reply
}

func (b *Bot) text(ctx context.Context, c *call, cmd, args, text string) (Reply, error) {
	switch cmd {
	case "browse", "עיון":
		return b.browseMenu(c), nil
	case "stats":
		s, err := b.statsText(ctx, c)
		return Reply{Text: s}, err
	case "lang", "language", "שפה":
		return b.languageMenu(c), nil
	case "help", "עזרה":
		return Reply{Text: c.t("SearchInstructions") + "\n\n" + c.t("SearchTip")}, nil
	case "broadcast":
		return b.broadcastPrompt(ctx, c, args)
	}

	if id, ok := parseBookLink(text); ok {
		return b.showBook(ctx, c, id, "")
	}
	if cmd != "" {
		return Reply{Text: c.t("SearchInstructions")}, nil
	}
	if j, mode, rest, ok := findJump(c.ReplyMarkupData); ok {
		return b.jump(ctx, c, j, mode, rest, text)
	}
	if utf8.RuneCountInString(text) < 2 {
		return Reply{Text: c.t("SearchInstructions")}, nil
	}
	reply, err := b.searchPage(ctx, c, text, 1)
	if err != nil {
		return Reply{}, err
	}
	b.count(ctx, storage.StatMsgSearches)
	return reply, nil
}

// parseCommand splits "/name@bot args" into a lower-cased name and the rest
// of the text. Text that is not a command yields an empty name.
func parseCommand(text string) (name, args string) {
	if text == "" || !strings.ContainsRune(commandPrefixes, rune(text[0])) {
		return "", ""
	}
	if strings.HasPrefix(strings.ToLower(text), bookLinkPrefix) {
		return "", ""
	}
	end := strings.IndexAny(text, " \t\n")
	if end < 0 {
		end = len(text)
	}
	name = text[1:end]
	if at := strings.IndexByte(name, '@'); at >= 0 {
		name = name[:at]
	}
	return strings.ToLower(name), text[end:]
}

// parseBookLink recognizes "!book:<id>".
func parseBookLink(text string) (int, bool) {
	if len(text) < len(bookLinkPrefix) || !strings.EqualFold(text[:len(bookLinkPrefix)], bookLinkPrefix) {
		return 0, false
	}
	id, err := strconv.Atoi(strings.TrimSpace(text[len(bookLinkPrefix):]))
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
