// Package bot implements the conversation logic shared by every platform
// front door. Front doors decode platform updates into a Request, call one
// of the Handle methods and render the returned Reply.
//
// Button payloads are navigation tokens (see package navigation) joined with
// breadcrumbs, so a "back" button is simply the tail of the token that led
// to the current screen.
package bot

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/tjfontaine/hebrewbooks-bot/internal/archive"
	"github.com/tjfontaine/hebrewbooks-bot/internal/callback"
	"github.com/tjfontaine/hebrewbooks-bot/internal/domain"
	"github.com/tjfontaine/hebrewbooks-bot/internal/i18n"
	"github.com/tjfontaine/hebrewbooks-bot/internal/navigation"
	"github.com/tjfontaine/hebrewbooks-bot/internal/ratelimit"
	"github.com/tjfontaine/hebrewbooks-bot/internal/storage"
)

// ErrUnreachable is returned by a Sender when the user blocked the bot or no
// longer exists. Broadcasts mark such users inactive.
var ErrUnreachable = errors.New("bot: user unreachable")

// Request is one inbound interaction, already decoded from the platform's
// wire format.
type Request struct {
	Platform     storage.Platform
	UserID       string
	LanguageCode string

	// Data is the payload of a pressed button.
	Data string
	// Text is the text of a message or of an inline query.
	Text string
	// MessageText is the text of the message a pressed button sits on.
	MessageText string
	// QuotedText is the text of the message being replied to: the search
	// a results message answers, or the page a jump reply answers.
	QuotedText string
	// ReplyMarkupData holds the button payloads of the message a text
	// message replies to.
	ReplyMarkupData []string
	// Offset is the inline query paging cursor.
	Offset string

	// MaxDataLen is the platform's button payload limit in bytes. Zero means
	// unlimited.
	MaxDataLen int
	// ShareURL, when set, is the link prefix that opens a chat with the bot
	// pre-filled with its query-escaped suffix.
	ShareURL string
	IsAdmin  bool
}

// Switch opens an inline query when pressed.
type Switch struct {
	Query string
	// CurrentChat runs the query in the current chat instead of asking the
	// user to pick one.
	CurrentChat bool
}

// Button is one keyboard button. Exactly one of Data, URL and Switch is
// meaningful to a platform; platforms without inline queries fall back to
// Data when Switch is set.
type Button struct {
	Text   string
	Data   string
	URL    string
	Switch *Switch
}

// Reply is what a front door should do in answer to a Request.
type Reply struct {
	Text     string
	Keyboard [][]Button

	// Alert is the short notice answering a button press.
	Alert     string
	ShowAlert bool

	// Edit replaces the message the button sits on instead of sending a new
	// one.
	Edit bool

	ImageURL     string
	DocumentURL  string
	DocumentName string
}

// Empty reports whether there is no message to send.
func (r Reply) Empty() bool { return r.Text == "" && r.ImageURL == "" && r.DocumentURL == "" }

// InlineResult is one article of an inline query answer.
type InlineResult struct {
	ID          string
	Title       string
	Description string
	Text        string
	ThumbURL    string
	Keyboard    [][]Button
}

// InlineAnswer answers an inline query.
type InlineAnswer struct {
	Results    []InlineResult
	NextOffset string
	// SwitchText labels a button that opens a private chat with the bot.
	SwitchText string
}

// Archive is the subset of the archive client the bot uses.
type Archive interface {
	Book(ctx context.Context, id int) (archive.Book, error)
	List(ctx context.Context, t archive.ListType) ([]archive.Entry, error)
	Search(ctx context.Context, title, author string, offset, limit int) ([]archive.SearchResult, int, error)
	Browse(ctx context.Context, t archive.ListType, id string, offset, limit int) ([]archive.SearchResult, int, error)
}

// Limiter gates expensive actions.
type Limiter interface {
	Check(subject string, c ratelimit.Category) ratelimit.Outcome
}

// limitCounter is implemented by limiters that keep running totals; the
// admin stats show them.
type limitCounter interface {
	Counts() (allowed, denied int64)
}

// Translator renders localized messages.
type Translator interface {
	T(lang, id string, data map[string]any) string
	Match(code string) string
	Supported(code string) bool
	Languages() []i18n.Language
	Number(lang string, n int64) string
}

// Sender delivers an unsolicited message, used by broadcasts.
type Sender interface {
	Send(ctx context.Context, userID string, r Reply) error
}

// Limits are the rate-limit categories of the gated actions.
type Limits struct {
	PDFFull   ratelimit.Category
	PDFPage   ratelimit.Category
	ImagePage ratelimit.Category
}

// Deps wires a Bot.
type Deps struct {
	Archive    Archive
	Store      storage.Store
	Limiter    Limiter
	Translator Translator
	Limits     Limits
	Senders    map[storage.Platform]Sender
	Logger     *slog.Logger

	// Maintenance answers everything but /start with a maintenance notice.
	Maintenance bool
	// BroadcastPace is the pause between two broadcast messages.
	BroadcastPace time.Duration
}

// Bot is safe for concurrent use.
type Bot struct {
	archive     Archive
	store       storage.Store
	limiter     Limiter
	tr          Translator
	limits      Limits
	senders     map[storage.Platform]Sender
	logger      *slog.Logger
	maintenance bool
	pace        time.Duration

	router *callback.Router[*call]
	wg     sync.WaitGroup
	// life bounds background work; Stop cancels it.
	life context.Context
	stop context.CancelFunc
}

// call is the per-request state handed to button handlers.
type call struct {
	*Request
	tr         Translator
	lang       string
	registered bool
	reply      Reply
}

func (c *call) t(id string, data ...map[string]any) string {
	var d map[string]any
	if len(data) > 0 {
		d = data[0]
	}
	return c.tr.T(c.lang, id, d)
}

func (c *call) num(n int) string { return c.tr.Number(c.lang, int64(n)) }

// join breadcrumbs primary with others, dropping crumbs that would exceed
// the platform's payload limit.
func (c *call) join(primary string, others ...string) string {
	return callback.JoinWithin(c.MaxDataLen, primary, others...)
}

func (c *call) back(rest, fallback string) Button {
	if rest == "" {
		rest = fallback
	}
	return Button{Text: c.t("Back"), Data: rest}
}

func (c *call) subject() string { return string(c.Platform) + ":" + c.UserID }

// New returns a Bot with every navigation variant routed.
func New(d Deps) *Bot {
	b := &Bot{
		archive:     d.Archive,
		store:       d.Store,
		limiter:     d.Limiter,
		tr:          d.Translator,
		limits:      d.Limits,
		senders:     d.Senders,
		logger:      d.Logger,
		maintenance: d.Maintenance,
		pace:        d.BroadcastPace,
	}
	if b.logger == nil {
		b.logger = slog.Default()
	}
	b.life, b.stop = context.WithCancel(context.Background())
	if b.limiter == nil {
		b.limiter = ratelimit.New(ratelimit.WithLogger(b.logger))
	}

	r := callback.NewRouter[*call]()
	callback.Handle(r, navigation.Start, b.onStart)
	callback.Handle(r, navigation.BrowseMenu, b.onBrowseMenu)
	callback.Handle(r, navigation.BrowseList, b.onBrowseList)
	callback.Handle(r, navigation.BrowseNav, b.onBrowseNav)
	callback.Handle(r, navigation.SearchNav, b.onSearchNav)
	callback.Handle(r, navigation.Show, b.onShowBook)
	callback.Handle(r, navigation.Share, b.onShare)
	callback.Handle(r, navigation.Read, b.onRead)
	callback.Handle(r, navigation.Jump, b.onJump)
	callback.Handle(r, navigation.JumpTip, b.onJumpTip)
	callback.Handle(r, navigation.Stats, b.onStats)
	callback.Handle(r, navigation.ChooseLang, b.onChooseLang)
	callback.Handle(r, navigation.Language, b.onSetLanguage)
	callback.Handle(r, navigation.BroadcastConfirm, b.onBroadcast)
	b.router = r
	return b
}

// Tags returns the routed navigation tags.
func (b *Bot) Tags() []string { return b.router.Tags() }

// Describe decodes button data the way HandleCallback would route it.
func (b *Bot) Describe(data string) (tag string, fields [][2]string, rest string, err error) {
	return b.router.Describe(data)
}

// Wait blocks until background broadcasts have finished.
func (b *Bot) Wait() { b.wg.Wait() }

// Stop interrupts background broadcasts. Call Wait to see them exit.
func (b *Bot) Stop() { b.stop() }

// HandleCallback answers a button press.
func (b *Bot) HandleCallback(ctx context.Context, req *Request) Reply {
	c := b.begin(ctx, req)
	if b.maintenance {
		return Reply{Alert: c.t("Maintenance"), ShowAlert: true}
	}
	if err := b.router.Dispatch(ctx, c, req.Data); err != nil {
		return b.fail(c, err, true)
	}
	return c.reply
}

// begin resolves the user's language and registration.
func (b *Bot) begin(ctx context.Context, req *Request) *call {
	c := &call{Request: req, tr: b.tr}
	u, err := b.store.GetUser(ctx, req.Platform, req.UserID)
	switch {
	case err == nil:
		c.registered = true
		c.lang = u.Language
	case !errors.Is(err, storage.ErrNotFound):
		b.logger.Warn("user lookup failed",
			slog.String("platform", string(req.Platform)),
			slog.String("user", req.UserID),
			slog.String("error", err.Error()),
		)
	}
	if c.lang == "" || !b.tr.Supported(c.lang) {
		c.lang = b.tr.Match(req.LanguageCode)
	}
	return c
}

// register stores the user on first contact.
func (b *Bot) register(ctx context.Context, c *call) {
	if c.registered {
		return
	}
	created, err := b.store.AddUser(ctx, storage.User{
		Platform: c.Platform,
		ID:       c.UserID,
		Language: c.lang,
		Active:   true,
	})
	if err != nil {
		b.logger.Error("register user failed",
			slog.String("platform", string(c.Platform)),
			slog.String("user", c.UserID),
			slog.String("error", err.Error()),
		)
		return
	}
	c.registered = true
	if created {
		b.logger.Info("user registered",
			slog.String("platform", string(c.Platform)),
			slog.String("user", c.UserID),
			slog.String("language", c.lang),
		)
	}
}

// fail renders err for the user. Button presses get an alert, messages a
// text reply.
func (b *Bot) fail(c *call, err error, button bool) Reply {
	ue, ok := domain.AsUserError(err)
	switch {
	case ok:
		b.logger.Debug("user error",
			slog.String("type", string(ue.Type)),
			slog.String("error", err.Error()),
		)
	case callback.IsStale(err):
		tag, _ := b.router.Lookup(c.Data)
		b.logger.Info("stale button",
			slog.String("tag", tag),
			slog.String("error", err.Error()),
		)
		ue = domain.ErrExpired(err)
	case errors.Is(err, archive.ErrNotFound):
		ue = domain.ErrNotFoundMsg("BookNotFound").WithCause(err).AsAlert()
	default:
		b.logger.Error("request failed",
			slog.String("platform", string(c.Platform)),
			slog.String("user", c.UserID),
			slog.String("error", err.Error()),
		)
		ue = domain.ErrServer(err)
	}

	msg := c.t(ue.MessageID, ue.Data)
	if button {
		return Reply{Alert: msg, ShowAlert: ue.Alert}
	}
	return Reply{Text: msg}
}

// allow checks the user against cat.
func (b *Bot) allow(c *call, cat ratelimit.Category) error {
	out := b.limiter.Check(c.subject(), cat)
	if out.Allowed {
		return nil
	}
	return domain.ErrRateLimited(out.WaitSeconds())
}

// count bumps a usage counter. Failures are logged only.
func (b *Bot) count(ctx context.Context, kind storage.StatKind) {
	if err := b.store.IncrementStat(ctx, kind); err != nil {
		b.logger.Warn("increment stat failed",
			slog.String("kind", string(kind)),
			slog.String("error", err.Error()),
		)
	}
}
