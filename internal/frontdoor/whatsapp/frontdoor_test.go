package whatsapp

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tjfontaine/hebrewbooks-bot/internal/bot"
	"github.com/tjfontaine/hebrewbooks-bot/internal/config"
	"github.com/tjfontaine/hebrewbooks-bot/internal/frontdoor/registry"
	"github.com/tjfontaine/hebrewbooks-bot/internal/storage"
)

const appSecret = "shh"

// fakeGraph records outbound messages and numbers them wamid.1, wamid.2...
// When errCode is set every send fails with it.
type fakeGraph struct {
	mu      sync.Mutex
	sent    []outbound
	auth    string
	errCode int
}

func (g *fakeGraph) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var msg outbound
	_ = json.NewDecoder(r.Body).Decode(&msg)

	g.mu.Lock()
	g.sent = append(g.sent, msg)
	g.auth = r.Header.Get("Authorization")
	n := len(g.sent)
	g.mu.Unlock()

	if g.errCode != 0 {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprintf(w, `{"error":{"message":"nope","type":"OAuthException","code":%d}}`, g.errCode)
		return
	}
	fmt.Fprintf(w, `{"messaging_product":"whatsapp","messages":[{"id":"wamid.%d"}]}`, n)
}

func (g *fakeGraph) messages() []outbound {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]outbound(nil), g.sent...)
}

type fakeBot struct {
	requests []*bot.Request
	reply    bot.Reply
}

func (b *fakeBot) HandleText(ctx context.Context, req *bot.Request) bot.Reply {
	b.requests = append(b.requests, req)
	return b.reply
}

func (b *fakeBot) HandleCallback(ctx context.Context, req *bot.Request) bot.Reply {
	b.requests = append(b.requests, req)
	return b.reply
}

func (b *fakeBot) HandleInline(ctx context.Context, req *bot.Request) bot.InlineAnswer {
	return bot.InlineAnswer{}
}

func (b *fakeBot) last() *bot.Request {
	if len(b.requests) == 0 {
		return nil
	}
	return b.requests[len(b.requests)-1]
}

func newTestFrontdoor(t *testing.T, g *fakeGraph) *Frontdoor {
	t.Helper()
	srv := httptest.NewServer(g)
	t.Cleanup(srv.Close)

	f, err := New(registry.HandlerConfig{
		Platform: config.PlatformConfig{
			Token:       "tok",
			PhoneID:     "555",
			Phone:       "+15550001",
			VerifyToken: "verify-me",
			AppSecret:   appSecret,
			APIURL:      srv.URL,
			Admins:      []string{"+97250000"},
		},
		HTTPClient: srv.Client(),
	})
	require.NoError(t, err)
	return f
}

func sign(body string) string {
	mac := hmac.New(sha256.New, []byte(appSecret))
	mac.Write([]byte(body))
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func handler(f *Frontdoor, b registry.Bot, method string) func(http.ResponseWriter, *http.Request) {
	for _, h := range f.Handlers(b) {
		if h.Method == method {
			return h.Handler
		}
	}
	return nil
}

func notify(t *testing.T, f *Frontdoor, b registry.Bot, signature, body string) int {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/whatsapp/webhook", strings.NewReader(body))
	req.Header.Set(SignatureHeader, signature)
	rec := httptest.NewRecorder()
	handler(f, b, http.MethodPost)(rec, req)
	return rec.Code
}

func textNotification(from, id, text, contextID string) string {
	ctx := ""
	if contextID != "" {
		ctx = fmt.Sprintf(`,"context":{"from":"15550001","id":%q}`, contextID)
	}
	return fmt.Sprintf(`{"object":"whatsapp_business_account","entry":[{"id":"1","changes":[{"field":"messages","value":{
		"messaging_product":"whatsapp","messages":[{"from":%q,"id":%q,"type":"text","text":{"body":%q}%s}]}}]}]}`,
		from, id, text, ctx)
}

func buttonNotification(from, id, data, contextID string) string {
	return fmt.Sprintf(`{"object":"whatsapp_business_account","entry":[{"id":"1","changes":[{"field":"messages","value":{
		"messaging_product":"whatsapp","messages":[{"from":%q,"id":%q,"type":"interactive",
		"interactive":{"type":"button_reply","button_reply":{"id":%q,"title":"x"}},
		"context":{"from":"15550001","id":%q}}]}}]}]}`, from, id, data, contextID)
}

func TestVerifyHandshake(t *testing.T) {
	f := newTestFrontdoor(t, &fakeGraph{})
	verify := handler(f, &fakeBot{}, http.MethodGet)

	tests := []struct {
		name     string
		query    string
		wantCode int
		wantBody string
	}{
		{"valid", "hub.mode=subscribe&hub.verify_token=verify-me&hub.challenge=42", http.StatusOK, "42"},
		{"wrong token", "hub.mode=subscribe&hub.verify_token=nope&hub.challenge=42", http.StatusForbidden, ""},
		{"wrong mode", "hub.mode=unsubscribe&hub.verify_token=verify-me&hub.challenge=42", http.StatusForbidden, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			verify(rec, httptest.NewRequest(http.MethodGet, "/whatsapp/webhook?"+tt.query, nil))
			assert.Equal(t, tt.wantCode, rec.Code)
			if tt.wantBody != "" {
				assert.Equal(t, tt.wantBody, rec.Body.String())
			}
		})
	}
}

func TestWebhookChecksSignature(t *testing.T) {
	g := &fakeGraph{}
	f := newTestFrontdoor(t, g)
	b := &fakeBot{reply: bot.Reply{Text: "hi"}}
	body := textNotification("97250000", "in.1", "shalom", "")

	assert.Equal(t, http.StatusUnauthorized, notify(t, f, b, "sha256=00", body))
	assert.Equal(t, http.StatusUnauthorized, notify(t, f, b, "", body))
	assert.Empty(t, b.requests)

	assert.Equal(t, http.StatusOK, notify(t, f, b, sign(body), body))
	require.Len(t, b.requests, 1)
}

func TestTextMessageReply(t *testing.T) {
	g := &fakeGraph{}
	f := newTestFrontdoor(t, g)
	b := &fakeBot{reply: bot.Reply{
		Text: "results",
		Keyboard: [][]bot.Button{
			{{Text: "A very long book title that does not fit", Data: "sh:1"}, {Text: "Next", Data: "sn:5:12:q"}},
			{{Text: "Inline", Switch: &bot.Switch{Query: "q", CurrentChat: true}}},
			{{Text: "Site", URL: "https://hebrewbooks.org"}},
		},
	}}
	body := textNotification("97250000", "in.1", "chatam", "")
	require.Equal(t, http.StatusOK, notify(t, f, b, sign(body), body))

	req := b.last()
	require.NotNil(t, req)
	assert.Equal(t, storage.WhatsApp, req.Platform)
	assert.Equal(t, "97250000", req.UserID)
	assert.Equal(t, "he", req.LanguageCode)
	assert.Equal(t, "chatam", req.Text)
	assert.Equal(t, MaxDataLen, req.MaxDataLen)
	assert.Equal(t, "https://wa.me/15550001?text=", req.ShareURL)
	assert.True(t, req.IsAdmin)

	msgs := g.messages()
	require.Len(t, msgs, 1)
	msg := msgs[0]
	assert.Equal(t, "Bearer tok", g.auth)
	assert.Equal(t, "whatsapp", msg.MessagingProduct)
	assert.Equal(t, "97250000", msg.To)
	assert.Equal(t, "interactive", msg.Type)
	require.NotNil(t, msg.Context)
	assert.Equal(t, "in.1", msg.Context.MessageID)
	require.NotNil(t, msg.Interactive)
	assert.Equal(t, "button", msg.Interactive.Type)
	assert.Equal(t, "results\nSite: https://hebrewbooks.org", msg.Interactive.Body.Text)
	require.Len(t, msg.Interactive.Action.Buttons, 2)
	assert.Equal(t, "sh:1", msg.Interactive.Action.Buttons[0].Reply.ID)
	assert.Equal(t, "A very long book ti…", msg.Interactive.Action.Buttons[0].Reply.Title)
	assert.Equal(t, "sn:5:12:q", msg.Interactive.Action.Buttons[1].Reply.ID)
}

func TestButtonPressResolvesSentMessage(t *testing.T) {
	g := &fakeGraph{}
	f := newTestFrontdoor(t, g)
	b := &fakeBot{reply: bot.Reply{
		Text:     "Send?\n\nHello all",
		Keyboard: [][]bot.Button{{{Text: "Yes", Data: "broadcast:1:"}, {Text: "No", Data: "broadcast:0:"}}},
	}}
	first := textNotification("15551234", "in.1", "/broadcast\nHello all", "")
	require.Equal(t, http.StatusOK, notify(t, f, b, sign(first), first))
	assert.Equal(t, "", b.last().LanguageCode)

	b.reply = bot.Reply{Text: "started"}
	press := buttonNotification("15551234", "in.2", "broadcast:1:", "wamid.1")
	require.Equal(t, http.StatusOK, notify(t, f, b, sign(press), press))

	req := b.last()
	assert.Equal(t, "broadcast:1:", req.Data)
	assert.Equal(t, "Send?\n\nHello all", req.MessageText)

	reply := textNotification("15551234", "in.3", "7", "wamid.1")
	require.Equal(t, http.StatusOK, notify(t, f, b, sign(reply), reply))
	req = b.last()
	assert.Equal(t, "Send?\n\nHello all", req.QuotedText)
	assert.Equal(t, []string{"broadcast:1:", "broadcast:0:"}, req.ReplyMarkupData)
}

func TestManyButtonsSendMediaThenList(t *testing.T) {
	g := &fakeGraph{}
	f := newTestFrontdoor(t, g)

	var row []bot.Button
	for i := 0; i < 12; i++ {
		row = append(row, bot.Button{Text: fmt.Sprintf("Entry number %d with a long label", i), Data: fmt.Sprintf("bn:a:%d", i)})
	}
	err := f.deliver(context.Background(), "1555", "", bot.Reply{
		Text:     "page 3",
		ImageURL: "https://img/3.png",
		Keyboard: [][]bot.Button{row},
	})
	require.NoError(t, err)

	msgs := g.messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "image", msgs[0].Type)
	require.NotNil(t, msgs[0].Image)
	assert.Equal(t, "https://img/3.png", msgs[0].Image.Link)

	list := msgs[1].Interactive
	require.NotNil(t, list)
	assert.Equal(t, "list", list.Type)
	assert.Nil(t, list.Header)
	assert.Equal(t, listLabel, list.Action.Button)
	require.Len(t, list.Action.Sections, 1)
	rows := list.Action.Sections[0].Rows
	require.Len(t, rows, maxRows)
	assert.Equal(t, "bn:a:0", rows[0].ID)
	assert.Equal(t, "Entry number 0 with a l…", rows[0].Title)
	assert.Equal(t, "Entry number 0 with a long label", rows[0].Description)
}

func TestMediaWithoutButtons(t *testing.T) {
	g := &fakeGraph{}
	f := newTestFrontdoor(t, g)

	require.NoError(t, f.deliver(context.Background(), "1555", "", bot.Reply{
		Text:         "page 3",
		DocumentURL:  "https://pdf/3.pdf",
		DocumentName: "book-3.pdf",
	}))
	msgs := g.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "document", msgs[0].Type)
	require.NotNil(t, msgs[0].Document)
	assert.Equal(t, "https://pdf/3.pdf", msgs[0].Document.Link)
	assert.Equal(t, "book-3.pdf", msgs[0].Document.Filename)
	assert.Equal(t, "page 3", msgs[0].Document.Caption)
}

func TestAlertOnlyReplyIsSentAsText(t *testing.T) {
	g := &fakeGraph{}
	f := newTestFrontdoor(t, g)

	require.NoError(t, f.deliver(context.Background(), "1555", "in.9", bot.Reply{Alert: "Please wait", ShowAlert: true}))
	require.NoError(t, f.deliver(context.Background(), "1555", "in.9", bot.Reply{}))

	msgs := g.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "text", msgs[0].Type)
	assert.Equal(t, "Please wait", msgs[0].Text.Body)
}

func TestSendMapsUnreachable(t *testing.T) {
	for _, code := range []int{codeUndeliverable, codeWindowClosed} {
		t.Run(fmt.Sprint(code), func(t *testing.T) {
			f := newTestFrontdoor(t, &fakeGraph{errCode: code})
			err := f.Send(context.Background(), "1555", bot.Reply{Text: "news"})
			assert.ErrorIs(t, err, bot.ErrUnreachable)
		})
	}

	f := newTestFrontdoor(t, &fakeGraph{errCode: 100})
	err := f.Send(context.Background(), "1555", bot.Reply{Text: "news"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, bot.ErrUnreachable)
}

func TestIgnoresStatusesAndOtherTypes(t *testing.T) {
	g := &fakeGraph{}
	f := newTestFrontdoor(t, g)
	b := &fakeBot{reply: bot.Reply{Text: "hi"}}

	body := `{"object":"whatsapp_business_account","entry":[{"id":"1","changes":[
		{"field":"messages","value":{"messaging_product":"whatsapp","statuses":[{"id":"wamid.1","status":"read"}]}},
		{"field":"messages","value":{"messaging_product":"whatsapp","messages":[{"from":"1555","id":"in.1","type":"sticker"}]}}]}]}`
	require.Equal(t, http.StatusOK, notify(t, f, b, sign(body), body))
	assert.Empty(t, b.requests)
	assert.Empty(t, g.messages())
}

func TestClip(t *testing.T) {
	assert.Equal(t, "short", clip("short", 10))
	assert.Equal(t, "abcd…", clip("abcdefgh", 5))
	assert.Equal(t, "שלו…", clip("שלום עולם", 4))
}
