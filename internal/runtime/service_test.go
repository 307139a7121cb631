package runtime

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tjfontaine/hebrewbooks-bot/internal/config"
	"github.com/tjfontaine/hebrewbooks-bot/internal/storage"
)

// telegramAPI accepts every Bot API call and remembers the method names.
type telegramAPI struct {
	mu      sync.Mutex
	methods []string
}

func (a *telegramAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.mu.Lock()
	a.methods = append(a.methods, r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:])
	a.mu.Unlock()
	_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "result": true})
}

func (a *telegramAPI) called(method string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, m := range a.methods {
		if m == method {
			return true
		}
	}
	return false
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func testConfig(port int, apiURL string) *config.Config {
	return &config.Config{
		Server:  config.ServerConfig{Port: port, RequestTimeout: 5 * time.Second},
		Storage: config.StorageConfig{Driver: "memory"},
		Archive: config.ArchiveConfig{BaseURL: "http://127.0.0.1:1", Timeout: time.Second, CacheSize: 8, ListTTL: time.Minute},
		Telegram: config.PlatformConfig{
			Enabled:     true,
			Token:       "1:abc",
			SecretToken: "s",
			Path:        "/telegram/webhook",
			APIURL:      apiURL,
		},
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestService_New_RequiresConfig(t *testing.T) {
	_, err := New()
	if err == nil || !strings.Contains(err.Error(), "config required") {
		t.Errorf("New() error = %v, want config required", err)
	}
}

func TestService_New_RejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(8080, "")
	cfg.Storage.Driver = "mongo"
	if _, err := New(WithConfig(cfg)); err == nil {
		t.Error("New() accepted an unknown storage driver")
	}
}

func TestService_New_RejectsBrokenPlatform(t *testing.T) {
	cfg := testConfig(8080, "")
	cfg.WhatsApp = config.PlatformConfig{Enabled: true, Token: "t"}
	if _, err := New(WithConfig(cfg), WithLogger(quietLogger())); err == nil {
		t.Error("New() accepted whatsapp without phone_id")
	}
}

func TestService_WebhookRoundTrip(t *testing.T) {
	api := &telegramAPI{}
	srv := httptest.NewServer(api)
	defer srv.Close()

	svc, err := New(WithConfig(testConfig(8080, srv.URL)), WithLogger(quietLogger()), WithPlatformClient(srv.Client()))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer svc.Shutdown(context.Background())

	if got := len(svc.Frontdoors()); got != 1 {
		t.Fatalf("Frontdoors() = %d, want 1", got)
	}

	rec := httptest.NewRecorder()
	svc.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("GET /healthz = %d, want 200", rec.Code)
	}

	body := `{"update_id":1,"message":{"message_id":3,"from":{"id":42,"language_code":"he"},
		"chat":{"id":42,"type":"private"},"text":"/start"}}`
	req := httptest.NewRequest(http.MethodPost, "/telegram/webhook", strings.NewReader(body))
	req.Header.Set("X-Telegram-Bot-Api-Secret-Token", "s")
	rec = httptest.NewRecorder()
	svc.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("POST webhook = %d, want 200", rec.Code)
	}
	if !api.called("sendMessage") {
		t.Error("expected the welcome message to be sent")
	}
	u, err := svc.Store().GetUser(context.Background(), storage.Telegram, "42")
	if err != nil {
		t.Fatalf("GetUser() error = %v", err)
	}
	if u.Language != "he" {
		t.Errorf("user language = %q, want he", u.Language)
	}
}

func TestService_Start_And_Shutdown(t *testing.T) {
	port := freePort(t)
	svc, err := New(WithConfig(testConfig(port, "http://127.0.0.1:1")), WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := svc.Start(context.Background()); err == nil {
		t.Error("second Start() succeeded")
	}

	url := "http://127.0.0.1:" + strconv.Itoa(port) + "/healthz"
	var resp *http.Response
	for i := 0; i < 50; i++ {
		resp, err = http.Get(url)
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("GET /healthz = %d, want 200", resp.StatusCode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := svc.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if err := svc.Wait(); err != nil {
		t.Errorf("Wait() after Shutdown = %v", err)
	}
}

func TestService_ShutdownWithoutStart(t *testing.T) {
	svc, err := New(WithConfig(testConfig(8080, "")), WithMemoryStore(), WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := svc.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
}
