package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/tjfontaine/hebrewbooks-bot/internal/ratelimit"
)

// EnvPrefix is stripped from environment variables; "__" separates levels,
// so HBBOT_SERVER__PORT sets server.port.
const EnvPrefix = "HBBOT_"

// DefaultFile is read when Load is given no path. A missing default file is
// not an error.
const DefaultFile = "config.yaml"

// Rate limit category names.
const (
	CategoryPDFFull   = "pdf_full"
	CategoryPDFPage   = "pdf_page"
	CategoryImagePage = "image_page"
)

type Config struct {
	Server         ServerConfig               `koanf:"server"`
	Log            LogConfig                  `koanf:"log"`
	Telemetry      TelemetryConfig            `koanf:"telemetry"`
	Storage        StorageConfig              `koanf:"storage"`
	Archive        ArchiveConfig              `koanf:"archive"`
	Telegram       PlatformConfig             `koanf:"telegram"`
	WhatsApp       PlatformConfig             `koanf:"whatsapp"`
	RateLimits     map[string]RateLimitConfig `koanf:"rate_limits"`
	RateLimitSweep time.Duration              `koanf:"rate_limit_sweep"`
	// Maintenance answers every interaction with a maintenance notice.
	Maintenance bool `koanf:"maintenance"`
	// BroadcastPace spaces broadcast messages to stay under platform limits.
	BroadcastPace time.Duration `koanf:"broadcast_pace"`
}

type ServerConfig struct {
	Port           int           `koanf:"port"`
	RequestTimeout time.Duration `koanf:"request_timeout"`
}

type LogConfig struct {
	Level  string `koanf:"level"`  // debug, info, warn, error
	Format string `koanf:"format"` // json, text
}

type TelemetryConfig struct {
	Enabled bool   `koanf:"enabled"`
	Service string `koanf:"service"`
}

type StorageConfig struct {
	Driver string `koanf:"driver"` // sqlite, postgres, memory
	DSN    string `koanf:"dsn"`
}

type ArchiveConfig struct {
	BaseURL   string        `koanf:"base_url"`
	Timeout   time.Duration `koanf:"timeout"`
	CacheSize int           `koanf:"cache_size"`
	ListTTL   time.Duration `koanf:"list_ttl"`
}

// PlatformConfig configures one messaging platform front door. Fields that a
// platform does not use are ignored by it.
type PlatformConfig struct {
	Enabled     bool     `koanf:"enabled"`
	Path        string   `koanf:"path"`
	Token       string   `koanf:"token"`
	SecretToken string   `koanf:"secret_token"` // telegram webhook secret
	VerifyToken string   `koanf:"verify_token"` // whatsapp hub verification
	AppSecret   string   `koanf:"app_secret"`   // whatsapp payload signature
	PhoneID     string   `koanf:"phone_id"`
	Phone       string   `koanf:"phone"` // whatsapp number used in share links
	APIURL      string   `koanf:"api_url"`
	Admins      []string `koanf:"admins"`
}

type RateLimitConfig struct {
	Limit  int           `koanf:"limit"`
	Window time.Duration `koanf:"window"`
}

var defaults = map[string]any{
	"server.port":                   8080,
	"server.request_timeout":        "30s",
	"log.level":                     "info",
	"log.format":                    "json",
	"telemetry.service":             "hebrewbooks-bot",
	"storage.driver":                "sqlite",
	"storage.dsn":                   "hbbot.db",
	"archive.base_url":              "https://beta.hebrewbooks.org",
	"archive.timeout":               "15s",
	"archive.cache_size":            1024,
	"archive.list_ttl":              "6h",
	"telegram.path":                 "/telegram/webhook",
	"telegram.api_url":              "https://api.telegram.org",
	"whatsapp.path":                 "/whatsapp/webhook",
	"whatsapp.api_url":              "https://graph.facebook.com/v19.0",
	"rate_limits.pdf_full.limit":    10,
	"rate_limits.pdf_full.window":   "60m",
	"rate_limits.pdf_page.limit":    30,
	"rate_limits.pdf_page.window":   "10m",
	"rate_limits.image_page.limit":  60,
	"rate_limits.image_page.window": "10m",
	"rate_limit_sweep":              "5m",
	"broadcast_pace":                "50ms",
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Load reads path (or DefaultFile when path is empty), overlays HBBOT_
// environment variables, and fills defaults.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	optional := path == ""
	if optional {
		path = DefaultFile
	}
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		// A missing default file is fine; env vars and defaults still apply.
		if !optional || !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	for key, v := range defaults {
		if !k.Exists(key) {
			k.Set(key, v)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	for _, p := range []*PlatformConfig{&cfg.Telegram, &cfg.WhatsApp} {
		p.Token = substituteEnvVars(p.Token)
		p.SecretToken = substituteEnvVars(p.SecretToken)
		p.VerifyToken = substituteEnvVars(p.VerifyToken)
		p.AppSecret = substituteEnvVars(p.AppSecret)
	}
	cfg.Storage.DSN = substituteEnvVars(cfg.Storage.DSN)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports the first configuration problem found.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "sqlite", "postgres", "memory":
	default:
		return fmt.Errorf("storage.driver %q: want sqlite, postgres or memory", c.Storage.Driver)
	}
	if c.Storage.Driver != "memory" && c.Storage.DSN == "" {
		return errors.New("storage.dsn is required")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Telegram.Enabled && c.Telegram.Token == "" {
		return errors.New("telegram.token is required when telegram is enabled")
	}
	if c.WhatsApp.Enabled {
		if c.WhatsApp.Token == "" || c.WhatsApp.PhoneID == "" {
			return errors.New("whatsapp.token and whatsapp.phone_id are required when whatsapp is enabled")
		}
	}
	for name, rl := range c.RateLimits {
		if rl.Limit < 0 || rl.Window < 0 {
			return fmt.Errorf("rate_limits.%s: limit and window cannot be negative", name)
		}
	}
	return nil
}

// Platforms returns the platform sections keyed by front door type.
func (c *Config) Platforms() map[string]PlatformConfig {
	return map[string]PlatformConfig{
		"telegram": c.Telegram,
		"whatsapp": c.WhatsApp,
	}
}

// RateLimitCategories converts the rate_limits section to limiter
// categories. A category missing from config is disabled.
func (c *Config) RateLimitCategories() map[string]ratelimit.Category {
	out := make(map[string]ratelimit.Category, len(c.RateLimits))
	for _, name := range []string{CategoryPDFFull, CategoryPDFPage, CategoryImagePage} {
		out[name] = ratelimit.Category{Name: name}
	}
	for name, rl := range c.RateLimits {
		out[name] = ratelimit.Category{Name: name, Limit: rl.Limit, Window: rl.Window}
	}
	return out
}

func substituteEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}
