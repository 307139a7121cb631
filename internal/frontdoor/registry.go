package frontdoor

import (
	"fmt"
	"log/slog"
	"net/http"
	"sort"

	"github.com/tjfontaine/hebrewbooks-bot/internal/bot"
	"github.com/tjfontaine/hebrewbooks-bot/internal/config"
	"github.com/tjfontaine/hebrewbooks-bot/internal/frontdoor/registry"
	"github.com/tjfontaine/hebrewbooks-bot/internal/storage"
)

// Built is a frontdoor created from configuration.
type Built struct {
	Type      string
	Platform  storage.Platform
	Frontdoor Frontdoor
}

// Registry creates frontdoors from configuration.
// It uses registered FrontdoorFactory instances to create them.
type Registry struct {
	client *http.Client
	logger *slog.Logger
}

// NewRegistry creates a new frontdoor registry. A nil client lets each
// frontdoor build its own.
func NewRegistry(client *http.Client, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{client: client, logger: logger}
}

// Create builds a frontdoor for every enabled platform section, ordered by
// type. Enabling a platform nobody registered is an error.
func (r *Registry) Create(platforms map[string]config.PlatformConfig) ([]Built, error) {
	types := make([]string, 0, len(platforms))
	for t, p := range platforms {
		if p.Enabled {
			types = append(types, t)
		}
	}
	sort.Strings(types)

	built := make([]Built, 0, len(types))
	for _, t := range types {
		f, ok := GetFactory(t)
		if !ok {
			return nil, fmt.Errorf("unknown frontdoor type: %s (registered types: %v)", t, ListFrontdoorTypes())
		}
		fd, err := f.New(registry.HandlerConfig{
			Platform:   platforms[t],
			HTTPClient: r.client,
			Logger:     r.logger.With(slog.String("frontdoor", t)),
		})
		if err != nil {
			return nil, fmt.Errorf("create %s frontdoor: %w", t, err)
		}
		built = append(built, Built{Type: t, Platform: f.Platform, Frontdoor: fd})
	}
	return built, nil
}

// Senders indexes the frontdoors by platform for broadcasts.
func Senders(built []Built) map[storage.Platform]bot.Sender {
	out := make(map[storage.Platform]bot.Sender, len(built))
	for _, b := range built {
		out[b.Platform] = b.Frontdoor
	}
	return out
}

// Handlers collects the webhook routes of every frontdoor, all feeding b.
func Handlers(built []Built, b Bot) []HandlerRegistration {
	var out []HandlerRegistration
	for _, fd := range built {
		out = append(out, fd.Frontdoor.Handlers(b)...)
	}
	return out
}
